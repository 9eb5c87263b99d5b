package pattern

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokIf
	tokInspect
	tokNil
	tokNull
	tokTrue
	tokFalse
	tokLBracket // [
	tokRBracket // ]
	tokLBrace   // {
	tokRBrace   // }
	tokLParen   // (
	tokRParen   // )
	tokComma
	tokColon
	tokArrow // =>
	tokCaret // ^
	tokStar  // *
	tokAmp   // &
	tokBang  // !
	tokPlus
	tokMinus
	tokSlash
	tokPercent
	tokEq // ==
	tokNe // !=
	tokLt // <
	tokLe // <=
	tokGt // >
	tokGe // >=
	tokAndAnd
	tokOrOr
	tokPipe // | in alternative declarations
)

func (k tokKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokInt:
		return "integer"
	case tokFloat:
		return "float"
	case tokString:
		return "string"
	case tokIf:
		return "'if'"
	case tokInspect:
		return "'inspect'"
	case tokNil:
		return "'nil'"
	case tokNull:
		return "'null'"
	case tokTrue:
		return "'true'"
	case tokFalse:
		return "'false'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	case tokColon:
		return "':'"
	case tokArrow:
		return "'=>'"
	case tokCaret:
		return "'^'"
	case tokStar:
		return "'*'"
	case tokAmp:
		return "'&'"
	case tokBang:
		return "'!'"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokSlash:
		return "'/'"
	case tokPercent:
		return "'%'"
	case tokEq:
		return "'=='"
	case tokNe:
		return "'!='"
	case tokLt:
		return "'<'"
	case tokLe:
		return "'<='"
	case tokGt:
		return "'>'"
	case tokGe:
		return "'>='"
	case tokAndAnd:
		return "'&&'"
	case tokOrOr:
		return "'||'"
	case tokPipe:
		return "'|'"
	default:
		return fmt.Sprintf("token(%d)", int(k))
	}
}

var keywords = map[string]tokKind{
	"if":      tokIf,
	"inspect": tokInspect,
	"nil":     tokNil,
	"null":    tokNull,
	"true":    tokTrue,
	"false":   tokFalse,
}

type token struct {
	kind tokKind
	text string
	pos  Pos
}

// ParseError is a positioned syntax error.
type ParseError struct {
	Pos Pos
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func lexError(pos Pos, format string, args ...any) error {
	return &ParseError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// lex tokenizes src. startLine offsets reported positions so text embedded
// below frontmatter reports file positions.
func lex(src string, startLine int) ([]token, error) {
	if startLine < 1 {
		startLine = 1
	}
	var toks []token
	line, col := startLine, 1
	i := 0
	advance := func(n int) {
		for k := 0; k < n; k++ {
			if src[i+k] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		}
		i += n
	}
	for i < len(src) {
		c := src[i]
		pos := Pos{Line: line, Col: col}
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			advance(1)
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				advance(1)
			}
		case c >= '0' && c <= '9':
			j := i
			isFloat := false
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			if j < len(src) && src[j] == '.' && j+1 < len(src) && isDigit(src[j+1]) {
				isFloat = true
				j++
				for j < len(src) && isDigit(src[j]) {
					j++
				}
			}
			if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
				k := j + 1
				if k < len(src) && (src[k] == '+' || src[k] == '-') {
					k++
				}
				if k < len(src) && isDigit(src[k]) {
					isFloat = true
					j = k
					for j < len(src) && isDigit(src[j]) {
						j++
					}
				}
			}
			text := src[i:j]
			kind := tokInt
			if isFloat {
				kind = tokFloat
			}
			toks = append(toks, token{kind: kind, text: text, pos: pos})
			advance(j - i)
		case c == '"':
			j := i + 1
			for j < len(src) {
				if src[j] == '\\' {
					j += 2
					continue
				}
				if src[j] == '"' {
					break
				}
				if src[j] == '\n' {
					return nil, lexError(pos, "unterminated string")
				}
				j++
			}
			if j >= len(src) {
				return nil, lexError(pos, "unterminated string")
			}
			raw := src[i : j+1]
			unquoted, err := strconv.Unquote(raw)
			if err != nil {
				return nil, lexError(pos, "bad string literal %s", raw)
			}
			toks = append(toks, token{kind: tokString, text: unquoted, pos: pos})
			advance(j + 1 - i)
		case isIdentStart(rune(c)):
			j := i
			for j < len(src) {
				r, size := utf8.DecodeRuneInString(src[j:])
				if !isIdentPart(r) {
					break
				}
				j += size
			}
			text := src[i:j]
			kind := tokIdent
			if kw, ok := keywords[text]; ok {
				kind = kw
			}
			toks = append(toks, token{kind: kind, text: text, pos: pos})
			advance(j - i)
		default:
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch two {
			case "=>":
				toks = append(toks, token{kind: tokArrow, text: two, pos: pos})
				advance(2)
				continue
			case "==":
				toks = append(toks, token{kind: tokEq, text: two, pos: pos})
				advance(2)
				continue
			case "!=":
				toks = append(toks, token{kind: tokNe, text: two, pos: pos})
				advance(2)
				continue
			case "<=":
				toks = append(toks, token{kind: tokLe, text: two, pos: pos})
				advance(2)
				continue
			case ">=":
				toks = append(toks, token{kind: tokGe, text: two, pos: pos})
				advance(2)
				continue
			case "&&":
				toks = append(toks, token{kind: tokAndAnd, text: two, pos: pos})
				advance(2)
				continue
			case "||":
				toks = append(toks, token{kind: tokOrOr, text: two, pos: pos})
				advance(2)
				continue
			}
			var kind tokKind
			switch c {
			case '[':
				kind = tokLBracket
			case ']':
				kind = tokRBracket
			case '{':
				kind = tokLBrace
			case '}':
				kind = tokRBrace
			case '(':
				kind = tokLParen
			case ')':
				kind = tokRParen
			case ',':
				kind = tokComma
			case ':':
				kind = tokColon
			case '^':
				kind = tokCaret
			case '*':
				kind = tokStar
			case '&':
				kind = tokAmp
			case '!':
				kind = tokBang
			case '+':
				kind = tokPlus
			case '-':
				kind = tokMinus
			case '/':
				kind = tokSlash
			case '%':
				kind = tokPercent
			case '<':
				kind = tokLt
			case '>':
				kind = tokGt
			case '|':
				kind = tokPipe
			default:
				return nil, lexError(pos, "unexpected character %q", string(rune(c)))
			}
			toks = append(toks, token{kind: kind, text: string(c), pos: pos})
			advance(1)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: Pos{Line: line, Col: col}})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsTagName reports whether name is tag-cased (leading upper). Tag-cased
// names are constructors and alternatives; lower-cased names are bindings,
// rulesets, and extractors.
func IsTagName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// IsBindingName reports whether name is a plausible binding: lower-cased,
// not the wildcard.
func IsBindingName(name string) bool {
	if name == "_" || name == "" {
		return false
	}
	return !IsTagName(name) && !strings.ContainsAny(name, " \t")
}
