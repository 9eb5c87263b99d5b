package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"matchbox/internal/config"
	"matchbox/internal/match"
	"matchbox/internal/pattern"
	"matchbox/internal/plugin"
	"matchbox/internal/ruleset"
	"matchbox/internal/store"
	"matchbox/internal/value"
)

var (
	// Global flags
	verbose bool
	cfgPath string

	cfg    *config.Config
	logger *zap.Logger
)

// errQuiet signals a nonzero exit whose message was already printed.
var errQuiet = errors.New("quiet")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "matchbox",
	Short: "matchbox - rulesets of patterns, applied first-match-wins",
	Long: `matchbox compiles .match ruleset files and applies them to values.

A ruleset is an ordered list of arms, each "pattern (if guard)? => result".
Apply tries arms top to bottom and the first full match wins: its result is
evaluated under the pattern's bindings. Rulesets may recurse through self()
and call their siblings, so tree rewrites (expression evaluation, red-black
rebalancing) are ordinary rulesets.

Around the engine: static analysis (unreachable arms, missing cases with a
witness), a Datalog index over match traces for coverage queries, a SQLite
archive of rulesets and runs, type-switch scanning to draft rulesets from Go
sources, and yaegi-interpreted extractor plugins.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		// The playground owns the terminal; logs would tear the UI.
		if cmd.Name() == "play" {
			logger = zap.NewNop()
			return nil
		}

		zcfg := zap.NewProductionConfig()
		if cfg.Logging.Format == "text" {
			zcfg = zap.NewDevelopmentConfig()
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "Config file path")

	rulesetsCmd.AddCommand(rulesetsListCmd)
	rulesetsCmd.AddCommand(rulesetsShowCmd)
	rulesetsCmd.AddCommand(rulesetsSaveCmd)
	rulesetsCmd.AddCommand(rulesetsDeleteCmd)

	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(rulesetsCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(guideCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errQuiet) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// newEngine builds an engine from the config, loading extractor plugins
// when enabled. Plugin failures are logged, not fatal.
func newEngine(tracer match.Tracer) (*match.Engine, error) {
	eng, err := match.NewEngine(&match.Config{
		MaxDepth: cfg.Engine.MaxDepth,
		MaxSteps: cfg.Engine.MaxSteps,
		Tracer:   tracer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Plugins.Enabled {
		loader := plugin.NewLoader(eng.Registry(), 0, logger)
		loaded, err := loader.LoadDir(cfg.Plugins.Dir)
		if err != nil {
			logger.Warn("some plugins failed to load", zap.Error(err))
		}
		if len(loaded) > 0 {
			logger.Debug("plugins loaded", zap.Strings("extractors", loaded))
		}
	}
	return eng, nil
}

// loadRegistry loads every .match file from the configured directories.
// Missing directories are skipped.
func loadRegistry() (*ruleset.Registry, error) {
	reg := ruleset.NewRegistry(logger)
	for _, dir := range cfg.Rulesets.Dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := reg.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.Store.Path)
}

// parseSubject reads a subject value: pattern-language expression syntax by
// default ("<Some> 3" subjects are written Some(3)), JSON when asked.
func parseSubject(src string, asJSON bool) (value.Value, error) {
	if asJSON {
		v, err := value.DecodeJSON([]byte(src))
		if err != nil {
			return nil, fmt.Errorf("subject: %w", err)
		}
		return v, nil
	}
	x, err := pattern.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	v, err := match.EvalConst(x, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	return v, nil
}

// resolveRuleset finds a ruleset by name: configured directories first, then
// the store archive. st may be nil to skip the archive.
func resolveRuleset(reg *ruleset.Registry, st *store.Store, name string) (*match.Ruleset, error) {
	if rs, ok := reg.Ruleset(name); ok {
		return rs, nil
	}
	if st != nil {
		records, err := st.ListRulesets()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			f, err := ruleset.Parse(rec.Name+ruleset.Ext, []byte(rec.Source))
			if err != nil {
				logger.Warn("stored ruleset does not compile",
					zap.String("name", rec.Name), zap.Error(err))
				continue
			}
			if rs, ok := f.Library.Ruleset(name); ok {
				return rs, nil
			}
		}
	}
	return nil, fmt.Errorf("ruleset %q not found in %v or the store", name, cfg.Rulesets.Dirs)
}
