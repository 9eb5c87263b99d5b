package main

import (
	_ "embed"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

//go:embed guide.md
var guideText string

var guidePlain bool

// guideCmd prints the pattern language manual
var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "The pattern language, explained",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !guidePlain {
			renderer, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(100),
			)
			if err == nil {
				if out, err := renderer.Render(guideText); err == nil {
					fmt.Print(out)
					return nil
				}
			}
		}
		fmt.Print(guideText)
		return nil
	},
}

func init() {
	guideCmd.Flags().BoolVar(&guidePlain, "plain", false, "Print raw markdown, no styling")
}
