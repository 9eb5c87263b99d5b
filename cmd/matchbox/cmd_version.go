package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// version is stamped by the release build; the default marks a source build.
var version = "0.1.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("matchbox %s\n", version)
		fmt.Printf("runtime: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Printf("store:   %s\n", cfg.Store.Path)

		// Opening the store would create it; only report one that exists.
		if _, err := os.Stat(cfg.Store.Path); err != nil {
			return nil
		}
		st, err := openStore()
		if err != nil {
			return nil
		}
		defer st.Close()
		if stats, err := st.Stats(); err == nil {
			fmt.Printf("archive: %d ruleset(s), %d recorded run(s)\n",
				stats["rulesets"], stats["match_runs"])
		}
		return nil
	},
}
