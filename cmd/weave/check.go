package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/yaoapp/weave/config"
	v8 "github.com/yaoapp/weave/runtime/v8"
	"github.com/yaoapp/weave/script"
)

var checkCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Compile every script of a directory without running it",
	Long: `Compile every script of the directory (scripts.dir when omitted) with the
configured sandbox limits and security policy. No init function runs.
Exits non-zero when a script fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg.Apply()

		dir := cfg.Scripts.Dir
		if len(args) > 0 {
			dir = args[0]
		}
		if dir == "" {
			return fmt.Errorf("no script directory, pass one or set scripts.dir")
		}

		cfg.Sandbox.MinSize = 1
		rt, err := v8.Start(cfg.Sandbox, nil)
		if err != nil {
			return err
		}
		defer rt.Stop()

		res, err := script.Check(rt, dir)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(res))
		for id := range res {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		failed := 0
		out := cmd.OutOrStdout()
		for _, id := range ids {
			if err := res[id]; err != nil {
				failed++
				fmt.Fprintf(out, "%s %s\n%s\n", color.RedString("FAIL"), id, err.Error())
				continue
			}
			fmt.Fprintf(out, "%s %s\n", color.GreenString("ok  "), id)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d scripts failed", failed, len(ids))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
