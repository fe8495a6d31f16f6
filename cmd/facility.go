package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var facilityCmd = &cobra.Command{
	Use:   "facility",
	Short: "Inspect or remove single facilities",
}

var facilityGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a facility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("search"); err != nil {
			return err
		}
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := env.Searcher.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, f)
	},
}

var facilityDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Tombstone a facility and release its external ids",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("search"); err != nil {
			return err
		}
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Delete(ctx, args[0]); err != nil {
			return err
		}
		env.purgeCache(ctx)

		zap.L().Info("facility deleted", zap.String("id", args[0]))
		fmt.Fprintln(os.Stderr, "deleted", args[0])
		return nil
	},
}

func init() {
	facilityCmd.AddCommand(facilityGetCmd)
	facilityCmd.AddCommand(facilityDeleteCmd)
	rootCmd.AddCommand(facilityCmd)
}
