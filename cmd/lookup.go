package main

import (
	"github.com/spf13/cobra"
)

var lookupFormat string

var lookupCmd = &cobra.Command{
	Use:   "lookup <egid>",
	Short: "Look up one building by EGID and print its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "lookup")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Lookup.Lookup(ctx, args[0])
		if err != nil {
			return err
		}
		return writeRecord(cmd.OutOrStdout(), rec, lookupFormat)
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupFormat, "format", "json", "output format: json, yaml or geojson")
	rootCmd.AddCommand(lookupCmd)
}
