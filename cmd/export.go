package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tombola/internal/export"
	"tombola/internal/ingest"
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Rewrite both export files from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		results := a.session.Results()
		if err := a.exports.Rewrite(results); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d result(s) written to %s and %s\n", len(results), a.cfg.ResultsExport, a.cfg.PublicExport)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the winners list as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		public, _ := cmd.Flags().GetBool("public")
		outPath, _ := cmd.Flags().GetString("out")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var w io.Writer = cmd.OutOrStdout()
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		write := export.WriteResults
		if public {
			write = export.WritePublic
		}
		return write(w, a.session.Results())
	},
}

var expandCmd = &cobra.Command{
	Use:   "expand <sales.csv> <tickets.csv>",
	Short: "Turn a ticket-sales export into one row per ticket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		seed := cfg.IngestSeed
		if cmd.Flags().Changed("seed") {
			seed, _ = cmd.Flags().GetUint64("seed")
		}

		summary, err := ingest.ExpandFile(args[0], args[1], seed)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d sale(s), %d ticket(s), %d participant(s)\n", summary.Sales, summary.Tickets, summary.Participants)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(saveCmd, exportCmd, expandCmd)
	exportCmd.Flags().Bool("public", false, "Write the redacted list (no emails, surname initial)")
	exportCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	expandCmd.Flags().Uint64("seed", 0, "Shuffle seed for the unique numbers (default from ingest.seed)")
}
