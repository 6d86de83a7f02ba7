package main

import (
	"github.com/spf13/cobra"

	"github.com/pharmbio/taca/cleanup"
)

var irmaOpts cleanup.IrmaOptions

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove aged data.",
}

var irmaCmd = &cobra.Command{
	Use:   "irma",
	Short: "Remove old FASTQ and analysis directories on the analysis cluster.",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		if err := cfg.Require("cleanup"); err != nil {
			die(err)
		}
		removed, err := cleanup.Irma(cfg.Cleanup.Irma, irmaOpts)
		if err != nil {
			die(err)
		}
		if len(removed) == 0 {
			warn("nothing old enough to remove")
		}
	},
}

func init() {
	f := irmaCmd.Flags()
	f.IntVar(&irmaOpts.DaysFastq, "days_fastq", 90, "remove FASTQ directories older than this many days")
	f.IntVar(&irmaOpts.DaysAnalysis, "days_analysis", 90, "remove analysis directories older than this many days")
	f.BoolVar(&irmaOpts.OnlyFastq, "only_fastq", false, "remove only FASTQ directories")
	f.BoolVar(&irmaOpts.OnlyAnalysis, "only_analysis", false, "remove only analysis directories")
	f.BoolVarP(&irmaOpts.DryRun, "dry-run", "n", false, "list what would be removed")
	cleanupCmd.AddCommand(irmaCmd)
}
