package main

import (
	"github.com/spf13/cobra"

	"github.com/pharmbio/taca/analysis"
	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/utils"
)

// options for the analysis commands
var (
	analysisRun      string
	runfolderProject []string
	excludeLanes     []int
)

var analysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Demultiplex, upload and transfer Illumina runs.",
}

var demultiplexCmd = &cobra.Command{
	Use:   "demultiplex",
	Short: "Start demultiplexing of new runs and finish processing of done ones.",
	Long: `Start demultiplexing of new runs and finish processing of done ones.

Every run folder in the data directories, or only the one given with -r, is
moved one step forward: sequencing runs are left alone, finished ones get
their demultiplexing started, and demultiplexed runs are uploaded, reported,
transferred and archived.
`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		if err := processor().RunPreprocessing(ctx(), analysisRun); err != nil {
			die(err)
		}
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer RUNDIR",
	Short: "Transfer a run to the analysis server.",
	Long: `Transfer a run to the analysis server.

With --runfolder-project a tarball of the run folder holding a sample sheet of
only the given projects is made and sent to the runfolder destination
instead. --exclude-lane drops lanes from that sample sheet.
`,
	Args: cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		if len(runfolderProject) == 0 {
			if len(excludeLanes) > 0 {
				warn("--exclude-lane only applies with --runfolder-project")
			}
			if err := processor().TransferRun(ctx(), args[0]); err != nil {
				die(err)
			}
			return
		}
		if err := cfg.Require("transfer"); err != nil {
			die(err)
		}
		r, err := illumina.ClassifyAndBuild(args[0], cfg)
		if err != nil {
			die(err)
		}
		if err := analysis.TransferRunfolder(r, runfolderProject, excludeLanes, cfg.Transfer, utils.BashShell{}); err != nil {
			die(err)
		}
	},
}

var updatedbCmd = &cobra.Command{
	Use:   "updatedb RUNDIR",
	Short: "Upload the flowcell document of a run to statusdb.",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		if err := processor().UpdateDB(ctx(), args[0]); err != nil {
			die(err)
		}
	},
}

func init() {
	demultiplexCmd.Flags().StringVarP(&analysisRun, "run", "r", "", "process only this run folder")
	transferCmd.Flags().StringSliceVar(&runfolderProject, "runfolder-project", nil, "send a runfolder tarball of these projects")
	transferCmd.Flags().IntSliceVar(&excludeLanes, "exclude-lane", nil, "lanes left out of the runfolder sample sheet")
	analysisCmd.AddCommand(demultiplexCmd, transferCmd, updatedbCmd)
}

func processor() *analysis.Processor {
	var db analysis.StatusDB
	if c := couch(); c != nil {
		db = c
	}
	return analysis.NewProcessor(cfg, db, mailer(), illumina.DetachedLauncher{}, utils.BashShell{})
}
