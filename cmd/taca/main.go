// Command taca drives the sequencing facility's run folders through
// demultiplexing, transfer, encryption, tape backup and cleanup.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"
	"github.com/spf13/cobra"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/mail"
	"github.com/pharmbio/taca/statusdb"
)

var (
	configPath string
	verbose    bool
	cfg        *config.Config

	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "taca",
	Short: "Tool for the Automation of Cleanup and Analyses.",
	Long: `Tool for the Automation of Cleanup and Analyses.

taca is meant to be run from cron. Every invocation looks at the run folders,
advances each of them as far as it can and exits. Sentinel files next to the
runs keep concurrent invocations apart.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return initLog(cfg.Log)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
	rootCmd.AddCommand(analysisCmd, backupCmd, cleanupCmd)
	if err := rootCmd.Execute(); err != nil {
		die(err)
	}
}

// initLog sends the scipipe loggers to stderr, and also to the configured
// log file when there is one
func initLog(lc config.LogConfig) error {
	var out io.Writer = os.Stderr
	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0755); err != nil {
			return errors.Wrapf(err, "could not create log directory for %s", lc.File)
		}
		f, err := os.OpenFile(lc.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "could not open log file %s", lc.File)
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	debug := io.Discard
	if lc.Debug || verbose {
		debug = out
	}
	sp.InitLog(io.Discard, debug, out, out, out, out)
	return nil
}

// mailer returns the configured mailer, or one dropping every mail
func mailer() mail.Sender {
	if !cfg.Has("mail") {
		return mail.Discard{}
	}
	return mail.New(cfg.Mail)
}

// couch returns the status database client, or nil without a statusdb
// section
func couch() *statusdb.Client {
	if !cfg.Has("statusdb") {
		return nil
	}
	c, err := statusdb.NewClient(cfg.StatusDB)
	if err != nil {
		die(err)
	}
	return c
}

func ctx() context.Context {
	return context.Background()
}

// die prints the error in red and exits
func die(err error) {
	fmt.Fprintln(os.Stderr, red("error:"), err)
	os.Exit(1)
}

// warn prints a warning in yellow
func warn(msg string) {
	fmt.Fprintln(os.Stderr, yellow("warning:"), msg)
}
