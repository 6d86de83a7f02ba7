package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pharmbio/taca/backup"
	"github.com/pharmbio/taca/utils"
)

// options for the backup commands
var (
	backupRun   string
	forceBackup bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Encrypt runs and send them to PDC.",
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Compress and encrypt runs in the archive directories.",
	Long: `Compress and encrypt runs in the archive directories.

Each run is packed with tar and pigz, encrypted with a fresh random key, and
verified by comparing the md5 sums of the archive before encryption and after
decryption. The key is encrypted to the configured gpg receiver and kept in the
keys path. -f skips both the demultiplexing check and the verification.
`,
	Args: cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		exe, err := os.Executable()
		if err != nil {
			die(errors.Wrap(err, "could not find the taca executable"))
		}
		child := backup.ChildEncrypter{Command: []string{exe, "--config", configPath, "backup", encryptRunCmd.Name()}}
		if err := newBackup(child).EncryptRuns(ctx(), backupRun, forceBackup); err != nil {
			die(err)
		}
	},
}

// encryptRunCmd runs the encryption of a single run. The encrypt command
// starts it once per run, holding the sentinel of the run meanwhile.
var encryptRunCmd = &cobra.Command{
	Use:    "encrypt-run RUN",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		rv := backup.NewRunVars(args[0], cfg.Backup.KeysPath)
		if err := newBackup(nil).EncryptRun(rv, forceBackup); err != nil {
			die(err)
		}
	},
}

var putDataCmd = &cobra.Command{
	Use:   "put_data",
	Short: "Send encrypted runs to PDC.",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		if err := newBackup(nil).PDCPut(ctx(), backupRun); err != nil {
			die(err)
		}
	},
}

func init() {
	encryptCmd.Flags().StringVarP(&backupRun, "run", "r", "", "encrypt only this run")
	encryptCmd.Flags().BoolVarP(&forceBackup, "force", "f", false, "skip the demultiplexing check and the verification")
	encryptRunCmd.Flags().BoolVarP(&forceBackup, "force", "f", false, "skip the verification")
	putDataCmd.Flags().StringVarP(&backupRun, "run", "r", "", "send only this run")
	backupCmd.AddCommand(encryptCmd, encryptRunCmd, putDataCmd)
}

func newBackup(enc backup.Encrypter) *backup.Backup {
	var db backup.StatusDB
	if c := couch(); c != nil {
		db = c
	}
	return backup.New(cfg, utils.BashShell{}, mailer(), db, enc)
}
