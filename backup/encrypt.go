package backup

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/utils"
)

// EncryptRuns encrypts every collected run, or only run when it is given.
// Runs are skipped while not demultiplexed unless force is set, which also
// skips the checksum verification. A failed run is logged and the next one
// is tried. Low disk space aborts the batch.
func (b *Backup) EncryptRuns(ctx context.Context, run string, force bool) error {
	if err := b.cfg.Require("backup"); err != nil {
		return err
	}
	runs, err := b.CollectRuns(run, EncryptStage)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		sp.Info.Println("No runs ready for encryption")
		return nil
	}
	for _, rv := range runs {
		if err := b.checkSpace(rv); err != nil {
			sp.Error.Printf("%v\n", err)
			if mErr := b.mailer.Send(b.mailer.Subject(""), utils.Fs("Encryption stopped:\n\n%v\n", err)); mErr != nil {
				sp.Warning.Printf("Could not mail about low space: %v\n", mErr)
			}
			return err
		}
		if err := b.encryptRun(ctx, rv, force); err != nil {
			sp.Error.Printf("Encryption of %s failed: %v\n", rv.Name, err)
			b.notify(rv, err)
		}
	}
	return nil
}

func (b *Backup) encryptRun(ctx context.Context, rv RunVars, force bool) error {
	if b.cfg.Backup.CheckDemux && !force && rv.Kind != KindONT && b.db != nil {
		done, err := b.db.IsDemultiplexed(ctx, rv.Name)
		if err != nil {
			return err
		}
		if !done {
			sp.Warning.Printf("Run %s is not demultiplexed yet, skipping it\n", rv.Name)
			return nil
		}
	}
	if utils.Exists(rv.Archiving()) {
		sp.Warning.Printf("Run %s is being archived, skipping it\n", rv.Name)
		return nil
	}
	ok, err := utils.AcquireSentinel(rv.Encrypting())
	if err != nil {
		return err
	}
	if !ok {
		sp.Warning.Printf("Run %s is already being encrypted, skipping it\n", rv.Name)
		return nil
	}
	defer utils.ReleaseSentinel(rv.Encrypting())

	if utils.IsDir(rv.AbsPath) && utils.Exists(rv.Zip) {
		return errors.Wrapf(ErrAmbiguousArchive, "%s", rv.AbsPath)
	}
	if utils.Exists(rv.ZipEncrypted) || utils.Exists(rv.KeyEncrypted) || utils.Exists(rv.DstKeyEncrypted) {
		sp.Warning.Printf("Removing stale %s and its keys\n", rv.ZipEncrypted)
		if err := utils.RemoveFiles(rv.artifacts()...); err != nil {
			return err
		}
	}

	start := utils.Now()
	sp.Info.Printf("Encrypting %s\n", rv.Name)
	if err := b.encrypter.EncryptRun(rv, force); err != nil {
		if cErr := utils.RemoveFiles(rv.artifacts()...); cErr != nil {
			sp.Warning.Printf("Cleanup after failed encryption of %s: %v\n", rv.Name, cErr)
		}
		return err
	}
	sp.Info.Printf("Encrypted %s in %s\n", rv.Name, utils.FmtDuration(utils.Now().Sub(start)))
	return nil
}

// EncryptRun runs the encryption workflow for one run in the directory of
// the run, checks the checksums unless force is set, and leaves only the
// encrypted archive next to the run and the encrypted key in the keys path.
// A failing workflow step exits the process.
func (b *Backup) EncryptRun(rv RunVars, force bool) error {
	if b.cfg.Backup.GPGReceiver == "" {
		return errors.New("no gpg receiver configured")
	}
	logFile, err := b.workflowLog(rv)
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "could not get working directory")
	}
	if err := os.Chdir(rv.Dir); err != nil {
		return errors.Wrapf(err, "could not change to %s", rv.Dir)
	}
	defer os.Chdir(wd)

	packed := !utils.IsDir(rv.AbsPath)
	src := rv.Name
	if packed {
		src += ExtZip
	}
	wf := NewEncryptWorkflow(4, EncryptWorkflowParams{
		RunName:     src,
		Packed:      packed,
		Excludes:    b.cfg.Backup.ExcludeList,
		PigzThreads: b.cfg.Backup.PigzThreads,
		Receiver:    b.cfg.Backup.GPGReceiver,
		Verify:      !force,
		LogFile:     logFile,
	})
	wf.Run()
	return b.finishEncryption(rv, force)
}

// workflowLog is the audit log of the encryption of rv, kept next to the
// taca log. Without a log file nothing is kept.
func (b *Backup) workflowLog(rv RunVars) (string, error) {
	if b.cfg.Log.File == "" {
		return os.DevNull, nil
	}
	dir, err := filepath.Abs(filepath.Dir(b.cfg.Log.File))
	if err != nil {
		return "", errors.Wrapf(err, "could not resolve log directory of %s", b.cfg.Log.File)
	}
	return filepath.Join(dir, "scipipe-encrypt-"+rv.Name+".log"), nil
}

// finishEncryption verifies the checksums and moves the encrypted key away.
// On a mismatch every artifact of the attempt is removed.
func (b *Backup) finishEncryption(rv RunVars, force bool) error {
	if !force {
		if err := verifyChecksums(rv); err != nil {
			if cErr := utils.RemoveFiles(rv.artifacts()...); cErr != nil {
				sp.Warning.Printf("Cleanup after failed verification of %s: %v\n", rv.Name, cErr)
			}
			return err
		}
	}
	if utils.Exists(rv.DstKeyEncrypted) {
		if err := utils.RemoveFiles(rv.DstKeyEncrypted); err != nil {
			return err
		}
	}
	if _, err := utils.Move(rv.KeyEncrypted, b.cfg.Backup.KeysPath); err != nil {
		return err
	}
	md5Zip, md5Encrypted := rv.checksums()
	leftovers := []string{rv.Zip, rv.Key, md5Zip, md5Encrypted}
	if !utils.IsDir(rv.AbsPath) {
		// the plain archive was the input, it is all there is of the run
		leftovers = leftovers[1:]
	}
	return utils.RemoveFiles(append(leftovers, rv.audits()...)...)
}

func verifyChecksums(rv RunVars) error {
	md5Zip, md5Encrypted := rv.checksums()
	before, err := os.ReadFile(md5Zip)
	if err != nil {
		return errors.Wrapf(err, "could not read %s", md5Zip)
	}
	after, err := os.ReadFile(md5Encrypted)
	if err != nil {
		return errors.Wrapf(err, "could not read %s", md5Encrypted)
	}
	before, after = bytes.TrimSpace(before), bytes.TrimSpace(after)
	if len(before) == 0 || !bytes.Equal(before, after) {
		return errors.Wrapf(ErrChecksumMismatch, "%s: %s before, %s after", rv.Name, before, after)
	}
	return nil
}

// ChildEncrypter encrypts each run in a new process, so that a failing
// workflow step only ends that run. Command is the command line of the
// per-run encryption, to which --force and the run path are appended.
type ChildEncrypter struct {
	Command []string
}

func (c ChildEncrypter) EncryptRun(rv RunVars, force bool) error {
	if len(c.Command) == 0 {
		return errors.New("no encryption command given")
	}
	args := append([]string{}, c.Command[1:]...)
	if force {
		args = append(args, "--force")
	}
	args = append(args, rv.AbsPath)
	cmd := exec.Command(c.Command[0], args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	sp.Audit.Printf("| %-32s | Executing: %s %s\n", "encrypt", c.Command[0], strings.Join(args, " "))
	return errors.Wrapf(cmd.Run(), "encryption of %s", rv.Name)
}
