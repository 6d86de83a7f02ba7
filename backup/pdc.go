package backup

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/utils"
)

const (
	archiveSettle = 15 * time.Second
	keySettle     = 5 * time.Second
)

// PDCPut sends the encrypted archive and key of every collected run, or of
// run when given, to PDC. Archived runs are logged, their encrypted files
// removed and the run folder moved to the archived directory of its kind.
func (b *Backup) PDCPut(ctx context.Context, run string) error {
	if err := b.cfg.Require("backup"); err != nil {
		return err
	}
	runs, err := b.CollectRuns(run, PutStage)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		sp.Info.Println("No runs ready for PDC")
		return nil
	}
	for _, rv := range runs {
		if err := b.putRun(ctx, rv); err != nil {
			sp.Error.Printf("Sending %s to PDC failed: %v\n", rv.Name, err)
			b.notify(rv, err)
		}
	}
	return nil
}

func (b *Backup) inArchiveDir(rv RunVars) bool {
	for _, d := range b.cfg.Backup.ArchiveDirs {
		if abs, err := filepath.Abs(d); err == nil && abs == rv.Dir {
			return true
		}
	}
	return false
}

// putRun leaves the archiving sentinel in place on any failure after it is
// taken
func (b *Backup) putRun(ctx context.Context, rv RunVars) error {
	if !b.inArchiveDir(rv) {
		return errors.Wrapf(ErrNotInArchiveDir, "%s", rv.AbsPath)
	}
	if !utils.Exists(rv.DstKeyEncrypted) {
		return errors.Wrapf(ErrMissingKey, "%s for %s", rv.DstKeyEncrypted, rv.ZipEncrypted)
	}
	if utils.Exists(rv.Encrypting()) {
		sp.Warning.Printf("Run %s is being encrypted, skipping it\n", rv.Name)
		return nil
	}
	if b.inPDC(rv.ZipEncrypted) || b.inPDC(rv.DstKeyEncrypted) {
		sp.Warning.Printf("Files of %s are already in PDC, check and clean up by hand\n", rv.Name)
		return nil
	}
	ok, err := utils.AcquireSentinel(rv.Archiving())
	if err != nil {
		return err
	}
	if !ok {
		sp.Warning.Printf("Run %s is already being archived, skipping it\n", rv.Name)
		return nil
	}

	sp.Info.Printf("Sending %s to PDC\n", rv.ZipEncrypted)
	if _, err := b.shell.Run("dsmc archive " + utils.Quote(rv.ZipEncrypted)); err != nil {
		return errors.Wrapf(err, "dsmc archive %s", rv.ZipEncrypted)
	}
	b.sleep(archiveSettle)
	if _, err := b.shell.Run("dsmc archive " + utils.Quote(rv.DstKeyEncrypted)); err != nil {
		return errors.Wrapf(err, "dsmc archive %s", rv.DstKeyEncrypted)
	}
	b.sleep(keySettle)
	if !b.inPDC(rv.ZipEncrypted) || !b.inPDC(rv.DstKeyEncrypted) {
		return errors.Wrapf(ErrNotInPDC, "%s", rv.Name)
	}
	sp.Info.Printf("Sent %s to PDC, removing it from %s\n", filepath.Base(rv.ZipEncrypted), rv.Dir)

	if b.cfg.Backup.ArchiveLog != "" {
		if err := utils.AppendTSV(b.cfg.Backup.ArchiveLog, filepath.Base(rv.ZipEncrypted), utils.Now().Format(utils.TimeStamp)); err != nil {
			return err
		}
	}
	if b.db != nil {
		if err := b.db.LogPDCArchived(ctx, rv.Name); err != nil {
			sp.Warning.Printf("Could not log PDC archival of %s in statusdb: %v\n", rv.Name, err)
		}
	}
	if err := utils.RemoveFiles(rv.ZipEncrypted, rv.DstKeyEncrypted); err != nil {
		return err
	}
	if err := b.moveToArchived(rv); err != nil {
		return err
	}
	return utils.ReleaseSentinel(rv.Archiving())
}

func (b *Backup) moveToArchived(rv RunVars) error {
	if !utils.IsDir(rv.AbsPath) {
		return nil
	}
	dst, ok := b.cfg.Backup.ArchivedDirs[rv.Kind]
	if !ok || dst == "" {
		return errors.Wrapf(ErrNoArchivedDir, "kind %q of %s", rv.Kind, rv.Name)
	}
	moved, err := utils.Move(rv.AbsPath, dst)
	if err != nil {
		return err
	}
	sp.Info.Printf("Moved %s to %s\n", rv.Name, moved)
	return nil
}
