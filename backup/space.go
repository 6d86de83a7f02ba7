package backup

import (
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/utils"
)

func freeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, errors.Wrapf(err, "could not stat file system of %s", path)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// sizeOf is the configured size of a run of kind, or the largest
// configured size when the kind is unknown
func (b *Backup) sizeOf(kind string) uint64 {
	if size := b.cfg.SizeEstimate(kind); size > 0 {
		return size
	}
	var largest uint64
	for k := range b.cfg.Backup.Sizes {
		if size := b.cfg.SizeEstimate(k); size > largest {
			largest = size
		}
	}
	return largest
}

// requiredSpace is twice the size of the run plus the size of every run
// still sequencing in the data directories
func (b *Backup) requiredSpace(rv RunVars) uint64 {
	required := 2 * b.sizeOf(rv.Kind)
	for kind, dir := range b.cfg.Backup.DataDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || !isRunName(e.Name()) {
				continue
			}
			if utils.Exists(filepath.Join(dir, e.Name(), illumina.RTACompleteFile)) {
				continue
			}
			required += b.sizeOf(kind)
		}
	}
	return required
}

// checkSpace fails with ErrLowSpace when the file system of the run cannot
// hold the encryption of rv
func (b *Backup) checkSpace(rv RunVars) error {
	required := b.requiredSpace(rv)
	available, err := b.freeSpace(rv.Dir)
	if err != nil {
		return err
	}
	if available < required {
		return errors.Wrapf(ErrLowSpace, "%s needs %s in %s, %s available",
			rv.Name, bytefmt.ByteSize(required), rv.Dir, bytefmt.ByteSize(available))
	}
	return nil
}
