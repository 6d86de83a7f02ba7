package utils

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/brentp/xopen"
	"github.com/pkg/errors"
)

// Exists reports whether path exists
func Exists(path string) bool {
	return xopen.Exists(path)
}

// IsDir reports whether path exists and is a directory
func IsDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

// AcquireSentinel creates an empty sentinel file with O_EXCL. It returns
// false when the file is already there, meaning someone else holds it.
func AcquireSentinel(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "could not create sentinel %s", path)
	}
	return true, f.Close()
}

// ReleaseSentinel removes a sentinel file, ignoring a missing one
func ReleaseSentinel(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not remove sentinel %s", path)
	}
	return nil
}

// Touch creates path (and its parent directories) if it does not exist
func Touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "could not create directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "could not touch %s", path)
	}
	return f.Close()
}

// RemoveFiles removes every existing path given and returns the first error
func RemoveFiles(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "could not remove %s", p)
		}
	}
	return firstErr
}

// Move moves src into dstDir, keeping its base name. Renames across file
// systems fall back on mv.
func Move(src, dstDir string) (string, error) {
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return "", errors.Wrapf(err, "could not create %s", dstDir)
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if Exists(dst) {
		return "", errors.Errorf("destination %s already exists", dst)
	}
	if err := os.Rename(src, dst); err != nil {
		if _, mvErr := (BashShell{}).Run(Fs("mv %s %s", Quote(src), Quote(dst))); mvErr != nil {
			return "", errors.Wrapf(mvErr, "could not move %s to %s", src, dstDir)
		}
	}
	return dst, nil
}

// Symlink creates link pointing at target, creating parent directories.
// An existing link at the same place is replaced.
func Symlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return errors.Wrapf(err, "could not create directory for %s", link)
	}
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return errors.Wrapf(err, "could not replace %s", link)
		}
	}
	return errors.Wrapf(os.Symlink(target, link), "could not link %s to %s", link, target)
}

// AppendTSV appends one tab separated row to path
func AppendTSV(path string, fields ...string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "could not create directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "could not open %s", path)
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(fields); err != nil {
		f.Close()
		return errors.Wrapf(err, "could not write to %s", path)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrapf(err, "could not write to %s", path)
	}
	return f.Close()
}

// TSVHasKey reports whether any row of the TSV file at path has key in its
// first column. A missing file has no keys.
func TSVHasKey(path, key string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "could not open %s", path)
	}
	defer f.Close()
	return scanFirstColumn(f, key)
}

func scanFirstColumn(r io.Reader, key string) (bool, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if strings.SplitN(sc.Text(), "\t", 2)[0] == key {
			return true, nil
		}
	}
	return false, sc.Err()
}
