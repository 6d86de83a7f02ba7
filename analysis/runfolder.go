package analysis

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/utils"
)

// runfolderSkip are the top level entries left out of a project runfolder
// tarball
var runfolderSkip = []string{"Demultiplexing*", "SampleSheet*", "demux_*", illumina.TransferringFile}

func skipInRunfolder(name string) bool {
	for _, pat := range runfolderSkip {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// FilterSampleSheet keeps the entries of the given projects, minus the
// excluded lanes
func FilterSampleSheet(ss *illumina.SampleSheet, projects []string, excludeLanes []int) []illumina.DemuxRow {
	wanted := map[string]bool{}
	for _, p := range projects {
		wanted[p] = true
	}
	excluded := map[int]bool{}
	for _, l := range excludeLanes {
		excluded[l] = true
	}
	var rows []illumina.DemuxRow
	for _, e := range ss.Entries {
		if !wanted[e.Project] || excluded[e.Lane] {
			continue
		}
		rows = append(rows, illumina.DemuxRow{
			Lane:       e.Lane,
			SampleID:   e.SampleID,
			SampleName: e.SampleName,
			Project:    e.Project,
			Index:      e.Index,
			Index2:     e.Index2,
		})
	}
	return rows
}

// TransferRunfolder packs the run folder with a sample sheet holding only
// the given projects, writes the md5 sum of the tarball next to it and
// rsyncs both to the runfolder destination. The local tarball is removed
// after a successful transfer.
func TransferRunfolder(r *illumina.Run, projects []string, excludeLanes []int, cfg config.TransferConfig, shell utils.Shell) error {
	if len(projects) == 0 {
		return errors.New("no projects given")
	}
	if cfg.RunfolderDestination == "" {
		return errors.New("no runfolder destination configured")
	}
	if r.SampleSheetPath == "" {
		return errors.Errorf("no sample sheet found for %s", r.ID)
	}
	ss, err := illumina.ReadSampleSheet(r.SampleSheetPath)
	if err != nil {
		return err
	}
	rows := FilterSampleSheet(ss, projects, excludeLanes)
	if len(rows) == 0 {
		return errors.Errorf("no samples of %s in %s", strings.Join(projects, ", "), r.ID)
	}
	var sheet bytes.Buffer
	if err := illumina.WriteBcl2FastqSheet(&sheet, ss.Header, rows); err != nil {
		return errors.Wrap(err, "could not write filtered sample sheet")
	}

	tarball := filepath.Join(filepath.Dir(r.RunDir), r.ID+"_"+strings.Join(projects, "_")+".tar.gz")
	sum, err := writeRunfolderTarball(r, tarball, sheet.Bytes())
	if err != nil {
		os.Remove(tarball)
		return err
	}
	md5File := tarball + ".md5"
	if err := os.WriteFile(md5File, []byte(sum+"  "+filepath.Base(tarball)+"\n"), 0644); err != nil {
		os.Remove(tarball)
		return errors.Wrapf(err, "could not write %s", md5File)
	}
	sp.Info.Printf("Packed %s for %s into %s\n", r.ID, strings.Join(projects, ", "), tarball)

	if _, err := shell.Run(rsyncCommand(cfg, cfg.RunfolderDestination, tarball, md5File)); err != nil {
		return errors.Wrapf(err, "could not transfer %s", tarball)
	}
	if cfg.RunfolderTransferLog != "" {
		if err := utils.AppendTSV(cfg.RunfolderTransferLog, filepath.Base(tarball), utils.Now().Format(utils.TimeStamp)); err != nil {
			return err
		}
	}
	sp.Info.Printf("Transferred %s to %s\n", filepath.Base(tarball), remoteTarget(cfg, cfg.RunfolderDestination))
	return utils.RemoveFiles(tarball, md5File)
}

// writeRunfolderTarball writes the tarball and returns its md5 sum
func writeRunfolderTarball(r *illumina.Run, path string, sheet []byte) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not create %s", path)
	}
	defer f.Close()
	h := md5.New()
	zw := pgzip.NewWriter(io.MultiWriter(f, h))
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(r.RunDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(r.RunDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if !strings.Contains(rel, string(filepath.Separator)) && skipInRunfolder(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return addToTar(tw, path, filepath.Join(r.ID, rel))
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not pack %s", r.ID)
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     filepath.Join(r.ID, "SampleSheet.csv"),
		Mode:     0644,
		Size:     int64(len(sheet)),
		ModTime:  utils.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return "", errors.Wrap(err, "could not add sample sheet")
	}
	if _, err := tw.Write(sheet); err != nil {
		return "", errors.Wrap(err, "could not add sample sheet")
	}
	if err := tw.Close(); err != nil {
		return "", errors.Wrapf(err, "could not finish %s", path)
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrapf(err, "could not finish %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func addToTar(tw *tar.Writer, path, name string) error {
	st, err := os.Lstat(path)
	if err != nil {
		return err
	}
	link := ""
	if st.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(st, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if st.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !st.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
