package analysis

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/utils"
)

// readTarball returns the content of every regular file in a tar.gz
func readTarball(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := pgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	files := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		files[hdr.Name] = string(b)
	}
	return files
}

func TestTransferRunfolder(t *testing.T) {
	runDir := makeRun(t, novaSeqRun, map[string]string{
		"RunInfo.xml":             "<RunInfo/>",
		"SampleSheet.csv":         dualIndexSheet,
		"SampleSheet_1.csv":       dualIndexSheet,
		"Data/Intensities/s.locs": "locs",
		"Demultiplexing/README":   "demux",
		"demux_1.err":             "",
	})
	r := &illumina.Run{ID: novaSeqRun, RunDir: runDir, SampleSheetPath: filepath.Join(runDir, "SampleSheet.csv")}
	tmp := t.TempDir()
	cfg := config.TransferConfig{
		Host:                 "hpc.example.com",
		RunfolderDestination: "/proj/runfolders",
		RunfolderTransferLog: filepath.Join(tmp, "runfolders.tsv"),
	}

	var tarball, md5Line []byte
	shell := &fakeShell{hook: func(cmd string) error {
		var err error
		base := filepath.Join(filepath.Dir(runDir), novaSeqRun+"_P1.tar.gz")
		if tarball, err = os.ReadFile(base); err != nil {
			return err
		}
		md5Line, err = os.ReadFile(base + ".md5")
		return err
	}}
	if err := TransferRunfolder(r, []string{"P1"}, []int{2}, cfg, shell); err != nil {
		t.Fatal(err)
	}
	if len(shell.cmds) != 1 || !strings.Contains(shell.cmds[0], "'hpc.example.com:/proj/runfolders'") {
		t.Errorf("Wrong transfer commands: %v", shell.cmds)
	}

	sum := md5.Sum(tarball)
	expected := hex.EncodeToString(sum[:]) + "  " + novaSeqRun + "_P1.tar.gz\n"
	if string(md5Line) != expected {
		t.Errorf("Wrong md5 file:\nEXPECTED:\n%s\nACTUAL:\n%s\n", expected, md5Line)
	}

	files := readTarball(t, tarball)
	if _, ok := files[novaSeqRun+"/Data/Intensities/s.locs"]; !ok {
		t.Errorf("Run data missing from the tarball: %v", files)
	}
	for name := range files {
		base := strings.TrimPrefix(name, novaSeqRun+"/")
		if strings.HasPrefix(base, "Demultiplexing") || strings.HasPrefix(base, "demux_") || base == "SampleSheet_1.csv" {
			t.Errorf("%s should not be in the tarball", name)
		}
	}
	ss, err := illumina.ParseSampleSheet(strings.NewReader(files[novaSeqRun+"/SampleSheet.csv"]))
	if err != nil {
		t.Fatal(err)
	}
	if len(ss.Entries) != 2 || ss.Entries[0].Project != "P1" || ss.Entries[1].Project != "P1" {
		t.Errorf("Filtered sample sheet should hold the two P1 samples, got %+v", ss.Entries)
	}

	if utils.Exists(filepath.Join(filepath.Dir(runDir), novaSeqRun+"_P1.tar.gz")) {
		t.Error("The local tarball should be removed after the transfer")
	}
	if ok, _ := utils.TSVHasKey(cfg.RunfolderTransferLog, novaSeqRun+"_P1.tar.gz"); !ok {
		t.Error("Transfer of the tarball not logged")
	}
}

func TestFilterSampleSheetExcludesLanes(t *testing.T) {
	ss, err := illumina.ParseSampleSheet(strings.NewReader(dualIndexSheet))
	if err != nil {
		t.Fatal(err)
	}
	if rows := FilterSampleSheet(ss, []string{"P1", "P2"}, []int{1}); len(rows) != 1 || rows[0].SampleID != "P2_201" {
		t.Errorf("Wrong filtered rows: %+v", rows)
	}
	if rows := FilterSampleSheet(ss, []string{"P3"}, nil); len(rows) != 0 {
		t.Errorf("Unknown project should give no rows, got %+v", rows)
	}
}
