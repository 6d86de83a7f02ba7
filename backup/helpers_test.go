package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/pharmbio/taca/config"
)

const (
	novaSeqRun = "201101_A00621_0123_AHXXXXDSXY"
	ontRun     = "20231012_1410_1E_PAQ12345_a1b2c3d4"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// testDirs is the directory layout of a backup test
type testDirs struct {
	root, nosync, archived, keys, data string
}

func newTestDirs(t *testing.T) testDirs {
	root := t.TempDir()
	d := testDirs{
		root:     root,
		nosync:   filepath.Join(root, "nosync"),
		archived: filepath.Join(root, "archived"),
		keys:     filepath.Join(root, "keys"),
		data:     filepath.Join(root, "data"),
	}
	for _, dir := range []string{d.nosync, d.archived, d.keys, d.data} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

// makeFinishedRun creates a sequenced and copied run in the nosync dir
func (d testDirs) makeFinishedRun(t *testing.T, name string) string {
	runDir := filepath.Join(d.nosync, name)
	writeTestFile(t, filepath.Join(runDir, "RTAComplete.txt"), "")
	writeTestFile(t, filepath.Join(runDir, "CopyComplete.txt"), "")
	writeTestFile(t, filepath.Join(runDir, "Data", "Intensities", "s.locs"), "locs")
	return runDir
}

func (d testDirs) config(t *testing.T) *config.Config {
	t.Helper()
	yaml := strings.Join([]string{
		"backup:",
		"  data_dirs:",
		"    novaseq: " + d.data,
		"  archive_dirs:",
		"    novaseq: " + d.nosync,
		"  archived_dirs:",
		"    novaseq: " + d.archived,
		"    ont: " + d.archived,
		"  keys_path: " + d.keys,
		"  gpg_receiver: ops@example.com",
		"  archive_log: " + filepath.Join(d.root, "archive.tsv"),
		"  check_demux: false",
		"  mail_errors: true",
	}, "\n")
	cfg, err := config.Parse(strings.NewReader(yaml))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// fakeShell records commands and plays dsmc against an in-memory archive
type fakeShell struct {
	cmds        []string
	pdc         map[string]bool
	failArchive bool
}

func (f *fakeShell) Run(cmd string) (string, error) {
	f.cmds = append(f.cmds, cmd)
	switch {
	case strings.HasPrefix(cmd, "dsmc query archive "):
		if f.pdc[strings.Trim(strings.TrimPrefix(cmd, "dsmc query archive "), "'")] {
			return "1 file found", nil
		}
		return "", errors.New("ANS1092W No files matching search criteria were found")
	case strings.HasPrefix(cmd, "dsmc archive "):
		if f.failArchive {
			return "", errors.New("ANS1017E Session rejected")
		}
		if f.pdc == nil {
			f.pdc = map[string]bool{}
		}
		f.pdc[strings.Trim(strings.TrimPrefix(cmd, "dsmc archive "), "'")] = true
	}
	return "", nil
}

func (f *fakeShell) archived() []string {
	var out []string
	for _, c := range f.cmds {
		if strings.HasPrefix(c, "dsmc archive ") {
			out = append(out, c)
		}
	}
	return out
}

type sentMail struct {
	subject, body string
}

type fakeMailer struct {
	sent []sentMail
}

func (f *fakeMailer) Subject(target string) string { return "TACA - " + target }

func (f *fakeMailer) Send(subject, body string) error {
	f.sent = append(f.sent, sentMail{subject, body})
	return nil
}

type fakeDB struct {
	demultiplexed map[string]bool
	archived      []string
	fail          bool
}

func (f *fakeDB) IsDemultiplexed(ctx context.Context, run string) (bool, error) {
	return f.demultiplexed[run], nil
}

func (f *fakeDB) LogPDCArchived(ctx context.Context, run string) error {
	if f.fail {
		return errors.New("couch is down")
	}
	f.archived = append(f.archived, run)
	return nil
}

// fakeWorkflow writes what the encryption workflow would, with the given
// md5 sums, and then finishes the encryption like the real one
type fakeWorkflow struct {
	t            *testing.T
	b            *Backup
	md5Zip       string
	md5Decrypted string
	calls        int
	staleSeen    bool
}

func (f *fakeWorkflow) EncryptRun(rv RunVars, force bool) error {
	f.calls++
	if _, err := os.Stat(rv.ZipEncrypted); err == nil {
		f.staleSeen = true
	}
	for _, stale := range []string{rv.KeyEncrypted, rv.DstKeyEncrypted} {
		if _, err := os.Stat(stale); err == nil {
			f.staleSeen = true
		}
	}
	writeTestFile(f.t, rv.Zip, "zip")
	writeTestFile(f.t, rv.Key, "key")
	writeTestFile(f.t, rv.ZipEncrypted, "encrypted")
	writeTestFile(f.t, rv.KeyEncrypted, "encrypted key")
	writeTestFile(f.t, rv.Zip+".md5", f.md5Zip+"\n")
	writeTestFile(f.t, rv.ZipEncrypted+".md5", f.md5Decrypted+"\n")
	writeTestFile(f.t, rv.Zip+".audit.json", "{}")
	writeTestFile(f.t, rv.ZipEncrypted+".audit.json", "{}")
	return f.b.finishEncryption(rv, force)
}

// newTestBackup returns a Backup with no pauses and plenty of space
func newTestBackup(cfg *config.Config, shell *fakeShell, mailer *fakeMailer, db StatusDB) *Backup {
	b := New(cfg, shell, mailer, db, nil)
	b.sleep = func(time.Duration) {}
	b.freeSpace = func(string) (uint64, error) { return 1 << 50, nil }
	return b
}
