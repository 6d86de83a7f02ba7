// Package backup encrypts finished run folders and sends them to the tape
// archive (PDC) with dsmc. Each stage holds a sentinel file next to the run
// so concurrent invocations from cron leave each other alone.
package backup

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/mail"
	"github.com/pharmbio/taca/utils"
)

const (
	ErrAmbiguousArchive = utils.Error("both the run folder and its .tar.gz exist")
	ErrChecksumMismatch = utils.Error("md5 sum of the decrypted archive differs from the original")
	ErrLowSpace         = utils.Error("not enough free space for encryption")
	ErrNotInArchiveDir  = utils.Error("run is not in one of the archive directories")
	ErrMissingKey       = utils.Error("encrypted key not found")
	ErrNotInPDC         = utils.Error("files not found in PDC after archiving")
	ErrNoArchivedDir    = utils.Error("no archived directory configured")
)

const (
	ExtZip       = ".tar.gz"
	ExtEncrypted = ".tar.gz.gpg"

	// KindONT is the configuration key of Nanopore runs
	KindONT = "ont"
)

// ONTRunNamePattern matches Nanopore run folder names: date, time,
// position, flowcell and run hash.
var ONTRunNamePattern = regexp.MustCompile(`^(\d{8})_(\d{4})_([0-9a-zA-Z]+)_([0-9a-zA-Z]+)_([0-9a-zA-Z]+)$`)

// Stage says which part of the pipeline runs are collected for
type Stage int

const (
	EncryptStage Stage = iota
	PutStage
)

// ext is the extension the stage produces (encrypt) or consumes (put)
func (s Stage) ext() string {
	if s == PutStage {
		return ExtEncrypted
	}
	return ExtZip
}

// RunVars holds the paths of one run in the backup pipeline. All paths are
// absolute.
type RunVars struct {
	// AbsPath is the run folder, whether or not it still exists
	AbsPath string
	Dir     string
	Name    string
	Kind    string

	Zip             string
	ZipEncrypted    string
	Key             string
	KeyEncrypted    string
	DstKeyEncrypted string
}

// NewRunVars returns the paths for the run at path. A trailing .tar.gz or
// .tar.gz.gpg is stripped.
func NewRunVars(path, keysPath string) RunVars {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	for _, ext := range []string{ExtEncrypted, ExtZip} {
		if strings.HasSuffix(abs, ext) {
			abs = strings.TrimSuffix(abs, ext)
			break
		}
	}
	name := filepath.Base(abs)
	dir := filepath.Dir(abs)
	return RunVars{
		AbsPath:         abs,
		Dir:             dir,
		Name:            name,
		Kind:            runKind(name),
		Zip:             abs + ExtZip,
		ZipEncrypted:    abs + ExtEncrypted,
		Key:             abs + ".key",
		KeyEncrypted:    abs + ".key.gpg",
		DstKeyEncrypted: filepath.Join(keysPath, name+".key.gpg"),
	}
}

// Encrypting is the sentinel held while the run is encrypted
func (rv RunVars) Encrypting() string { return rv.AbsPath + ".encrypting" }

// Archiving is the sentinel held while the run is sent to PDC
func (rv RunVars) Archiving() string { return rv.AbsPath + ".archiving" }

// encrypted reports whether a finished encryption is waiting for PDC. An
// archive without its key in the keys path is a stale attempt.
func (rv RunVars) encrypted() bool {
	return utils.Exists(rv.ZipEncrypted) && utils.Exists(rv.DstKeyEncrypted)
}

// checksums are the md5 files of the plain and the decrypted archive
func (rv RunVars) checksums() (string, string) {
	return rv.Zip + ".md5", rv.ZipEncrypted + ".md5"
}

// artifacts are every file an encryption attempt can leave next to the run.
// The plain archive is only included when the run folder still exists.
func (rv RunVars) artifacts() []string {
	md5Zip, md5Encrypted := rv.checksums()
	files := []string{rv.ZipEncrypted, rv.Key, rv.KeyEncrypted, rv.DstKeyEncrypted, md5Zip, md5Encrypted}
	if utils.IsDir(rv.AbsPath) {
		files = append(files, rv.Zip)
	}
	return append(files, rv.audits()...)
}

// audits are the audit logs the workflow writes next to its outputs
func (rv RunVars) audits() []string {
	audits, _ := filepath.Glob(filepath.Join(rv.Dir, rv.Name+".*.audit.json"))
	return audits
}

func runKind(name string) string {
	if ONTRunNamePattern.MatchString(name) {
		return KindONT
	}
	parts, err := illumina.ParseRunName(name)
	if err != nil {
		return ""
	}
	kind, err := illumina.KindFromInstrument(parts[1])
	if err != nil {
		return ""
	}
	return kind.Key()
}

func isRunName(name string) bool {
	return ONTRunNamePattern.MatchString(name) || illumina.RunNamePattern.MatchString(name)
}

// StatusDB is what the backup needs from the status database
type StatusDB interface {
	IsDemultiplexed(ctx context.Context, run string) (bool, error)
	LogPDCArchived(ctx context.Context, run string) error
}

// Encrypter encrypts a single run. The sentinel is held by the caller.
type Encrypter interface {
	EncryptRun(rv RunVars, force bool) error
}

// Backup runs the encrypt and put stages over the configured archive
// directories
type Backup struct {
	cfg       *config.Config
	shell     utils.Shell
	mailer    mail.Sender
	db        StatusDB
	encrypter Encrypter

	sleep     func(time.Duration)
	freeSpace func(path string) (uint64, error)
}

// New returns a Backup. With a nil encrypter runs are encrypted in this
// process. db may be nil when there is no status database. The scipipe
// loggers must be initialised by the caller, with sp.InitLog or one of its
// variants.
func New(cfg *config.Config, shell utils.Shell, mailer mail.Sender, db StatusDB, enc Encrypter) *Backup {
	if shell == nil {
		shell = utils.BashShell{}
	}
	if mailer == nil {
		mailer = mail.Discard{}
	}
	b := &Backup{
		cfg:       cfg,
		shell:     shell,
		mailer:    mailer,
		db:        db,
		encrypter: enc,
		sleep:     time.Sleep,
		freeSpace: freeSpace,
	}
	if b.encrypter == nil {
		b.encrypter = b
	}
	return b
}

// CollectRuns returns the runs ready for a stage. With run set only that
// path is considered, otherwise every archive directory is listed.
func (b *Backup) CollectRuns(run string, stage Stage) ([]RunVars, error) {
	var candidates []string
	if run != "" {
		if !utils.Exists(run) {
			return nil, errors.Errorf("run %s does not exist", run)
		}
		candidates = append(candidates, run)
	} else {
		dirs := make([]string, 0, len(b.cfg.Backup.ArchiveDirs))
		for _, d := range b.cfg.Backup.ArchiveDirs {
			dirs = append(dirs, d)
		}
		sort.Strings(dirs)
		for _, d := range dirs {
			entries, err := os.ReadDir(d)
			if err != nil {
				sp.Warning.Printf("Could not list archive directory %s: %v\n", d, err)
				continue
			}
			for _, e := range entries {
				candidates = append(candidates, filepath.Join(d, e.Name()))
			}
		}
	}

	seen := map[string]bool{}
	var runs []RunVars
	for _, c := range candidates {
		if !stageInput(c, stage) {
			continue
		}
		rv := NewRunVars(c, b.cfg.Backup.KeysPath)
		if seen[rv.AbsPath] || !isRunName(rv.Name) {
			continue
		}
		seen[rv.AbsPath] = true
		if !b.isReadyToArchive(rv, stage) {
			sp.Debug.Printf("Run %s is not ready for %s\n", rv.Name, stage.ext())
			continue
		}
		runs = append(runs, rv)
	}
	return runs, nil
}

// stageInput reports whether path is something the stage works on: run
// folders and plain archives for encryption, encrypted archives for PDC
func stageInput(path string, stage Stage) bool {
	if stage == PutStage {
		return strings.HasSuffix(path, ExtEncrypted)
	}
	return strings.HasSuffix(path, ExtZip) || utils.IsDir(path)
}

// isReadyToArchive requires a finished and copied Illumina run, or a synced
// Nanopore run, whose encrypted archive is not in PDC yet. Runs already
// encrypted, with the key in the keys path, are not encrypted again.
func (b *Backup) isReadyToArchive(rv RunVars, stage Stage) bool {
	if rv.Kind == KindONT {
		if !utils.Exists(filepath.Join(rv.AbsPath, illumina.SyncFinishedFile)) {
			return false
		}
	} else if !utils.Exists(filepath.Join(rv.AbsPath, illumina.RTACompleteFile)) ||
		!utils.Exists(filepath.Join(rv.AbsPath, illumina.CopyCompleteFile)) {
		return false
	}
	if stage == EncryptStage && rv.encrypted() {
		return false
	}
	return !b.inPDC(rv.ZipEncrypted)
}

// inPDC reports whether dsmc knows an archived copy of path
func (b *Backup) inPDC(path string) bool {
	_, err := b.shell.Run("dsmc query archive " + utils.Quote(path))
	return err == nil
}

// notify mails the operator about a failed run when configured to
func (b *Backup) notify(rv RunVars, err error) {
	if !b.cfg.Backup.MailErrors {
		return
	}
	body := utils.Fs("Backup of %s in %s failed:\n\n%v\n", rv.Name, rv.Dir, err)
	if mErr := b.mailer.Send(b.mailer.Subject(rv.Name), body); mErr != nil {
		sp.Warning.Printf("Could not mail about %s: %v\n", rv.Name, mErr)
	}
}
