// Package analysis moves Illumina runs through demultiplexing and hands the
// finished ones on to StatusDB, the analysis server and the archive.
package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/mail"
	"github.com/pharmbio/taca/statusdb"
	"github.com/pharmbio/taca/utils"
)

const (
	ErrNoArchiveDir = utils.Error("no archive directory configured")
	ErrTransferring = utils.Error("run is already being transferred")
	ErrStepsFailed  = utils.Error("post demultiplexing steps failed")
)

// ReportedFile marks a run whose StatusDB upload, summary mail and mfs copy
// are done
const ReportedFile = "reported"

// StatusDB is the part of the StatusDB client the processor uses
type StatusDB interface {
	FlowcellDB() string
	UpdateDoc(ctx context.Context, db string, doc statusdb.Doc, overwrite bool) error
}

// Processor advances runs one step per call. It keeps nothing between
// calls; every decision is made from what is on disk.
type Processor struct {
	cfg      *config.Config
	db       StatusDB
	mailer   mail.Sender
	launcher illumina.Launcher
	shell    utils.Shell

	tables *illumina.IndexTables
}

// NewProcessor returns a Processor. db may be nil when StatusDB is not
// configured. The caller initialises the scipipe loggers before using it.
func NewProcessor(cfg *config.Config, db StatusDB, mailer mail.Sender, launcher illumina.Launcher, shell utils.Shell) *Processor {
	if mailer == nil {
		mailer = mail.Discard{}
	}
	return &Processor{
		cfg:      cfg,
		db:       db,
		mailer:   mailer,
		launcher: launcher,
		shell:    shell,
	}
}

func (p *Processor) indexTables() (*illumina.IndexTables, error) {
	if p.tables == nil {
		t, err := illumina.LoadIndexTables(p.cfg.Analysis.IndexTables.TenX, p.cfg.Analysis.IndexTables.SmartSeq)
		if err != nil {
			return nil, err
		}
		p.tables = t
	}
	return p.tables, nil
}

// RunPreprocessing processes the run at run, or every run folder found in
// the configured data dirs when run is empty. A failing run is logged and
// does not stop the others.
func (p *Processor) RunPreprocessing(ctx context.Context, run string) error {
	if run != "" {
		return p.Process(ctx, run)
	}
	for _, dir := range p.cfg.Analysis.DataDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			sp.Error.Printf("Could not list data dir %s: %v\n", dir, err)
			continue
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !e.IsDir() || !illumina.RunNamePattern.MatchString(e.Name()) {
				continue
			}
			if err := p.Process(ctx, filepath.Join(dir, e.Name())); err != nil {
				sp.Error.Printf("Processing of %s failed: %v\n", e.Name(), err)
			}
		}
	}
	return nil
}

// Process looks at the state of one run and does what that state calls
// for
func (p *Processor) Process(ctx context.Context, runDir string) error {
	r, err := illumina.ClassifyAndBuild(runDir, p.cfg)
	if err != nil {
		return err
	}
	state := r.State()
	sp.Info.Printf("%s (%s, %s) is %s\n", r.ID, r.Kind, r.Type, state)
	switch state {
	case illumina.Sequencing:
		return nil
	case illumina.ToStart:
		if r.Type == illumina.NonNGIRun {
			sp.Info.Printf("%s is not a facility run, archiving it without demultiplexing\n", r.ID)
			_, err := ArchiveRun(r, p.cfg.Storage)
			return err
		}
		return p.startDemux(r)
	case illumina.InProgress:
		finished, err := p.finishDemux(r)
		if err != nil || !finished {
			return err
		}
		if r.State() != illumina.Completed {
			return nil
		}
	}
	return p.postProcess(ctx, r)
}

func (p *Processor) startDemux(r *illumina.Run) error {
	if r.SampleSheetPath == "" {
		return errors.Errorf("no sample sheet found for %s", r.ID)
	}
	ss, err := illumina.ReadSampleSheet(r.SampleSheetPath)
	if err != nil {
		return err
	}
	tables, err := p.indexTables()
	if err != nil {
		return err
	}
	samples, err := illumina.ClassifyEntries(r.Info, ss, tables)
	if err != nil {
		return errors.Wrapf(err, "could not compute base masks of %s", r.ID)
	}
	lanes := illumina.GroupLanes(samples)
	for _, l := range lanes {
		for _, g := range l.Groups {
			sp.Debug.Printf("%s lane %d: %s for %d sample(s)\n", r.ID, l.Lane, g.Mask, len(g.Samples))
		}
	}
	plans := illumina.PlanDemux(lanes, r.Demultiplexer() == illumina.Bcl2Fastq)
	jobs, err := illumina.LaunchDemux(r, ss, plans, tables, p.launcher)
	if err != nil {
		return err
	}
	sp.Info.Printf("Launched %d demultiplexing job(s) for %s\n", len(jobs), r.ID)
	return nil
}

// finishDemux aggregates the results once every job has written its
// marker. It reports whether aggregation happened.
func (p *Processor) finishDemux(r *illumina.Run) (bool, error) {
	jobs, err := illumina.OpenJobs(r)
	if err != nil {
		return false, err
	}
	pending := illumina.PendingJobs(illumina.DirSnapshot{Root: r.RunDir}, jobs)
	if len(pending) > 0 {
		counters := make([]string, 0, len(pending))
		for _, j := range pending {
			counters = append(counters, utils.Fs("%d", j.Counter))
		}
		sp.Info.Printf("%s: waiting for demultiplexing job(s) %s\n", r.ID, strings.Join(counters, ", "))
		return false, nil
	}
	if err := illumina.Aggregate(r, jobs); err != nil {
		return false, errors.Wrapf(err, "could not aggregate demultiplexing of %s", r.ID)
	}
	return true, nil
}

// postProcess runs the steps of a demultiplexed run. Each step is gated on
// its own configuration and a failing step does not stop the others, but a
// failed transfer keeps the run out of the archive.
func (p *Processor) postProcess(ctx context.Context, r *illumina.Run) error {
	if utils.Exists(r.Path(illumina.TransferringFile)) {
		sp.Info.Printf("%s is being transferred, leaving it alone\n", r.ID)
		return nil
	}
	transferred := false
	if p.cfg.Transfer.TransferLog != "" {
		var err error
		if transferred, err = utils.TSVHasKey(p.cfg.Transfer.TransferLog, r.ID); err != nil {
			return err
		}
	}

	var failed []string
	step := func(name string, run func() error) bool {
		if err := run(); err != nil {
			sp.Error.Printf("%s of %s failed: %v\n", name, r.ID, err)
			failed = append(failed, name)
			return false
		}
		return true
	}

	transferOK := true
	if !transferred {
		if utils.Exists(r.Path(ReportedFile)) {
			sp.Debug.Printf("%s was reported before\n", r.ID)
		} else {
			p.report(ctx, r, step)
		}
		if p.cfg.Analysis.TransferToAnalysisServer && p.cfg.Has("transfer") {
			transferOK = step("transfer", func() error { return p.TransferRun(ctx, r.RunDir) })
		}
	} else {
		sp.Info.Printf("%s was transferred before\n", r.ID)
	}
	if transferOK && p.cfg.Has("storage") {
		step("archiving", func() error {
			_, err := ArchiveRun(r, p.cfg.Storage)
			return err
		})
	}
	if len(failed) > 0 {
		return errors.Wrapf(ErrStepsFailed, "%s: %s", r.ID, strings.Join(failed, ", "))
	}
	return nil
}

// report uploads the run to StatusDB, mails the summary and copies the
// reports to mfs. The run is marked once all of them went through, so that
// a run waiting for transfer or archiving is not reported again.
func (p *Processor) report(ctx context.Context, r *illumina.Run, step func(string, func() error) bool) {
	ok := true
	if p.db != nil && p.cfg.Has("statusdb") && p.cfg.Analysis.StatusDBUpload {
		ok = step("statusdb upload", func() error { return p.updateDB(ctx, r) }) && ok
	}
	if p.cfg.Has("mail") {
		ok = step("summary mail", func() error { return p.sendSummary(r) }) && ok
	}
	if p.cfg.Analysis.MfsPath != "" {
		ok = step("mfs copy", func() error { return CopyToMfs(r, p.cfg.Analysis.MfsPath) }) && ok
	}
	if !ok {
		return
	}
	if err := utils.Touch(r.Path(ReportedFile)); err != nil {
		sp.Warning.Printf("Could not mark %s as reported: %v\n", r.ID, err)
	}
}

// ArchiveRun moves the run folder into the archive dir of its sequencer
// kind and returns the new location
func ArchiveRun(r *illumina.Run, cfg config.StorageConfig) (string, error) {
	dst := cfg.ArchiveDirs[r.Kind.Key()]
	if dst == "" {
		return "", errors.Wrapf(ErrNoArchiveDir, "for %s", r.Kind)
	}
	moved, err := utils.Move(r.RunDir, dst)
	if err != nil {
		return "", err
	}
	sp.Info.Printf("Archived %s to %s\n", r.ID, dst)
	r.RunDir = moved
	return moved, nil
}
