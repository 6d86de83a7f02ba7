// Package cleanup removes aged data from the analysis cluster.
package cleanup

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/utils"
)

const (
	ErrBothOnly = utils.Error("only_fastq and only_analysis exclude each other")
	ErrBadDays  = utils.Error("days must be positive")
)

const day = 24 * time.Hour

// demuxOutputDir holds the project directories of a demultiplexed run
const demuxOutputDir = "Demultiplexing"

// notProjects are the directories of the demultiplexing output that do not
// belong to a project
var notProjects = map[string]bool{
	"Reports":      true,
	"Stats":        true,
	"Logs":         true,
	"Temp":         true,
	"InterOp":      true,
	"Undetermined": true,
}

// IrmaOptions selects what Irma removes
type IrmaOptions struct {
	DaysFastq    int
	DaysAnalysis int
	OnlyFastq    bool
	OnlyAnalysis bool
	DryRun       bool
}

// Removal is a directory Irma removed, or would remove in a dry run
type Removal struct {
	Path    string
	Project string
	Age     time.Duration
}

func (o IrmaOptions) validate() error {
	if o.OnlyFastq && o.OnlyAnalysis {
		return ErrBothOnly
	}
	if !o.OnlyAnalysis && o.DaysFastq <= 0 {
		return errors.Wrapf(ErrBadDays, "days_fastq %d", o.DaysFastq)
	}
	if !o.OnlyFastq && o.DaysAnalysis <= 0 {
		return errors.Wrapf(ErrBadDays, "days_analysis %d", o.DaysAnalysis)
	}
	return nil
}

// Irma removes the FASTQ directories of projects in demultiplexed runs
// older than DaysFastq and the project analysis directories older than
// DaysAnalysis. Age is taken from the modification time of the project
// directory. Excluded projects are never touched.
func Irma(cfg config.IrmaConfig, opts IrmaOptions) ([]Removal, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	excluded := map[string]bool{}
	for _, p := range cfg.ExcludeProjects {
		excluded[p] = true
	}
	now := utils.Now()

	var candidates []Removal
	if !opts.OnlyAnalysis {
		limit := time.Duration(opts.DaysFastq) * day
		for _, dir := range cfg.FlowcellDirs {
			candidates = append(candidates, fastqDirs(dir, now, limit, excluded)...)
		}
	}
	if !opts.OnlyFastq {
		limit := time.Duration(opts.DaysAnalysis) * day
		for _, dir := range cfg.AnalysisDirs {
			candidates = append(candidates, agedDirs(dir, now, limit, excluded)...)
		}
	}

	var removed []Removal
	for _, c := range candidates {
		if opts.DryRun {
			sp.Info.Printf("Would remove %s (%s, %d days old)\n", c.Path, c.Project, int(c.Age/day))
			removed = append(removed, c)
			continue
		}
		if err := utils.RemoveFiles(c.Path); err != nil {
			sp.Error.Printf("%v\n", err)
			continue
		}
		sp.Info.Printf("Removed %s (%s, %d days old)\n", c.Path, c.Project, int(c.Age/day))
		removed = append(removed, c)
	}
	return removed, nil
}

// fastqDirs lists the aged project directories of every run in dir
func fastqDirs(dir string, now time.Time, limit time.Duration, excluded map[string]bool) []Removal {
	runs, err := os.ReadDir(dir)
	if err != nil {
		sp.Warning.Printf("Could not list flowcell directory %s: %v\n", dir, err)
		return nil
	}
	var out []Removal
	for _, r := range runs {
		if !r.IsDir() || !illumina.RunNamePattern.MatchString(r.Name()) {
			continue
		}
		demux := filepath.Join(dir, r.Name(), demuxOutputDir)
		if !utils.IsDir(demux) {
			continue
		}
		for _, rm := range agedDirs(demux, now, limit, excluded) {
			if !notProjects[rm.Project] {
				out = append(out, rm)
			}
		}
	}
	return out
}

// agedDirs lists the subdirectories of dir not modified within limit
func agedDirs(dir string, now time.Time, limit time.Duration, excluded map[string]bool) []Removal {
	entries, err := os.ReadDir(dir)
	if err != nil {
		sp.Warning.Printf("Could not list %s: %v\n", dir, err)
		return nil
	}
	var out []Removal
	for _, e := range entries {
		if !e.IsDir() || excluded[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if age := now.Sub(info.ModTime()); age > limit {
			out = append(out, Removal{Path: filepath.Join(dir, e.Name()), Project: e.Name(), Age: age})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
