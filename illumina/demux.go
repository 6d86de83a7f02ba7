package illumina

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"
	"github.com/valyala/fasttemplate"

	"github.com/pharmbio/taca/utils"
)

// JobsFile lists the launched demultiplexer jobs, inside the demux dir
const JobsFile = "demux_jobs.json"

// JobHandle identifies one launched demultiplexer. All paths are relative
// to the run directory.
type JobHandle struct {
	ID          string    `json:"id"`
	Counter     int       `json:"counter"`
	Lanes       []int     `json:"lanes"`
	Complex     bool      `json:"complex"`
	OutputDir   string    `json:"output_dir"`
	Marker      string    `json:"marker"`
	SampleSheet string    `json:"samplesheet"`
	Command     string    `json:"command,omitempty"`
	Started     time.Time `json:"started"`
}

// Done reports whether the completion marker of the job exists
func (j JobHandle) Done(s Snapshot) bool {
	return s.Exists(j.Marker)
}

// StdoutLog and StderrLog are the files the demultiplexer output goes to
func (j JobHandle) StdoutLog() string { return utils.Fs("demux_%d.out", j.Counter) }
func (j JobHandle) StderrLog() string { return utils.Fs("demux_%d.err", j.Counter) }

// Launcher starts a command line and returns without waiting for it
type Launcher interface {
	Launch(dir, cmd, stdoutPath, stderrPath string) error
}

// DetachedLauncher starts commands with bash in their own session, so they
// outlive the taca process that started them
type DetachedLauncher struct{}

func (DetachedLauncher) Launch(dir, cmd, stdoutPath, stderrPath string) error {
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return errors.Wrap(err, "could not create demultiplexer log")
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return errors.Wrap(err, "could not create demultiplexer log")
	}
	defer stderr.Close()

	sp.Audit.Printf("| %-32s | Launching: %s\n", "demultiplex", cmd)
	c := exec.Command("bash", "-c", "set -o pipefail; "+cmd)
	c.Dir = dir
	c.Stdout = stdout
	c.Stderr = stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := c.Start(); err != nil {
		return errors.Wrapf(err, "could not start %s", cmd)
	}
	return c.Process.Release()
}

func outputDir(counter int) string { return utils.Fs("Demultiplexing_%d", counter) }
func sampleSheetName(counter int) string { return utils.Fs("SampleSheet_%d.csv", counter) }

func markerFor(d Demultiplexer, counter int) string {
	if d == BclConvert {
		return filepath.Join(outputDir(counter), "Logs", "FastqComplete.txt")
	}
	return filepath.Join(outputDir(counter), DemuxStatsFile)
}

const (
	bcl2fastqTemplate  = "{{prefix}}bcl2fastq --runfolder-dir {{run}} --output-dir {{out}} --sample-sheet {{sheet}} --tiles {{tiles}}{{masks}} --processing-threads {{threads}}{{options}}"
	bclConvertTemplate = "{{prefix}}bcl-convert --bcl-input-directory {{run}} --output-directory {{out}} --sample-sheet {{sheet}} --bcl-num-conversion-threads {{threads}}{{options}}"
)

// DemuxCommand renders the command line for one plan
func DemuxCommand(r *Run, p DemuxPlan) (string, error) {
	cfg := r.Config()
	threads := cfg.Threads
	if threads == 0 {
		threads = 8
	}
	prefix := ""
	if cfg.Slurm != nil {
		dur, err := utils.ParseDuration(cfg.Slurm.Time)
		if err != nil {
			return "", errors.Wrap(err, "bad slurm time")
		}
		prefix = utils.Prefix(utils.RunModeHPC, utils.SlurmInfo{
			Project:   cfg.Slurm.Project,
			Partition: utils.PartitionType(cfg.Slurm.Partition),
			Cores:     cfg.Slurm.Cores,
			Time:      dur,
			JobName:   utils.Fs("%s_demux_%d", r.ID, p.Counter),
			Threads:   threads,
		})
	}

	var options strings.Builder
	for _, o := range append(append([]string{}, p.Options...), cfg.Options...) {
		options.WriteString(" " + o)
	}
	vars := map[string]interface{}{
		"prefix":  prefix,
		"run":     utils.Quote(r.RunDir),
		"out":     utils.Quote(r.Path(outputDir(p.Counter))),
		"sheet":   utils.Quote(r.Path(sampleSheetName(p.Counter))),
		"threads": strconv.Itoa(threads),
		"options": options.String(),
	}
	if r.Demultiplexer() == BclConvert {
		return fasttemplate.New(bclConvertTemplate, "{{", "}}").ExecuteString(vars), nil
	}

	var masks strings.Builder
	tiles := []string{}
	for _, g := range p.Groups {
		masks.WriteString(utils.Fs(" --use-bases-mask %d:%s", g.Lane, g.Mask))
		tiles = append(tiles, utils.Fs("s_%d", g.Lane))
	}
	vars["masks"] = masks.String()
	vars["tiles"] = strings.Join(tiles, ",")
	return fasttemplate.New(bcl2fastqTemplate, "{{", "}}").ExecuteString(vars), nil
}

// WriteSubSampleSheet writes SampleSheet_<counter>.csv for the plan
func WriteSubSampleSheet(r *Run, ss *SampleSheet, p DemuxPlan, tables *IndexTables) error {
	var rows []DemuxRow
	for _, g := range p.Groups {
		for _, s := range g.Samples {
			rows = append(rows, DemuxRows(s.Entry, s.Class, tables, r.profile.renameSamples)...)
		}
	}
	return writeFile(r.Path(sampleSheetName(p.Counter)), func(w io.Writer) error {
		if r.Demultiplexer() == BclConvert {
			return WriteBclConvertSheet(w, p.Mask(), rows)
		}
		return WriteBcl2FastqSheet(w, ss.Header, rows)
	})
}

// LaunchDemux writes the sub-samplesheets, starts one demultiplexer per
// plan and records the handles. The demux dir is created last; its presence
// moves the run to IN_PROGRESS.
func LaunchDemux(r *Run, ss *SampleSheet, plans []DemuxPlan, tables *IndexTables, launcher Launcher) ([]JobHandle, error) {
	jobs := make([]JobHandle, 0, len(plans))
	for _, p := range plans {
		if err := WriteSubSampleSheet(r, ss, p, tables); err != nil {
			return nil, err
		}
		cmd, err := DemuxCommand(r, p)
		if err != nil {
			return nil, err
		}
		j := JobHandle{
			ID:          uuid.New().String(),
			Counter:     p.Counter,
			Lanes:       p.Lanes(),
			Complex:     p.Complex,
			OutputDir:   outputDir(p.Counter),
			Marker:      markerFor(r.Demultiplexer(), p.Counter),
			SampleSheet: sampleSheetName(p.Counter),
			Command:     cmd,
			Started:     utils.Now(),
		}
		if err := launcher.Launch(r.RunDir, cmd, r.Path(j.StdoutLog()), r.Path(j.StderrLog())); err != nil {
			return nil, errors.Wrapf(err, "could not launch demultiplexing %d of %s", p.Counter, r.ID)
		}
		sp.Info.Printf("Started demultiplexing %d of %s for lanes %v\n", p.Counter, r.ID, j.Lanes)
		jobs = append(jobs, j)
	}

	if err := os.MkdirAll(r.Path(r.DemuxDir), 0775); err != nil {
		return jobs, errors.Wrapf(err, "could not create %s", r.DemuxDir)
	}
	return jobs, writeJobs(r.Path(r.DemuxDir, JobsFile), jobs)
}

func writeJobs(path string, jobs []JobHandle) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	})
}

var subSheetPat = regexp.MustCompile(`^SampleSheet_(\d+)\.csv$`)

// OpenJobs returns the jobs launched for the run. Runs started by older
// versions have no jobs file, their jobs are rebuilt from the
// sub-samplesheets.
func OpenJobs(r *Run) ([]JobHandle, error) {
	data, err := os.ReadFile(r.Path(r.DemuxDir, JobsFile))
	if err == nil {
		var jobs []JobHandle
		if err := json.Unmarshal(data, &jobs); err != nil {
			return nil, errors.Wrapf(err, "could not parse %s", JobsFile)
		}
		return jobs, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "could not read %s", JobsFile)
	}

	entries, err := os.ReadDir(r.RunDir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list %s", r.RunDir)
	}
	var jobs []JobHandle
	laneUse := map[int]int{}
	for _, e := range entries {
		m := subSheetPat.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		ss, err := ReadSampleSheet(r.Path(e.Name()))
		if err != nil {
			return nil, err
		}
		j := JobHandle{
			ID:          utils.Fs("%s-%d", r.ID, n),
			Counter:     n,
			Lanes:       ss.Lanes(),
			OutputDir:   outputDir(n),
			Marker:      markerFor(r.Demultiplexer(), n),
			SampleSheet: e.Name(),
		}
		for _, l := range j.Lanes {
			laneUse[l]++
		}
		jobs = append(jobs, j)
	}
	for i := range jobs {
		for _, l := range jobs[i].Lanes {
			if laneUse[l] > 1 {
				jobs[i].Complex = true
			}
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Counter < jobs[j].Counter })
	return jobs, nil
}
