package illumina

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/utils"
)

// top level entries of a demultiplexer output dir that are not projects
var nonProjectDirs = map[string]bool{"Reports": true, "Stats": true, "Logs": true, "InterOp": true}

var undeterminedPat = regexp.MustCompile(`^Undetermined_S0_L0*(\d+)_(.+)$`)

// laneOccupant is the only sample of an unpooled lane
type laneOccupant struct {
	sampleID string
	name     string
	project  string
}

// Aggregate merges the outputs of the finished jobs into the demux dir and
// finally writes the completion marker there. A missing report of any
// invocation fails the aggregation.
func Aggregate(r *Run, jobs []JobHandle) error {
	if len(jobs) == 0 {
		return errors.Errorf("no demultiplexing jobs for %s", r.ID)
	}
	demuxDir := r.Path(r.DemuxDir)
	complexLanes := map[int]bool{}
	laneUse := map[int]int{}
	for _, j := range jobs {
		for _, l := range j.Lanes {
			laneUse[l]++
			if laneUse[l] > 1 {
				complexLanes[l] = true
			}
		}
	}
	occupants, err := unpooledLanes(r, jobs)
	if err != nil {
		return err
	}

	for _, j := range jobs {
		if err := linkProjects(r.Path(j.OutputDir), demuxDir); err != nil {
			return errors.Wrapf(err, "could not link output of job %d", j.Counter)
		}
		if err := linkUndetermined(r.Path(j.OutputDir), demuxDir, complexLanes, occupants); err != nil {
			return errors.Wrapf(err, "could not link undetermined reads of job %d", j.Counter)
		}
	}

	if len(jobs) == 1 {
		out := r.Path(jobs[0].OutputDir)
		for name := range nonProjectDirs {
			if utils.IsDir(filepath.Join(out, name)) {
				if err := utils.Symlink(filepath.Join(out, name), filepath.Join(demuxDir, name)); err != nil {
					return err
				}
			}
		}
	} else {
		if err := mergeReports(r, jobs, complexLanes); err != nil {
			return err
		}
	}

	sp.Info.Printf("Aggregated %d demultiplexing job(s) of %s\n", len(jobs), r.ID)
	return utils.Touch(filepath.Join(demuxDir, DemuxStatsFile))
}

// unpooledLanes maps the lanes holding a single sample to that sample
func unpooledLanes(r *Run, jobs []JobHandle) (map[int]laneOccupant, error) {
	samples := map[int]map[string]laneOccupant{}
	for _, j := range jobs {
		ss, err := ReadSampleSheet(r.Path(j.SampleSheet))
		if err != nil {
			return nil, err
		}
		for _, e := range ss.Entries {
			if samples[e.Lane] == nil {
				samples[e.Lane] = map[string]laneOccupant{}
			}
			samples[e.Lane][e.SampleID] = laneOccupant{sampleID: e.SampleID, name: e.SampleName, project: e.Project}
		}
	}
	out := map[int]laneOccupant{}
	for lane, s := range samples {
		if len(s) != 1 {
			continue
		}
		for _, o := range s {
			out[lane] = o
		}
	}
	return out, nil
}

// linkProjects links every file below the project dirs of src into dst,
// creating real project and sample directories on the way
func linkProjects(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, "could not list %s", src)
	}
	for _, e := range entries {
		if !e.IsDir() || nonProjectDirs[e.Name()] {
			continue
		}
		root := filepath.Join(src, e.Name())
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			return utils.Symlink(path, filepath.Join(dst, rel))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// linkUndetermined links the undetermined reads of simple lanes. In an
// unpooled lane they are also linked into the sample dir, named after the
// sample and with an extra lane digit so they never clash with its own
// files.
func linkUndetermined(src, dst string, complexLanes map[int]bool, occupants map[int]laneOccupant) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, "could not list %s", src)
	}
	for _, e := range entries {
		m := undeterminedPat.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		lane, _ := strconv.Atoi(m[1])
		if complexLanes[lane] {
			continue
		}
		target := filepath.Join(src, e.Name())
		if err := utils.Symlink(target, filepath.Join(dst, e.Name())); err != nil {
			return err
		}
		if o, ok := occupants[lane]; ok {
			name := utils.Fs("%s_Undetermined_S0_L0%d1_%s", o.name, lane, m[2])
			if err := utils.Symlink(target, filepath.Join(dst, o.project, o.sampleID, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func laneReportDir(outDir, flowcell string) string {
	return filepath.Join(outDir, "Reports", "html", flowcell, "all", "all", "all")
}

func mergeReports(r *Run, jobs []JobHandle, complexLanes map[int]bool) error {
	if r.Demultiplexer() == BclConvert {
		return mergeDemuxStatsCSV(r, jobs, complexLanes)
	}
	var laneTables, barcodeTables []*ReportTable
	for _, j := range jobs {
		dir := laneReportDir(r.Path(j.OutputDir), r.FlowcellID)
		lt, err := readReport(filepath.Join(dir, "lane.html"))
		if err != nil {
			return err
		}
		bt, err := readReport(filepath.Join(dir, "laneBarcode.html"))
		if err != nil {
			return err
		}
		laneTables = append(laneTables, lt)
		barcodeTables = append(barcodeTables, bt)
	}
	dir := laneReportDir(r.Path(r.DemuxDir), r.FlowcellID)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return errors.Wrapf(err, "could not create %s", dir)
	}
	err := writeFile(filepath.Join(dir, "lane.html"), func(w io.Writer) error {
		return WriteReportTable(w, r.FlowcellID+" lane summary", MergeLaneTables(laneTables, complexLanes))
	})
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "laneBarcode.html"), func(w io.Writer) error {
		return WriteReportTable(w, r.FlowcellID+" lane barcode summary", MergeLaneBarcodeTables(barcodeTables, complexLanes))
	})
}

func readReport(path string) (*ReportTable, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingReport, "%s", path)
		}
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	defer f.Close()
	t, err := ParseReportTable(f)
	return t, errors.Wrapf(err, "%s", path)
}

// mergeDemuxStatsCSV concatenates the bcl-convert Demultiplex_Stats.csv of
// every job, leaving out the undetermined rows of complex lanes
func mergeDemuxStatsCSV(r *Run, jobs []JobHandle, complexLanes map[int]bool) error {
	var header []string
	var rows [][]string
	for _, j := range jobs {
		path := r.Path(j.OutputDir, "Reports", "Demultiplex_Stats.csv")
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.Wrapf(ErrMissingReport, "%s", path)
			}
			return errors.Wrapf(err, "could not open %s", path)
		}
		recs, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "could not parse %s", path)
		}
		if len(recs) == 0 {
			continue
		}
		if header == nil {
			header = recs[0]
		}
		for _, rec := range recs[1:] {
			lane, _ := strconv.Atoi(rec[0])
			if complexLanes[lane] && len(rec) > 1 && rec[1] == "Undetermined" {
				continue
			}
			rows = append(rows, rec)
		}
	}
	dir := r.Path(r.DemuxDir, "Reports")
	if err := os.MkdirAll(dir, 0775); err != nil {
		return errors.Wrapf(err, "could not create %s", dir)
	}
	return writeFile(filepath.Join(dir, "Demultiplex_Stats.csv"), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		cw.Write(header)
		cw.WriteAll(rows)
		return cw.Error()
	})
}
