package illumina

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ReportDir is where the lane reports of the aggregated demux dir live
func (r *Run) ReportDir() string {
	if r.Demultiplexer() == BclConvert {
		return r.Path(r.DemuxDir, "Reports")
	}
	return laneReportDir(r.Path(r.DemuxDir), r.FlowcellID)
}

// DemuxStats returns the per lane and sample statistics of a demultiplexed
// run: laneBarcode.html for bcl2fastq, Demultiplex_Stats.csv for
// bcl-convert. A run without them gives ErrMissingReport.
func DemuxStats(r *Run) (*ReportTable, error) {
	if r.Demultiplexer() != BclConvert {
		return readReport(filepath.Join(r.ReportDir(), "laneBarcode.html"))
	}
	path := filepath.Join(r.ReportDir(), "Demultiplex_Stats.csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingReport, "%s", path)
		}
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	defer f.Close()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", path)
	}
	if len(recs) == 0 {
		return nil, errors.Wrapf(ErrMissingReport, "%s is empty", path)
	}
	return &ReportTable{Headers: recs[0], Rows: recs[1:]}, nil
}

// Records returns the rows of t as header to value maps
func (t *ReportTable) Records() []map[string]interface{} {
	recs := make([]map[string]interface{}, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := map[string]interface{}{}
		for i, h := range t.Headers {
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		recs = append(recs, rec)
	}
	return recs
}
