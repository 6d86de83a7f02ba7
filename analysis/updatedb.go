package analysis

import (
	"context"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/statusdb"
	"github.com/pharmbio/taca/utils"
)

// UpdateDB uploads the flowcell document of the run folder at runDir
func (p *Processor) UpdateDB(ctx context.Context, runDir string) error {
	if err := p.cfg.Require("statusdb"); err != nil {
		return err
	}
	if p.db == nil {
		return errors.New("no statusdb client")
	}
	r, err := illumina.ClassifyAndBuild(runDir, p.cfg)
	if err != nil {
		return err
	}
	return p.updateDB(ctx, r)
}

func (p *Processor) updateDB(ctx context.Context, r *illumina.Run) error {
	doc, err := FlowcellDoc(r)
	if err != nil {
		return err
	}
	if err := p.db.UpdateDoc(ctx, p.db.FlowcellDB(), doc, false); err != nil {
		return err
	}
	sp.Info.Printf("Uploaded %s to %s\n", r.ID, p.db.FlowcellDB())
	return nil
}

// FlowcellDoc builds the StatusDB document of a run from its run info, run
// parameters, sample sheet and, once demultiplexed, its statistics
func FlowcellDoc(r *illumina.Run) (statusdb.Doc, error) {
	state := r.State()
	doc := statusdb.Doc{
		"name":           r.ID,
		"RunInfo":        runInfoDoc(r),
		"sequencer_type": r.Kind.String(),
		"run_type":       string(r.Type),
		"status":         state.String(),
		"modified":       utils.Now().Format(utils.TimeStamp),
	}
	if r.Params != nil {
		doc["RunParameters"] = map[string]interface{}{
			"ApplicationName": r.Params.Application(),
			"InstrumentType":  r.Params.InstrumentType,
			"InstrumentName":  r.Params.InstrumentName,
			"ExperimentName":  r.Params.ExperimentName,
		}
	}
	if r.SampleSheetPath != "" {
		ss, err := illumina.ReadSampleSheet(r.SampleSheetPath)
		if err != nil {
			return nil, err
		}
		entries := make([]interface{}, 0, len(ss.Entries))
		for _, e := range ss.Entries {
			entries = append(entries, map[string]interface{}{
				"Lane":           e.Lane,
				"Sample_ID":      e.SampleID,
				"Sample_Name":    e.SampleName,
				"Sample_Project": e.Project,
				"index":          e.Index,
				"index2":         e.Index2,
			})
		}
		doc["samplesheet_csv"] = entries
	}
	if state == illumina.Completed {
		stats, err := illumina.DemuxStats(r)
		switch {
		case errors.Cause(err) == illumina.ErrMissingReport:
			sp.Warning.Printf("%s has no demultiplexing statistics: %v\n", r.ID, err)
		case err != nil:
			return nil, err
		default:
			recs := stats.Records()
			rows := make([]interface{}, len(recs))
			for i, rec := range recs {
				rows[i] = rec
			}
			doc["illumina"] = map[string]interface{}{
				"Demultiplex_Stats": map[string]interface{}{
					"Barcode_lane_statistics": rows,
				},
			}
		}
	}
	return doc, nil
}

func runInfoDoc(r *illumina.Run) map[string]interface{} {
	if r.Info == nil {
		return map[string]interface{}{"Id": r.ID}
	}
	reads := []interface{}{}
	for _, rs := range r.Info.ReadSpecs() {
		indexed := "N"
		if rs.IsIndexed {
			indexed = "Y"
		}
		reads = append(reads, map[string]interface{}{
			"Number":        rs.Number,
			"NumCycles":     rs.NumCycles,
			"IsIndexedRead": indexed,
		})
	}
	return map[string]interface{}{
		"Id":         r.Info.Run.ID,
		"Flowcell":   r.Info.Run.Flowcell,
		"Instrument": r.Info.Run.Instrument,
		"Date":       r.Info.Run.Date,
		"Reads":      reads,
	}
}
