package illumina

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type SampleType int

const (
	Ordinary SampleType = iota
	ShortSingleIndex
	TenXSingle
	TenXDual
	IDTUMI
	SmartSeq
	NoIndex
)

var sampleTypeNames = [...]string{"ordinary", "short_single_index", "10X_SINGLE", "10X_DUAL", "IDT_UMI", "SMARTSEQ", "NOINDEX"}

func (t SampleType) String() string {
	if int(t) < len(sampleTypeNames) {
		return sampleTypeNames[t]
	}
	return "unknown"
}

// shortSingleIndexMax is the longest single index that still counts as
// short
const shortSingleIndexMax = 8

// SampleClassification is what the demultiplexing setup needs to know
// about one sample sheet entry
type SampleClassification struct {
	Type        SampleType
	IndexLength [2]int
	UMILength   [2]int
	ReadLength  [2]int
}

// IsDual reports whether the sample is identified by both index reads
func (c SampleClassification) IsDual() bool {
	return c.IndexLength[1] > 0
}

// ClassifySample works out the sample type and effective index, UMI and
// read lengths of e on a run with the given index and read cycles. The
// first matching rule wins.
func ClassifySample(e SampleSheetEntry, indexCycles, readCycles [2]int, tables *IndexTables) (SampleClassification, error) {
	c := SampleClassification{ReadLength: readCycles}
	if err := applyRecipe(&c, e.Recipe); err != nil {
		return c, errors.Wrapf(err, "sample %s", e.SampleID)
	}

	idx, idx2 := e.Index, e.Index2
	switch {
	case tenXSinglePat.MatchString(idx):
		seqs, ok := tables.TenXSingle[idx]
		if !ok || len(seqs) == 0 {
			return c, errors.Wrapf(ErrUnknownIndexCode, "%s of sample %s", idx, e.SampleID)
		}
		c.Type = TenXSingle
		c.IndexLength = [2]int{len(seqs[0]), 0}
	case tenXDualPat.MatchString(idx):
		pair, ok := tables.TenXDual[idx]
		if !ok {
			return c, errors.Wrapf(ErrUnknownIndexCode, "%s of sample %s", idx, e.SampleID)
		}
		c.Type = TenXDual
		c.IndexLength = [2]int{len(pair[0]), len(pair[1])}
	case idtUMIPat.MatchString(idx) || idtUMIPat.MatchString(idx2):
		c.Type = IDTUMI
		c.IndexLength = [2]int{len(strings.ReplaceAll(idx, "N", "")), len(strings.ReplaceAll(idx2, "N", ""))}
		c.UMILength = [2]int{strings.Count(idx, "N"), strings.Count(idx2, "N")}
	case smartSeqPat.MatchString(idx):
		pairs, ok := tables.SmartSeq[idx]
		if !ok || len(pairs) == 0 {
			return c, errors.Wrapf(ErrUnknownIndexCode, "%s of sample %s", idx, e.SampleID)
		}
		c.Type = SmartSeq
		c.IndexLength = [2]int{len(pairs[0][0]), len(pairs[0][1])}
	case idx == noIndex && (indexCycles[0] > 0 || indexCycles[1] > 0):
		c.Type = NoIndex
		c.IndexLength = indexCycles
	case idx == noIndex:
		c.Type = Ordinary
	default:
		c.Type = Ordinary
		c.IndexLength = [2]int{len(idx), len(idx2)}
		single := (c.IndexLength[0] > 0) != (c.IndexLength[1] > 0)
		if single && c.IndexLength[0]+c.IndexLength[1] <= shortSingleIndexMax {
			c.Type = ShortSingleIndex
		}
	}
	return c, nil
}

// applyRecipe narrows the read lengths to a "<r1>-<r2>" recipe
func applyRecipe(c *SampleClassification, recipe string) error {
	if recipe == "" {
		return nil
	}
	parts := strings.Split(recipe, "-")
	if len(parts) != 2 {
		return errors.Errorf("bad recipe %q", recipe)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return errors.Errorf("bad recipe %q", recipe)
		}
		if n < c.ReadLength[i] {
			c.ReadLength[i] = n
		}
	}
	return nil
}

// DemuxRows expands the index codes of an entry into the rows the
// demultiplexer gets. 10X single index codes give one row per sequence and
// Smart-seq codes one row per index pair.
func DemuxRows(e SampleSheetEntry, c SampleClassification, tables *IndexTables, renameSamples bool) []DemuxRow {
	base := DemuxRow{
		Lane:       e.Lane,
		SampleID:   e.SampleID,
		SampleName: e.SampleName,
		Project:    e.Project,
		Index:      e.Index,
		Index2:     e.Index2,
	}
	if renameSamples && !strings.HasPrefix(base.SampleID, "Sample_") {
		base.SampleID = "Sample_" + base.SampleID
	}
	var rows []DemuxRow
	switch c.Type {
	case TenXSingle:
		for _, seq := range tables.TenXSingle[e.Index] {
			r := base
			r.Index, r.Index2 = seq, ""
			rows = append(rows, r)
		}
	case TenXDual:
		pair := tables.TenXDual[e.Index]
		base.Index, base.Index2 = pair[0], pair[1]
		rows = append(rows, base)
	case SmartSeq:
		for _, pair := range tables.SmartSeq[e.Index] {
			r := base
			r.Index, r.Index2 = pair[0], pair[1]
			rows = append(rows, r)
		}
	case IDTUMI:
		base.Index = strings.ReplaceAll(e.Index, "N", "")
		base.Index2 = strings.ReplaceAll(e.Index2, "N", "")
		rows = append(rows, base)
	case NoIndex:
		base.Index, base.Index2 = "", ""
		rows = append(rows, base)
	default:
		if base.Index == noIndex {
			base.Index = ""
		}
		rows = append(rows, base)
	}
	return rows
}
