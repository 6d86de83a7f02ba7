package illumina

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ClassifiedEntry is a sample sheet entry together with its classification
// and base mask
type ClassifiedEntry struct {
	Entry SampleSheetEntry
	Class SampleClassification
	Mask  BaseMask
}

// ClassifyEntries classifies every entry of ss against the read structure
// of the run and computes its base mask. The first entry that cannot be
// classified or masked fails the whole run.
func ClassifyEntries(info *RunInfo, ss *SampleSheet, tables *IndexTables) ([]ClassifiedEntry, error) {
	reads := info.ReadSpecs()
	indexCycles, readCycles := info.IndexCycles(), info.ReadCycles()
	out := make([]ClassifiedEntry, 0, len(ss.Entries))
	for _, e := range ss.Entries {
		c, err := ClassifySample(e, indexCycles, readCycles, tables)
		if err != nil {
			return nil, err
		}
		mask, err := ComputeBaseMask(reads, RequestFor(c))
		if err != nil {
			return nil, errors.Wrapf(err, "sample %s in lane %d", e.SampleID, e.Lane)
		}
		out = append(out, ClassifiedEntry{Entry: e, Class: c, Mask: mask})
	}
	return out, nil
}

// LaneGroup is the samples of one lane that share a base mask
type LaneGroup struct {
	Lane    int
	Mask    BaseMask
	Samples []ClassifiedEntry
}

// Options returns the demultiplexer options the samples of the group need
func (g LaneGroup) Options() []string {
	set := map[string]bool{}
	for _, s := range g.Samples {
		for _, o := range typeOptions[s.Class.Type] {
			set[o] = true
		}
	}
	opts := make([]string, 0, len(set))
	for o := range set {
		opts = append(opts, o)
	}
	sort.Strings(opts)
	return opts
}

// LaneMasks holds the mask groups of one lane
type LaneMasks struct {
	Lane   int
	Groups []LaneGroup
}

// Complex reports whether the lane needs more than one mask
func (l LaneMasks) Complex() bool {
	return len(l.Groups) > 1
}

// typeOptions are the extra demultiplexer options per sample type
var typeOptions = map[SampleType][]string{
	ShortSingleIndex: {"--barcode-mismatches 0"},
	TenXSingle:       {"--minimum-trimmed-read-length 8", "--mask-short-adapter-reads 8", "--create-fastq-for-index-reads"},
	TenXDual:         {"--minimum-trimmed-read-length 8", "--mask-short-adapter-reads 8", "--create-fastq-for-index-reads"},
	IDTUMI:           {"--create-fastq-for-index-reads", "--mask-short-adapter-reads 0", "--minimum-trimmed-read-length 0"},
	NoIndex:          {"--create-fastq-for-index-reads", "--barcode-mismatches 0"},
}

// GroupLanes groups the samples of every lane by base mask. Lanes come out
// in ascending order and groups in order of first appearance.
func GroupLanes(samples []ClassifiedEntry) []LaneMasks {
	byLane := map[int]*LaneMasks{}
	lanes := []int{}
	for _, s := range samples {
		lm, ok := byLane[s.Entry.Lane]
		if !ok {
			lm = &LaneMasks{Lane: s.Entry.Lane}
			byLane[s.Entry.Lane] = lm
			lanes = append(lanes, s.Entry.Lane)
		}
		key := s.Mask.String()
		found := false
		for i := range lm.Groups {
			if lm.Groups[i].Mask.String() == key {
				lm.Groups[i].Samples = append(lm.Groups[i].Samples, s)
				found = true
				break
			}
		}
		if !found {
			lm.Groups = append(lm.Groups, LaneGroup{Lane: s.Entry.Lane, Mask: s.Mask, Samples: []ClassifiedEntry{s}})
		}
	}
	sort.Ints(lanes)
	out := make([]LaneMasks, 0, len(lanes))
	for _, l := range lanes {
		out = append(out, *byLane[l])
	}
	return out
}

// DemuxPlan is the work of one demultiplexer invocation
type DemuxPlan struct {
	Counter int
	Complex bool
	Options []string
	Groups  []LaneGroup
}

// Lanes returns the lanes of the plan in ascending order
func (p DemuxPlan) Lanes() []int {
	lanes := make([]int, 0, len(p.Groups))
	for _, g := range p.Groups {
		lanes = append(lanes, g.Lane)
	}
	sort.Ints(lanes)
	return lanes
}

// Mask returns the mask of the first group. Tools that take a single mask
// for the whole invocation get plans whose groups all share it.
func (p DemuxPlan) Mask() BaseMask {
	if len(p.Groups) == 0 {
		return nil
	}
	return p.Groups[0].Mask
}

// PlanDemux splits the lane groups into demultiplexer invocations. Simple
// lanes needing the same options share an invocation; with perLaneMasks
// false, as for bcl-convert, they must also share the mask. Each mask group
// of a complex lane goes to an invocation of its own kind, shared only with
// groups of other complex lanes that have the same mask and options.
// Counters start at 1.
func PlanDemux(lanes []LaneMasks, perLaneMasks bool) []DemuxPlan {
	type bucket struct {
		complex bool
		key     string
		plan    DemuxPlan
	}
	buckets := map[string]*bucket{}
	add := func(complex bool, key string, g LaneGroup) {
		full := "s|" + key
		if complex {
			full = "c|" + key
		}
		b, ok := buckets[full]
		if !ok {
			b = &bucket{complex: complex, key: full, plan: DemuxPlan{Complex: complex, Options: g.Options()}}
			buckets[full] = b
		}
		b.plan.Groups = append(b.plan.Groups, g)
	}
	for _, lm := range lanes {
		for _, g := range lm.Groups {
			key := strings.Join(g.Options(), " ")
			if lm.Complex() || !perLaneMasks {
				key = g.Mask.String() + "|" + key
			}
			add(lm.Complex(), key, g)
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	// "s|" sorts after "c|", simple buckets go first
	sort.Slice(keys, func(i, j int) bool {
		bi, bj := buckets[keys[i]], buckets[keys[j]]
		if bi.complex != bj.complex {
			return !bi.complex
		}
		return keys[i] < keys[j]
	})
	plans := make([]DemuxPlan, 0, len(keys))
	for i, k := range keys {
		p := buckets[k].plan
		p.Counter = i + 1
		plans = append(plans, p)
	}
	return plans
}
