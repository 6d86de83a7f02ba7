package illumina

import (
	"strings"
	"testing"
)

// singleIndexRun has one 10 cycle index read
func singleIndexRun(t *testing.T) *RunInfo {
	name := "201101_A00621_0123_AHXXXXDSXY"
	dir := makeRunDir(t, name, map[string]string{
		"RunInfo.xml": runInfoXML(name, "HXXXXDSXY", "A00621", 2,
			ReadSpec{Number: 1, NumCycles: 151},
			ReadSpec{Number: 2, NumCycles: 10, IsIndexed: true},
			ReadSpec{Number: 3, NumCycles: 151}),
	})
	ri, err := ReadRunInfo(dir)
	if err != nil {
		t.Fatal(err)
	}
	return ri
}

const pooledAndNoIndexSheet = `[Data]
Lane,Sample_ID,Sample_Name,Sample_Project,index,index2
1,P1_101,P1_101,P1,ACGTACGT,
1,P1_102,P1_102,P1,TTGGCCAA,
2,P2_201,P2_201,P2,NOINDEX,
`

func TestPooledAndNoIndexLanes(t *testing.T) {
	ss, err := ParseSampleSheet(strings.NewReader(pooledAndNoIndexSheet))
	if err != nil {
		t.Fatal(err)
	}
	samples, err := ClassifyEntries(singleIndexRun(t), ss, NewIndexTables())
	if err != nil {
		t.Fatal(err)
	}
	lanes := GroupLanes(samples)
	if len(lanes) != 2 {
		t.Fatalf("Expected two lanes, got %d", len(lanes))
	}
	expected := map[int]string{
		1: "Y151,I8N2,Y151",
		2: "Y151,N10,Y151",
	}
	for _, lm := range lanes {
		if lm.Complex() {
			t.Errorf("Lane %d should be simple", lm.Lane)
		}
		if actual := lm.Groups[0].Mask.String(); actual != expected[lm.Lane] {
			t.Errorf("Wrong mask for lane %d:\nEXPECTED:\n%s\nACTUAL:\n%s\n", lm.Lane, expected[lm.Lane], actual)
		}
	}
	if n := len(lanes[0].Groups[0].Samples); n != 2 {
		t.Errorf("Expected both lane 1 samples in one group, got %d", n)
	}

	// every lane must end up in exactly one invocation with its own mask
	plans := PlanDemux(lanes, true)
	if len(plans) < 1 || len(plans) > 2 {
		t.Fatalf("Expected one or two invocations, got %d", len(plans))
	}
	seen := map[int]string{}
	for i, p := range plans {
		if p.Counter != i+1 {
			t.Errorf("Wrong counter %d for plan %d", p.Counter, i)
		}
		for _, g := range p.Groups {
			if _, dup := seen[g.Lane]; dup {
				t.Errorf("Lane %d planned twice", g.Lane)
			}
			seen[g.Lane] = g.Mask.String()
		}
	}
	for lane, mask := range expected {
		if seen[lane] != mask {
			t.Errorf("Wrong planned mask for lane %d:\nEXPECTED:\n%s\nACTUAL:\n%s\n", lane, mask, seen[lane])
		}
	}
}

const mixedLaneSheet = `[Data]
Lane,Sample_ID,Sample_Name,Sample_Project,index,index2
1,P1_101,P1_101,P1,SI-TT-A1,
1,P1_102,P1_102,P1,ACGTACGT,
2,P1_103,P1_103,P1,ACGTACGTAA,TTGGCCAATT
3,P1_104,P1_104,P1,ACGTACGTAA,TTGGCCAATT
`

func TestComplexLane(t *testing.T) {
	name := "201101_A00621_0123_AHXXXXDSXY"
	dir := makeRunDir(t, name, map[string]string{
		"RunInfo.xml": runInfoXML(name, "HXXXXDSXY", "A00621", 4, pairedEndDualIndex...),
	})
	ri, err := ReadRunInfo(dir)
	if err != nil {
		t.Fatal(err)
	}
	ss, err := ParseSampleSheet(strings.NewReader(mixedLaneSheet))
	if err != nil {
		t.Fatal(err)
	}
	samples, err := ClassifyEntries(ri, ss, testTables(t))
	if err != nil {
		t.Fatal(err)
	}
	lanes := GroupLanes(samples)
	if !lanes[0].Complex() || lanes[1].Complex() || lanes[2].Complex() {
		t.Fatalf("Only lane 1 should be complex: %+v", lanes)
	}
	if m := lanes[0].Groups[0].Mask.String(); m != "Y151,I10,I10,Y151" {
		t.Errorf("Wrong 10X dual mask: %s", m)
	}
	if m := lanes[0].Groups[1].Mask.String(); m != "Y151,I8N2,N10,Y151" {
		t.Errorf("Wrong single index mask: %s", m)
	}

	plans := PlanDemux(lanes, true)
	if len(plans) != 3 {
		t.Fatalf("Expected lanes 2 and 3 together plus two plans for lane 1, got %d", len(plans))
	}
	if plans[0].Complex || len(plans[0].Lanes()) != 2 {
		t.Errorf("First plan should hold the simple lanes: %+v", plans[0].Lanes())
	}
	for _, p := range plans[1:] {
		if !p.Complex || len(p.Groups) != 1 || p.Groups[0].Lane != 1 {
			t.Errorf("Wrong complex plan: %+v", p)
		}
	}
	tenX := plans[1]
	if tenX.Groups[0].Samples[0].Class.Type != TenXDual {
		tenX = plans[2]
	}
	if strings.Join(tenX.Options, " ") != "--create-fastq-for-index-reads --mask-short-adapter-reads 8 --minimum-trimmed-read-length 8" {
		t.Errorf("Wrong 10X options: %v", tenX.Options)
	}
}

func TestPlanDemuxSingleMaskTools(t *testing.T) {
	lanes := []LaneMasks{
		{Lane: 1, Groups: []LaneGroup{{Lane: 1, Mask: BaseMask{"Y151", "I8", "Y151"}}}},
		{Lane: 2, Groups: []LaneGroup{{Lane: 2, Mask: BaseMask{"Y151", "N8", "Y151"}}}},
		{Lane: 3, Groups: []LaneGroup{{Lane: 3, Mask: BaseMask{"Y151", "I8", "Y151"}}}},
	}
	if n := len(PlanDemux(lanes, true)); n != 1 {
		t.Errorf("Per lane masks should fit one invocation, got %d", n)
	}
	plans := PlanDemux(lanes, false)
	if len(plans) != 2 {
		t.Fatalf("Expected one invocation per mask, got %d", len(plans))
	}
	for _, p := range plans {
		for _, g := range p.Groups {
			if g.Mask.String() != p.Mask().String() {
				t.Errorf("Plan %d mixes masks", p.Counter)
			}
		}
	}
}
