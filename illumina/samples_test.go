package illumina

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

const testTenXTable = `# 10X Chromium index codes
SI-GA-A1,GGTTTACT,CTAAACGG,TCGGCGTC,AACCGTAA
SI-GA-B2,ACAGCAAC,CGCCATTC,GAATGGCA,TTTATCGG
SI-TT-A1,GTAACATGCG,AGTGTTACCT
`

const testSmartSeqTable = `SMARTSEQ3-1A,AAGCTGCA,TTACTGGT
SMARTSEQ3-1A,CGTTAGAC,TTACTGGT
SMARTSEQ3-2B,TCGTGCAT,CCTCTAAC
`

func testTables(t *testing.T) *IndexTables {
	tables := NewIndexTables()
	if err := tables.ParseTenX(strings.NewReader(testTenXTable)); err != nil {
		t.Fatal(err)
	}
	if err := tables.ParseSmartSeq(strings.NewReader(testSmartSeqTable)); err != nil {
		t.Fatal(err)
	}
	return tables
}

func TestClassifySample(t *testing.T) {
	tables := testTables(t)
	dualRun := [2]int{10, 10}
	reads := [2]int{151, 151}
	for _, tc := range []struct {
		index, index2 string
		indexCycles   [2]int
		expected      SampleClassification
	}{
		{"SI-GA-A1", "", dualRun, SampleClassification{Type: TenXSingle, IndexLength: [2]int{8, 0}, ReadLength: reads}},
		{"SI-TT-A1", "", dualRun, SampleClassification{Type: TenXDual, IndexLength: [2]int{10, 10}, ReadLength: reads}},
		{"ACGTACGTNNNNNNNNN", "TTGGCCAA", dualRun, SampleClassification{Type: IDTUMI, IndexLength: [2]int{8, 8}, UMILength: [2]int{9, 0}, ReadLength: reads}},
		{"SMARTSEQ3-1A", "", dualRun, SampleClassification{Type: SmartSeq, IndexLength: [2]int{8, 8}, ReadLength: reads}},
		{"NOINDEX", "", dualRun, SampleClassification{Type: NoIndex, IndexLength: dualRun, ReadLength: reads}},
		{"NOINDEX", "", [2]int{0, 0}, SampleClassification{Type: Ordinary, ReadLength: reads}},
		{"ACGTACGT", "", dualRun, SampleClassification{Type: ShortSingleIndex, IndexLength: [2]int{8, 0}, ReadLength: reads}},
		{"ACGTACGT", "TTGGCCAA", dualRun, SampleClassification{Type: Ordinary, IndexLength: [2]int{8, 8}, ReadLength: reads}},
		{"ACGTACGTAC", "", dualRun, SampleClassification{Type: Ordinary, IndexLength: [2]int{10, 0}, ReadLength: reads}},
	} {
		e := SampleSheetEntry{Lane: 1, SampleID: "P1_101", Index: tc.index, Index2: tc.index2}
		actual, err := ClassifySample(e, tc.indexCycles, reads, tables)
		if err != nil {
			t.Errorf("Unexpected error for %s: %v", tc.index, err)
			continue
		}
		if actual != tc.expected {
			t.Errorf("Wrong classification of %s/%s:\nEXPECTED:\n%+v\nACTUAL:\n%+v\n", tc.index, tc.index2, tc.expected, actual)
		}
	}
}

func TestClassifyTenXSingleAlwaysEightBases(t *testing.T) {
	tables := testTables(t)
	for code := range tables.TenXSingle {
		c, err := ClassifySample(SampleSheetEntry{SampleID: "S", Index: code}, [2]int{8, 8}, [2]int{28, 91}, tables)
		if err != nil {
			t.Fatal(err)
		}
		if c.Type != TenXSingle || c.IndexLength != [2]int{8, 0} {
			t.Errorf("Wrong classification of %s: %+v", code, c)
		}
	}
}

func TestClassifyUnknownCode(t *testing.T) {
	e := SampleSheetEntry{SampleID: "P1_101", Index: "SI-GA-H12"}
	_, err := ClassifySample(e, [2]int{8, 0}, [2]int{151, 151}, testTables(t))
	if errors.Cause(err) != ErrUnknownIndexCode {
		t.Errorf("Expected ErrUnknownIndexCode, got %v", err)
	}
}

func TestRecipe(t *testing.T) {
	for recipe, expected := range map[string][2]int{
		"":        {151, 151},
		"50-0":    {50, 0},
		"200-200": {151, 151},
		"151-75":  {151, 75},
	} {
		e := SampleSheetEntry{SampleID: "S", Index: "ACGTACGT", Index2: "TTGGCCAA", Recipe: recipe}
		c, err := ClassifySample(e, [2]int{8, 8}, [2]int{151, 151}, NewIndexTables())
		if err != nil {
			t.Fatal(err)
		}
		if c.ReadLength != expected {
			t.Errorf("Wrong read length for recipe %q:\nEXPECTED:\n%v\nACTUAL:\n%v\n", recipe, expected, c.ReadLength)
		}
	}
	if _, err := ClassifySample(SampleSheetEntry{SampleID: "S", Recipe: "151"}, [2]int{}, [2]int{151, 151}, NewIndexTables()); err == nil {
		t.Error("Expected an error for a malformed recipe")
	}
}

func TestDemuxRows(t *testing.T) {
	tables := testTables(t)
	classify := func(e SampleSheetEntry) SampleClassification {
		c, err := ClassifySample(e, [2]int{10, 10}, [2]int{151, 151}, tables)
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	tenX := SampleSheetEntry{Lane: 2, SampleID: "P1_101", SampleName: "P1_101", Project: "P1", Index: "SI-GA-A1"}
	rows := DemuxRows(tenX, classify(tenX), tables, true)
	if len(rows) != 4 {
		t.Fatalf("Expected one row per 10X sequence, got %d", len(rows))
	}
	for _, r := range rows {
		if r.SampleID != "Sample_P1_101" || r.Index2 != "" || len(r.Index) != 8 {
			t.Errorf("Wrong 10X row: %+v", r)
		}
	}

	smart := SampleSheetEntry{Lane: 1, SampleID: "P2_5", Project: "P2", Index: "SMARTSEQ3-1A"}
	if rows := DemuxRows(smart, classify(smart), tables, false); len(rows) != 2 || rows[1].Index != "CGTTAGAC" || rows[1].SampleID != "P2_5" {
		t.Errorf("Wrong Smart-seq rows: %+v", rows)
	}

	umi := SampleSheetEntry{Lane: 1, SampleID: "P3_1", Index: "ACGTACGTNNNNNNNNN", Index2: "TTGGCCAA"}
	if rows := DemuxRows(umi, classify(umi), tables, false); rows[0].Index != "ACGTACGT" {
		t.Errorf("UMI Ns not stripped: %+v", rows)
	}

	noIndex := SampleSheetEntry{Lane: 3, SampleID: "P4_1", Index: "NOINDEX"}
	if rows := DemuxRows(noIndex, classify(noIndex), tables, false); rows[0].Index != "" || rows[0].Index2 != "" {
		t.Errorf("NOINDEX should give empty indexes: %+v", rows)
	}
}
