package illumina

import (
	"bytes"
	"strings"
	"testing"
)

const bclConvertStyleSheet = `[Header]
FileFormatVersion,2
RunName,HXXXXDSXY
[BCLConvert_Settings]
OverrideCycles,Y151;I10;I10;Y151
[BCLConvert_Data]
Lane,Sample_ID,index,index2,Sample_Project
3,P1_101,acgtacgtaa,ttggccaatt,P1
1,P1_102,ACGTACGTAA,TTGGCCAATT,P1
`

func TestParseSampleSheet(t *testing.T) {
	ss, err := ParseSampleSheet(strings.NewReader(bclConvertStyleSheet))
	if err != nil {
		t.Fatal(err)
	}
	if ss.HeaderValue("runname") != "HXXXXDSXY" {
		t.Errorf("Header lookup should ignore case, got %q", ss.HeaderValue("runname"))
	}
	if len(ss.Entries) != 2 {
		t.Fatalf("Expected two entries, got %d", len(ss.Entries))
	}
	e := ss.Entries[0]
	expected := SampleSheetEntry{Lane: 3, SampleID: "P1_101", SampleName: "P1_101", Project: "P1", Index: "ACGTACGTAA", Index2: "TTGGCCAATT"}
	if e != expected {
		t.Errorf("Wrong entry:\nEXPECTED:\n%+v\nACTUAL:\n%+v\n", expected, e)
	}
	if lanes := ss.Lanes(); len(lanes) != 2 || lanes[0] != 1 || lanes[1] != 3 {
		t.Errorf("Wrong lanes: %v", lanes)
	}
}

func TestParseBareSampleSheet(t *testing.T) {
	ss, err := ParseSampleSheet(strings.NewReader("SampleID,SampleName,Project,Index\nP3_1,,P3,ACGT\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ss.Entries) != 1 || ss.Entries[0].Lane != 1 || ss.Entries[0].SampleName != "P3_1" {
		t.Errorf("Wrong bare sheet entries: %+v", ss.Entries)
	}
	if _, err := ParseSampleSheet(strings.NewReader("[Data]\nLane,Index\n1,ACGT\n")); err == nil {
		t.Error("Expected an error for a sheet without sample ids")
	}
}

func TestWriteBclConvertSheet(t *testing.T) {
	var buf bytes.Buffer
	rows := []DemuxRow{{Lane: 1, SampleID: "Sample_P1_101", Project: "P1", Index: "ACGTACGT"}}
	if err := WriteBclConvertSheet(&buf, BaseMask{"Y151", "I8N2", "N10", "Y151"}, rows); err != nil {
		t.Fatal(err)
	}
	expected := "[Header]\nFileFormatVersion,2\n[BCLConvert_Settings]\nOverrideCycles,Y151;I8N2;N10;Y151\n[BCLConvert_Data]\nLane,Sample_ID,index,index2,Sample_Project\n1,Sample_P1_101,ACGTACGT,,P1\n"
	if buf.String() != expected {
		t.Errorf("Wrong bcl-convert sheet:\nEXPECTED:\n%s\nACTUAL:\n%s\n", expected, buf.String())
	}
	ss, err := ParseSampleSheet(&buf)
	if err != nil || len(ss.Entries) != 1 || ss.Entries[0].SampleID != "Sample_P1_101" {
		t.Errorf("Written sheet does not parse back: %+v, %v", ss, err)
	}
}
