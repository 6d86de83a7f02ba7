package illumina

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pharmbio/taca/utils"
)

func runInfoXML(id, flowcell, instrument string, lanes int, reads ...ReadSpec) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?>` + "\n")
	sb.WriteString(`<RunInfo Version="2">` + "\n")
	sb.WriteString(utils.Fs("  <Run Id=%q Number=\"123\">\n", id))
	sb.WriteString(utils.Fs("    <Flowcell>%s</Flowcell>\n    <Instrument>%s</Instrument>\n    <Date>201101</Date>\n", flowcell, instrument))
	sb.WriteString("    <Reads>\n")
	for _, r := range reads {
		indexed := "N"
		if r.IsIndexed {
			indexed = "Y"
		}
		sb.WriteString(utils.Fs("      <Read Number=\"%d\" NumCycles=\"%d\" IsIndexedRead=%q />\n", r.Number, r.NumCycles, indexed))
	}
	sb.WriteString("    </Reads>\n")
	sb.WriteString(utils.Fs("    <FlowcellLayout LaneCount=\"%d\" SurfaceCount=\"2\" SwathCount=\"4\" TileCount=\"88\" />\n", lanes))
	sb.WriteString("  </Run>\n</RunInfo>\n")
	return sb.String()
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// makeRunDir creates a run folder below a temp dir with the given files
func makeRunDir(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		writeTestFile(t, filepath.Join(dir, rel), content)
	}
	return dir
}

var pairedEndDualIndex = []ReadSpec{
	{Number: 1, NumCycles: 151},
	{Number: 2, NumCycles: 10, IsIndexed: true},
	{Number: 3, NumCycles: 10, IsIndexed: true},
	{Number: 4, NumCycles: 151},
}

// testRun returns a NovaSeq run rooted at dir, without touching disk
func testRun(dir string) *Run {
	return &Run{
		ID:         filepath.Base(dir),
		Date:       "201101",
		Instrument: "A00621",
		Position:   "A",
		FlowcellID: "HXXXXDSXY",
		RunDir:     dir,
		Kind:       NovaSeq,
		Type:       NGIRun,
		DemuxDir:   "Demultiplexing",
		profile:    kindProfiles[NovaSeq],
	}
}
