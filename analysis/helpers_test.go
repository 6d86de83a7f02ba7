package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/statusdb"
	"github.com/pharmbio/taca/utils"
)

const (
	novaSeqRun = "201101_A00621_0123_AHXXXXDSXY"
	miSeqRun   = "201101_M01548_0123_000000000-ABCDE"
)

const novaSeqParams = `<?xml version="1.0"?>
<RunParameters>
  <Application>NovaSeq Control Software</Application>
  <InstrumentType>NovaSeq</InstrumentType>
  <InstrumentName>A00621</InstrumentName>
  <ExperimentName>P1 pool</ExperimentName>
</RunParameters>
`

const miSeqParams = `<?xml version="1.0"?>
<RunParameters>
  <Setup>
    <ApplicationName>MiSeq Control Software</ApplicationName>
  </Setup>
</RunParameters>
`

const dualIndexSheet = `[Header]
Date,2020-11-01
[Data]
Lane,Sample_ID,Sample_Name,Sample_Project,index,index2
1,P1_101,P1_101,P1,ACGTACGTAA,TTGGCCAATT
1,P1_102,P1_102,P1,GGTTAACCAA,CCAATTGGAA
2,P2_201,P2_201,P2,AACCGGTTAA,TTAACCGGTT
`

// runInfo writes a RunInfo.xml with two 151 cycle reads around two index
// reads of indexCycles
func runInfo(id, flowcell, instrument string, indexCycles int) string {
	return utils.Fs(`<?xml version="1.0"?>
<RunInfo Version="2">
  <Run Id=%q Number="123">
    <Flowcell>%s</Flowcell>
    <Instrument>%s</Instrument>
    <Date>201101</Date>
    <Reads>
      <Read Number="1" NumCycles="151" IsIndexedRead="N" />
      <Read Number="2" NumCycles="%d" IsIndexedRead="Y" />
      <Read Number="3" NumCycles="%d" IsIndexedRead="Y" />
      <Read Number="4" NumCycles="151" IsIndexedRead="N" />
    </Reads>
    <FlowcellLayout LaneCount="2" SurfaceCount="2" SwathCount="4" TileCount="88" />
  </Run>
</RunInfo>
`, id, flowcell, instrument, indexCycles, indexCycles)
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

// makeRun creates a run folder named name inside a new data dir
func makeRun(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data", name)
	for rel, content := range files {
		writeTestFile(t, filepath.Join(dir, rel), content)
	}
	return dir
}

func novaSeqFiles() map[string]string {
	return map[string]string{
		"RunParameters.xml": novaSeqParams,
		"RunInfo.xml":       runInfo(novaSeqRun, "HXXXXDSXY", "A00621", 10),
		"RTAComplete.txt":   "",
		"SampleSheet.csv":   dualIndexSheet,
	}
}

func parseConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse(strings.NewReader(yaml))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

type launched struct {
	dir, cmd string
}

type fakeLauncher struct {
	calls []launched
}

func (f *fakeLauncher) Launch(dir, cmd, stdout, stderr string) error {
	f.calls = append(f.calls, launched{dir, cmd})
	return nil
}

type fakeShell struct {
	cmds []string
	// hook, when set, runs instead of the command
	hook func(cmd string) error
}

func (f *fakeShell) Run(cmd string) (string, error) {
	f.cmds = append(f.cmds, cmd)
	if f.hook != nil {
		return "", f.hook(cmd)
	}
	return "", nil
}

type sentMail struct {
	subject, body string
}

type fakeMailer struct {
	sent []sentMail
}

func (f *fakeMailer) Subject(target string) string { return "TACA - " + target }

func (f *fakeMailer) Send(subject, body string) error {
	f.sent = append(f.sent, sentMail{subject, body})
	return nil
}

type fakeDB struct {
	docs []statusdb.Doc
	fail bool
}

func (f *fakeDB) FlowcellDB() string { return "x_flowcells" }

func (f *fakeDB) UpdateDoc(ctx context.Context, db string, doc statusdb.Doc, overwrite bool) error {
	if f.fail {
		return errors.New("couch is down")
	}
	f.docs = append(f.docs, doc)
	return nil
}
