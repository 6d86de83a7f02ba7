package illumina

import (
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ReadSpec is one read of the run's read structure
type ReadSpec struct {
	Number    int
	NumCycles int
	IsIndexed bool
}

// RunInfo is the part of RunInfo.xml this package uses
type RunInfo struct {
	Run struct {
		ID         string `xml:"Id,attr"`
		Number     int    `xml:"Number,attr"`
		Flowcell   string `xml:"Flowcell"`
		Instrument string `xml:"Instrument"`
		Date       string `xml:"Date"`
		Reads      []struct {
			Number        int    `xml:"Number,attr"`
			NumCycles     int    `xml:"NumCycles,attr"`
			IsIndexedRead string `xml:"IsIndexedRead,attr"`
		} `xml:"Reads>Read"`
		FlowcellLayout struct {
			LaneCount int `xml:"LaneCount,attr"`
		} `xml:"FlowcellLayout"`
	} `xml:"Run"`
}

// ReadSpecs returns the reads in run order
func (ri *RunInfo) ReadSpecs() []ReadSpec {
	specs := make([]ReadSpec, 0, len(ri.Run.Reads))
	for _, r := range ri.Run.Reads {
		specs = append(specs, ReadSpec{
			Number:    r.Number,
			NumCycles: r.NumCycles,
			IsIndexed: r.IsIndexedRead == "Y",
		})
	}
	return specs
}

// IndexCycles returns the cycle counts of the first two index reads, zero
// where the run has no such read
func (ri *RunInfo) IndexCycles() [2]int {
	return cyclesOf(ri.ReadSpecs(), true)
}

// ReadCycles returns the cycle counts of the first two sequence reads
func (ri *RunInfo) ReadCycles() [2]int {
	return cyclesOf(ri.ReadSpecs(), false)
}

func cyclesOf(reads []ReadSpec, indexed bool) [2]int {
	var c [2]int
	i := 0
	for _, r := range reads {
		if r.IsIndexed == indexed && i < 2 {
			c[i] = r.NumCycles
			i++
		}
	}
	return c
}

// RunParameters is the part of runParameters.xml used to tell sequencers
// apart
type RunParameters struct {
	ApplicationName      string `xml:"ApplicationName"`
	SetupApplicationName string `xml:"Setup>ApplicationName"`
	InstrumentType       string `xml:"InstrumentType"`
	InstrumentName       string `xml:"InstrumentName"`
	ScannerID            string `xml:"ScannerID"`
	ExperimentName       string `xml:"ExperimentName"`
	SetupExperimentName  string `xml:"Setup>ExperimentName"`
}

// Application returns the control software name wherever the instrument
// put it
func (rp *RunParameters) Application() string {
	if rp.ApplicationName != "" {
		return rp.ApplicationName
	}
	return rp.SetupApplicationName
}

func readXML(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "could not read %s", path)
	}
	return errors.Wrapf(xml.Unmarshal(b, v), "could not parse %s", path)
}

// ReadRunInfo parses RunInfo.xml in runDir
func ReadRunInfo(runDir string) (*RunInfo, error) {
	ri := &RunInfo{}
	if err := readXML(filepath.Join(runDir, "RunInfo.xml"), ri); err != nil {
		return nil, err
	}
	return ri, nil
}

// runParametersNames are the spellings used by the different instruments
var runParametersNames = []string{"runParameters.xml", "RunParameters.xml"}

// ReadRunParameters parses whichever run parameters file runDir has
func ReadRunParameters(runDir string) (*RunParameters, error) {
	for _, name := range runParametersNames {
		path := filepath.Join(runDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		rp := &RunParameters{}
		if err := readXML(path, rp); err != nil {
			return nil, err
		}
		return rp, nil
	}
	return nil, errors.Wrapf(ErrNoRunParameters, "in %s", runDir)
}
