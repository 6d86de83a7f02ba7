// Package illumina models Illumina run folders: which sequencer produced
// them, how their samples must be demultiplexed and how far a run has come.
package illumina

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/pharmbio/taca/config"
	"github.com/pharmbio/taca/utils"
)

const (
	ErrBadRunName         = utils.Error("run folder name does not match YYMMDD_INSTRUMENT_NUMBER_[AB]FLOWCELL")
	ErrNoRunParameters    = utils.Error("no runParameters.xml found")
	ErrUnknownSequencer   = utils.Error("could not tell which sequencer produced the run")
	ErrIndexExceedsCycles = utils.Error("index length exceeds the cycles of the index read")
	ErrUMIExceedsCycles   = utils.Error("index plus UMI length exceeds the cycles of the index read")
	ErrUnknownIndexCode   = utils.Error("index code not found in the index tables")
	ErrMissingReport      = utils.Error("demultiplexing report missing")
)

// RunNamePattern matches run folder names. Groups: date, instrument,
// number, position, flowcell.
var RunNamePattern = regexp.MustCompile(`^(\d{6}|\d{8})_([A-Za-z0-9\-]+)_(\d+)_([AB]?)([A-Za-z0-9\-]+)$`)

type SequencerKind int

const (
	MiSeq SequencerKind = iota
	NextSeq
	NovaSeq
	NovaSeqXPlus
	HiSeqX
	HiSeq
)

var kindNames = [...]string{"MiSeq", "NextSeq", "NovaSeq", "NovaSeqXPlus", "HiSeqX", "HiSeq"}

func (k SequencerKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Key is the lower case name used for configuration lookups
func (k SequencerKind) Key() string {
	return strings.ToLower(k.String())
}

type RunType string

const (
	NGIRun    RunType = "NGI-RUN"
	NonNGIRun RunType = "NON-NGI-RUN"
)

type Demultiplexer int

const (
	Bcl2Fastq Demultiplexer = iota
	BclConvert
)

// kindProfile is what differs between the sequencer kinds
type kindProfile struct {
	// substrings of the control software name or instrument type
	appPatterns []string
	// instrument name prefixes, used when runParameters.xml says nothing
	instrumentPrefixes []string
	demultiplexer      Demultiplexer
	// the sample sheet comes with the run instead of from the LIMS
	localSampleSheet bool
	// sample ids get the Sample_ prefix in sub-samplesheets
	renameSamples bool
	runType       func(r *Run) (RunType, error)
}

func alwaysNGI(*Run) (RunType, error) { return NGIRun, nil }

// miseqRunType: MiSeq runs are facility runs only when they come with a
// production sample sheet
func miseqRunType(r *Run) (RunType, error) {
	if r.SampleSheetPath == "" {
		return NonNGIRun, nil
	}
	ss, err := ReadSampleSheet(r.SampleSheetPath)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(strings.TrimSpace(ss.HeaderValue("Description")), "production") {
		return NGIRun, nil
	}
	return NonNGIRun, nil
}

// kindOrder is the order kinds are tried in. More specific names come
// before the names they contain.
var kindOrder = []SequencerKind{HiSeqX, HiSeq, MiSeq, NextSeq, NovaSeqXPlus, NovaSeq}

var kindProfiles = map[SequencerKind]kindProfile{
	MiSeq: {
		appPatterns:        []string{"MiSeq"},
		instrumentPrefixes: []string{"M"},
		demultiplexer:      Bcl2Fastq,
		localSampleSheet:   true,
		runType:            miseqRunType,
	},
	NextSeq: {
		appPatterns:        []string{"NextSeq"},
		instrumentPrefixes: []string{"NB", "NS", "VH"},
		demultiplexer:      Bcl2Fastq,
		renameSamples:      true,
		runType:            alwaysNGI,
	},
	NovaSeq: {
		appPatterns:        []string{"NovaSeq"},
		instrumentPrefixes: []string{"A"},
		demultiplexer:      Bcl2Fastq,
		renameSamples:      true,
		runType:            alwaysNGI,
	},
	NovaSeqXPlus: {
		appPatterns:        []string{"NovaSeq Xplus", "NovaSeqXPlus", "NovaSeq X"},
		instrumentPrefixes: []string{"LH"},
		demultiplexer:      BclConvert,
		renameSamples:      true,
		runType:            alwaysNGI,
	},
	HiSeqX: {
		appPatterns:        []string{"HiSeq X"},
		instrumentPrefixes: []string{"ST", "E"},
		demultiplexer:      Bcl2Fastq,
		renameSamples:      true,
		runType:            alwaysNGI,
	},
	HiSeq: {
		appPatterns:        []string{"HiSeq"},
		instrumentPrefixes: []string{"D", "SN"},
		demultiplexer:      Bcl2Fastq,
		renameSamples:      true,
		runType:            alwaysNGI,
	},
}

// Run is one sequencing run folder
type Run struct {
	ID              string
	Date            string
	Instrument      string
	Position        string
	FlowcellID      string
	RunDir          string
	Kind            SequencerKind
	Type            RunType
	DemuxDir        string
	SampleSheetPath string
	Info            *RunInfo
	Params          *RunParameters

	profile kindProfile
	cfg     config.SequencerConfig
}

// Demultiplexer returns the tool used for this run
func (r *Run) Demultiplexer() Demultiplexer { return r.profile.demultiplexer }

// Config returns the sequencer section the run was built with
func (r *Run) Config() config.SequencerConfig { return r.cfg }

// Path joins elements onto the run directory
func (r *Run) Path(elem ...string) string {
	return filepath.Join(append([]string{r.RunDir}, elem...)...)
}

// ParseRunName splits a run folder name into date, instrument, number,
// position and flowcell
func ParseRunName(name string) ([]string, error) {
	m := RunNamePattern.FindStringSubmatch(name)
	if m == nil {
		return nil, errors.Wrapf(ErrBadRunName, "%q", name)
	}
	return m[1:], nil
}

// KindFromInstrument guesses the sequencer kind from the instrument name
// alone
func KindFromInstrument(instrument string) (SequencerKind, error) {
	best, bestLen := SequencerKind(-1), 0
	for _, k := range kindOrder {
		for _, p := range kindProfiles[k].instrumentPrefixes {
			if strings.HasPrefix(instrument, p) && len(p) > bestLen {
				best, bestLen = k, len(p)
			}
		}
	}
	if bestLen == 0 {
		return best, errors.Wrapf(ErrUnknownSequencer, "instrument %s", instrument)
	}
	return best, nil
}

func detectKind(rp *RunParameters, instrument string) (SequencerKind, error) {
	for _, field := range []string{rp.InstrumentType, rp.Application()} {
		if field == "" {
			continue
		}
		for _, k := range kindOrder {
			for _, p := range kindProfiles[k].appPatterns {
				if !strings.Contains(field, p) {
					continue
				}
				// HiSeq X runs often report the plain HiSeq software name
				if k == HiSeq {
					if ik, err := KindFromInstrument(instrument); err == nil && ik == HiSeqX {
						return HiSeqX, nil
					}
				}
				return k, nil
			}
		}
	}
	return KindFromInstrument(instrument)
}

// ClassifyAndBuild reads the run folder at runDir, works out which
// sequencer produced it and returns the Run
func ClassifyAndBuild(runDir string, cfg *config.Config) (*Run, error) {
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve run directory")
	}
	parts, err := ParseRunName(filepath.Base(runDir))
	if err != nil {
		return nil, err
	}
	r := &Run{
		ID:         filepath.Base(runDir),
		Date:       parts[0],
		Instrument: parts[1],
		Position:   parts[3],
		FlowcellID: parts[4],
		RunDir:     runDir,
		DemuxDir:   "Demultiplexing",
	}
	if r.Params, err = ReadRunParameters(runDir); err != nil {
		return nil, err
	}
	if r.Kind, err = detectKind(r.Params, r.Instrument); err != nil {
		return nil, err
	}
	r.profile = kindProfiles[r.Kind]
	r.cfg = cfg.Sequencer(r.Kind.Key())
	if r.Info, err = ReadRunInfo(runDir); err != nil {
		return nil, err
	}
	r.SampleSheetPath = r.findSampleSheet()
	if r.Type, err = r.profile.runType(r); err != nil {
		return nil, errors.Wrapf(err, "could not tell run type of %s", r.ID)
	}
	return r, nil
}

// findSampleSheet looks for <samplesheets_dir>/<year>/<flowcell>.csv and
// then for SampleSheet.csv in the run folder
func (r *Run) findSampleSheet() string {
	if !r.profile.localSampleSheet && r.cfg.SamplesheetsDir != "" {
		year := r.Date[:4]
		if len(r.Date) == 6 {
			year = "20" + r.Date[:2]
		}
		path := filepath.Join(r.cfg.SamplesheetsDir, year, r.FlowcellID+".csv")
		if utils.Exists(path) {
			return path
		}
	}
	path := r.Path("SampleSheet.csv")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
