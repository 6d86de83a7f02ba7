package illumina

import (
	"os"
	"path/filepath"
)

// Sentinel files written by the instruments, the demultiplexers and the
// transfer code. Other lab tooling relies on these exact names.
const (
	RTACompleteFile  = "RTAComplete.txt"
	CopyCompleteFile = "CopyComplete.txt"
	SyncFinishedFile = ".sync_finished"
	DemuxStatsFile   = "Stats/DemultiplexingStats.xml"
	TransferringFile = "transferring"
)

type State int

const (
	Sequencing State = iota
	ToStart
	InProgress
	Completed
)

var stateNames = [...]string{"SEQUENCING", "TO_START", "IN_PROGRESS", "COMPLETED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Snapshot answers whether a path relative to a run directory exists
type Snapshot interface {
	Exists(rel string) bool
}

// DirSnapshot looks at the filesystem below Root
type DirSnapshot struct {
	Root string
}

func (d DirSnapshot) Exists(rel string) bool {
	_, err := os.Stat(filepath.Join(d.Root, rel))
	return err == nil
}

// FileSet is an in-memory snapshot holding slash separated relative paths
type FileSet map[string]bool

func (f FileSet) Exists(rel string) bool {
	return f[filepath.ToSlash(filepath.Clean(rel))]
}

// DeriveState computes the state of a run from its files alone
func DeriveState(s Snapshot, demuxDir string) State {
	switch {
	case !s.Exists(RTACompleteFile):
		return Sequencing
	case !s.Exists(demuxDir):
		return ToStart
	case !s.Exists(filepath.Join(demuxDir, DemuxStatsFile)):
		return InProgress
	default:
		return Completed
	}
}

// State derives the current state of the run from disk
func (r *Run) State() State {
	return DeriveState(DirSnapshot{Root: r.RunDir}, r.DemuxDir)
}

// PendingJobs returns the jobs whose completion marker is not there yet
func PendingJobs(s Snapshot, jobs []JobHandle) []JobHandle {
	var pending []JobHandle
	for _, j := range jobs {
		if !j.Done(s) {
			pending = append(pending, j)
		}
	}
	return pending
}
