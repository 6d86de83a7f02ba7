package utils

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type PartitionType string

const (
	PartitionCore PartitionType = "core"
	PartitionNode PartitionType = "node"
)

// RunMode says where an external tool such as a demultiplexer is started
type RunMode int

const (
	RunModeLocal RunMode = iota
	RunModeHPC   RunMode = iota
)

// SlurmInfo contains info needed to launch a job on a SLURM cluster
type SlurmInfo struct {
	Project   string
	Partition PartitionType
	Cores     int
	Time      time.Duration
	JobName   string
	Threads   int
}

func (si SlurmInfo) AsSallocString() string {
	return fmt.Sprintf("salloc -A %s -p %s -n %d -t %s -J %s srun -n 1 -c %d ",
		si.Project,
		si.Partition,
		si.Cores,
		FmtDuration(si.Time),
		si.JobName,
		si.Threads)
}

// Prefix returns the command prefix for the run mode. Local runs get no
// prefix.
func Prefix(mode RunMode, si SlurmInfo) string {
	if mode == RunModeHPC {
		return si.AsSallocString()
	}
	return ""
}

// FmtDuration formats a duration the way SLURM expects it (D-HH:MM:SS)
func FmtDuration(t time.Duration) string {
	t = t.Round(time.Second)
	d := t / (24 * time.Hour)
	t -= d * (24 * time.Hour)
	h := t / time.Hour
	t -= h * time.Hour
	m := t / time.Minute
	t -= m * time.Minute
	s := t / time.Second
	return fmt.Sprintf("%d-%02d:%02d:%02d", d, h, m, s)
}

func ParseDuration(durStr string) (time.Duration, error) {
	dur, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", durStr)
	}
	return dur, nil
}

// Fs is a short for fmt.Sprintf
func Fs(pat string, v ...interface{}) string {
	return fmt.Sprintf(pat, v...)
}

// TimeStamp is the timestamp layout shared by the TSV logs and StatusDB
const TimeStamp = "2006-01-02 15:04:05"

// Now is replaceable in tests
var Now = time.Now
