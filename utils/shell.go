package utils

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"
)

// Error is the string error type used for the sentinel errors of this
// module.
type Error string

func (e Error) Error() string { return string(e) }

// Shell executes shell command lines. The backup and transfer code talk to
// dsmc, rsync and gpg only through this, so tests can swap it out.
type Shell interface {
	Run(cmd string) (string, error)
}

// BashShell runs commands with bash and pipefail set
type BashShell struct {
	Dir string
}

// Run executes cmd and returns its combined output
func (b BashShell) Run(cmd string) (string, error) {
	sp.Audit.Printf("| %-32s | Executing: %s\n", "shell", cmd)
	execCmd := exec.Command("bash", "-c", "set -o pipefail; "+cmd)
	execCmd.Dir = b.Dir
	var out bytes.Buffer
	execCmd.Stdout = &out
	execCmd.Stderr = &out
	err := execCmd.Run()
	if err != nil {
		return out.String(), errors.Wrapf(err, "command failed: %s\n%s", cmd, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// Quote wraps s in single quotes for use on a bash command line
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
