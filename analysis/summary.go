package analysis

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	sp "github.com/scipipe/scipipe"

	"github.com/pharmbio/taca/illumina"
	"github.com/pharmbio/taca/mail"
	"github.com/pharmbio/taca/utils"
)

// maxIssueLines is how many error and warning lines of one job go into the
// summary mail
const maxIssueLines = 5

var issuePat = regexp.MustCompile(`(?i)error|warn`)

const summaryTemplate = `Demultiplexing of {{run}} is finished.

Flowcell:      {{flowcell}}
Sequencer:     {{kind}}
Demultiplexer: {{jobs}} job(s)

{{issues}}`

// scanIssues returns the first limit lines of r that mention an error or a
// warning, and how many such lines there are in total
func scanIssues(r io.Reader, limit int) ([]string, int, error) {
	var lines []string
	total := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if !issuePat.MatchString(sc.Text()) {
			continue
		}
		total++
		if len(lines) < limit {
			lines = append(lines, strings.TrimSpace(sc.Text()))
		}
	}
	return lines, total, sc.Err()
}

// SummaryBody lists the errors and warnings of every job of the run
func SummaryBody(r *illumina.Run, jobs []illumina.JobHandle) string {
	var issues strings.Builder
	for _, j := range jobs {
		f, err := os.Open(r.Path(j.StderrLog()))
		if err != nil {
			issues.WriteString(utils.Fs("%s: not readable (%v)\n", j.StderrLog(), err))
			continue
		}
		lines, total, err := scanIssues(f, maxIssueLines)
		f.Close()
		if err != nil {
			issues.WriteString(utils.Fs("%s: could not be read to the end (%v)\n", j.StderrLog(), err))
		}
		if total == 0 {
			issues.WriteString(utils.Fs("%s: no errors or warnings\n", j.StderrLog()))
			continue
		}
		issues.WriteString(utils.Fs("%s: %d error or warning line(s)\n", j.StderrLog(), total))
		for _, l := range lines {
			issues.WriteString("    " + l + "\n")
		}
		if total > len(lines) {
			issues.WriteString(utils.Fs("    (only the first %d shown)\n", len(lines)))
		}
	}
	return mail.Render(summaryTemplate, map[string]interface{}{
		"run":      r.ID,
		"flowcell": r.FlowcellID,
		"kind":     r.Kind.String(),
		"jobs":     utils.Fs("%d", len(jobs)),
		"issues":   issues.String(),
	})
}

func (p *Processor) sendSummary(r *illumina.Run) error {
	jobs, err := illumina.OpenJobs(r)
	if err != nil {
		return err
	}
	return p.mailer.Send(p.mailer.Subject(r.ID), SummaryBody(r, jobs))
}

// mfsFiles are copied from the run folder to the shared LIMS path
var mfsFiles = []string{"RunInfo.xml", "runParameters.xml", "RunParameters.xml", "InterOp"}

// CopyToMfs copies the run metadata, InterOp and the demultiplexing stats
// to <mfsPath>/<run id>
func CopyToMfs(r *illumina.Run, mfsPath string) error {
	dst := filepath.Join(mfsPath, r.ID)
	if err := os.MkdirAll(dst, 0775); err != nil {
		return errors.Wrapf(err, "could not create %s", dst)
	}
	for _, name := range mfsFiles {
		if !utils.Exists(r.Path(name)) {
			continue
		}
		if err := copyTree(r.Path(name), filepath.Join(dst, name)); err != nil {
			return err
		}
	}
	for _, rel := range []string{"Stats", "Reports"} {
		src := r.Path(r.DemuxDir, rel)
		if !utils.Exists(src) {
			continue
		}
		if err := copyTree(src, filepath.Join(dst, r.DemuxDir, rel)); err != nil {
			return err
		}
	}
	sp.Info.Printf("Copied stats of %s to %s\n", r.ID, dst)
	return nil
}

// copyTree copies regular files below src to dst, following symlinks
func copyTree(src, dst string) error {
	st, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "could not stat %s", src)
	}
	if !st.IsDir() {
		return copyFile(src, dst)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, "could not list %s", src)
	}
	if err := os.MkdirAll(dst, 0775); err != nil {
		return errors.Wrapf(err, "could not create %s", dst)
	}
	for _, e := range entries {
		if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "could not open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "could not copy %s", src)
	}
	return errors.Wrapf(out.Close(), "could not copy %s", src)
}
