package illumina

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/brentp/xopen"
	"github.com/pkg/errors"
)

var (
	tenXSinglePat = regexp.MustCompile(`^SI-(?:GA|NA)-[A-H](?:1[0-2]|[1-9])$`)
	tenXDualPat   = regexp.MustCompile(`^SI-(?:TT|NT|NN|TN|TS)-[A-H](?:1[0-2]|[1-9])$`)
	smartSeqPat   = regexp.MustCompile(`^SMARTSEQ[1-9]?-[1-9][0-9]?[A-P]$`)
	idtUMIPat     = regexp.MustCompile(`^[ACGT]{4,}N+$`)
)

const noIndex = "NOINDEX"

// IndexTables translates 10X and Smart-seq index codes into sequences
type IndexTables struct {
	TenXSingle map[string][]string
	TenXDual   map[string][2]string
	SmartSeq   map[string][][2]string
}

func NewIndexTables() *IndexTables {
	return &IndexTables{
		TenXSingle: map[string][]string{},
		TenXDual:   map[string][2]string{},
		SmartSeq:   map[string][][2]string{},
	}
}

// LoadIndexTables reads the 10X table (code,seq[,seq...]) and the Smart-seq
// table (code,i7,i5). Either path may be empty.
func LoadIndexTables(tenXPath, smartSeqPath string) (*IndexTables, error) {
	t := NewIndexTables()
	if tenXPath != "" {
		if err := readTable(tenXPath, t.addTenX); err != nil {
			return nil, err
		}
	}
	if smartSeqPath != "" {
		if err := readTable(smartSeqPath, t.addSmartSeq); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func readTable(path string, add func(fields []string) error) error {
	rdr, err := xopen.Ropen(path)
	if err != nil {
		return errors.Wrapf(err, "could not open index table %s", path)
	}
	defer rdr.Close()
	return errors.Wrapf(scanTable(rdr, add), "could not read index table %s", path)
}

func scanTable(r io.Reader, add func(fields []string) error) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.ToUpper(strings.TrimSpace(fields[i]))
		}
		if err := add(fields); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (t *IndexTables) addTenX(fields []string) error {
	code := fields[0]
	switch {
	case tenXSinglePat.MatchString(code):
		t.TenXSingle[code] = fields[1:]
	case tenXDualPat.MatchString(code):
		if len(fields) != 3 {
			return errors.Errorf("10X dual index %s needs two sequences", code)
		}
		t.TenXDual[code] = [2]string{fields[1], fields[2]}
	}
	return nil
}

func (t *IndexTables) addSmartSeq(fields []string) error {
	code := fields[0]
	if !smartSeqPat.MatchString(code) {
		return nil
	}
	if len(fields) != 3 {
		return errors.Errorf("Smart-seq index %s needs i7 and i5", code)
	}
	t.SmartSeq[code] = append(t.SmartSeq[code], [2]string{fields[1], fields[2]})
	return nil
}

// ParseTenX adds the codes of a 10X table read from r
func (t *IndexTables) ParseTenX(r io.Reader) error {
	return scanTable(r, t.addTenX)
}

func (t *IndexTables) ParseSmartSeq(r io.Reader) error {
	return scanTable(r, t.addSmartSeq)
}
