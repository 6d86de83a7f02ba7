package illumina

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/brentp/xopen"
	"github.com/pkg/errors"
)

// SampleSheetEntry is one row of the [Data] section
type SampleSheetEntry struct {
	Lane        int
	SampleID    string
	SampleName  string
	Project     string
	Index       string
	Index2      string
	Recipe      string
	Description string
}

// SampleSheet is a parsed sample sheet. Sections other than [Data] are
// kept as raw rows so they can be written back.
type SampleSheet struct {
	Header   [][]string
	Reads    [][]string
	Settings [][]string
	Entries  []SampleSheetEntry
}

// HeaderValue returns the value of a [Header] key
func (ss *SampleSheet) HeaderValue(key string) string {
	for _, row := range ss.Header {
		if len(row) > 1 && strings.EqualFold(strings.TrimSpace(row[0]), key) {
			return row[1]
		}
	}
	return ""
}

// Lanes returns the lanes that have entries, in ascending order
func (ss *SampleSheet) Lanes() []int {
	seen := map[int]bool{}
	lanes := []int{}
	for _, e := range ss.Entries {
		if !seen[e.Lane] {
			seen[e.Lane] = true
			lanes = append(lanes, e.Lane)
		}
	}
	sort.Ints(lanes)
	return lanes
}

// columnAliases maps the column names of LIMS and bcl2fastq style sheets
// onto entry fields
var columnAliases = map[string]string{
	"lane":           "lane",
	"sample_id":      "id",
	"sampleid":       "id",
	"sample_name":    "name",
	"samplename":     "name",
	"sample_project": "project",
	"sampleproject":  "project",
	"project":        "project",
	"index":          "index",
	"index2":         "index2",
	"recipe":         "recipe",
	"description":    "description",
}

// ReadSampleSheet parses the sample sheet at path. Gzipped sheets are read
// transparently.
func ReadSampleSheet(path string) (*SampleSheet, error) {
	rdr, err := xopen.Ropen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open sample sheet %s", path)
	}
	defer rdr.Close()
	ss, err := ParseSampleSheet(rdr)
	return ss, errors.Wrapf(err, "could not parse sample sheet %s", path)
}

// ParseSampleSheet parses an Illumina sample sheet. A sheet without section
// headers is read as a bare [Data] table.
func ParseSampleSheet(r io.Reader) (*SampleSheet, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	ss := &SampleSheet{}
	section := "[data]"
	var data [][]string
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		first := strings.TrimSpace(row[0])
		if strings.HasPrefix(first, "[") && strings.HasSuffix(first, "]") {
			section = strings.ToLower(first)
			continue
		}
		switch section {
		case "[header]":
			ss.Header = append(ss.Header, row)
		case "[reads]":
			ss.Reads = append(ss.Reads, row)
		case "[settings]":
			ss.Settings = append(ss.Settings, row)
		case "[data]", "[bclconvert_data]":
			data = append(data, row)
		}
	}
	if len(data) == 0 {
		return ss, nil
	}

	cols := map[string]int{}
	for i, name := range data[0] {
		if field, ok := columnAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	if _, ok := cols["id"]; !ok {
		return nil, errors.New("no sample id column in [Data]")
	}
	get := func(row []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	for n, row := range data[1:] {
		e := SampleSheetEntry{
			Lane:        1,
			SampleID:    get(row, "id"),
			SampleName:  get(row, "name"),
			Project:     get(row, "project"),
			Index:       strings.ToUpper(get(row, "index")),
			Index2:      strings.ToUpper(get(row, "index2")),
			Recipe:      get(row, "recipe"),
			Description: get(row, "description"),
		}
		if lane := get(row, "lane"); lane != "" {
			if e.Lane, err = strconv.Atoi(lane); err != nil {
				return nil, errors.Errorf("bad lane %q on data row %d", lane, n+1)
			}
		}
		if e.SampleName == "" {
			e.SampleName = e.SampleID
		}
		ss.Entries = append(ss.Entries, e)
	}
	return ss, nil
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// DemuxRow is one [Data] row of a sub-samplesheet handed to the
// demultiplexer
type DemuxRow struct {
	Lane       int
	SampleID   string
	SampleName string
	Project    string
	Index      string
	Index2     string
}

// WriteBcl2FastqSheet writes a bcl2fastq style sheet
func WriteBcl2FastqSheet(w io.Writer, header [][]string, rows []DemuxRow) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"[Header]"})
	for _, h := range header {
		cw.Write(h)
	}
	cw.Write([]string{"[Data]"})
	cw.Write([]string{"Lane", "Sample_ID", "Sample_Name", "Sample_Project", "index", "index2"})
	for _, r := range rows {
		cw.Write([]string{strconv.Itoa(r.Lane), r.SampleID, r.SampleName, r.Project, r.Index, r.Index2})
	}
	cw.Flush()
	return cw.Error()
}

// WriteBclConvertSheet writes a v2 sheet with the mask as OverrideCycles
func WriteBclConvertSheet(w io.Writer, mask BaseMask, rows []DemuxRow) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"[Header]"})
	cw.Write([]string{"FileFormatVersion", "2"})
	cw.Write([]string{"[BCLConvert_Settings]"})
	cw.Write([]string{"OverrideCycles", mask.OverrideCycles()})
	cw.Write([]string{"[BCLConvert_Data]"})
	cw.Write([]string{"Lane", "Sample_ID", "index", "index2", "Sample_Project"})
	for _, r := range rows {
		cw.Write([]string{strconv.Itoa(r.Lane), r.SampleID, r.Index, r.Index2, r.Project})
	}
	cw.Flush()
	return cw.Error()
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "could not write %s", path)
	}
	return errors.Wrapf(f.Close(), "could not write %s", path)
}
