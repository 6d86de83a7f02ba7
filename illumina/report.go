package illumina

import (
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// ReportTable is the lane or lane-barcode table of a bcl2fastq HTML report
type ReportTable struct {
	Headers []string
	Rows    [][]string
}

// Column returns the index of a column, or -1
func (t *ReportTable) Column(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Value returns a cell of row by column name
func (t *ReportTable) Value(row []string, name string) string {
	i := t.Column(name)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// ParseReportTable returns the first table of an HTML report whose first
// header cell is "Lane"
func ParseReportTable(r io.Reader) (*ReportTable, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse report")
	}
	var found *ReportTable
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "table" {
			rows := tableRows(n)
			if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] == "Lane" {
				found = &ReportTable{Headers: rows[0], Rows: rows[1:]}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	if found == nil {
		return nil, errors.New("no lane table in report")
	}
	return found, nil
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "th" || c.Data == "td") {
					cells = append(cells, strings.Join(strings.Fields(nodeText(c)), " "))
				}
			}
			rows = append(rows, cells)
			return
		}
		// nested tables are not part of this one
		if n != table && n.Type == html.ElementNode && n.Data == "table" {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(table)
	return rows
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h2>{{.Title}}</h2>
<table border="1">
<tr>{{range .Table.Headers}}<th>{{.}}</th>{{end}}</tr>
{{range .Table.Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>
</body>
</html>
`))

// WriteReportTable writes t as a minimal HTML report
func WriteReportTable(w io.Writer, title string, t *ReportTable) error {
	return reportTemplate.Execute(w, struct {
		Title string
		Table *ReportTable
	}{title, t})
}

// parseCount reads numbers such as 1,234,567 or 12.5
func parseCount(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// formatCount writes numbers back with thousands separators
func formatCount(f float64) string {
	if f != float64(int64(f)) {
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
	digits := strconv.FormatInt(int64(f), 10)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	var sb strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(d)
	}
	if neg {
		return "-" + sb.String()
	}
	return sb.String()
}

const (
	colLane        = "Lane"
	colProject     = "Project"
	colSample      = "Sample"
	colClusters    = "PF Clusters"
	colYield       = "Yield (Mbases)"
	colPerfect     = "% Perfect barcode"
	colOneMismatch = "% One mismatch barcode"
)

// MergeLaneBarcodeTables merges the lane-barcode tables of several
// invocations. Rows are keyed by lane, project and sample and their counts
// summed. Rows of the "default" project are dropped in complex lanes.
func MergeLaneBarcodeTables(tables []*ReportTable, complexLanes map[int]bool) *ReportTable {
	if len(tables) == 0 {
		return &ReportTable{}
	}
	merged := &ReportTable{Headers: tables[0].Headers}
	index := map[string]int{}
	for _, t := range tables {
		for _, row := range t.Rows {
			lane, _ := strconv.Atoi(t.Value(row, colLane))
			project := t.Value(row, colProject)
			if complexLanes[lane] && project == "default" {
				continue
			}
			key := strings.Join([]string{t.Value(row, colLane), project, t.Value(row, colSample)}, "\x00")
			if i, ok := index[key]; ok {
				for _, col := range []string{colClusters, colYield} {
					addCell(merged, merged.Rows[i], col, t.Value(row, col))
				}
				continue
			}
			index[key] = len(merged.Rows)
			merged.Rows = append(merged.Rows, realign(t, merged.Headers, row))
		}
	}
	return merged
}

// MergeLaneTables keeps the first row of every lane. The barcode
// percentages of complex lanes are blanked, they do not add up across
// masks.
func MergeLaneTables(tables []*ReportTable, complexLanes map[int]bool) *ReportTable {
	if len(tables) == 0 {
		return &ReportTable{}
	}
	merged := &ReportTable{Headers: tables[0].Headers}
	seen := map[string]bool{}
	for _, t := range tables {
		for _, row := range t.Rows {
			laneStr := t.Value(row, colLane)
			if seen[laneStr] {
				continue
			}
			seen[laneStr] = true
			out := realign(t, merged.Headers, row)
			if lane, _ := strconv.Atoi(laneStr); complexLanes[lane] {
				for _, col := range []string{colPerfect, colOneMismatch} {
					if i := merged.Column(col); i >= 0 {
						out[i] = ""
					}
				}
			}
			merged.Rows = append(merged.Rows, out)
		}
	}
	return merged
}

func realign(from *ReportTable, headers []string, row []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = from.Value(row, h)
	}
	return out
}

func addCell(t *ReportTable, row []string, col, value string) {
	i := t.Column(col)
	if i < 0 {
		return
	}
	a, okA := parseCount(row[i])
	b, okB := parseCount(value)
	if okA && okB {
		row[i] = formatCount(a + b)
	}
}
