package extract

import (
	"regexp"
	"strings"
)

// Rectangle is in PDF points, origin top-left.
type Rectangle struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Table struct {
	Coordinates Rectangle  `json:"coordinates"`
	Data        [][]string `json:"data"`
	Page        int        `json:"page"`
}

type TableList struct {
	Tables []Table `json:"tables"`
}

var columnGap = regexp.MustCompile(`\t+| {2,}`)

// minTableRows is the number of consecutive aligned rows that make a table.
const minTableRows = 2

// DetectTables finds runs of lines that split into the same number (two or
// more) of columns on tabs or wide gaps. Coordinates are approximated from
// line positions within box.
func DetectTables(text string, page int, box Box) []Table {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	lineHeight := 0.0
	if len(lines) > 0 {
		lineHeight = box.Height / float64(len(lines))
	}

	var tables []Table
	var rows [][]string
	first := 0
	flush := func(end int) {
		if len(rows) >= minTableRows {
			tables = append(tables, Table{
				Page: page,
				Data: rows,
				Coordinates: Rectangle{
					Top:    float64(first) * lineHeight,
					Width:  box.Width,
					Height: float64(end-first) * lineHeight,
				},
			})
		}
		rows = nil
	}
	for i, line := range lines {
		cells := splitColumns(line)
		if len(cells) < 2 || (len(rows) > 0 && len(cells) != len(rows[0])) {
			flush(i)
			if len(cells) >= 2 {
				first = i
				rows = [][]string{cells}
			}
			continue
		}
		if len(rows) == 0 {
			first = i
		}
		rows = append(rows, cells)
	}
	flush(len(lines))
	return tables
}

func splitColumns(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	parts := columnGap.Split(line, -1)
	cells := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}
