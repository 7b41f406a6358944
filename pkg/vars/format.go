package vars

import (
	"regexp"
	"strconv"
	"strings"
)

// likeToRegexp translates a SQL LIKE pattern (% any run, _ single char)
// into an anchored, case-insensitive regexp.
func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// FormatTable renders rows as a MySQL-style box-drawn table with columns
// Variable_name | Value | Mutable (spec §4.12 SHOW VARIABLES).
func FormatTable(rows []Row) string {
	headers := [3]string{"Variable_name", "Value", "Mutable"}
	w := [3]int{len(headers[0]), len(headers[1]), len(headers[2])}

	cells := make([][3]string, len(rows))
	for i, row := range rows {
		cells[i] = [3]string{row.Name, row.Value, strconv.FormatBool(row.Mutable)}
		for c := 0; c < 3; c++ {
			if l := len(cells[i][c]); l > w[c] {
				w[c] = l
			}
		}
	}

	var b strings.Builder
	sep := borderLine(w)
	b.WriteString(sep)
	b.WriteString(tableRow(headers, w))
	b.WriteString(sep)
	for _, row := range cells {
		b.WriteString(tableRow(row, w))
	}
	b.WriteString(sep)
	return b.String()
}

func borderLine(w [3]int) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, width := range w {
		b.WriteString(strings.Repeat("-", width+2))
		b.WriteByte('+')
	}
	b.WriteByte('\n')
	return b.String()
}

func tableRow(cells [3]string, w [3]int) string {
	var b strings.Builder
	b.WriteByte('|')
	for i, cell := range cells {
		b.WriteByte(' ')
		b.WriteString(cell)
		b.WriteString(strings.Repeat(" ", w[i]-len(cell)))
		b.WriteString(" |")
	}
	b.WriteByte('\n')
	return b.String()
}
