package binlog

import "strings"

// isDDL reports whether a QueryEvent's SQL text is one of the DDL
// statements that can silently diverge the index from the source (spec
// §4.9 "TRUNCATE/ALTER/DROP of watched table").
func isDDL(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range []string{"TRUNCATE", "ALTER TABLE", "DROP TABLE"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// extractDDLTable pulls the target table name out of a DDL statement's
// text. Best-effort: DDL only marks a table for SYNC, it never drives an
// index mutation directly, so a miss here just means the table fails to
// get flagged until the next compatible statement.
func extractDDLTable(query string) string {
	upper := strings.ToUpper(strings.TrimSpace(query))
	fields := strings.Fields(upper)
	orig := strings.Fields(strings.TrimSpace(query))
	for i, f := range fields {
		if f == "TABLE" && i+1 < len(orig) {
			return strings.Trim(orig[i+1], "`;")
		}
	}
	if len(fields) > 0 && fields[0] == "TRUNCATE" && len(orig) > 1 {
		return strings.Trim(orig[1], "`;")
	}
	return ""
}
