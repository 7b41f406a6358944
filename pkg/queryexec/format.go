package queryexec

import "strconv"

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
func formatUint(u uint64) string   { return strconv.FormatUint(u, 10) }
func formatInt(i int64) string     { return strconv.FormatInt(i, 10) }
