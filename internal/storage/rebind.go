package storage

import "strconv"

// rebindPositional converts `?` placeholders to the `$1..$n` form Postgres
// expects. The filter layer renders `?` so the same suffix works for both
// stores; conversion happens once, after the full statement is assembled.
// Question marks inside single-quoted literals are left alone.
func rebindPositional(query string) string {
	out := make([]byte, 0, len(query)+8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			out = append(out, c)
		case c == '?' && !inQuote:
			n++
			out = append(out, '$')
			out = strconv.AppendInt(out, int64(n), 10)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
