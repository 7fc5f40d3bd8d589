package db

import "strings"

// scanSQL walks sql and calls visit for every byte that sits outside quoted
// strings, quoted identifiers and comments
func scanSQL(sql string, visit func(i int, c byte)) {
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
		case isDashComment(sql, i):
			i = skipLine(sql, i)
		case c == '#':
			i = skipLine(sql, i)
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			if end := strings.Index(sql[i+2:], "*/"); end >= 0 {
				i += end + 3
			} else {
				i = len(sql)
			}
		default:
			visit(i, c)
		}
	}
}

// isDashComment reports whether a "--" comment starts at i. MySQL needs
// whitespace, a control character or the end of input after the dashes.
func isDashComment(sql string, i int) bool {
	if sql[i] != '-' || i+1 >= len(sql) || sql[i+1] != '-' {
		return false
	}
	return i+2 == len(sql) || sql[i+2] <= ' '
}

func skipQuoted(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		switch sql[i] {
		case '\\':
			if quote != '`' {
				i++
			}
		case quote:
			// doubled quote is an escaped quote
			if i+1 < len(sql) && sql[i+1] == quote {
				i++
				continue
			}
			return i
		}
	}
	return len(sql)
}

func skipLine(sql string, start int) int {
	if end := strings.IndexByte(sql[start:], '\n'); end >= 0 {
		return start + end
	}
	return len(sql)
}

// countPlaceholders counts '?' markers outside strings and comments
func countPlaceholders(sql string) int {
	n := 0
	scanSQL(sql, func(_ int, c byte) {
		if c == '?' {
			n++
		}
	})
	return n
}

// SplitStatements splits a multi statement string on ';' outside strings and
// comments. Empty statements are dropped.
func SplitStatements(sql string) []string {
	var stmts []string
	start := 0
	scanSQL(sql, func(i int, c byte) {
		if c != ';' {
			return
		}
		if s := strings.TrimSpace(sql[start:i]); s != "" {
			stmts = append(stmts, s)
		}
		start = i + 1
	})
	if start < len(sql) {
		if s := strings.TrimSpace(sql[start:]); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
