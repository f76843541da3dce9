package core

import (
	"regexp"
	"strings"
)

var (
	fromClauseRe = regexp.MustCompile(
		`(?i)\bFROM\s+((?:\[[^\]]+\]|[\w#@$]+)(?:\s*\.\s*(?:\[[^\]]*\]|[\w$]*))*)(\s*\()?`)

	dotSpaceRe = regexp.MustCompile(`\s*\.\s*`)

	cteNameRe = regexp.MustCompile(`(?i)(?:\bWITH|,)\s*(\[[^\]]+\]|\w+)\s*(?:\([^()]*\))?\s*AS\s*\(`)
)

// leadingKeyword returns the first keyword of a batch, upper-cased,
// skipping whitespace and comments.
func leadingKeyword(query string) string {
	s := stripLiteralsAndComments(query)
	s = strings.TrimLeft(s, " \t\r\n;")

	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end == -1 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

// isRestore reports whether the batch is a RESTORE statement.
func isRestore(query string) bool {
	return leadingKeyword(query) == "RESTORE"
}

// isLongRunning reports whether the batch should get the restore timeout.
func isLongRunning(query string) bool {
	switch leadingKeyword(query) {
	case "RESTORE", "BACKUP":
		return true
	}
	return false
}

// extractObjectName returns the first table or view named in a FROM clause.
// It is a heuristic: joins beyond the first table, subqueries, table
// functions, temp tables and table variables are not reported, so a false
// negative only means the existence check is skipped.
func extractObjectName(query string) (string, bool) {
	m := fromClauseRe.FindStringSubmatch(stripLiteralsAndComments(query))
	if m == nil || m[2] != "" {
		return "", false
	}

	name := dotSpaceRe.ReplaceAllString(strings.TrimSpace(m[1]), ".")
	if name == "" || strings.HasPrefix(name, "#") || strings.HasPrefix(name, "@") {
		return "", false
	}
	if strings.HasSuffix(name, ".") {
		return "", false
	}
	if cteNames(query)[strings.ToLower(unbracket(name))] {
		return "", false
	}
	return name, true
}

// cteNames returns the lower-cased names declared by common table
// expressions in query.
func cteNames(query string) map[string]bool {
	names := map[string]bool{}
	for _, m := range cteNameRe.FindAllStringSubmatch(stripLiteralsAndComments(query), -1) {
		names[strings.ToLower(unbracket(m[1]))] = true
	}
	return names
}

// stripLiteralsAndComments blanks out comments and the contents of string
// literals so keyword matching only sees code. Length is preserved.
func stripLiteralsAndComments(query string) string {
	b := []byte(query)
	n := len(b)

	for i := 0; i < n; i++ {
		switch {
		case b[i] == '-' && i+1 < n && b[i+1] == '-':
			for ; i < n && b[i] != '\n'; i++ {
				b[i] = ' '
			}
		case b[i] == '/' && i+1 < n && b[i+1] == '*':
			b[i], b[i+1] = ' ', ' '
			for i += 2; i < n; i++ {
				if b[i] == '*' && i+1 < n && b[i+1] == '/' {
					b[i], b[i+1] = ' ', ' '
					i++
					break
				}
				if b[i] != '\n' {
					b[i] = ' '
				}
			}
		case b[i] == '\'':
			for i++; i < n; i++ {
				if b[i] == '\'' {
					if i+1 < n && b[i+1] == '\'' {
						b[i], b[i+1] = ' ', ' '
						i++
						continue
					}
					break
				}
				b[i] = ' '
			}
		}
	}
	return string(b)
}

// quoteIdent quotes a SQL Server identifier with brackets.
func quoteIdent(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

// quoteString quotes a Unicode string literal.
func quoteString(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}
