package analyzers

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// ImportRef is a single module reference found in Python source.
type ImportRef struct {
	// Module is the dotted module name as written, without leading dots.
	Module string

	// Names lists the names of a "from ... import" statement.
	Names []string

	// Level is the number of leading dots of a relative import.
	Level int

	// Line is the 1-based line where the statement starts.
	Line int

	// Dynamic marks a call to __import__ or import_module with a non-literal argument.
	Dynamic bool

	// DataFile is set for pkgutil.get_data calls; Module then names the package.
	DataFile string
}

var (
	dynamicCallRe = regexp.MustCompile(`(?:\b__import__|\bimport_module)\(\s*`)
	literalArgRe  = regexp.MustCompile(`^(?:r|u)?(['"])([A-Za-z_][\w.]*)(['"])\s*[,)]`)
	getDataRe     = regexp.MustCompile(`\bpkgutil\.get_data\(\s*(['"])([A-Za-z_][\w.]*)['"]\s*,\s*(['"])([^'"]+)['"]\s*\)`)
	identRe       = regexp.MustCompile(`^[A-Za-z_][\w]*$`)
)

// ScanImports extracts module references from Python source. It understands
// plain and relative imports, parenthesized and continued import lists,
// literal __import__/importlib.import_module calls and pkgutil.get_data.
// Strings and comments are ignored.
func ScanImports(src []byte) []ImportRef {
	refs := make([]ImportRef, 0)
	for _, stmt := range logicalLines(src) {
		for _, part := range splitStatements(stmt.text) {
			refs = append(refs, parseStatement(part, stmt.line)...)
		}
		if strings.Contains(stmt.text, "import__(") || strings.Contains(stmt.text, "import_module(") ||
			strings.Contains(stmt.text, "get_data(") {
			refs = append(refs, scanCalls(stmt.raw, stmt.line)...)
		}
	}
	return refs
}

type logicalLine struct {
	// text has string literal contents blanked and comments removed
	text string
	// raw keeps string literals so literal call arguments can be read
	raw  string
	line int
}

// logicalLines joins physical lines into logical lines, following backslash
// continuations and open brackets, and strips comments and triple-quoted strings.
func logicalLines(src []byte) []logicalLine {
	out := make([]logicalLine, 0)
	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	var text, raw strings.Builder
	start, lineNo, depth := 0, 0, 0
	var inTriple string

	flush := func() {
		if strings.TrimSpace(text.String()) != "" {
			out = append(out, logicalLine{text: text.String(), raw: raw.String(), line: start})
		}
		text.Reset()
		raw.Reset()
		depth = 0
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if text.Len() == 0 && inTriple == "" {
			start = lineNo
		}

		continued := false
		for i := 0; i < len(line); i++ {
			c := line[i]

			if inTriple != "" {
				if strings.HasPrefix(line[i:], inTriple) {
					i += len(inTriple) - 1
					inTriple = ""
					text.WriteString(`""`)
					raw.WriteString(`""`)
				}
				continue
			}

			switch {
			case c == '#':
				i = len(line)
				continue
			case strings.HasPrefix(line[i:], `"""`) || strings.HasPrefix(line[i:], `'''`):
				inTriple = line[i : i+3]
				i += 2
				continue
			case c == '"' || c == '\'':
				end := closingQuote(line, i)
				text.WriteString(`""`)
				raw.WriteString(line[i:end])
				i = end - 1
				continue
			case c == '(' || c == '[' || c == '{':
				depth++
			case c == ')' || c == ']' || c == '}':
				if depth > 0 {
					depth--
				}
			case c == '\\' && i == len(line)-1:
				continued = true
				continue
			}
			text.WriteByte(c)
			raw.WriteByte(c)
		}

		if inTriple != "" || continued || depth > 0 {
			text.WriteByte(' ')
			raw.WriteByte(' ')
			continue
		}
		flush()
	}
	flush()
	return out
}

// closingQuote returns the index just past the string literal starting at i.
func closingQuote(line string, i int) int {
	quote := line[i]
	for j := i + 1; j < len(line); j++ {
		switch line[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(line)
}

// splitStatements splits a logical line on semicolons and compound statement
// headers so that "if x: import y" yields "import y".
func splitStatements(line string) []string {
	parts := make([]string, 0, 1)
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if idx := strings.LastIndex(part, ":"); idx >= 0 && !strings.HasPrefix(part, "import") && !strings.HasPrefix(part, "from") {
			part = strings.TrimSpace(part[idx+1:])
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func parseStatement(stmt string, line int) []ImportRef {
	fields := strings.Fields(stmt)
	if len(fields) < 2 {
		return nil
	}

	switch fields[0] {
	case "import":
		refs := make([]ImportRef, 0)
		for _, item := range strings.Split(strings.TrimPrefix(stmt, "import"), ",") {
			name := firstWord(item)
			if isDotted(name) {
				refs = append(refs, ImportRef{Module: name, Line: line})
			}
		}
		return refs

	case "from":
		rest := strings.TrimSpace(strings.TrimPrefix(stmt, "from"))
		idx := strings.Index(rest, " import ")
		if idx < 0 {
			p := strings.Index(rest, " import(")
			if p < 0 {
				return nil
			}
			rest = rest[:p] + " import " + rest[p+len(" import"):]
			idx = p
		}
		source := strings.TrimSpace(rest[:idx])
		level := len(source) - len(strings.TrimLeft(source, "."))
		module := strings.TrimLeft(source, ".")
		if module != "" && !isDotted(module) {
			return nil
		}

		names := make([]string, 0)
		list := strings.Trim(strings.TrimSpace(rest[idx+len(" import "):]), "()")
		for _, item := range strings.Split(list, ",") {
			name := firstWord(item)
			if name == "*" || identRe.MatchString(name) {
				names = append(names, name)
			}
		}
		return []ImportRef{{Module: module, Names: names, Level: level, Line: line}}
	}
	return nil
}

// scanCalls finds __import__, import_module and pkgutil.get_data calls.
func scanCalls(raw string, line int) []ImportRef {
	refs := make([]ImportRef, 0)
	for _, loc := range dynamicCallRe.FindAllStringIndex(raw, -1) {
		if m := literalArgRe.FindStringSubmatch(raw[loc[1]:]); m != nil && m[1] == m[3] {
			refs = append(refs, ImportRef{Module: m[2], Line: line})
			continue
		}
		refs = append(refs, ImportRef{Dynamic: true, Line: line})
	}
	for _, m := range getDataRe.FindAllStringSubmatch(raw, -1) {
		refs = append(refs, ImportRef{Module: m[2], DataFile: m[4], Line: line})
	}
	return refs
}

func firstWord(s string) string {
	fields := strings.Fields(strings.Trim(strings.TrimSpace(s), "()"))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isDotted(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if !identRe.MatchString(part) {
			return false
		}
	}
	return true
}
