package loom

import (
	"regexp"
	"strings"
	"time"
)

// line is one source line with its original terminator ("" for a final
// unterminated line).
type line struct {
	text string
	eol  string
}

func splitLines(s string) []line {
	var out []line
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			out = append(out, line{text: s})
			break
		}
		text, eol := s[:i], "\n"
		if strings.HasSuffix(text, "\r") {
			text, eol = text[:len(text)-1], "\r\n"
		}
		out = append(out, line{text: text, eol: eol})
		s = s[i+1:]
	}
	return out
}

func joinLines(lines []line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.text)
		b.WriteString(l.eol)
	}
	return b.String()
}

// normalizeLine makes exact matching lenient: trailing whitespace is
// ignored and leading tabs count as four spaces, so an anchor written with
// spaces finds a tab-indented original. The file itself is never rewritten
// to the normalized form.
func normalizeLine(s string) string {
	s = strings.TrimRight(s, " \t")
	var b strings.Builder
	i := 0
	for ; i < len(s); i++ {
		switch s[i] {
		case '\t':
			b.WriteString("    ")
		case ' ':
			b.WriteByte(' ')
		default:
			b.WriteString(s[i:])
			return b.String()
		}
	}
	return b.String()
}

// findExact locates every occurrence of a (possibly multi-line) spec in the
// file, comparing normalized lines. Returned ranges are [start, end) line
// indexes.
func findExact(lines []line, spec string) [][2]int {
	specLines := strings.Split(strings.TrimSuffix(spec, "\n"), "\n")
	normSpec := make([]string, len(specLines))
	for i, s := range specLines {
		normSpec[i] = normalizeLine(strings.TrimSuffix(s, "\r"))
	}

	var out [][2]int
	for i := 0; i+len(normSpec) <= len(lines); i++ {
		match := true
		for j, want := range normSpec {
			if normalizeLine(lines[i+j].text) != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, [2]int{i, i + len(normSpec)})
		}
	}
	return out
}

// findRegex locates pattern matches as line ranges. The stdlib engine is
// non-backtracking (RE2), so evaluation is linear; the budget is a second
// fence against pathological input sizes.
func findRegex(lines []line, pattern string, budget time.Duration) ([][2]int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	type result struct {
		ranges [][2]int
	}
	done := make(chan result, 1)

	go func() {
		var ranges [][2]int
		for i, l := range lines {
			if re.MatchString(l.text) {
				ranges = append(ranges, [2]int{i, i + 1})
			}
		}
		done <- result{ranges: ranges}
	}()

	select {
	case r := <-done:
		return r.ranges, nil
	case <-time.After(budget):
		return nil, &RegexTimeoutError{Pattern: pattern}
	}
}

// contentLines converts edit content into lines carrying the file's EOL
// style. The inserted block always ends with a terminator.
func contentLines(content, eol string) []line {
	if content == "" {
		return nil
	}
	parts := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	out := make([]line, len(parts))
	for i, p := range parts {
		out[i] = line{text: strings.TrimSuffix(p, "\r"), eol: eol}
	}
	return out
}

// dominantEOL picks the terminator style for inserted content.
func dominantEOL(lines []line) string {
	for _, l := range lines {
		if l.eol == "\r\n" {
			return "\r\n"
		}
		if l.eol == "\n" {
			return "\n"
		}
	}
	return "\n"
}
