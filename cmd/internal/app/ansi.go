package app

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// ANSI SGR sequences used by the pretty handler. Color is applied only when
// the handler was constructed with color enabled.
const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// stripANSI removes CSI escape sequences, leaving only printable text.
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == 0x1b {
			i = skipANSISequence(s, i)
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// visualLen is the on-screen rune count of s, ignoring escape sequences.
func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// truncateANSI keeps at most max printable runes of s. Escape sequences are
// carried through uncounted so color resets survive the cut.
func truncateANSI(s string, max int) string {
	if max <= 0 {
		return ""
	}
	var b strings.Builder
	count := 0
	for i := 0; i < len(s); {
		if s[i] == 0x1b {
			j := skipANSISequence(s, i)
			b.WriteString(s[i:j])
			i = j
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if count >= max {
			continue
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// skipANSISequence returns the index just past the escape sequence starting
// at i. CSI sequences end at the first byte in the final-byte range.
func skipANSISequence(s string, i int) int {
	j := i + 1
	if j < len(s) && s[j] == '[' {
		j++
		for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
			j++
		}
	}
	if j < len(s) {
		j++
	}
	return j
}

// wrapSegments lays segments out into lines no wider than width (measured
// visually, so color codes are free). Segments on the same line are joined
// with sep; continuation lines start with contPrefix. A single segment wider
// than the line is truncated with an ellipsis rather than overflowing.
func wrapSegments(segments []string, sep string, width int, contPrefix string) []string {
	if width <= 0 {
		return []string{strings.Join(segments, sep)}
	}

	var lines []string
	cur := ""
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if cur == "" {
			if len(lines) > 0 {
				cur = contPrefix + seg
			} else {
				cur = seg
			}
			continue
		}
		if visualLen(cur)+visualLen(sep)+visualLen(seg) <= width {
			cur += sep + seg
			continue
		}
		lines = append(lines, cur)
		cur = contPrefix + seg
	}
	if cur != "" {
		lines = append(lines, cur)
	}

	for i, line := range lines {
		if visualLen(line) > width {
			lines[i] = truncateANSI(line, width-1) + "…"
		}
	}
	return lines
}

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case "GET", "HEAD":
		return ansiGreen + method + ansiReset
	case "POST":
		return ansiCyan + method + ansiReset
	case "PUT", "PATCH":
		return ansiYellow + method + ansiReset
	case "DELETE":
		return ansiRed + method + ansiReset
	default:
		return method
	}
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	if !color {
		return s
	}
	switch {
	case code >= 500:
		return ansiRed + s + ansiReset
	case code >= 400:
		return ansiYellow + s + ansiReset
	case code >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func colorizeStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	case "3xx":
		return ansiCyan + class + ansiReset
	case "2xx":
		return ansiGreen + class + ansiReset
	default:
		return class
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 100:
		return ansiYellow + s + ansiReset
	default:
		return applyDim(s, true)
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "success":
		return ansiGreen + result + ansiReset
	case "redirect":
		return ansiCyan + result + ansiReset
	case "client_error":
		return ansiYellow + result + ansiReset
	case "server_error":
		return ansiRed + result + ansiReset
	default:
		return result
	}
}
