package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestWrapSegments_WrapsForNarrowWidth(t *testing.T) {
	t.Parallel()

	s1 := strings.Repeat("a", 20)
	s2 := strings.Repeat("b", 20)
	s3 := strings.Repeat("c", 20)

	lines := wrapSegments(
		[]string{s1, s2, s3},
		" | ",
		60,
		"-> ",
	)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d (%v)", len(lines), lines)
	}
	if lines[0] != s1+" | "+s2 {
		t.Fatalf("line[0]=%q want %q", lines[0], s1+" | "+s2)
	}
	if lines[1] != "-> "+s3 {
		t.Fatalf("line[1]=%q want %q", lines[1], "-> "+s3)
	}
}

func TestWrapSegments_TruncatesLongSegment(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 80)

	lines := wrapSegments(
		[]string{long},
		" | ",
		60,
		"-> ",
	)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if visualLen(lines[0]) > 60 {
		t.Fatalf("line too wide: %q (visualLen=%d)", lines[0], visualLen(lines[0]))
	}
	if !strings.Contains(lines[0], "…") {
		t.Fatalf("expected truncation marker in %q", lines[0])
	}
}

func TestWrapSegments_ColorCodesAreFree(t *testing.T) {
	t.Parallel()

	seg := ansiGreen + strings.Repeat("y", 30) + ansiReset
	lines := wrapSegments([]string{seg, seg}, " ", 61, "-> ")
	if len(lines) != 1 {
		t.Fatalf("expected colored segments to share one line, got %d (%v)", len(lines), lines)
	}
}

func TestTerminalWidth_PrefersExplicitOverride(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("TALLY_LOG_WIDTH", "88")
	t.Setenv("COLUMNS", "132")
	if got := h.terminalWidth(); got != 88 {
		t.Fatalf("terminalWidth()=%d want 88", got)
	}
}

func TestTerminalWidth_UsesColumnsWhenOverrideMissing(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("TALLY_LOG_WIDTH", "")
	t.Setenv("COLUMNS", "72")
	if got := h.terminalWidth(); got != 72 {
		t.Fatalf("terminalWidth()=%d want 72", got)
	}
}

func TestTerminalWidth_FallbackDefault(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("TALLY_LOG_WIDTH", "10")
	t.Setenv("COLUMNS", "20")
	if got := h.terminalWidth(); got != 100 {
		t.Fatalf("terminalWidth()=%d want 100", got)
	}
}

func TestPrettyHandlerFormatsRecord(t *testing.T) {
	t.Setenv("TALLY_LOG_WIDTH", "400")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.Info("http.request",
		"method", "get",
		"status", 200,
		"status_class", "2xx",
		"duration_ms", 3,
		"user_agent", "curl/8 test",
	)

	out := buf.String()
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=http.request",
		"method=GET",
		"status=200",
		"class=2xx",
		"duration=3ms",
		`user_agent="curl/8 test"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b") {
		t.Fatalf("color disabled but output has escapes:\n%s", out)
	}
}

func TestPrettyHandlerFlattensGroups(t *testing.T) {
	t.Setenv("TALLY_LOG_WIDTH", "400")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.WithGroup("http").Info("req", "path", "/healthz", slog.Group("peer", "addr", "10.0.0.1"))

	out := buf.String()
	if !strings.Contains(out, "http.path=/healthz") {
		t.Fatalf("group key not flattened:\n%s", out)
	}
	if !strings.Contains(out, "http.peer.addr=10.0.0.1") {
		t.Fatalf("nested group key not flattened:\n%s", out)
	}
}

func TestPrettyHandlerWrapsNarrowTerminal(t *testing.T) {
	t.Setenv("TALLY_LOG_WIDTH", "48")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.Info("server.start",
		"addr", "0.0.0.0:8080",
		"base_url", "http://127.0.0.1:8080",
		"ws_url", "ws://127.0.0.1:8080/ws",
	)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected wrapped output, got %d line(s): %q", len(lines), lines)
	}
	for i, line := range lines {
		if visualLen(line) > 48 {
			t.Fatalf("line %d exceeds width: %q", i, line)
		}
		if i > 0 && !strings.HasPrefix(line, prettyContPrefix) {
			t.Fatalf("continuation line %d missing prefix: %q", i, line)
		}
	}
}
