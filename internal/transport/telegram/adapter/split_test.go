package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortTextUnchanged(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("Reminder: tea", 0)
	if len(got) != 1 || got[0] != "Reminder: tea" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitRespectsLimitAndNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("x", 30)
	text := strings.Repeat(line+"\n", 10)

	chunks := splitTelegramText(text, 100)
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 100 {
			t.Fatalf("chunk over limit: %d runes", utf8.RuneCountInString(c))
		}
		if strings.HasSuffix(c, "\n") || strings.HasPrefix(c, "\n") {
			t.Fatalf("chunk keeps newline edges: %q", c)
		}
	}
	if strings.Join(chunks, "\n") != strings.TrimRight(text, "\n") {
		t.Fatal("content lost while splitting")
	}
}

func TestSplitMultibyte(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("é", 250)
	chunks := splitTelegramText(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("content lost")
	}
}
