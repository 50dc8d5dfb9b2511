package telegramtransport

import (
	"strings"
	"testing"
)

func TestToTelegramHTMLBoldAndItalic(t *testing.T) {
	got := ToTelegramHTML("**bold** and _italic_")
	want := "<b>bold</b> and <i>italic</i>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestToTelegramHTMLCodeBlock(t *testing.T) {
	got := ToTelegramHTML("```\nfmt.Println(1)\n```")
	if !strings.Contains(got, "<pre>") || !strings.Contains(got, "</pre>") {
		t.Fatalf("expected a <pre> block, got %q", got)
	}
}

func TestToTelegramHTMLList(t *testing.T) {
	got := ToTelegramHTML("- one\n- two\n")
	if !strings.Contains(got, "• one") || !strings.Contains(got, "• two") {
		t.Fatalf("expected bullet items, got %q", got)
	}
}

func TestToTelegramHTMLLink(t *testing.T) {
	got := ToTelegramHTML("[docs](https://example.com)")
	want := `<a href="https://example.com">docs</a>`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestToTelegramHTMLEmptyInput(t *testing.T) {
	if got := ToTelegramHTML("   "); got != "   " {
		t.Fatalf("whitespace-only input should pass through unchanged, got %q", got)
	}
}
