package errors

import (
	stdErrors "errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8KeepsRuneBoundaries(t *testing.T) {
	msg := strings.Repeat("a", 1023) + "ñandú"

	got := TruncateUTF8(msg, 1024)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated message is not valid UTF-8: %q", got[len(got)-4:])
	}
	if len(got) != 1023 {
		t.Fatalf("expected cut before the split rune, got %d bytes", len(got))
	}

	if got := TruncateUTF8(msg, 1025); got != strings.Repeat("a", 1023)+"ñ" {
		t.Fatalf("expected whole rune kept, got tail %q", got[1020:])
	}
	if got := TruncateUTF8("short", 1024); got != "short" {
		t.Fatalf("short strings must pass through, got %q", got)
	}
	if got := TruncateUTF8("abc", 0); got != "" {
		t.Fatalf("zero budget should yield empty string, got %q", got)
	}
}

func TestSummary(t *testing.T) {
	if Summary(nil, 10) != "" {
		t.Fatalf("nil error should summarize to empty string")
	}
	got := Summary(stdErrors.New("pedido rechazado: dirección inválida"), 32)
	if !utf8.ValidString(got) || len(got) > 32 {
		t.Fatalf("unexpected summary %q (%d bytes)", got, len(got))
	}
}
