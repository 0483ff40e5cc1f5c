package shell

import (
	"strings"
	"testing"
)

func TestOutputBufferKeepsTail(t *testing.T) {
	tests := []struct {
		name      string
		writes    []string
		want      string
		truncated bool
	}{
		{"under limit", []string{"ab"}, "ab", false},
		{"exactly limit", []string{"ab", "cd"}, "abcd", false},
		{"wraps", []string{"ab", "cdef"}, "cdef", true},
		{"wraps twice", []string{"abc", "de", "fghij"}, "ghij", true},
		{"single large write", []string{"a", "0123456789"}, "6789", true},
		{"small writes past limit", []string{"a", "b", "c", "d", "e", "f"}, "cdef", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewOutputBuffer(4)
			for _, w := range tt.writes {
				if n, err := b.Write([]byte(w)); err != nil || n != len(w) {
					t.Fatalf("Write(%q) = %d, %v", w, n, err)
				}
			}
			if got := b.String(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if b.Truncated() != tt.truncated {
				t.Errorf("expected truncated=%v", tt.truncated)
			}
		})
	}
}

func TestOutputBufferGrowsLazily(t *testing.T) {
	b := NewOutputBuffer(0)
	if cap(b.buf) != 0 {
		t.Fatalf("expected no storage before the first write, got cap %d", cap(b.buf))
	}
	_, _ = b.Write([]byte("hello"))
	if cap(b.buf) >= DefaultMaxOutput {
		t.Errorf("small output allocated the full limit (cap %d)", cap(b.buf))
	}

	_, _ = b.Write([]byte(strings.Repeat("x", DefaultMaxOutput)))
	if len(b.String()) != DefaultMaxOutput || !b.Truncated() {
		t.Errorf("expected output capped at %d bytes", DefaultMaxOutput)
	}
}
