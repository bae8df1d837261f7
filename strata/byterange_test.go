package strata

import (
	"bytes"
	"testing"
)

func TestByteRange_Slice(t *testing.T) {
	data := []byte("first")
	tests := []struct {
		name string
		rng  ByteRange
		want string
	}{
		{"all", AllBytes(), "first"},
		{"zero value", ByteRange{}, "first"},
		{"bounded", Bounded(0, 3), "fir"},
		{"from offset", FromOffset(2), "rst"},
		{"to offset", ToOffset(4), "firs"},
		{"bounded past end", Bounded(3, 100), "st"},
		{"start past end", FromOffset(10), ""},
		{"inverted", Bounded(4, 2), ""},
		{"empty", Bounded(2, 2), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rng.Slice(data)
			if !bytes.Equal(got, []byte(tt.want)) {
				t.Errorf("%s.Slice(%q) = %q, want %q", tt.rng, data, got, tt.want)
			}
		})
	}
}

func TestByteRange_Window(t *testing.T) {
	// Payload occupies [1, 6) of "second0000".
	tests := []struct {
		rng       ByteRange
		wantStart uint64
		wantLen   uint64
	}{
		{AllBytes(), 1, 5},
		{Bounded(0, 3), 1, 3},
		{FromOffset(2), 3, 3},
		{ToOffset(4), 1, 4},
		{Bounded(2, 50), 3, 3},
		{FromOffset(9), 6, 0},
	}
	for _, tt := range tests {
		start, n := tt.rng.Window(1, 5)
		if start != tt.wantStart || n != tt.wantLen {
			t.Errorf("%s.Window(1, 5) = (%d, %d), want (%d, %d)", tt.rng, start, n, tt.wantStart, tt.wantLen)
		}
	}
}

func TestByteRange_Accessors(t *testing.T) {
	if !AllBytes().IsAll() || Bounded(0, 1).IsAll() || FromOffset(1).IsAll() {
		t.Error("IsAll mismatch")
	}
	if end, ok := ToOffset(7).End(); !ok || end != 7 {
		t.Errorf("ToOffset(7).End() = %d, %v", end, ok)
	}
	if _, ok := FromOffset(3).End(); ok {
		t.Error("FromOffset should be unbounded")
	}
}
