package playback

import (
	"errors"
	"testing"
)

const clipSize = 48_000_000 // a 60s clip at roughly 6.4 Mbit/s

func TestParseRange(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		size    int64
		want    *Range
		wantErr error
	}{
		{name: "no header", header: "", size: clipSize},
		{name: "player probe", header: "bytes=0-1", size: clipSize, want: &Range{0, 1}},
		{name: "open ended seek", header: "bytes=24000000-", size: clipSize, want: &Range{24_000_000, clipSize - 1}},
		{name: "moov atom at tail", header: "bytes=-65536", size: clipSize, want: &Range{clipSize - 65536, clipSize - 1}},
		{name: "whole file", header: "bytes=0-", size: clipSize, want: &Range{0, clipSize - 1}},
		{name: "end clamped", header: "bytes=100-99999999999", size: clipSize, want: &Range{100, clipSize - 1}},
		{name: "suffix over size", header: "bytes=-2000", size: 500, want: &Range{0, 499}},
		{name: "first of several", header: "bytes=10-19, 40-49", size: 100, want: &Range{10, 19}},
		{name: "spaces around set", header: "bytes= 5-9", size: 100, want: &Range{5, 9}},

		{name: "start at size", header: "bytes=100-", size: 100, wantErr: ErrUnsatisfiable},
		{name: "start past size", header: "bytes=150-200", size: 100, wantErr: ErrUnsatisfiable},
		{name: "empty file", header: "bytes=0-", size: 0, wantErr: ErrUnsatisfiable},
		{name: "not bytes", header: "seconds=0-10", size: 100, wantErr: ErrInvalidRange},
		{name: "missing dash", header: "bytes=10", size: 100, wantErr: ErrInvalidRange},
		{name: "garbage start", header: "bytes=x-10", size: 100, wantErr: ErrInvalidRange},
		{name: "garbage end", header: "bytes=0-y", size: 100, wantErr: ErrInvalidRange},
		{name: "zero suffix", header: "bytes=-0", size: 100, wantErr: ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseRange(%q) error = %v, want %v", tt.header, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q) unexpected error: %v", tt.header, err)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("ParseRange(%q) = %+v, want nil", tt.header, *got)
			case tt.want != nil && got == nil:
				t.Fatalf("ParseRange(%q) = nil, want %+v", tt.header, *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Fatalf("ParseRange(%q) = %+v, want %+v", tt.header, *got, *tt.want)
			}
		})
	}
}

func TestRange_Headers(t *testing.T) {
	r := Range{Start: 24_000_000, End: clipSize - 1}
	if got := r.ContentLength(); got != 24_000_000 {
		t.Errorf("ContentLength() = %d, want 24000000", got)
	}
	if got, want := r.ContentRange(clipSize), "bytes 24000000-47999999/48000000"; got != want {
		t.Errorf("ContentRange() = %q, want %q", got, want)
	}

	single := Range{Start: 0, End: 0}
	if got := single.ContentLength(); got != 1 {
		t.Errorf("single byte ContentLength() = %d, want 1", got)
	}
}
