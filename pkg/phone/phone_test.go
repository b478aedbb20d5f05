package phone

import (
	"errors"
	"testing"
)

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "canonical US", in: "+16502530000", want: "+16502530000"},
		{name: "spaces stripped", in: " +1 650 253 0000 ", want: "+16502530000"},
		{name: "UK", in: "+44 20 7946 0000", want: "+442079460000"},
		{name: "no plus prefix", in: "6502530000", wantErr: true},
		{name: "too short", in: "+1234", wantErr: true},
		{name: "garbage", in: "+not-a-number", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeE164(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NormalizeE164(%q): expected error, got %q", tc.in, got)
				}
				if !errors.Is(err, ErrInvalidNumber) {
					t.Fatalf("error should wrap ErrInvalidNumber, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeE164(%q): unexpected error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeE164(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRegionCode(t *testing.T) {
	if got := RegionCode("+16502530000"); got != "US" {
		t.Fatalf("RegionCode US = %q", got)
	}
	if got := RegionCode("+442079460000"); got != "GB" {
		t.Fatalf("RegionCode GB = %q", got)
	}
	if got := RegionCode("junk"); got != "" {
		t.Fatalf("RegionCode junk = %q, want empty", got)
	}
}
