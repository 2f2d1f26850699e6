package box

import (
	"math"
	"testing"
)

func TestXYWHRoundTrip(t *testing.T) {

	tests := []XYWH{
		{0.5, 0.5, 1.0, 1.0},
		{10, 20, 4, 8},
		{320, 240, 113, 57},
		{0.015, 0.87, 0.002, 0.33},
	}

	for _, tc := range tests {
		got := tc.ToXYXY().ToXYWH()

		for i := 0; i < 4; i++ {
			if math.Abs(float64(got[i]-tc[i])) > 1e-5 {
				t.Errorf("round trip of %v gave %v", tc, got)
				break
			}
		}
	}
}

func TestXYWHToXYXY(t *testing.T) {

	tests := []struct {
		in   XYWH
		want XYXY
	}{
		{XYWH{5, 5, 2, 4}, XYXY{4, 3, 6, 7}},
		{XYWH{0.5, 0.5, 1, 1}, XYXY{0, 0, 1, 1}},
	}

	for _, tc := range tests {
		if got := tc.in.ToXYXY(); got != tc.want {
			t.Errorf("ToXYXY(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestXYWHNToXYXY(t *testing.T) {

	// normalized box on a 640x640 image with 16px horizontal letterbox pad
	got := XYWHNToXYXY(XYWH{0.5, 0.5, 0.25, 0.5}, 608, 640, 16, 0)
	want := XYXY{244, 160, 396, 480}

	for i := 0; i < 4; i++ {
		if math.Abs(float64(got[i]-want[i])) > 1e-4 {
			t.Fatalf("XYWHNToXYXY = %v, want %v", got, want)
		}
	}
}
