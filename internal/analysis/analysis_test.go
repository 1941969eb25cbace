package analysis

import (
	"errors"
	"math"
	"math/cmplx"
	"strings"
	"testing"
)

func TestFFT(t *testing.T) {
	x, err := FFT([]float64{1, 0, 0, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range x {
		if cmplx.Abs(v-1) > 1e-12 {
			t.Errorf("impulse bin %d = %v, want 1", k, v)
		}
	}

	x, _ = FFT([]float64{1, 0, -1, 0})
	want := []complex128{0, 2, 0, 2}
	for k := range want {
		if cmplx.Abs(x[k]-want[k]) > 1e-12 {
			t.Errorf("cosine bin %d = %v, want %v", k, x[k], want[k])
		}
	}

	if _, err := FFT([]float64{1, 2, 3}); !errors.Is(err, ErrLength) {
		t.Errorf("err = %v, want ErrLength", err)
	}
}

func TestSpectrumPeak(t *testing.T) {
	const rate = 1000.0
	samples := make([]float64, 1024)
	for i := range samples {
		samples[i] = 0.5 + 0.2*math.Sin(2*math.Pi*10*float64(i)/rate)
	}

	f, amp := Spectrum(samples, rate).Peak()
	if math.Abs(f-10) > 1 {
		t.Errorf("peak frequency = %v, want ~10", f)
	}
	if amp <= 0.1 || amp > 0.25 {
		t.Errorf("peak amplitude = %v, want ~0.2", amp)
	}
}

func TestSpectrumDegenerate(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		rate    float64
	}{
		{"empty", nil, 1000},
		{"single", []float64{1}, 1000},
		{"zero rate", []float64{1, 2, 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, a := Spectrum(tt.samples, tt.rate).Peak()
			if f != 0 || a != 0 {
				t.Errorf("peak = (%v, %v), want zero", f, a)
			}
		})
	}
}

func TestPortraitASCII(t *testing.T) {
	p := NewPortrait("th", []float64{-1, 0, 1}, "thd", []float64{0, 1, 0, 5})
	if len(p.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(p.Points))
	}
	out := p.ASCII(20, 10)
	if strings.Count(out, "\n") != 10 {
		t.Errorf("expected 10 rows, got %q", out)
	}
	if !strings.Contains(out, "•") {
		t.Error("no points plotted")
	}
	if (&Portrait{}).ASCII(10, 5) != "" {
		t.Error("empty portrait should render nothing")
	}
}

func TestSectionCrossings(t *testing.T) {
	cross := []float64{-1, 1, -1, 1, 0.5}
	xs := []float64{0, 1, 2, 3, 4}
	s := NewSection(cross, 0, xs, xs)
	if len(s.Points) != 2 || s.Points[0].X != 1 || s.Points[1].X != 3 {
		t.Errorf("points = %v", s.Points)
	}
}

func TestPortraitSVG(t *testing.T) {
	p := NewPortrait("th", []float64{0, 1, 2}, "thd", []float64{0, 1, 0})
	svg := p.SVG(200, 100, "#00ff88")
	if !strings.HasPrefix(svg, "<?xml") || !strings.HasSuffix(svg, "</svg>") {
		t.Fatalf("not an svg document: %q", svg)
	}
	if got := strings.Count(svg, " L"); got != 2 {
		t.Errorf("segments = %d, want 2", got)
	}
	if !strings.Contains(svg, "#00ff88") || !strings.Contains(svg, ">thd<") {
		t.Error("missing stroke or label")
	}
	if NewPortrait("a", []float64{1}, "b", []float64{1}).SVG(10, 10, "red") != "" {
		t.Error("single point should render nothing")
	}
}
