package foreground

import (
	"math"
	"testing"

	"github.com/ironsheep/wsi-tools-mcp/internal/pyramid"
)

func TestVariance_Uniform(t *testing.T) {
	for _, v := range []uint8{0, 128, 255} {
		tile := pyramid.NewRegion(16, 16, v)
		if got := Variance(tile); got != 0 {
			t.Errorf("Variance of uniform %d: got %v, want 0", v, got)
		}
		if Classify(tile, 0) {
			t.Errorf("uniform %d classified as foreground with threshold 0", v)
		}
	}
}

func TestVariance_KnownValue(t *testing.T) {
	// Samples 0 and 20 in equal number: mean 10, population variance 100.
	tile := pyramid.NewRegion(2, 1, 0)
	tile.SetRGB(0, 1, 20, 20, 20)

	got := Variance(tile)
	if math.Abs(got-100) > 1e-9 {
		t.Errorf("Variance: got %v, want 100", got)
	}
}

func TestVariance_FlattensChannels(t *testing.T) {
	// One pixel with distinct channels still has spread.
	tile := pyramid.NewRegion(1, 1, 0)
	tile.SetRGB(0, 0, 0, 30, 60)

	// mean 30, deviations -30, 0, 30 -> variance 600.
	if got := Variance(tile); math.Abs(got-600) > 1e-9 {
		t.Errorf("Variance: got %v, want 600", got)
	}
}

func TestVariance_Empty(t *testing.T) {
	if got := Variance(nil); got != 0 {
		t.Errorf("Variance(nil): got %v, want 0", got)
	}
	if Classify(&pyramid.Region{}, DefaultThreshold) {
		t.Error("empty region classified as foreground")
	}
}

func TestClassify_ThresholdIsStrict(t *testing.T) {
	tile := pyramid.NewRegion(2, 1, 0)
	tile.SetRGB(0, 1, 20, 20, 20) // variance exactly 100

	tests := []struct {
		threshold float64
		want      bool
	}{
		{99.9, true},
		{100, false},
		{100.1, false},
	}
	for _, tt := range tests {
		if got := Classify(tile, tt.threshold); got != tt.want {
			t.Errorf("Classify(threshold=%v): got %v, want %v", tt.threshold, got, tt.want)
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	tile := pyramid.NewRegion(8, 8, 0)
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			v := uint8((row*37 + col*91) % 256)
			tile.SetRGB(row, col, v, v/2, 255-v)
		}
	}

	first := Classify(tile, DefaultThreshold)
	for i := 0; i < 5; i++ {
		if Classify(tile, DefaultThreshold) != first {
			t.Fatal("Classify is not deterministic")
		}
	}
	if !first {
		t.Error("patterned tile classified as background")
	}
}

func TestClassifier_TypeAcceptsClassify(t *testing.T) {
	var c Classifier = Classify
	if c(pyramid.NewRegion(4, 4, 200), DefaultThreshold) {
		t.Error("uniform tile classified as foreground")
	}
}
