package segloss

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}

	return path
}

func TestLoadHyp(t *testing.T) {

	path := writeFile(t, "hyp.yaml", `
box: 0.05
obj: 1.0
cls: 0.5
anchor_t: 4.0
fl_gamma: 0.0
label_smoothing: 0.1
`)

	h, err := LoadHyp(path)

	if err != nil {
		t.Fatalf("LoadHyp failed: %v", err)
	}

	if h.Box != 0.05 || h.Obj != 1.0 || h.Cls != 0.5 ||
		h.AnchorT != 4.0 || h.LabelSmoothing != 0.1 {
		t.Errorf("unexpected hyperparameters: %+v", h)
	}
}

func TestLoadHypInvalid(t *testing.T) {

	path := writeFile(t, "hyp.yaml", "box: 0.05\nanchor_t: 0\n")

	if _, err := LoadHyp(path); !errors.Is(err, ErrConfig) {
		t.Errorf("zero anchor_t accepted: %v", err)
	}
}

func TestLoadAnchors(t *testing.T) {

	path := writeFile(t, "anchors.yaml", `
anchors:
  - [10, 13, 16, 30, 33, 23]
  - [30, 61, 62, 45, 59, 119]
  - [116, 90, 156, 198, 373, 326]
strides: [8, 16, 32]
`)

	anchors, strides, err := LoadAnchors(path)

	if err != nil {
		t.Fatalf("LoadAnchors failed: %v", err)
	}

	if len(anchors) != 3 || len(strides) != 3 {
		t.Fatalf("got %d anchor layers and %d strides", len(anchors), len(strides))
	}

	// anchors come back divided by their layer stride
	if anchors[0][0] != [2]float32{10.0 / 8, 13.0 / 8} {
		t.Errorf("layer 0 anchor 0 = %v, want stride divided", anchors[0][0])
	}

	if anchors[2][2] != [2]float32{373.0 / 32, 326.0 / 32} {
		t.Errorf("layer 2 anchor 2 = %v, want stride divided", anchors[2][2])
	}
}

func TestDivideAnchorsErrors(t *testing.T) {

	// odd anchor list
	if _, err := DivideAnchors([][]float32{{10, 13, 16}}, []float32{8}); !errors.Is(err, ErrConfig) {
		t.Errorf("odd anchor list accepted: %v", err)
	}

	// layer/stride count mismatch
	if _, err := DivideAnchors([][]float32{{10, 13}}, []float32{8, 16}); !errors.Is(err, ErrConfig) {
		t.Errorf("layer count mismatch accepted: %v", err)
	}
}
