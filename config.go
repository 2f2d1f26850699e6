package segloss

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Hyp holds the training hyperparameters consumed by the loss.  Field names
// match the keys used in the hyperparameter YAML files the detector family is
// trained with.
type Hyp struct {
	// Box is the box loss gain
	Box float32 `yaml:"box"`
	// Obj is the objectness loss gain
	Obj float32 `yaml:"obj"`
	// Cls is the classification loss gain
	Cls float32 `yaml:"cls"`
	// AnchorT is the maximum allowed ratio between target and anchor
	// width/height, or its reciprocal, for the anchor to match
	AnchorT float32 `yaml:"anchor_t"`
	// FlGamma is the focal loss gamma, zero disables focal loss
	FlGamma float32 `yaml:"fl_gamma"`
	// LabelSmoothing is the class label smoothing epsilon
	LabelSmoothing float32 `yaml:"label_smoothing"`
}

// LoadHyp reads training hyperparameters from a YAML file
func LoadHyp(file string) (Hyp, error) {

	var h Hyp

	buf, err := os.ReadFile(file)

	if err != nil {
		return h, fmt.Errorf("error reading hyp file: %w", err)
	}

	if err := yaml.Unmarshal(buf, &h); err != nil {
		return h, fmt.Errorf("error parsing hyp file: %w", err)
	}

	if h.AnchorT <= 0 {
		return h, fmt.Errorf("%w: anchor_t must be positive, got %f",
			ErrConfig, h.AnchorT)
	}

	return h, nil
}

// AnchorsFile is the on disk format of the anchors YAML file, one flat list
// of anchor width/height pixel pairs per detection layer plus the layer
// strides.
type AnchorsFile struct {
	Anchors [][]float32 `yaml:"anchors"`
	Strides []float32   `yaml:"strides"`
}

// LoadAnchors reads anchor templates from a YAML file and returns them
// divided by each layer's stride, which is the unit the loss works in.  The
// result has shape [layers][anchorsPerLayer][2].
func LoadAnchors(file string) ([][][2]float32, []float32, error) {

	buf, err := os.ReadFile(file)

	if err != nil {
		return nil, nil, fmt.Errorf("error reading anchors file: %w", err)
	}

	var af AnchorsFile

	if err := yaml.Unmarshal(buf, &af); err != nil {
		return nil, nil, fmt.Errorf("error parsing anchors file: %w", err)
	}

	anchors, err := DivideAnchors(af.Anchors, af.Strides)

	if err != nil {
		return nil, nil, err
	}

	return anchors, af.Strides, nil
}

// DivideAnchors converts flat per-layer anchor pixel lists into stride
// divided (w,h) pairs
func DivideAnchors(anchors [][]float32, strides []float32) ([][][2]float32, error) {

	if len(anchors) != len(strides) {
		return nil, fmt.Errorf("%w: %d anchor layers but %d strides",
			ErrConfig, len(anchors), len(strides))
	}

	out := make([][][2]float32, len(anchors))

	for i, layer := range anchors {

		if len(layer) == 0 || len(layer)%2 != 0 {
			return nil, fmt.Errorf("%w: layer %d anchor list length %d is not "+
				"an even count of (w,h) pairs", ErrConfig, i, len(layer))
		}

		if strides[i] <= 0 {
			return nil, fmt.Errorf("%w: layer %d stride must be positive, got %f",
				ErrConfig, i, strides[i])
		}

		pairs := make([][2]float32, len(layer)/2)

		for a := 0; a < len(layer); a += 2 {
			pairs[a/2] = [2]float32{
				layer[a] / strides[i],
				layer[a+1] / strides[i],
			}
		}

		out[i] = pairs
	}

	return out, nil
}
