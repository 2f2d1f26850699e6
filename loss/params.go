// Package loss implements target assignment and the multi-task training loss
// for single-stage anchor-based detectors with instance-segmentation heads.
// One call to ComputeLoss.Forward maps a batch of dense per-layer prediction
// tensors, shared mask prototypes and ground truth instances to a scalar
// training loss plus its box/segment/objectness/class breakdown.
package loss

import (
	"fmt"

	segloss "github.com/detstack/go-segloss"
	"github.com/detstack/go-segloss/box"
)

// Target is a single ground truth instance.  Box coordinates are
// center/size, normalized to [0,1] relative to the image.
type Target struct {
	// ImageIdx is the index of the instance's image within the batch
	ImageIdx int
	// Class is the object class index
	Class int
	// Box is the normalized center/size bounding box
	Box box.XYWH
}

// Params are the static configuration of the loss, supplied once at
// construction and immutable afterwards
type Params struct {
	// NumAnchors is the number of anchor templates per detection layer
	NumAnchors int
	// NumLayers is the number of detection layers
	NumLayers int
	// NumClasses is the number of object classes the Model is trained with
	NumClasses int
	// NumMasks is the number of mask prototype coefficients
	NumMasks int
	// Anchors are the per layer anchor (w,h) templates already divided by
	// the layer stride, shape [NumLayers][NumAnchors][2]
	Anchors [][][2]float32
	// Strides are the per layer strides, model input pixels per grid cell
	Strides []float32
	// Grids are the per layer grid dimensions as (height, width)
	Grids [][2]int
	// Overlap selects the coarse mask encoding: true means one mask per
	// image with 1-based per-image instance indices as pixel values,
	// false means pre-separated binary masks indexed globally across the
	// batch
	Overlap bool
	// FlGamma is the focal loss gamma, zero disables focal modulation of
	// the objectness and classification criteria
	FlGamma float32
	// BoxGain, ObjGain and ClsGain are the fixed loss component gains
	BoxGain float32
	ObjGain float32
	ClsGain float32
	// AnchorT is the maximum allowed target to anchor width/height ratio,
	// or its reciprocal, for an anchor to match a target
	AnchorT float32
	// LabelSmoothing is the classification label smoothing epsilon
	LabelSmoothing float32
	// Gr scales the IoU contribution to the soft objectness target,
	// values below 1 blend toward a constant positive target
	Gr float32
	// Autobalance enables the exponential rebalancing of per layer
	// objectness weights across calls
	Autobalance bool
}

// COCOParams returns Params configured for the standard COCO trained
// segmentation Model featuring:
//   - 3 detection layers at strides 8, 16, 32 over a 640x640 input
//   - Anchor Boxes for each stride of:
//   - Stride 8: (10x13), (16x30), (33x23)
//   - Stride 16: (30x61), (62x45), (59x119)
//   - Stride 32: (116x90), (156x198), (373x326)
//   - Object Classes: 80
//   - Mask Coefficients: 32
//   - Loss gains: box 0.05, obj 1.0, cls 0.5
//   - Anchor ratio threshold: 4.0
func COCOParams() Params {

	strides := []float32{8, 16, 32}

	anchors, _ := segloss.DivideAnchors([][]float32{
		{10, 13, 16, 30, 33, 23},
		{30, 61, 62, 45, 59, 119},
		{116, 90, 156, 198, 373, 326},
	}, strides)

	return Params{
		NumAnchors: 3,
		NumLayers:  3,
		NumClasses: 80,
		NumMasks:   32,
		Anchors:    anchors,
		Strides:    strides,
		Grids:      [][2]int{{80, 80}, {40, 40}, {20, 20}},
		Overlap:    true,
		BoxGain:    0.05,
		ObjGain:    1.0,
		ClsGain:    0.5,
		AnchorT:    4.0,
		Gr:         1.0,
	}
}

// WithHyp returns a copy of the Params with the gains and thresholds taken
// from a loaded hyperparameter file
func (p Params) WithHyp(h segloss.Hyp) Params {
	p.BoxGain = h.Box
	p.ObjGain = h.Obj
	p.ClsGain = h.Cls
	p.AnchorT = h.AnchorT
	p.FlGamma = h.FlGamma
	p.LabelSmoothing = h.LabelSmoothing
	return p
}

// validate checks the configuration is internally consistent
func (p Params) validate() error {

	if p.NumLayers <= 0 || p.NumAnchors <= 0 {
		return fmt.Errorf("%w: layer and anchor counts must be positive",
			segloss.ErrConfig)
	}

	if p.NumClasses < 1 || p.NumMasks < 1 {
		return fmt.Errorf("%w: class and mask counts must be positive",
			segloss.ErrConfig)
	}

	if len(p.Anchors) != p.NumLayers {
		return fmt.Errorf("%w: %d anchor layers configured for %d detection layers",
			segloss.ErrConfig, len(p.Anchors), p.NumLayers)
	}

	for i, layer := range p.Anchors {
		if len(layer) != p.NumAnchors {
			return fmt.Errorf("%w: layer %d has %d anchors, want %d",
				segloss.ErrConfig, i, len(layer), p.NumAnchors)
		}
	}

	if len(p.Grids) != p.NumLayers {
		return fmt.Errorf("%w: %d grids configured for %d detection layers",
			segloss.ErrConfig, len(p.Grids), p.NumLayers)
	}

	for i, g := range p.Grids {
		if g[0] <= 0 || g[1] <= 0 {
			return fmt.Errorf("%w: layer %d grid %dx%d must be positive",
				segloss.ErrConfig, i, g[0], g[1])
		}
	}

	if p.AnchorT <= 0 {
		return fmt.Errorf("%w: anchor ratio threshold must be positive",
			segloss.ErrConfig)
	}

	if p.Autobalance && len(p.Strides) != p.NumLayers {
		return fmt.Errorf("%w: autobalance requires %d strides, got %d",
			segloss.ErrConfig, p.NumLayers, len(p.Strides))
	}

	return nil
}
