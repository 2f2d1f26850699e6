package loss

import (
	"errors"
	"math"
	"testing"

	segloss "github.com/detstack/go-segloss"
	"github.com/detstack/go-segloss/box"
)

// smallParams is a one layer configuration small enough for fast tests
func smallParams() Params {
	return Params{
		NumAnchors: 1,
		NumLayers:  1,
		NumClasses: 2,
		NumMasks:   2,
		Anchors:    [][][2]float32{{{2, 2}}},
		Strides:    []float32{8},
		Grids:      [][2]int{{16, 16}},
		Overlap:    true,
		BoxGain:    0.05,
		ObjGain:    1.0,
		ClsGain:    0.5,
		AnchorT:    4.0,
		Gr:         1.0,
	}
}

// fillDeterministic writes a fixed repeating pattern into a tensor
func fillDeterministic(t *segloss.Tensor) {
	for i := range t.Data {
		t.Data[i] = float32(i%13)*0.1 - 0.6
	}
}

func smallBatch(p Params, bs int) (preds []*segloss.Tensor, proto, masks *segloss.Tensor) {

	ch := 5 + p.NumClasses + p.NumMasks

	for _, g := range p.Grids {
		pi := segloss.NewTensor(bs, p.NumAnchors, g[0], g[1], ch)
		fillDeterministic(pi)
		preds = append(preds, pi)
	}

	proto = segloss.NewTensor(bs, p.NumMasks, 32, 32)
	fillDeterministic(proto)

	masks = segloss.NewTensor(bs, 32, 32)

	return preds, proto, masks
}

func finite(vals ...float32) bool {

	for _, v := range vals {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}

	return true
}

func TestForwardEndToEnd(t *testing.T) {

	// full COCO sized configuration: 3 layers, 3 anchors, 80 classes,
	// 32 mask coefficients, batch of 2 with 10 targets of all-ones and
	// all-zeros feature values
	p := COCOParams()
	c := newTestLoss(t, p)

	bs := 2
	ch := 5 + p.NumClasses + p.NumMasks

	var preds []*segloss.Tensor

	for _, g := range p.Grids {
		pi := segloss.NewTensor(bs, p.NumAnchors, g[0], g[1], ch)

		for i := range pi.Data {
			pi.Data[i] = 1
		}

		preds = append(preds, pi)
	}

	proto := segloss.NewTensor(bs, p.NumMasks, 160, 160)

	for i := range proto.Data {
		proto.Data[i] = 1
	}

	masks := segloss.NewTensor(bs, 160, 160)

	for i := range masks.Data {
		masks.Data[i] = 1
	}

	var targets []Target

	for i := 0; i < 5; i++ {
		targets = append(targets, Target{
			ImageIdx: 1,
			Class:    1,
			Box:      box.XYWH{1, 1, 1, 1},
		})
	}

	for i := 0; i < 5; i++ {
		targets = append(targets, Target{
			ImageIdx: 0,
			Class:    0,
			Box:      box.XYWH{0, 0, 0, 0},
		})
	}

	res, err := c.Forward(preds, proto, targets, masks)

	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if !finite(res.Total, res.Box, res.Seg, res.Obj, res.Cls) {
		t.Fatalf("non-finite loss: %+v", res)
	}

	if res.Total < 0 {
		t.Errorf("negative total loss %f", res.Total)
	}

	if res.Obj <= 0 {
		t.Errorf("objectness loss %f, want positive", res.Obj)
	}
}

func TestForwardZeroTargets(t *testing.T) {

	p := smallParams()
	c := newTestLoss(t, p)

	bs := 2
	preds, proto, _ := smallBatch(p, bs)

	res, err := c.Forward(preds, proto, nil, nil)

	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if res.Box != 0 || res.Cls != 0 || res.Seg != 0 {
		t.Errorf("zero targets gave box=%f cls=%f seg=%f, want all 0",
			res.Box, res.Cls, res.Seg)
	}

	if res.Obj <= 0 {
		t.Errorf("objectness loss %f, want positive against all-negative targets",
			res.Obj)
	}

	if math.Abs(float64(res.Total-res.Obj*float32(bs))) > 1e-5 {
		t.Errorf("total %f does not equal obj %f scaled by batch size",
			res.Total, res.Obj)
	}
}

func TestForwardNoCrossImageLeakage(t *testing.T) {

	p := smallParams()
	c := newTestLoss(t, p)

	bs := 2
	preds, proto, masks := smallBatch(p, bs)

	// single instance in image 0, image 1 has no targets
	targets := []Target{
		{ImageIdx: 0, Class: 1, Box: box.XYWH{0.5, 0.5, 0.125, 0.125}},
	}

	for y := 12; y < 20; y++ {
		for x := 12; x < 20; x++ {
			masks.Set(1, 0, y, x)
		}
	}

	base, err := c.Forward(preds, proto, targets, masks)

	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if base.Seg <= 0 {
		t.Fatalf("matched instance gave seg loss %f, want positive", base.Seg)
	}

	// garbage in the unmatched image's coarse mask must not change
	// anything
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			masks.Set(7, 1, y, x)
		}
	}

	again, err := c.Forward(preds, proto, targets, masks)

	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if base != again {
		t.Errorf("image 1 mask content leaked into the loss: %+v vs %+v",
			base, again)
	}
}

func TestForwardSingleClassSkipsClsLoss(t *testing.T) {

	p := smallParams()
	p.NumClasses = 1

	c := newTestLoss(t, p)

	preds, proto, masks := smallBatch(p, 1)

	targets := []Target{
		{ImageIdx: 0, Class: 0, Box: box.XYWH{0.5, 0.5, 0.125, 0.125}},
	}

	for y := 12; y < 20; y++ {
		masks.Set(1, 0, y, 14)
	}

	res, err := c.Forward(preds, proto, targets, masks)

	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if res.Cls != 0 {
		t.Errorf("single class model gave cls loss %f, want 0", res.Cls)
	}
}

func TestForwardShapeErrors(t *testing.T) {

	p := smallParams()
	c := newTestLoss(t, p)

	preds, proto, masks := smallBatch(p, 2)

	targets := []Target{
		{ImageIdx: 0, Class: 1, Box: box.XYWH{0.5, 0.5, 0.125, 0.125}},
	}

	// wrong layer count
	if _, err := c.Forward(nil, proto, targets, masks); !errors.Is(err, segloss.ErrShapeMismatch) {
		t.Errorf("missing prediction layers: got %v, want shape mismatch", err)
	}

	// wrong channel count
	bad := segloss.NewTensor(2, 1, 16, 16, 5)

	if _, err := c.Forward([]*segloss.Tensor{bad}, proto, targets, masks); !errors.Is(err, segloss.ErrShapeMismatch) {
		t.Errorf("wrong channels: got %v, want shape mismatch", err)
	}

	// target image index outside the batch
	outside := []Target{{ImageIdx: 5, Class: 0, Box: box.XYWH{0.5, 0.5, 0.1, 0.1}}}

	if _, err := c.Forward(preds, proto, outside, masks); !errors.Is(err, segloss.ErrShapeMismatch) {
		t.Errorf("bad image index: got %v, want shape mismatch", err)
	}

	// ground truth masks missing while targets are present
	if _, err := c.Forward(preds, proto, targets, nil); !errors.Is(err, segloss.ErrShapeMismatch) {
		t.Errorf("missing masks: got %v, want shape mismatch", err)
	}
}

func TestForwardNoOverlap(t *testing.T) {

	p := smallParams()
	p.Overlap = false

	c := newTestLoss(t, p)

	bs := 2
	preds, proto, _ := smallBatch(p, bs)

	// one instance per image, pre-separated binary mask planes indexed
	// by global target order
	targets := []Target{
		{ImageIdx: 0, Class: 0, Box: box.XYWH{0.5, 0.5, 0.25, 0.25}},
		{ImageIdx: 1, Class: 1, Box: box.XYWH{0.5, 0.5, 0.25, 0.25}},
	}

	sep := segloss.NewTensor(len(targets), 32, 32)

	for y := 12; y < 20; y++ {
		for x := 12; x < 20; x++ {
			sep.Set(1, 0, y, x)
		}
	}

	for y := 4; y < 12; y++ {
		for x := 4; x < 12; x++ {
			sep.Set(1, 1, y, x)
		}
	}

	res, err := c.Forward(preds, proto, targets, sep)

	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if !finite(res.Total, res.Box, res.Seg, res.Obj, res.Cls) {
		t.Fatalf("non-finite loss: %+v", res)
	}

	if res.Seg <= 0 {
		t.Fatalf("seg loss %f, want positive", res.Seg)
	}

	// the same scene encoded as per-image coarse masks must produce the
	// exact same loss, pinning that each instance reads its own plane
	po := smallParams()
	co := newTestLoss(t, po)

	coarse := segloss.NewTensor(bs, 32, 32)

	for y := 12; y < 20; y++ {
		for x := 12; x < 20; x++ {
			coarse.Set(1, 0, y, x)
		}
	}

	for y := 4; y < 12; y++ {
		for x := 4; x < 12; x++ {
			coarse.Set(1, 1, y, x)
		}
	}

	want, err := co.Forward(preds, proto, targets, coarse)

	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if res != want {
		t.Errorf("mask encodings disagree: separated %+v, coarse %+v",
			res, want)
	}

	// swapping the two planes pairs each instance with the other
	// image's mask and must move the seg loss
	copy(sep.Data[:32*32], coarse.Data[32*32:])
	copy(sep.Data[32*32:], coarse.Data[:32*32])

	swapped, err := c.Forward(preds, proto, targets, sep)

	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if swapped.Seg == res.Seg {
		t.Errorf("swapped instance planes left seg loss at %f", res.Seg)
	}
}

func TestForwardAutobalance(t *testing.T) {

	p := smallParams()
	p.NumLayers = 2
	p.Anchors = [][][2]float32{{{2, 2}}, {{2, 2}}}
	p.Strides = []float32{8, 16}
	p.Grids = [][2]int{{16, 16}, {8, 8}}
	p.Autobalance = true

	c := newTestLoss(t, p)

	preds, proto, _ := smallBatch(p, 1)

	if _, err := c.Forward(preds, proto, nil, nil); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	bal := c.Balance()

	if len(bal) != 2 {
		t.Fatalf("autobalance weights %v, want 2 layers", bal)
	}

	// the stride 16 layer renormalizes to exactly 1
	if math.Abs(float64(bal[1])-1) > 1e-6 {
		t.Errorf("reference layer weight %f, want 1", bal[1])
	}

	// one EMA step perturbs the 4:1 starting ratio only slightly, and
	// the small additive term shifts it below 4
	if bal[0] >= 4 || bal[0] < 3.9 {
		t.Errorf("stride 8 layer weight %f, want just under 4", bal[0])
	}
}

func TestNewAutobalanceRequiresStride16(t *testing.T) {

	p := smallParams()
	p.Autobalance = true

	if _, err := New(p); !errors.Is(err, segloss.ErrConfig) {
		t.Errorf("autobalance without a stride 16 layer: got %v, want config error",
			err)
	}
}
