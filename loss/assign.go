package loss

import (
	"github.com/detstack/go-segloss/box"
)

// neighbourBias is the maximum distance of a box center from a cell border,
// in cell units, for the neighbouring cell to also be assigned the target.
// It matches the decoded center range of sigmoid(xy)*2-0.5 which lets a cell
// regress a center up to half a cell outside itself.
const neighbourBias = 0.5

// layerTargets is the assignment record for one detection layer.  All slices
// run parallel, one entry per (target, anchor, cell) match that survived the
// anchor ratio filter and neighbour expansion.
type layerTargets struct {
	// b is the image index within the batch
	b []int
	// a is the matched anchor index
	a []int
	// gj and gi are the assigned grid cell row and column
	gj []int
	gi []int
	// tbox is the target box with center as offset from the cell corner
	// and size in grid units
	tbox []box.XYWH
	// anch is the matched anchor (w,h) in grid units
	anch [][2]float32
	// cls is the target class
	cls []int
	// tidx is the running instance index used to select the instance's
	// coarse mask
	tidx []int
	// xywhn is the normalized target box, kept for mask area weighting
	xywhn []box.XYWH
}

// candidate is one (target, anchor) pair scaled into a layer's grid units
type candidate struct {
	t  int
	a  int
	gx float32
	gy float32
	gw float32
	gh float32
}

// neighbour cell offsets in the fixed expansion order: the cell itself, then
// left, up, right, down.  The offset is subtracted from the box center to
// locate the assigned cell.
var cellOffsets = [5][2]float32{
	{0, 0},
	{neighbourBias, 0},
	{0, neighbourBias},
	{-neighbourBias, 0},
	{0, -neighbourBias},
}

// buildTargets maps the batch's flat ground truth instance list to one
// assignment record per detection layer.  Every instance is considered for
// every anchor of every layer, pairs whose width/height ratio to the anchor
// exceeds the configured threshold are dropped, and surviving pairs are
// replicated into up to two neighbouring cells whose decoded centers can
// still reach the target.
func (c *ComputeLoss) buildTargets(targets []Target, batchSize int) []layerTargets {

	p := c.p
	nt := len(targets)

	// running instance index per target, used downstream to select the
	// matching coarse mask slice.  In overlap mode the index restarts per
	// image and is 1-based to match the mask pixel encoding, otherwise it
	// is the global position in the batch list.
	tidx := make([]int, nt)

	if p.Overlap {
		perImage := make([]int, batchSize)

		for i, t := range targets {
			perImage[t.ImageIdx]++
			tidx[i] = perImage[t.ImageIdx]
		}
	} else {
		for i := range tidx {
			tidx[i] = i
		}
	}

	out := make([]layerTargets, p.NumLayers)

	for layer := 0; layer < p.NumLayers; layer++ {

		gridH := p.Grids[layer][0]
		gridW := p.Grids[layer][1]

		// scale normalized boxes into grid units and keep only the
		// (anchor, target) pairs similar enough in size to the anchor.
		// Anchor-major order keeps the expansion deterministic.
		var cands []candidate

		for a := 0; a < p.NumAnchors; a++ {

			aw := p.Anchors[layer][a][0]
			ah := p.Anchors[layer][a][1]

			for t := 0; t < nt; t++ {

				gw := targets[t].Box[2] * float32(gridW)
				gh := targets[t].Box[3] * float32(gridH)

				rw := gw / aw
				rh := gh / ah

				if maxf(rw, 1/rw) >= p.AnchorT || maxf(rh, 1/rh) >= p.AnchorT {
					continue
				}

				cands = append(cands, candidate{
					t:  t,
					a:  a,
					gx: targets[t].Box[0] * float32(gridW),
					gy: targets[t].Box[1] * float32(gridH),
					gw: gw,
					gh: gh,
				})
			}
		}

		lt := layerTargets{}

		// expand each candidate into its own cell plus any qualifying
		// neighbour cell, offset-major so the record order is
		// reproducible across runs
		for oi, off := range cellOffsets {
			for _, cd := range cands {

				if !offsetApplies(oi, cd.gx, cd.gy, float32(gridW), float32(gridH)) {
					continue
				}

				gi := clampi(int(cd.gx-off[0]), 0, gridW-1)
				gj := clampi(int(cd.gy-off[1]), 0, gridH-1)

				lt.b = append(lt.b, targets[cd.t].ImageIdx)
				lt.a = append(lt.a, cd.a)
				lt.gj = append(lt.gj, gj)
				lt.gi = append(lt.gi, gi)
				lt.tbox = append(lt.tbox, box.XYWH{
					cd.gx - float32(gi),
					cd.gy - float32(gj),
					cd.gw,
					cd.gh,
				})
				lt.anch = append(lt.anch, p.Anchors[layer][cd.a])
				lt.cls = append(lt.cls, targets[cd.t].Class)
				lt.tidx = append(lt.tidx, tidx[cd.t])
				lt.xywhn = append(lt.xywhn, box.XYWH{
					cd.gx / float32(gridW),
					cd.gy / float32(gridH),
					cd.gw / float32(gridW),
					cd.gh / float32(gridH),
				})
			}
		}

		out[layer] = lt
	}

	return out
}

// offsetApplies reports whether expansion offset oi applies to a box center
// at (gx, gy) on a gridW x gridH layer.  The cell itself always applies, a
// neighbour applies when the center sits within neighbourBias of the shared
// border and the neighbour exists on that side.
func offsetApplies(oi int, gx, gy, gridW, gridH float32) bool {

	switch oi {
	case 1: // left
		return fract(gx) < neighbourBias && gx > 1
	case 2: // up
		return fract(gy) < neighbourBias && gy > 1
	case 3: // right
		inv := gridW - gx
		return fract(inv) < neighbourBias && inv > 1
	case 4: // down
		inv := gridH - gy
		return fract(inv) < neighbourBias && inv > 1
	}

	return true
}

// fract returns the fractional part of a non-negative value
func fract(v float32) float32 {
	return v - float32(int(v))
}

func maxf(a, b float32) float32 {

	if a > b {
		return a
	}

	return b
}

func clampi(v, lo, hi int) int {

	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
