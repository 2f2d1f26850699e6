package box

import (
	"fmt"
	"math"

	segloss "github.com/detstack/go-segloss"
)

// IoUMode selects the intersection over union variant computed by IoU
type IoUMode int

const (
	// IoUPlain is standard intersection over union
	IoUPlain IoUMode = iota
	// GIoU adds the generalized penalty for the empty area of the
	// enclosing box
	GIoU
	// DIoU adds the normalized center distance penalty
	DIoU
	// CIoU adds both the center distance and aspect ratio penalties, the
	// variant used for box regression by this detector family
	CIoU
)

const iouEps = 1e-7

// IoU computes the selected intersection over union variant between two
// center/size boxes
func IoU(b1, b2 XYWH, mode IoUMode) float32 {

	w1, h1 := float64(b1[2]), float64(b1[3])
	w2, h2 := float64(b2[2]), float64(b2[3])

	b1x1, b1y1 := float64(b1[0])-w1/2, float64(b1[1])-h1/2
	b1x2, b1y2 := float64(b1[0])+w1/2, float64(b1[1])+h1/2
	b2x1, b2y1 := float64(b2[0])-w2/2, float64(b2[1])-h2/2
	b2x2, b2y2 := float64(b2[0])+w2/2, float64(b2[1])+h2/2

	// intersection area
	iw := math.Min(b1x2, b2x2) - math.Max(b1x1, b2x1)
	ih := math.Min(b1y2, b2y2) - math.Max(b1y1, b2y1)

	if iw < 0 {
		iw = 0
	}

	if ih < 0 {
		ih = 0
	}

	inter := iw * ih
	union := w1*h1 + w2*h2 - inter + iouEps
	iou := inter / union

	if mode == IoUPlain {
		return float32(iou)
	}

	// convex enclosing box
	cw := math.Max(b1x2, b2x2) - math.Min(b1x1, b2x1)
	ch := math.Max(b1y2, b2y2) - math.Min(b1y1, b2y1)

	if mode == GIoU {
		cArea := cw*ch + iouEps
		return float32(iou - (cArea-union)/cArea)
	}

	// squared diagonal of the enclosing box
	c2 := cw*cw + ch*ch + iouEps

	// squared center distance
	rho2 := ((b2x1+b2x2-b1x1-b1x2)*(b2x1+b2x2-b1x1-b1x2) +
		(b2y1+b2y2-b1y1-b1y2)*(b2y1+b2y2-b1y1-b1y2)) / 4

	if mode == DIoU {
		return float32(iou - rho2/c2)
	}

	// CIoU aspect ratio penalty, the eps in the denominators keeps a
	// zero height box from producing NaN
	d := math.Atan(w2/(h2+iouEps)) - math.Atan(w1/(h1+iouEps))
	v := 4 / (math.Pi * math.Pi) * d * d
	alpha := v / (v - iou + 1 + iouEps)

	return float32(iou - (rho2/c2 + v*alpha))
}

// IoUPairs computes the selected IoU variant for each matched pair of boxes
func IoUPairs(b1, b2 []XYWH, mode IoUMode) ([]float32, error) {

	if len(b1) != len(b2) {
		return nil, fmt.Errorf("%w: %d boxes paired against %d",
			segloss.ErrShapeMismatch, len(b1), len(b2))
	}

	out := make([]float32, len(b1))

	for i := range b1 {
		out[i] = IoU(b1[i], b2[i], mode)
	}

	return out, nil
}
