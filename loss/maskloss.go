package loss

import (
	"github.com/detstack/go-segloss/box"
	"gonum.org/v1/gonum/mat"
)

// areaEps guards the per-instance area normalisation against degenerate
// zero-area targets
const areaEps = 1e-9

// singleMaskLoss computes the mask loss for the matched instances of one
// image.  gtMasks holds one binary plane of maskH x maskW pixels per
// instance, coefs holds each instance's prototype coefficients back to back,
// proto is the image's shared prototype tensor flattened to
// nm x (maskH*maskW), xyxy are the instance boxes in prototype pixel space
// and area the normalized box areas.
//
// Each instance's mask is reconstructed as the product of its coefficient
// vector with the flattened prototype, the reconstruction is scored against
// the ground truth plane with elementwise binary cross entropy on logits,
// the per-pixel loss is cropped to the instance box and reduced to a spatial
// mean, and the per-instance means are area-normalized and averaged.
func singleMaskLoss(gtMasks []float32, maskH, maskW int, coefs []float32,
	nm int, proto []float64, xyxy []box.XYXY, area []float32) float64 {

	n := len(xyxy)

	if n == 0 {
		return 0
	}

	planeSize := maskH * maskW

	// reconstruct all instance masks in one [n,nm] x [nm,planeSize]
	// product
	coefs64 := make([]float64, len(coefs))

	for i, v := range coefs {
		coefs64[i] = float64(v)
	}

	var pred mat.Dense
	pred.Mul(
		mat.NewDense(n, nm, coefs64),
		mat.NewDense(nm, planeSize, proto),
	)

	pixelLoss := make([]float32, planeSize)
	var sum float64

	for i := 0; i < n; i++ {

		row := pred.RawRowView(i)
		gt := gtMasks[i*planeSize : (i+1)*planeSize]

		// per-pixel BCE between the reconstructed logits and the
		// binary ground truth
		for px := 0; px < planeSize; px++ {
			pixelLoss[px] = float32(bceWithLogits(float32(row[px]), gt[px]))
		}

		// restrict to the instance box, then spatial mean
		box.CropMask(pixelLoss, maskW, maskH, xyxy[i])

		var instSum float64

		for _, v := range pixelLoss {
			instSum += float64(v)
		}

		instMean := instSum / float64(planeSize)

		// area normalisation stops large instances dominating the mean
		a := float64(area[i])

		if a < areaEps {
			a = areaEps
		}

		sum += instMean / a
	}

	return sum / float64(n)
}

// protoPlane extracts image b's prototype from the [bs, nm, ph, pw] tensor
// as a float64 slice ready for the reconstruction matmul
func protoPlane(proto []float32, b, nm, planeSize int) []float64 {

	src := proto[b*nm*planeSize : (b+1)*nm*planeSize]
	out := make([]float64, len(src))

	for i, v := range src {
		out[i] = float64(v)
	}

	return out
}
