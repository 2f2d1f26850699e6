package box

// RatioPad describes the letterbox transform that mapped an original image
// into the model input: a uniform scale gain followed by x/y padding.  It is
// the information needed to undo the transform on predicted geometry.
type RatioPad struct {
	// Gain is the original to resized scale factor
	Gain float32
	// PadW and PadH are the letterbox padding in pixels on each side
	PadW float32
	PadH float32
}

// RatioPadFor derives the letterbox gain and padding that maps an image of
// size src (width, height) into dst
func RatioPadFor(srcW, srcH, dstW, dstH float32) RatioPad {

	gain := dstW / srcW

	if g := dstH / srcH; g < gain {
		gain = g
	}

	return RatioPad{
		Gain: gain,
		PadW: (dstW - srcW*gain) / 2,
		PadH: (dstH - srcH*gain) / 2,
	}
}

// ScaleBoxes undoes a letterbox resize, mapping corner boxes from the model
// input space of size src back into the original image space of size dst,
// then clips them to the destination bounds.  When rp is nil the gain and
// padding are derived from the two shapes.
func ScaleBoxes(srcW, srcH float32, boxes []XYXY, dstW, dstH float32, rp *RatioPad) []XYXY {

	if rp == nil {
		derived := RatioPadFor(dstW, dstH, srcW, srcH)
		rp = &derived
	}

	out := make([]XYXY, len(boxes))

	for i, b := range boxes {
		out[i] = XYXY{
			(b[0] - rp.PadW) / rp.Gain,
			(b[1] - rp.PadH) / rp.Gain,
			(b[2] - rp.PadW) / rp.Gain,
			(b[3] - rp.PadH) / rp.Gain,
		}
	}

	ClipBoxes(out, dstW, dstH)

	return out
}

// ClipBoxes clamps corner boxes in place to the image bounds [0,w] x [0,h]
func ClipBoxes(boxes []XYXY, w, h float32) {

	for i := range boxes {
		boxes[i][0] = clampf(boxes[i][0], 0, w)
		boxes[i][1] = clampf(boxes[i][1], 0, h)
		boxes[i][2] = clampf(boxes[i][2], 0, w)
		boxes[i][3] = clampf(boxes[i][3], 0, h)
	}
}

// clampf restricts v to the range [lo, hi]
func clampf(v, lo, hi float32) float32 {

	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
