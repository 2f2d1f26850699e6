package box

import "math"

// CropMask zeroes all pixels of mask, laid out row major with the given
// width and height, that fall outside the integer-rounded corner box.  Used
// to restrict the per-pixel mask loss to each instance's bounding box before
// the spatial mean.
func CropMask(mask []float32, w, h int, b XYXY) {

	x1 := int(math.Round(float64(b[0])))
	y1 := int(math.Round(float64(b[1])))
	x2 := int(math.Round(float64(b[2])))
	y2 := int(math.Round(float64(b[3])))

	if x1 < 0 {
		x1 = 0
	}

	if y1 < 0 {
		y1 = 0
	}

	if x2 > w {
		x2 = w
	}

	if y2 > h {
		y2 = h
	}

	for row := 0; row < h; row++ {

		base := row * w

		if row < y1 || row >= y2 {
			// whole row is outside the box
			for col := 0; col < w; col++ {
				mask[base+col] = 0
			}
			continue
		}

		for col := 0; col < x1; col++ {
			mask[base+col] = 0
		}

		for col := x2; col < w; col++ {
			mask[base+col] = 0
		}
	}
}
