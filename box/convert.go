// Package box provides the bounding box and segment geometry primitives used
// by the training loss: format conversions, IoU variants, letterbox
// rescaling and mask cropping.
package box

// XYWH is a box as (center x, center y, width, height)
type XYWH [4]float32

// XYXY is a box as (left, top, right, bottom)
type XYXY [4]float32

// ToXYXY converts a center/size box to corner form
func (b XYWH) ToXYXY() XYXY {
	return XYXY{
		b[0] - b[2]/2,
		b[1] - b[3]/2,
		b[0] + b[2]/2,
		b[1] + b[3]/2,
	}
}

// ToXYWH converts a corner box to center/size form
func (b XYXY) ToXYWH() XYWH {
	return XYWH{
		(b[0] + b[2]) / 2,
		(b[1] + b[3]) / 2,
		b[2] - b[0],
		b[3] - b[1],
	}
}

// XYWHToXYXY converts boxes from center/size to corner form
func XYWHToXYXY(boxes []XYWH) []XYXY {

	out := make([]XYXY, len(boxes))

	for i, b := range boxes {
		out[i] = b.ToXYXY()
	}

	return out
}

// XYXYToXYWH converts boxes from corner to center/size form
func XYXYToXYWH(boxes []XYXY) []XYWH {

	out := make([]XYWH, len(boxes))

	for i, b := range boxes {
		out[i] = b.ToXYWH()
	}

	return out
}

// XYWHNToXYXY converts a normalized center/size box into pixel corner form
// for an image of the given width and height, with optional letterbox
// padding offsets
func XYWHNToXYXY(b XYWH, w, h, padW, padH float32) XYXY {
	return XYXY{
		w*(b[0]-b[2]/2) + padW,
		h*(b[1]-b[3]/2) + padH,
		w*(b[0]+b[2]/2) + padW,
		h*(b[1]+b[3]/2) + padH,
	}
}

// XYXYToXYWHN converts a pixel corner box into normalized center/size form
// for an image of the given width and height
func XYXYToXYWHN(b XYXY, w, h float32) XYWH {
	return XYWH{
		(b[0] + b[2]) / 2 / w,
		(b[1] + b[3]) / 2 / h,
		(b[2] - b[0]) / w,
		(b[3] - b[1]) / h,
	}
}
