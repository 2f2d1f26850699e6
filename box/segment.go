package box

import (
	clipper "github.com/ctessum/go.clipper"
)

// Point is a single polygon vertex in pixel space
type Point struct {
	X float32
	Y float32
}

// Segment is a closed instance outline polygon
type Segment []Point

// clipperScale converts float pixel coordinates to clipper's integer grid
// with two decimal places of sub-pixel precision
const clipperScale = 100

// ScaleSegments undoes a letterbox resize on segment polygons, mapping them
// from the model input space of size src back into the original image space
// of size dst, then clips them to the destination bounds.  When rp is nil
// the gain and padding are derived from the two shapes.
func ScaleSegments(srcW, srcH float32, segments []Segment, dstW, dstH float32, rp *RatioPad) []Segment {

	if rp == nil {
		derived := RatioPadFor(dstW, dstH, srcW, srcH)
		rp = &derived
	}

	out := make([]Segment, len(segments))

	for i, seg := range segments {

		scaled := make(Segment, len(seg))

		for j, pt := range seg {
			scaled[j] = Point{
				X: (pt.X - rp.PadW) / rp.Gain,
				Y: (pt.Y - rp.PadH) / rp.Gain,
			}
		}

		out[i] = scaled
	}

	return ClipSegments(out, dstW, dstH)
}

// ClipSegments intersects each segment polygon with the image rectangle
// [0,w] x [0,h].  Unlike a per-vertex clamp this preserves the outline shape
// where it crosses the image edge.  Polygons fully outside the image clip to
// an empty segment.
func ClipSegments(segments []Segment, w, h float32) []Segment {

	rect := clipper.Path{
		&clipper.IntPoint{X: 0, Y: 0},
		&clipper.IntPoint{X: clipper.CInt(w * clipperScale), Y: 0},
		&clipper.IntPoint{X: clipper.CInt(w * clipperScale), Y: clipper.CInt(h * clipperScale)},
		&clipper.IntPoint{X: 0, Y: clipper.CInt(h * clipperScale)},
	}

	out := make([]Segment, len(segments))

	for i, seg := range segments {

		if len(seg) < 3 {
			out[i] = Segment{}
			continue
		}

		var path clipper.Path

		for _, pt := range seg {
			path = append(path, &clipper.IntPoint{
				X: clipper.CInt(pt.X * clipperScale),
				Y: clipper.CInt(pt.Y * clipperScale),
			})
		}

		c := clipper.NewClipper(0)
		c.AddPath(path, clipper.PtSubject, true)
		c.AddPath(rect, clipper.PtClip, true)

		solution, ok := c.Execute1(clipper.CtIntersection,
			clipper.PftEvenOdd, clipper.PftEvenOdd)

		if !ok || len(solution) == 0 {
			out[i] = Segment{}
			continue
		}

		// keep the largest resulting polygon, clipping a self
		// intersecting outline can split it
		best := 0

		for j := 1; j < len(solution); j++ {
			if len(solution[j]) > len(solution[best]) {
				best = j
			}
		}

		clipped := make(Segment, len(solution[best]))

		for j, pt := range solution[best] {
			clipped[j] = Point{
				X: float32(pt.X) / clipperScale,
				Y: float32(pt.Y) / clipperScale,
			}
		}

		out[i] = clipped
	}

	return out
}

// SegmentToBox converts a segment outline to its corner bounding box,
// ignoring vertices outside the image bounds.  A segment fully outside the
// image produces a zero box.
func SegmentToBox(seg Segment, w, h float32) XYXY {

	first := true
	var b XYXY

	for _, pt := range seg {

		if pt.X < 0 || pt.Y < 0 || pt.X > w || pt.Y > h {
			continue
		}

		if first {
			b = XYXY{pt.X, pt.Y, pt.X, pt.Y}
			first = false
			continue
		}

		if pt.X < b[0] {
			b[0] = pt.X
		}

		if pt.Y < b[1] {
			b[1] = pt.Y
		}

		if pt.X > b[2] {
			b[2] = pt.X
		}

		if pt.Y > b[3] {
			b[3] = pt.Y
		}
	}

	return b
}
