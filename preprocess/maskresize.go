package preprocess

import (
	"fmt"
	"image"

	segloss "github.com/detstack/go-segloss"
	"gocv.io/x/gocv"
)

// DownsampleMasks resizes a batch of coarse ground truth masks, shape
// [n, maskH, maskW], to the prototype resolution [n, h, w] using nearest
// neighbour interpolation so instance index values are preserved.  Masks
// already at the target resolution are returned unchanged.
func DownsampleMasks(masks *segloss.Tensor, h, w int) (*segloss.Tensor, error) {

	if err := masks.CheckDims(-1, -1, -1); err != nil {
		return nil, fmt.Errorf("masks: %w", err)
	}

	n, srcH, srcW := masks.Dim(0), masks.Dim(1), masks.Dim(2)

	if srcH == h && srcW == w {
		return masks, nil
	}

	out := segloss.NewTensor(n, h, w)
	dst := gocv.NewMat()
	defer dst.Close()

	for i := 0; i < n; i++ {

		plane := masks.Data[i*srcH*srcW : (i+1)*srcH*srcW]

		src := gocv.NewMatWithSize(srcH, srcW, gocv.MatTypeCV32F)

		ptr, err := src.DataPtrFloat32()

		if err != nil {
			src.Close()
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}

		copy(ptr, plane)

		gocv.Resize(src, &dst, image.Pt(w, h), 0, 0,
			gocv.InterpolationNearestNeighbor)

		resized, err := dst.DataPtrFloat32()

		if err != nil {
			src.Close()
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}

		copy(out.Data[i*h*w:(i+1)*h*w], resized)
		src.Close()
	}

	return out, nil
}
