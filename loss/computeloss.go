package loss

import (
	"fmt"
	"sync"

	segloss "github.com/detstack/go-segloss"
	"github.com/detstack/go-segloss/box"
	"github.com/detstack/go-segloss/preprocess"
)

// per layer objectness balance weights, higher resolution layers overfit
// later so their loss is weighted up
var (
	balance3  = []float32{4.0, 1.0, 0.4}
	balanceP7 = []float32{4.0, 1.0, 0.25, 0.06, 0.02}
)

// ComputeLoss computes the multi-task training loss for one batch of
// predictions against its ground truth.  A ComputeLoss is immutable across
// calls unless autobalance is enabled, in which case the per layer balance
// weights carry over between calls and Forward must not be invoked
// concurrently.
type ComputeLoss struct {
	p Params
	// balance are the per layer objectness weights, mutated only when
	// autobalance is on
	balance []float32
	// ssi is the reference layer for autobalance renormalisation
	ssi int
	// cp and cn are the smoothed positive/negative class label values
	cp float32
	cn float32
	// objectness and classification criteria, focal wrapped when
	// configured
	critObj criterion
	critCls criterion
	// pool recycles the dense target objectness grids
	pool *bufferPool
}

// Result is the outcome of one loss call: the total used for gradient
// computation plus the per component breakdown for logging.  The components
// carry their gain factors but, following the training convention of this
// detector family, only Total is scaled by the batch size.
type Result struct {
	// Total is (box + seg + obj + cls) * batchSize
	Total float32
	// the four components after gain scaling
	Box float32
	Seg float32
	Obj float32
	Cls float32
}

// New returns a ComputeLoss for the given static configuration
func New(p Params) (*ComputeLoss, error) {

	if err := p.validate(); err != nil {
		return nil, err
	}

	var bal []float32

	switch {
	case p.NumLayers == 3:
		bal = balance3
	case p.NumLayers <= len(balanceP7):
		bal = balanceP7[:p.NumLayers]
	default:
		return nil, fmt.Errorf("%w: no balance weights defined for %d layers",
			segloss.ErrConfig, p.NumLayers)
	}

	// the objectness IoU gain defaults to full IoU targets
	if p.Gr == 0 {
		p.Gr = 1
	}

	c := &ComputeLoss{
		p:       p,
		balance: append([]float32{}, bal...),
		critObj: newCriterion(p.FlGamma),
		critCls: newCriterion(p.FlGamma),
		pool:    newBufferPool(),
	}

	c.cp, c.cn = smoothBCE(p.LabelSmoothing)

	if p.Autobalance {
		c.ssi = -1

		for i, s := range p.Strides {
			if s == 16 {
				c.ssi = i
				break
			}
		}

		if c.ssi == -1 {
			return nil, fmt.Errorf("%w: autobalance requires a stride 16 layer to renormalize against",
				segloss.ErrConfig)
		}
	}

	for i, g := range p.Grids {
		// hint sized for a typical training batch, get() grows past it
		// when needed
		err := c.pool.create(tobjPool(i), 8*p.NumAnchors*g[0]*g[1])

		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Balance returns a copy of the current per layer objectness balance
// weights, fixed unless autobalance is enabled
func (c *ComputeLoss) Balance() []float32 {
	return append([]float32{}, c.balance...)
}

func tobjPool(layer int) string {
	return fmt.Sprintf("tobj%d", layer)
}

// Forward computes the batch loss.
//
// preds holds one dense tensor per detection layer, shape
// [batch, anchors, gridH, gridW, 5+classes+masks].  proto is the shared mask
// prototype tensor, shape [batch, masks, protoH, protoW].  targets is the
// flat ground truth instance list for the whole batch.  masks holds the
// coarse ground truth masks: in overlap mode shape [batch, maskH, maskW]
// with 1-based per image instance indices as pixel values, otherwise shape
// [instances, maskH, maskW] of binary planes indexed by batch-global
// instance position.  masks may be nil when targets is empty.
func (c *ComputeLoss) Forward(preds []*segloss.Tensor, proto *segloss.Tensor,
	targets []Target, masks *segloss.Tensor) (Result, error) {

	p := c.p

	if len(preds) != p.NumLayers {
		return Result{}, fmt.Errorf("%w: %d prediction layers, configured for %d",
			segloss.ErrShapeMismatch, len(preds), p.NumLayers)
	}

	if err := proto.CheckDims(-1, p.NumMasks, -1, -1); err != nil {
		return Result{}, fmt.Errorf("proto: %w", err)
	}

	bs := proto.Dim(0)
	protoH := proto.Dim(2)
	protoW := proto.Dim(3)
	ch := 5 + p.NumClasses + p.NumMasks

	for i, pi := range preds {
		err := pi.CheckDims(bs, p.NumAnchors, p.Grids[i][0], p.Grids[i][1], ch)

		if err != nil {
			return Result{}, fmt.Errorf("prediction layer %d: %w", i, err)
		}
	}

	for i, t := range targets {
		if t.ImageIdx < 0 || t.ImageIdx >= bs {
			return Result{}, fmt.Errorf("%w: target %d image index %d outside batch of %d",
				segloss.ErrShapeMismatch, i, t.ImageIdx, bs)
		}

		if t.Class < 0 || t.Class >= p.NumClasses {
			return Result{}, fmt.Errorf("%w: target %d class %d outside %d classes",
				segloss.ErrShapeMismatch, i, t.Class, p.NumClasses)
		}
	}

	if len(targets) > 0 {
		if masks == nil {
			return Result{}, fmt.Errorf("%w: ground truth masks required when targets are present",
				segloss.ErrShapeMismatch)
		}

		want := bs

		if !p.Overlap {
			want = len(targets)
		}

		if err := masks.CheckDims(want, -1, -1); err != nil {
			return Result{}, fmt.Errorf("masks: %w", err)
		}

		// bring coarse masks to prototype resolution, no-op when the
		// dataset already stores them downsampled
		var err error
		masks, err = preprocess.DownsampleMasks(masks, protoH, protoW)

		if err != nil {
			return Result{}, fmt.Errorf("masks: %w", err)
		}
	}

	lts := c.buildTargets(targets, bs)

	var lbox, lobj, lcls, lseg float64

	for i := 0; i < p.NumLayers; i++ {

		pd := preds[i].Data
		gridH := p.Grids[i][0]
		gridW := p.Grids[i][1]
		cells := bs * p.NumAnchors * gridH * gridW

		tobj := c.pool.get(tobjPool(i), cells)
		lt := lts[i]
		n := len(lt.b)

		if n > 0 {
			coefs := make([]float32, n*p.NumMasks)
			mxyxy := make([]box.XYXY, n)
			marea := make([]float32, n)

			var layerBox float64
			var layerCls float64

			for m := 0; m < n; m++ {

				base := (((lt.b[m]*p.NumAnchors+lt.a[m])*gridH+lt.gj[m])*gridW + lt.gi[m]) * ch

				// decode the predicted box: center bounded to
				// [-0.5,1.5] around the cell, size to 4x the
				// matched anchor
				px := sigmoid(pd[base])*2 - 0.5
				py := sigmoid(pd[base+1])*2 - 0.5
				pw := sigmoid(pd[base+2]) * 2
				ph := sigmoid(pd[base+3]) * 2
				pbox := box.XYWH{
					px,
					py,
					pw * pw * lt.anch[m][0],
					ph * ph * lt.anch[m][1],
				}

				iou := box.IoU(pbox, lt.tbox[m], box.CIoU)
				layerBox += float64(1 - iou)

				// clamp away small negative IoU from floating
				// error before use as a soft target
				if iou < 0 {
					iou = 0
				}

				if p.Gr < 1 {
					iou = (1 - p.Gr) + p.Gr*iou
				}

				tobj[(((lt.b[m]*p.NumAnchors+lt.a[m])*gridH+lt.gj[m])*gridW + lt.gi[m])] = iou

				if p.NumClasses > 1 {
					for k := 0; k < p.NumClasses; k++ {

						t := c.cn

						if k == lt.cls[m] {
							t = c.cp
						}

						layerCls += c.critCls.eval(pd[base+5+k], t)
					}
				}

				copy(coefs[m*p.NumMasks:(m+1)*p.NumMasks],
					pd[base+5+p.NumClasses:base+ch])

				marea[m] = lt.xywhn[m][2] * lt.xywhn[m][3]
				mxyxy[m] = box.XYWH{
					lt.xywhn[m][0] * float32(protoW),
					lt.xywhn[m][1] * float32(protoH),
					lt.xywhn[m][2] * float32(protoW),
					lt.xywhn[m][3] * float32(protoH),
				}.ToXYXY()
			}

			lbox += layerBox / float64(n)

			if p.NumClasses > 1 {
				lcls += layerCls / float64(n*p.NumClasses)
			}

			lseg += c.layerMaskLoss(lt, masks, proto, coefs, mxyxy, marea,
				protoH, protoW)
		}

		// objectness over every cell, matched or not
		var obji float64

		for cell := 0; cell < cells; cell++ {
			obji += c.critObj.eval(pd[cell*ch+4], tobj[cell])
		}

		obji /= float64(cells)
		lobj += obji * float64(c.balance[i])

		if p.Autobalance {
			c.balance[i] = c.balance[i]*0.9999 + float32(0.0001/obji)
		}

		c.pool.put(tobjPool(i), tobj)
	}

	if p.Autobalance {
		ref := c.balance[c.ssi]

		for i := range c.balance {
			c.balance[i] /= ref
		}
	}

	lbox *= float64(p.BoxGain)
	lobj *= float64(p.ObjGain)
	lcls *= float64(p.ClsGain)
	// seg was summed per image across the batch, average it here
	lseg *= float64(p.BoxGain) / float64(bs)

	total := lbox + lobj + lcls + lseg

	return Result{
		Total: float32(total * float64(bs)),
		Box:   float32(lbox),
		Seg:   float32(lseg),
		Obj:   float32(lobj),
		Cls:   float32(lcls),
	}, nil
}

// layerMaskLoss groups a layer's matches by image and evaluates the mask
// loss once per image, in parallel since each image's computation only
// shares the read-only prototypes
func (c *ComputeLoss) layerMaskLoss(lt layerTargets, masks, proto *segloss.Tensor,
	coefs []float32, mxyxy []box.XYXY, marea []float32, protoH, protoW int) float64 {

	p := c.p
	n := len(lt.b)
	planeSize := protoH * protoW

	// group match indices by image, preserving first-appearance order
	var images []int
	byImage := make(map[int][]int)

	for m := 0; m < n; m++ {
		bi := lt.b[m]

		if _, ok := byImage[bi]; !ok {
			images = append(images, bi)
		}

		byImage[bi] = append(byImage[bi], m)
	}

	results := make([]float64, len(images))

	var wg sync.WaitGroup
	wg.Add(len(images))

	for gi, bi := range images {
		go func(gi, bi int) {
			defer wg.Done()

			idx := byImage[bi]
			ni := len(idx)

			gtMasks := make([]float32, ni*planeSize)
			imgCoefs := make([]float32, ni*p.NumMasks)
			imgBoxes := make([]box.XYXY, ni)
			imgAreas := make([]float32, ni)

			for k, m := range idx {

				if p.Overlap {
					// threshold the image's coarse mask
					// against this instance's 1-based index
					plane := masks.Data[bi*planeSize : (bi+1)*planeSize]
					want := float32(lt.tidx[m])

					for px, v := range plane {
						if v == want {
							gtMasks[k*planeSize+px] = 1
						}
					}
				} else {
					copy(gtMasks[k*planeSize:(k+1)*planeSize],
						masks.Data[lt.tidx[m]*planeSize:(lt.tidx[m]+1)*planeSize])
				}

				copy(imgCoefs[k*p.NumMasks:(k+1)*p.NumMasks],
					coefs[m*p.NumMasks:(m+1)*p.NumMasks])
				imgBoxes[k] = mxyxy[m]
				imgAreas[k] = marea[m]
			}

			results[gi] = singleMaskLoss(gtMasks, protoH, protoW,
				imgCoefs, p.NumMasks,
				protoPlane(proto.Data, bi, p.NumMasks, planeSize),
				imgBoxes, imgAreas)
		}(gi, bi)
	}

	wg.Wait()

	// deterministic summation order
	var sum float64

	for _, r := range results {
		sum += r
	}

	return sum
}
