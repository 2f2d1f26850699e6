package main

import (
	"flag"
	"log"
	"math/rand"

	segloss "github.com/detstack/go-segloss"
	"github.com/detstack/go-segloss/loss"
)

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	hypFile := flag.String("y", "", "Training hyperparameters YAML file, defaults used if not given")
	anchorsFile := flag.String("a", "", "Anchors YAML file, COCO anchors used if not given")
	labelFile := flag.String("l", "", "Class labels text file, one label per line")
	batchSize := flag.Int("b", 2, "Synthetic batch size")
	numTargets := flag.Int("t", 10, "Number of synthetic ground truth instances")
	seed := flag.Int64("s", 1, "Random seed for the synthetic batch")

	flag.Parse()

	params := loss.COCOParams()

	if *hypFile != "" {
		hyp, err := segloss.LoadHyp(*hypFile)

		if err != nil {
			log.Fatalf("Error loading hyperparameters: %v", err)
		}

		params = params.WithHyp(hyp)
	}

	if *anchorsFile != "" {
		anchors, strides, err := segloss.LoadAnchors(*anchorsFile)

		if err != nil {
			log.Fatalf("Error loading anchors: %v", err)
		}

		params.Anchors = anchors
		params.Strides = strides
		params.NumLayers = len(anchors)
		params.NumAnchors = len(anchors[0])
	}

	if *labelFile != "" {
		labels, err := segloss.LoadLabels(*labelFile)

		if err != nil {
			log.Fatalf("Error loading labels: %v", err)
		}

		params.NumClasses = len(labels)
		log.Printf("Training with %d classes", len(labels))
	}

	compute, err := loss.New(params)

	if err != nil {
		log.Fatalf("Error creating loss: %v", err)
	}

	// build a synthetic batch of predictions, prototypes, targets and
	// coarse masks, the same shapes the model forward pass and dataset
	// loader produce during training
	rng := rand.New(rand.NewSource(*seed))
	ch := 5 + params.NumClasses + params.NumMasks

	preds := make([]*segloss.Tensor, params.NumLayers)

	for i, g := range params.Grids {
		preds[i] = segloss.NewTensor(*batchSize, params.NumAnchors, g[0], g[1], ch)

		for j := range preds[i].Data {
			preds[i].Data[j] = rng.Float32()*2 - 1
		}
	}

	protoH, protoW := 160, 160
	proto := segloss.NewTensor(*batchSize, params.NumMasks, protoH, protoW)

	for j := range proto.Data {
		proto.Data[j] = rng.Float32()*2 - 1
	}

	targets := make([]loss.Target, *numTargets)
	masks := segloss.NewTensor(*batchSize, protoH, protoW)
	perImage := make([]int, *batchSize)

	for i := range targets {
		img := rng.Intn(*batchSize)
		perImage[img]++

		targets[i] = loss.Target{
			ImageIdx: img,
			Class:    rng.Intn(params.NumClasses),
			Box: [4]float32{
				0.2 + 0.6*rng.Float32(),
				0.2 + 0.6*rng.Float32(),
				0.05 + 0.3*rng.Float32(),
				0.05 + 0.3*rng.Float32(),
			},
		}

		// color a block of the image's coarse mask with the instance
		// index, overlap mode encoding
		paintInstance(masks, img, targets[i].Box, float32(perImage[img]), protoH, protoW)
	}

	result, err := compute.Forward(preds, proto, targets, masks)

	if err != nil {
		log.Fatalf("Error computing loss: %v", err)
	}

	log.Printf("total=%.4f box=%.4f seg=%.4f obj=%.4f cls=%.4f",
		result.Total, result.Box, result.Seg, result.Obj, result.Cls)
}

// paintInstance writes the instance index into the mask pixels covered by
// the normalized box
func paintInstance(masks *segloss.Tensor, img int, b [4]float32, idx float32, h, w int) {

	x1 := int((b[0] - b[2]/2) * float32(w))
	y1 := int((b[1] - b[3]/2) * float32(h))
	x2 := int((b[0] + b[2]/2) * float32(w))
	y2 := int((b[1] + b[3]/2) * float32(h))

	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			if y >= 0 && y < h && x >= 0 && x < w {
				masks.Set(idx, img, y, x)
			}
		}
	}
}
