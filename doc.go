/*
go-segloss computes the multi-task training loss and target assignment for
single-stage anchor-based object detectors with instance-segmentation heads
(the YOLOv5-seg model family).

The loss side of training is split across three packages: the box package
holds the geometry primitives (format conversion, CIoU, letterbox rescaling,
mask cropping), the loss package implements target assignment and the
box/objectness/classification/mask loss aggregation, and the preprocess
package carries the letterbox and mask resize helpers whose geometry the loss
depends on.

The root package provides the dense tensor container the loss operates on,
plus loaders for the hyperparameter, anchor and label files used to configure
a training run.

See example code and usage in the examples subdirectory.
*/
package segloss
