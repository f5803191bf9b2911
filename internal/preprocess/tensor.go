package preprocess

import "fmt"

// Tensor is a single-batch NHWC float32 tensor, shape [1, Height, Width, Channels].
type Tensor struct {
	Data     []float32
	Height   int
	Width    int
	Channels int
}

func NewTensor(height, width, channels int) *Tensor {
	return &Tensor{
		Data:     make([]float32, height*width*channels),
		Height:   height,
		Width:    width,
		Channels: channels,
	}
}

func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

func (t *Tensor) Set(y, x, c int, v float32) {
	t.Data[(y*t.Width+x)*t.Channels+c] = v
}

func (t *Tensor) ShapeString() string {
	return fmt.Sprintf("[1 %d %d %d]", t.Height, t.Width, t.Channels)
}
