package preprocess

import (
	"bytes"
	"image"
	"sort"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/registry"
)

const (
	StepResize    = "resize"
	StepNormalize = "normalize"
	StepDenoise   = "denoise"
	StepAugment   = "augment"
)

// Channel statistics used by the normalize step. These match the constants
// the models were trained against and must not drift.
var (
	meanRGB = [3]float32{0.485, 0.456, 0.406}
	stdRGB  = [3]float32{0.229, 0.224, 0.225}
	meanG   = [1]float32{0.5}
	stdG    = [1]float32{0.5}
)

// Run decodes raw image bytes and produces a tensor of the descriptor's
// declared input shape. The resize step runs in image space before
// tensorization; the remaining steps run on the tensor in recipe order.
// Unknown step names are ignored. augment is a no-op at serving time, the
// recipe carries it only for training parity.
func Run(raw []byte, shape registry.InputShape, recipe []string) (*Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.ImageDecodeFailed, err, "failed to decode image")
	}

	if hasStep(recipe, StepResize) {
		img = resize(img, shape.Width, shape.Height)
	}

	bounds := img.Bounds()
	if bounds.Dx() != shape.Width || bounds.Dy() != shape.Height {
		return nil, apperr.New(apperr.ShapeMismatch,
			"expected %dx%dx%d, got %dx%d", shape.Width, shape.Height, shape.Channels,
			bounds.Dx(), bounds.Dy())
	}

	tensor := tensorize(img, shape.Channels)

	for _, step := range recipe {
		switch step {
		case StepResize, StepAugment:
			// resize already applied; augment is deterministic no-op
		case StepNormalize:
			normalize(tensor)
		case StepDenoise:
			denoise(tensor)
		}
	}

	return tensor, nil
}

func hasStep(recipe []string, step string) bool {
	for _, s := range recipe {
		if s == step {
			return true
		}
	}
	return false
}

// resize scales to the exact target size. Aspect ratio is intentionally not
// preserved, matching the models' training pipeline.
func resize(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// tensorize fills a [1,H,W,C] tensor with pixel values in [0,255]. For one
// channel the ITU-R 601 luminance weighting is used.
func tensorize(img image.Image, channels int) *Tensor {
	bounds := img.Bounds()
	t := NewTensor(bounds.Dy(), bounds.Dx(), channels)

	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)
			if channels == 1 {
				t.Set(y, x, 0, 0.299*rf+0.587*gf+0.114*bf)
			} else {
				t.Set(y, x, 0, rf)
				t.Set(y, x, 1, gf)
				t.Set(y, x, 2, bf)
			}
		}
	}
	return t
}

func normalize(t *Tensor) {
	mean, std := meanG[:], stdG[:]
	if t.Channels == 3 {
		mean, std = meanRGB[:], stdRGB[:]
	}

	for i := range t.Data {
		c := i % t.Channels
		t.Data[i] = (t.Data[i]/255.0 - mean[c]) / std[c]
	}
}

// denoise applies a 3x3 median filter per channel with edge-replicate padding.
func denoise(t *Tensor) {
	out := make([]float32, len(t.Data))
	var window [9]float32

	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			for c := 0; c < t.Channels; c++ {
				n := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						window[n] = t.At(clamp(y+dy, t.Height), clamp(x+dx, t.Width), c)
						n++
					}
				}
				out[(y*t.Width+x)*t.Channels+c] = median9(window)
			}
		}
	}

	t.Data = out
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v >= max {
		return max - 1
	}
	return v
}

func median9(w [9]float32) float32 {
	s := w[:]
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s[4]
}
