package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/gift"

	"crowdcount/internal/occupancy"
)

// ErrUndecodableFrame is returned when capture bytes are not a usable image
var ErrUndecodableFrame = errors.New("undecodable frame")

// DecoderOptions controls how captures are normalized before counting
type DecoderOptions struct {
	Width     int     // Processing width, 0 keeps the source width
	Height    int     // Processing height, 0 keeps the source height
	Grayscale bool    // Produce single-channel frames
	BlurSigma float32 // Gaussian pre-blur, 0 disables
}

// DefaultDecoderOptions matches the capture service: 640x480 color frames.
func DefaultDecoderOptions() DecoderOptions {
	return DecoderOptions{Width: 640, Height: 480}
}

// JPEGDecoder decodes JPEG captures and normalizes them to a fixed
// processing size so the background model sees a constant geometry.
type JPEGDecoder struct {
	opts    DecoderOptions
	filters *gift.GIFT
}

// NewJPEGDecoder builds a decoder for opts
func NewJPEGDecoder(opts DecoderOptions) *JPEGDecoder {
	g := gift.New()
	if opts.Width > 0 || opts.Height > 0 {
		g.Add(gift.Resize(opts.Width, opts.Height, gift.LinearResampling))
	}
	if opts.BlurSigma > 0 {
		g.Add(gift.GaussianBlur(opts.BlurSigma))
	}
	if opts.Grayscale {
		g.Add(gift.Grayscale())
	}
	return &JPEGDecoder{opts: opts, filters: g}
}

// Decode implements FrameDecoder
func (d *JPEGDecoder) Decode(frame *FrameData) (*occupancy.Frame, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, fmt.Errorf("%w: empty capture", ErrUndecodableFrame)
	}

	src, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableFrame, err)
	}

	out := d.Normalize(src)
	out.Timestamp = frame.Timestamp
	return out, nil
}

// Normalize applies the filter chain to img and packs the result into a
// frame with 1 (grayscale) or 3 (RGB) channels.
func (d *JPEGDecoder) Normalize(img image.Image) *occupancy.Frame {
	bounds := d.filters.Bounds(img.Bounds())
	w, h := bounds.Dx(), bounds.Dy()

	if d.opts.Grayscale {
		dst := image.NewGray(bounds)
		d.filters.Draw(dst, img)
		pix := make([]byte, w*h)
		for y := 0; y < h; y++ {
			copy(pix[y*w:(y+1)*w], dst.Pix[y*dst.Stride:y*dst.Stride+w])
		}
		return &occupancy.Frame{Pix: pix, Width: w, Height: h, Channels: 1}
	}

	dst := image.NewRGBA(bounds)
	d.filters.Draw(dst, img)
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			copy(pix[(y*w+x)*3:(y*w+x)*3+3], row[x*4:x*4+3])
		}
	}
	return &occupancy.Frame{Pix: pix, Width: w, Height: h, Channels: 3}
}

var _ FrameDecoder = (*JPEGDecoder)(nil)
