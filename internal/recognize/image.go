package recognize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const resizeJPEGQuality = 85

// resizeImage caps the longer image edge at maxEdge, keeping aspect ratio,
// and re-encodes as JPEG. Hosted vision models are billed by input size;
// identity survives the downscale.
func resizeImage(data []byte, maxEdge int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if longest := max(bounds.Dx(), bounds.Dy()); longest > maxEdge {
		scale := float64(maxEdge) / float64(longest)
		dst := image.NewRGBA(image.Rect(0,
			0,
			int(float64(bounds.Dx())*scale),
			int(float64(bounds.Dy())*scale)))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: resizeJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// imageDimensions reads the pixel size off the encoded header without
// decoding the full image.
func imageDimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
