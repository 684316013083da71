package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Crop settings for first-detection snapshots. Crops above the size ceiling
// are downscaled and re-encoded so event messages stay small on the wire.
const (
	padding     = 16 // px added around the bbox
	sizeCeiling = 4 * 1024
	maxDim      = 320
	quality     = 85
)

// CropDetection extracts the bbox region from a JPEG frame, with a fixed
// padding clamped to the frame edges, and returns it re-encoded as JPEG.
func CropDetection(frame []byte, bbox [4]float64) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	rect := image.Rect(
		clamp(int(bbox[0])-padding, bounds.Min.X, bounds.Max.X),
		clamp(int(bbox[1])-padding, bounds.Min.Y, bounds.Max.Y),
		clamp(int(bbox[2])+padding, bounds.Min.X, bounds.Max.X),
		clamp(int(bbox[3])+padding, bounds.Min.Y, bounds.Max.Y),
	)
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, fmt.Errorf("bbox %v outside frame %v", bbox, bounds)
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)

	out, err := encode(crop)
	if err != nil {
		return nil, err
	}
	if len(out) <= sizeCeiling {
		return out, nil
	}

	return encode(shrink(crop))
}

// shrink scales the image so its longer side is at most maxDim.
func shrink(src *image.RGBA) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if longer <= maxDim {
		return src
	}
	scale := float64(maxDim) / float64(longer)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
