package httpserver

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"strconv"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maxThumbPixels bounds decode work for hostile images.
const maxThumbPixels = 40_000_000

// makeThumb decodes an image and returns a JPEG no larger than limit on its
// long edge.
func makeThumb(r io.ReadSeeker, limit int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxThumbPixels {
		return nil, errors.New("thumb: unsupported dimensions")
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	nw, nh := fitWithin(src.Bounds().Dx(), src.Bounds().Dy(), limit)

	// JPEG has no alpha, so transparent pixels land on white.
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fitWithin scales w x h so the long edge is at most limit, keeping the
// aspect ratio. Images already inside the box keep their size.
func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 {
		limit = 256
	}
	long := max(w, h)
	if long <= limit {
		return max(w, 1), max(h, 1)
	}
	scale := func(n int) int { return max((n*limit+long/2)/long, 1) }
	return scale(w), scale(h)
}

func thumbKey(sid, name string, mtime, size int64) string {
	return sid + "/" + name + "@" + strconv.FormatInt(mtime, 10) + ":" + strconv.FormatInt(size, 10)
}
