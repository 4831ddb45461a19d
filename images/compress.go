// Package images prepares seal photos for inline storage on the seal document.
package images

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"

	"sealtrack/metrics"
)

const (
	// MaxStoredSize is the largest image kept inline on a seal.
	MaxStoredSize = 5 * 1024 * 1024
	// MaxSourceSize is the largest upload accepted for compression.
	MaxSourceSize = 20 * 1024 * 1024
	// MaxDimension bounds the longer edge of a compressed image.
	MaxDimension = 1200
	// MaxPerSeal is the image capacity of a seal.
	MaxPerSeal = 5

	startQuality = 70
	qualityStep  = 10
	minQuality   = 10
)

var (
	// ErrTooLarge is returned for sources above MaxSourceSize.
	ErrTooLarge = errors.New("image is too large, maximum size is 20MB")
	// ErrCompression is returned when no quality step fits under MaxStoredSize.
	ErrCompression = errors.New("unable to compress image to required size")
)

// Result is an image ready to be stored.
type Result struct {
	Data       []byte
	MIME       string
	Compressed bool
}

// Compress returns data unchanged when the source already fits, otherwise
// re-encodes it as JPEG scaled to MaxDimension, lowering quality until the
// stored data URL fits in MaxStoredSize.
func Compress(data []byte) (Result, error) {
	if len(data) > MaxSourceSize {
		metrics.ImageCompressionsTotal.WithLabelValues("rejected").Inc()
		return Result{}, ErrTooLarge
	}

	mime, err := DetectMIME(data)
	if err != nil {
		metrics.ImageCompressionsTotal.WithLabelValues("unsupported").Inc()
		return Result{}, err
	}

	if len(data) <= MaxStoredSize {
		metrics.ImageCompressionsTotal.WithLabelValues("passthrough").Inc()
		return Result{Data: data, MIME: mime}, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		metrics.ImageCompressionsTotal.WithLabelValues("failed").Inc()
		return Result{}, fmt.Errorf("failed to decode image: %w", err)
	}
	img = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	for quality := startQuality; quality >= minQuality; quality -= qualityStep {
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			metrics.ImageCompressionsTotal.WithLabelValues("failed").Inc()
			return Result{}, fmt.Errorf("failed to encode image: %w", err)
		}
		if dataURLLen("image/jpeg", buf.Len()) <= MaxStoredSize {
			metrics.ImageCompressionsTotal.WithLabelValues("compressed").Inc()
			return Result{Data: buf.Bytes(), MIME: "image/jpeg", Compressed: true}, nil
		}
	}

	metrics.ImageCompressionsTotal.WithLabelValues("failed").Inc()
	return Result{}, ErrCompression
}

func dataURLLen(mime string, n int) int {
	return len("data:"+mime+";base64,") + base64.StdEncoding.EncodedLen(n)
}

// DataURL encodes data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
