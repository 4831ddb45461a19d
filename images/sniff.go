package images

import (
	"bytes"
	"errors"
)

// ErrUnsupported is returned for data that is not a decodable photo format.
var ErrUnsupported = errors.New("unsupported image type")

// DetectMIME identifies the image type from its leading bytes.
func DetectMIME(head []byte) (string, error) {
	switch {
	case isJPEG(head):
		return "image/jpeg", nil
	case isPNG(head):
		return "image/png", nil
	case isGIF(head):
		return "image/gif", nil
	}
	return "", ErrUnsupported
}

func isJPEG(head []byte) bool {
	return len(head) > 3 &&
		head[0] == 0xff &&
		head[1] == 0xd8 &&
		head[2] == 0xff
}

func isPNG(head []byte) bool {
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return len(head) >= len(pngMagic) && bytes.Equal(head[:len(pngMagic)], pngMagic)
}

func isGIF(head []byte) bool {
	return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
}
