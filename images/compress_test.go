package images

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func pngHeader() []byte {
	return []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
}

func TestCompressSmallImageUnchanged(t *testing.T) {
	data := make([]byte, 4*1024*1024)
	copy(data, pngHeader())

	res, err := Compress(data)
	if err != nil {
		t.Fatal(err)
	}
	if res.Compressed {
		t.Error("4MB image should not be compressed")
	}
	if !bytes.Equal(res.Data, data) || res.MIME != "image/png" {
		t.Error("expected the input to be returned unchanged")
	}
}

func TestCompressLargeImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1800, 1700))
	fill := color.NRGBA{R: 120, G: 80, B: 40, A: 255}
	for y := 0; y < 1700; y++ {
		for x := 0; x < 1800; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if buf.Len() <= MaxStoredSize || buf.Len() > MaxSourceSize {
		t.Fatalf("fixture is %d bytes, want between 5MB and 20MB", buf.Len())
	}

	res, err := Compress(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compressed || res.MIME != "image/jpeg" {
		t.Errorf("expected JPEG output, got %s compressed=%v", res.MIME, res.Compressed)
	}
	if n := len(DataURL(res.MIME, res.Data)); n > MaxStoredSize {
		t.Errorf("stored data url is %d bytes", n)
	}

	out, _, err := image.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("output is not decodable: %v", err)
	}
	b := out.Bounds()
	if b.Dx() > MaxDimension || b.Dy() > MaxDimension {
		t.Errorf("output is %dx%d, exceeds %d", b.Dx(), b.Dy(), MaxDimension)
	}
}

func TestCompressRejectsOversizedSource(t *testing.T) {
	data := make([]byte, 25*1024*1024)
	copy(data, pngHeader())

	if _, err := Compress(data); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestCompressRejectsUnknownType(t *testing.T) {
	if _, err := Compress([]byte("%PDF-1.4 not an image")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestDataURL(t *testing.T) {
	got := DataURL("image/jpeg", []byte{0xff, 0xd8, 0xff})
	if !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Errorf("unexpected data url %q", got)
	}
}

func TestDataURLLen(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 1000, 3 * 1024 * 1024} {
		data := make([]byte, n)
		if got, want := dataURLLen("image/jpeg", n), len(DataURL("image/jpeg", data)); got != want {
			t.Errorf("dataURLLen(%d) = %d, want %d", n, got, want)
		}
	}
}
