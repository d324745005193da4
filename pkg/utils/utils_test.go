package utils

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"
)

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeBase64Image(t *testing.T) {
	u := New()
	payload := pngBase64(t, 4, 3)

	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"raw", payload, nil},
		{"data url", "data:image/png;base64," + payload, nil},
		{"empty", "  ", ErrEmptyImage},
		{"not base64", "%%%", ErrImageEncoded},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("hello")), ErrImageDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := u.DecodeBase64Image(tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3) {
				t.Errorf("bounds = %v", img.Bounds())
			}
		})
	}
}

func TestFitReferenceImage(t *testing.T) {
	u := New()
	img := image.NewNRGBA(image.Rect(0, 0, 10, 5))

	fitted := u.FitReferenceImage(img, 40, 20)
	if fitted.Bounds().Dx() != 40 || fitted.Bounds().Dy() != 20 {
		t.Errorf("bounds = %v, want 40x20", fitted.Bounds())
	}
	if got := u.FitReferenceImage(img, 0, 0); got != image.Image(img) {
		t.Error("zero target dimensions should return the input")
	}
}

func TestEncodeJPEG(t *testing.T) {
	u := New()
	data, err := u.EncodeJPEG(image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 3 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("output is not a JPEG stream")
	}
}

func TestNewULIDFromTimestamp(t *testing.T) {
	id, err := New().NewULIDFromTimestamp(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 26 {
		t.Errorf("len(id) = %d, want 26", len(id))
	}
}
