package utils

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"
)

var (
	ErrEmptyImage   = errors.New("image payload is empty")
	ErrImageEncoded = errors.New("image payload is not valid base64")
	ErrImageDecode  = errors.New("image payload is not a decodable image")
)

const referenceJPEGQuality = 95

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	DecodeBase64Image(payload string) (image.Image, error)
	FitReferenceImage(img image.Image, width, height int) image.Image
	EncodeJPEG(img image.Image) ([]byte, error)
}

type utils struct{}

func New() IUtils {
	return &utils{}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// DecodeBase64Image accepts raw base64 or a data URL.
func (u *utils) DecodeBase64Image(payload string) (image.Image, error) {
	payload = strings.TrimSpace(payload)
	if idx := strings.Index(payload, ","); strings.HasPrefix(payload, "data:") && idx >= 0 {
		payload = payload[idx+1:]
	}
	if payload == "" {
		return nil, ErrEmptyImage
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrImageEncoded
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrImageDecode
	}
	return img, nil
}

// FitReferenceImage scales img to the annotation's recorded dimensions so
// keypoints line up with the pixels they were placed on. Zero dimensions or an
// image already at size are returned unchanged.
func (u *utils) FitReferenceImage(img image.Image, width, height int) image.Image {
	if width <= 0 || height <= 0 {
		return img
	}
	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return img
	}
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

func (u *utils) EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(referenceJPEGQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
