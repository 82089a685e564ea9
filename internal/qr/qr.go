package qr

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yeqown/go-qrcode"
)

const payloadPrefix = "booking:"

// Generator produces the opaque payload stored on a booking and renders it
// as a scannable image.
type Generator interface {
	Payload(code string) string
	Image(payload string) ([]byte, error)
}

type generator struct {
	tempDir string
}

// NewGenerator renders images through files under tempDir; an empty dir
// uses os.TempDir.
func NewGenerator(tempDir string) Generator {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &generator{tempDir: tempDir}
}

func (g *generator) Payload(code string) string {
	return base64.StdEncoding.EncodeToString([]byte(payloadPrefix + code))
}

// Image returns the payload encoded as a JPEG QR code.
func (g *generator) Image(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("empty qr payload")
	}

	qrc, err := qrcode.New(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}

	f, err := os.CreateTemp(g.tempDir, "booking-qr-*.jpeg")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := qrc.Save(path); err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}

	return os.ReadFile(filepath.Clean(path))
}

// DecodePayload reverses Payload. It reports false for anything that is not
// a booking payload.
func DecodePayload(payload string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	s := string(raw)
	if len(s) <= len(payloadPrefix) || s[:len(payloadPrefix)] != payloadPrefix {
		return "", false
	}
	return s[len(payloadPrefix):], true
}
