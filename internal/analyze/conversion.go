package analyze

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// prepareImage normalizes image bytes for a vision model call. PDFs are
// rendered from their first page and HEIC photos are decoded; the output is
// always PNG.
func prepareImage(data []byte, mimeType string) ([]byte, string, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if mt == "" {
		mt = "image/jpeg"
	}

	switch {
	case mt == "application/pdf":
		rendered, err := pdfFirstPage(data)
		if err != nil {
			return nil, "", err
		}
		return rendered, "image/png", nil
	case mt != "image/png" || isHEIC(data, mt):
		converted, err := toPNG(data, mt)
		if err != nil {
			return nil, "", err
		}
		return converted, "image/png", nil
	default:
		return data, "image/png", nil
	}
}

// pdfFirstPage renders the first page of a PDF as PNG. Receipts are almost
// always single page.
func pdfFirstPage(data []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("failed to render PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func toPNG(data []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	if isHEIC(data, mimeType) {
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode HEIC image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEIC reports whether the data or declared type is HEIC/HEIF, which the
// standard image package cannot decode. HEIC files carry an ftyp box at
// offset 4 with a heic-family brand.
func isHEIC(data []byte, mimeType string) bool {
	if strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}
