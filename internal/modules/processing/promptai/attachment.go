package promptai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mx-space/promptai/internal/modules/processing/ai"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedMediaType = errors.New("unsupported file type")

var imageMediaTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var conservativeDocumentTypes = []string{"application/pdf", "text/plain"}

var extendedDocumentTypes = []string{
	"application/pdf",
	"text/plain",
	"text/csv",
	"application/rtf",
	"text/rtf",
	"text/markdown",
	"application/json",
	"text/json",
	"application/xml",
	"text/xml",
}

var extensionMediaTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".csv":      "text/csv",
	".json":     "application/json",
	".xml":      "application/xml",
	".rtf":      "application/rtf",
	".txt":      "text/plain",
}

// DetectMediaType sniffs the content and refines generic text results by extension.
func DetectMediaType(data []byte, basename string) string {
	detected := mimetype.Detect(data).String()
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}
	detected = strings.TrimSpace(detected)

	if detected == "text/plain" || detected == "application/octet-stream" {
		if mt, ok := extensionMediaTypes[strings.ToLower(filepath.Ext(basename))]; ok {
			return mt
		}
	}
	return detected
}

func documentTypes(extended bool) []string {
	if extended {
		return extendedDocumentTypes
	}
	return conservativeDocumentTypes
}

// attachment loads a file item and prepares it for the AI request.
func (e *Engine) attachment(ctx context.Context, def *FieldDef, f *File) (*ai.Attachment, error) {
	data, err := e.store.ReadFile(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Basename, err)
	}
	mediaType := DetectMediaType(data, f.Basename)

	if contains(imageMediaTypes, mediaType) {
		if def.Image {
			data, mediaType, err = ResizeImage(data, mediaType, e.opts.ImageMaxWidth)
			if err != nil {
				return nil, fmt.Errorf("resize %s: %w", f.Basename, err)
			}
		}
		return &ai.Attachment{Kind: ai.AttachmentImage, Name: f.Basename, MediaType: mediaType, Data: data}, nil
	}
	if !def.Image && contains(documentTypes(e.opts.ExtendedDocuments), mediaType) {
		return &ai.Attachment{Kind: ai.AttachmentDocument, Name: f.Basename, MediaType: mediaType, Data: data}, nil
	}
	return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedMediaType, f.Basename, mediaType)
}

// ResizeImage scales an image down to maxWidth. Smaller images are returned
// untouched. JPEG stays JPEG, everything else is re-encoded as PNG.
func ResizeImage(data []byte, mediaType string, maxWidth int) ([]byte, string, error) {
	if maxWidth <= 0 {
		return data, mediaType, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if cfg.Width <= maxWidth {
		return data, mediaType, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	b := src.Bounds()
	height := b.Dy() * maxWidth / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if mediaType == "image/jpeg" {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
	if err := png.Encode(&buf, dst); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/png", nil
}
