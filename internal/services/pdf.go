package services

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const pdfMIMEType = "application/pdf"

var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// page is one unit of OCR input.
type page struct {
	number   int
	data     []byte
	mimeType string
}

// detectContentType trusts the uploaded content type unless it is missing or generic.
func detectContentType(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if mediaType, _, ok := strings.Cut(declared, ";"); ok {
		declared = strings.TrimSpace(mediaType)
	}
	if declared == "" || declared == "application/octet-stream" {
		sniffed := http.DetectContentType(data)
		mediaType, _, _ := strings.Cut(sniffed, ";")
		return mediaType
	}
	return declared
}

// splitPages turns the source document into OCR pages. PDFs are validated,
// optimized and split into one file per page; images are a single page.
func splitPages(data []byte, contentType string) ([]page, error) {
	if supportedImageTypes[contentType] {
		return []page{{number: 1, data: data, mimeType: contentType}}, nil
	}
	if contentType != pdfMIMEType {
		return nil, errUnsupportedFormat{contentType: contentType}
	}

	tempDir, err := os.MkdirTemp("", "iep-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp pdf: %w", err)
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		return nil, errInvalidPDF{fmt.Errorf("failed to validate/optimize PDF: %w", err)}
	}
	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, errInvalidPDF{fmt.Errorf("failed to get page count: %w", err)}
	}
	if pageCount == 0 {
		return nil, errInvalidPDF{fmt.Errorf("pdf has no pages")}
	}
	if pageCount == 1 {
		single, err := os.ReadFile(optimizedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read optimized pdf: %w", err)
		}
		return []page{{number: 1, data: single, mimeType: pdfMIMEType}}, nil
	}

	if err := api.SplitFile(optimizedPath, tempDir, 1, nil); err != nil {
		return nil, errInvalidPDF{fmt.Errorf("failed to split PDF: %w", err)}
	}

	splitFileBase := strings.TrimSuffix(optimizedPath, filepath.Ext(optimizedPath))
	pages := make([]page, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pageData, err := os.ReadFile(fmt.Sprintf("%s_%d.pdf", splitFileBase, i))
		if err != nil {
			return nil, fmt.Errorf("failed to read split page %d: %w", i, err)
		}
		pages = append(pages, page{number: i, data: pageData, mimeType: pdfMIMEType})
	}
	return pages, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

type errUnsupportedFormat struct{ contentType string }

func (e errUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported document format %q", e.contentType)
}

type errInvalidPDF struct{ err error }

func (e errInvalidPDF) Error() string { return e.err.Error() }
func (e errInvalidPDF) Unwrap() error { return e.err }
