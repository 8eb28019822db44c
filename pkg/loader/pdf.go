package loader

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/ordexlabs/ordex/pkg/services"
)

// parsePDF extracts page text on the CPU pool. When no page carries any
// text and an OCR binary is configured, the scanned original is run
// through OCR on the IO pool and parsed again; an OCR failure logs and
// keeps the blank pages so the document is dropped as empty downstream.
func (l *HTTPLoader) parsePDF(ctx context.Context, path string) ([]string, error) {
	pages, err := l.readPages(ctx, path)
	if err != nil {
		return nil, err
	}
	if hasText(pages) || l.ocrBinary == "" {
		return pages, nil
	}

	l.logger.InfoContext(ctx, "PDF has no text layer, running OCR", "file", path)
	recovered, err := l.ocrPDF(ctx, path)
	if err != nil {
		l.logger.WarnContext(ctx, "OCR failed", "file", path, "error", err)
		return pages, nil
	}
	return recovered, nil
}

func (l *HTTPLoader) readPages(ctx context.Context, path string) ([]string, error) {
	res, err := services.Submit(ctx, l.provider, services.CPUPoolServiceName, func(context.Context) (any, error) {
		return ReadPDFPages(path)
	})
	if err != nil {
		return nil, err
	}
	pages, _ := res.([]string)
	return pages, nil
}

func (l *HTTPLoader) ocrPDF(ctx context.Context, path string) ([]string, error) {
	out := path + ".ocr.pdf"
	_, err := services.Submit(ctx, l.provider, services.IOPoolServiceName, func(ctx context.Context) (any, error) {
		cmd := exec.CommandContext(ctx, l.ocrBinary, path, out)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %s", l.ocrBinary, err, bytes.TrimSpace(output))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return l.readPages(ctx, out)
}

// ReadPDFPages extracts per-page plain text from the PDF at path. Pages
// that fail to extract become empty strings; document construction
// drops those.
func ReadPDFPages(path string) ([]string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func hasText(pages []string) bool {
	for _, page := range pages {
		if strings.TrimSpace(page) != "" {
			return true
		}
	}
	return false
}
