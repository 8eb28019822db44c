// Package loader turns URLs into documents. The shipped loader fetches
// over HTTP, sniffs PDF against HTML, caches the original payload
// through the file-cache service, and parses PDF text on the CPU pool
// with an optional OCR fallback for scanned documents.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/ordexlabs/ordex/pkg/document"
	"github.com/ordexlabs/ordex/pkg/httpclient"
	"github.com/ordexlabs/ordex/pkg/services"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36"

// FileLoader is the document collaborator contract. Fetch returns a
// document with empty pages when the payload is neither PDF nor HTML;
// FetchAll drops URLs whose fetch failed outright.
type FileLoader interface {
	Fetch(ctx context.Context, url string) (*document.Document, error)
	FetchAll(ctx context.Context, urls []string) []*document.Document
}

// HTTPLoader fetches documents over HTTP. Originals are cached through
// the provider's file-cache service so the pipeline can retain the one
// it selects; PDF parsing runs on the CPU pool.
type HTTPLoader struct {
	client    *httpclient.Client
	provider  *services.Provider
	splitter  document.TextSplitter
	userAgent string
	ocrBinary string
	logger    *slog.Logger
}

type Option func(*HTTPLoader)

// WithSplitter sets the splitter attached to HTML documents for their
// page views.
func WithSplitter(s document.TextSplitter) Option {
	return func(l *HTTPLoader) {
		l.splitter = s
	}
}

// WithUserAgent overrides the User-Agent header sent with fetches.
func WithUserAgent(ua string) Option {
	return func(l *HTTPLoader) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// WithOCRBinary enables the OCR fallback for PDFs that parse without
// any text. The binary is invoked as `binary <input.pdf> <output.pdf>`
// and must write a text-layer PDF to the output path.
func WithOCRBinary(path string) Option {
	return func(l *HTTPLoader) {
		l.ocrBinary = path
	}
}

func WithLoaderLogger(logger *slog.Logger) Option {
	return func(l *HTTPLoader) {
		l.logger = logger
	}
}

func NewHTTPLoader(client *httpclient.Client, provider *services.Provider, opts ...Option) *HTTPLoader {
	l := &HTTPLoader{
		client:    client,
		provider:  provider,
		userAgent: defaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch downloads one URL and builds its document. Unknown payload
// types produce a document with no pages rather than an error, so the
// pipeline's empty-document filter drops them without special casing.
func (l *HTTPLoader) Fetch(ctx context.Context, rawURL string) (*document.Document, error) {
	body, contentType, err := l.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	format, ok := detectFormat(contentType, body)
	if !ok {
		l.logger.InfoContext(ctx, "Skipping document of unknown type",
			"url", rawURL,
			"content_type", contentType)
		doc := document.NewHTML(nil)
		doc.Meta.Source = rawURL
		return doc, nil
	}

	cached, err := l.cache(ctx, format, body)
	if err != nil {
		return nil, err
	}

	var doc *document.Document
	switch format {
	case document.FormatPDF:
		pages, err := l.parsePDF(ctx, cached)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PDF from %s: %w", rawURL, err)
		}
		doc = document.NewPDF(pages)
	default:
		doc = document.NewHTML([]string{string(body)}, document.WithSplitter(l.splitter))
	}

	doc.Meta.Source = rawURL
	doc.Meta.CacheFile = cached
	return doc, nil
}

// FetchAll fetches every URL concurrently and returns the documents
// that loaded, preserving input order. Failed fetches are logged and
// omitted.
func (l *HTTPLoader) FetchAll(ctx context.Context, urls []string) []*document.Document {
	slots := make([]*document.Document, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := l.Fetch(ctx, u)
			if err != nil {
				l.logger.WarnContext(ctx, "Failed to load document", "url", u, "error", err)
				return
			}
			slots[i] = doc
		}()
	}
	wg.Wait()

	docs := make([]*document.Document, 0, len(urls))
	for _, doc := range slots {
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs
}

func (l *HTTPLoader) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (l *HTTPLoader) cache(ctx context.Context, format document.Format, body []byte) (string, error) {
	ext := ".html"
	if format == document.FormatPDF {
		ext = ".pdf"
	}
	res, err := l.provider.Call(ctx, services.FileCacheServiceName, services.CacheWriteRequest{
		Extension: ext,
		Data:      body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to cache document: %w", err)
	}
	path, _ := res.(string)
	return path, nil
}

// detectFormat classifies a payload. The PDF magic number outranks the
// Content-Type header because municipal sites routinely serve PDFs as
// octet-streams; HTML falls back to content sniffing for the same
// reason.
func detectFormat(contentType string, body []byte) (document.Format, bool) {
	if bytes.HasPrefix(body, []byte("%PDF-")) {
		return document.FormatPDF, true
	}

	mediaType := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}
	switch mediaType {
	case "application/pdf", "application/x-pdf":
		return document.FormatPDF, true
	case "text/html", "application/xhtml+xml":
		return document.FormatHTML, true
	}

	if strings.HasPrefix(http.DetectContentType(body), "text/html") {
		return document.FormatHTML, true
	}
	return "", false
}
