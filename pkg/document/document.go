// Package document models one fetched ordinance source: ordered pages
// plus the attributes pipeline stages attach as the document moves
// through search, validation and extraction.
package document

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/jaytaylor/html2text"
)

// Format tells the pipeline how a document's text and raw pages are
// derived. It also drives ranking: PDF sources are preferred over HTML.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// TextSplitter produces the page-sized views of an HTML document used
// for location voting.
type TextSplitter interface {
	Split(text string) []string
}

// Date is a document's declared adoption date. Zero fields are unknown
// and order low.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// Before reports whether d orders before other, comparing year, then
// month, then day.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// Meta carries the attributes pipeline stages attach to a document.
// Values holds the tabular extraction output and stays opaque here so
// the storage layer can persist whatever the parser produced. Extra is
// the escape hatch for keys no stage has promoted to a field yet.
type Meta struct {
	Source       string // URL the document was fetched from
	Location     string // full location name ("Decatur County, Indiana")
	LocationName string // bare location name ("Decatur")
	CacheFile    string // temporary cached copy of the original
	OutFile      string // final stored path of the original
	Date         Date   // declared adoption or effective date

	ContainsOrdinance    bool
	OrdinanceText        string
	CleanedOrdinanceText string
	Values               any

	Extra map[string]any
}

const (
	defaultRawShare = 25 // percent of leading pages kept as raw views
	defaultRawMax   = 18
)

// Document is one fetched source. Pages are fixed at construction with
// blank pages removed; Meta is mutated by pipeline stages.
type Document struct {
	Format Format
	Meta   Meta

	pages    []string
	splitter TextSplitter
	rawShare int
	rawMax   int

	textOnce sync.Once
	text     string
}

type Option func(*Document)

// WithSplitter sets the splitter used for an HTML document's raw page
// views. Without one, RawPages returns the whole text as a single view.
func WithSplitter(s TextSplitter) Option {
	return func(d *Document) {
		d.splitter = s
	}
}

// WithRawPageBudget overrides how many leading pages a PDF keeps as raw
// views: a share of the page count, capped at max.
func WithRawPageBudget(sharePercent, max int) Option {
	return func(d *Document) {
		d.rawShare = sharePercent
		d.rawMax = max
	}
}

// NewPDF builds a document from parsed PDF pages.
func NewPDF(pages []string, opts ...Option) *Document {
	return newDocument(FormatPDF, pages, opts)
}

// NewHTML builds a document from one or more HTML payloads.
func NewHTML(pages []string, opts ...Option) *Document {
	return newDocument(FormatHTML, pages, opts)
}

func newDocument(format Format, pages []string, opts []Option) *Document {
	d := &Document{
		Format:   format,
		pages:    removeBlankPages(pages),
		rawShare: defaultRawShare,
		rawMax:   defaultRawMax,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Pages returns the document's pages as constructed.
func (d *Document) Pages() []string {
	return d.pages
}

// Text returns the document's cleaned full text, derived once and
// cached. PDFs drop repeated page furniture and conversion artifacts;
// HTML is rendered to plain text with tables formatted.
func (d *Document) Text() string {
	d.textOnce.Do(func() {
		switch d.Format {
		case FormatHTML:
			d.text = renderHTML(d.pages)
		default:
			d.text = cleanPDFText(d.pages)
		}
	})
	return d.text
}

// RawPages returns the page views the location validator votes on: the
// leading share of pages plus the final two for PDFs, the splitter's
// output for HTML.
func (d *Document) RawPages() []string {
	if d.Format == FormatHTML {
		if d.splitter == nil {
			return []string{d.Text()}
		}
		return d.splitter.Split(d.Text())
	}
	return rawPDFPages(d.pages, d.rawShare, d.rawMax)
}

// Empty reports whether the text contains no alphabetic word of three
// or more letters.
func (d *Document) Empty() bool {
	for _, word := range strings.Fields(d.Text()) {
		if utf8.RuneCountInString(word) < 3 {
			continue
		}
		if isAlphaWord(word) {
			return false
		}
	}
	return true
}

func renderHTML(pages []string) string {
	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		text, err := html2text.FromString(page, html2text.Options{
			PrettyTables: true,
			OmitLinks:    true,
		})
		if err != nil {
			// A parse failure keeps the raw markup rather than dropping
			// the page.
			text = page
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

func rawPDFPages(pages []string, sharePercent, max int) []string {
	if len(pages) == 0 {
		return nil
	}
	keep := (len(pages)*sharePercent + 99) / 100
	if keep < 1 {
		keep = 1
	}
	if keep > max {
		keep = max
	}
	if keep >= len(pages) {
		return append([]string(nil), pages...)
	}
	raw := append([]string(nil), pages[:keep]...)
	tail := len(pages) - 2
	if tail < keep {
		tail = keep
	}
	return append(raw, pages[tail:]...)
}

func isAlphaWord(word string) bool {
	for _, r := range word {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
