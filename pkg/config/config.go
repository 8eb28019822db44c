// Package config defines the configuration surface for an extraction run
// and loads it from YAML or JSON files with environment variable expansion.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Config is the root configuration for an ordinance extraction run.
type Config struct {
	// OutDir is the output root. Required. All derived directories default
	// to subdirectories of it.
	OutDir string `yaml:"out_dir" json:"out_dir" jsonschema:"title=Output Directory,description=Root directory for all run outputs,required"`

	// CountyTable is a CSV or XLSX roster of counties to process. Empty
	// selects the built-in full roster.
	CountyTable string `yaml:"county_table,omitempty" json:"county_table,omitempty" jsonschema:"title=County Table,description=CSV or XLSX roster of counties (empty selects the full roster)"`

	// LLM configures the provider, model, retries and rate limiting.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty" jsonschema:"title=LLM,description=LLM provider configuration"`

	// Splitter configures the character splitter used for HTML page views.
	Splitter SplitterConfig `yaml:"text_splitter,omitempty" json:"text_splitter,omitempty" jsonschema:"title=Text Splitter,description=Character splitter for HTML page views"`

	// Search configures web search fan-out.
	Search SearchConfig `yaml:"search,omitempty" json:"search,omitempty" jsonschema:"title=Search,description=Web search configuration"`

	// Extraction tunes the chunking and LLM voting heuristics.
	Extraction ExtractionConfig `yaml:"extraction,omitempty" json:"extraction,omitempty" jsonschema:"title=Extraction,description=Chunking and validation heuristics"`

	// Fetch configures document downloading.
	Fetch FetchConfig `yaml:"fetch,omitempty" json:"fetch,omitempty" jsonschema:"title=Fetch,description=Document download configuration"`

	// Pools sizes the shared worker pools.
	Pools PoolsConfig `yaml:"pools,omitempty" json:"pools,omitempty" jsonschema:"title=Pools,description=Worker pool sizing"`

	// OCRBinary is the path to an OCR executable for scanned PDFs. Empty
	// disables OCR.
	OCRBinary string `yaml:"ocr_binary,omitempty" json:"ocr_binary,omitempty" jsonschema:"title=OCR Binary,description=Path to an OCR executable (empty disables OCR)"`

	// TempDir holds fetched originals before they are moved into DocDir.
	// Empty uses the system temp directory.
	TempDir string `yaml:"temp_dir,omitempty" json:"temp_dir,omitempty" jsonschema:"title=Temp Directory,description=Scratch directory for fetched files"`

	// Derived directories; each defaults under OutDir when omitted.
	LogDir         string `yaml:"log_dir,omitempty" json:"log_dir,omitempty" jsonschema:"title=Log Directory,description=Per-location and main log files"`
	CleanedTextDir string `yaml:"cleaned_text_dir,omitempty" json:"cleaned_text_dir,omitempty" jsonschema:"title=Cleaned Text Directory,description=Cleaned ordinance text files"`
	DocDir         string `yaml:"doc_dir,omitempty" json:"doc_dir,omitempty" jsonschema:"title=Document Directory,description=Retained source documents"`
	DBDir          string `yaml:"db_dir,omitempty" json:"db_dir,omitempty" jsonschema:"title=DB Directory,description=Per-location extracted value tables"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty" jsonschema:"title=Log Level,description=Log level,enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// MetricsAddr exposes Prometheus metrics when set (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty" jsonschema:"title=Metrics Address,description=Listen address for Prometheus metrics (empty disables)"`
}

// SplitterConfig sizes the character splitter applied to HTML documents
// before per-page validation.
type SplitterConfig struct {
	ChunkSize    int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" jsonschema:"title=Chunk Size,description=Characters per split,minimum=1,default=3000"`
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"title=Chunk Overlap,description=Characters shared between consecutive splits,minimum=0,default=300"`
}

func (c *SplitterConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 3000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 300
	}
}

func (c *SplitterConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

// SearchConfig bounds web search fan-out per location.
type SearchConfig struct {
	// NumURLs is how many unique result URLs are checked per location.
	NumURLs int `yaml:"num_urls,omitempty" json:"num_urls,omitempty" jsonschema:"title=URLs Per Location,description=Unique result URLs checked per location,minimum=1,default=5"`

	// MaxBrowsers caps concurrent headless browser sessions.
	MaxBrowsers int `yaml:"max_browsers,omitempty" json:"max_browsers,omitempty" jsonschema:"title=Max Browsers,description=Concurrent headless browser sessions,minimum=1,default=10"`

	// TimeoutSeconds bounds a single search's navigation.
	TimeoutSeconds int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Search Timeout,description=Per-search navigation timeout in seconds,minimum=1,default=30"`
}

func (c *SearchConfig) SetDefaults() {
	if c.NumURLs == 0 {
		c.NumURLs = 5
	}
	if c.MaxBrowsers == 0 {
		c.MaxBrowsers = 10
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

func (c *SearchConfig) Validate() error {
	if c.NumURLs <= 0 {
		return fmt.Errorf("num_urls must be positive")
	}
	if c.MaxBrowsers <= 0 {
		return fmt.Errorf("max_browsers must be positive")
	}
	return nil
}

// ExtractionConfig tunes chunking and the voting heuristics of the
// content and location validators.
type ExtractionConfig struct {
	// ChunkTokens caps the charged tokens per chunk handed to the LLM.
	ChunkTokens int `yaml:"chunk_tokens,omitempty" json:"chunk_tokens,omitempty" jsonschema:"title=Chunk Tokens,description=Token cap per chunk of ordinance text,minimum=1,default=500"`

	// ChunkOverlap is how many paragraphs consecutive chunks share.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"title=Chunk Overlap,description=Paragraphs shared between consecutive chunks,minimum=0,default=1"`

	// NumToRecall is the look-back window of the content validator and of
	// the domain-mention votes.
	NumToRecall int `yaml:"num_to_recall,omitempty" json:"num_to_recall,omitempty" jsonschema:"title=Recall Window,description=Chunks of validator memory consulted per check,minimum=1,default=2"`

	// MinChunksToProcess is how many leading chunks are always examined
	// before the legal-text majority may stop the scan.
	MinChunksToProcess int `yaml:"min_chunks_to_process,omitempty" json:"min_chunks_to_process,omitempty" jsonschema:"title=Min Chunks,description=Leading chunks always examined,minimum=1,default=3"`

	// ScoreThresh is the weighted-vote acceptance threshold of the
	// location validator.
	ScoreThresh float64 `yaml:"score_thresh,omitempty" json:"score_thresh,omitempty" jsonschema:"title=Score Threshold,description=Weighted per-page vote needed to accept a document,minimum=0,maximum=1,default=0.8"`

	// MaxAdderFeet reclassifies an implausibly large setback adder as a
	// fixed value. An adder above this many feet is treated as the
	// setback itself.
	MaxAdderFeet float64 `yaml:"max_adder_feet,omitempty" json:"max_adder_feet,omitempty" jsonschema:"title=Max Adder,description=Largest believable additional distance in feet,default=250"`

	// Keywords gate chunks before any LLM call: a chunk must mention an
	// allow term and no deny term to count as a domain mention.
	AllowKeywords []string `yaml:"allow_keywords,omitempty" json:"allow_keywords,omitempty" jsonschema:"title=Allow Keywords,description=Domain terms marking a chunk as relevant"`
	DenyKeywords  []string `yaml:"deny_keywords,omitempty" json:"deny_keywords,omitempty" jsonschema:"title=Deny Keywords,description=Terms disqualifying a chunk"`

	// Features selects which extraction targets the structured parser
	// runs. Empty selects every built-in feature.
	Features []string `yaml:"features,omitempty" json:"features,omitempty" jsonschema:"title=Features,description=Extraction targets (empty selects all)"`
}

func (c *ExtractionConfig) SetDefaults() {
	if c.ChunkTokens == 0 {
		c.ChunkTokens = 500
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 1
	}
	if c.NumToRecall == 0 {
		c.NumToRecall = 2
	}
	if c.MinChunksToProcess == 0 {
		c.MinChunksToProcess = 3
	}
	if c.ScoreThresh == 0 {
		c.ScoreThresh = 0.8
	}
	if c.MaxAdderFeet == 0 {
		c.MaxAdderFeet = 250
	}
	if len(c.AllowKeywords) == 0 {
		c.AllowKeywords = []string{"wind", "turbine", "wecs", "setback"}
	}
}

func (c *ExtractionConfig) Validate() error {
	if c.ChunkTokens <= 0 {
		return fmt.Errorf("chunk_tokens must be positive")
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must not be negative")
	}
	if c.NumToRecall <= 0 {
		return fmt.Errorf("num_to_recall must be positive")
	}
	if c.MinChunksToProcess <= 0 {
		return fmt.Errorf("min_chunks_to_process must be positive")
	}
	if c.ScoreThresh <= 0 || c.ScoreThresh > 1 {
		return fmt.Errorf("score_thresh must be in (0, 1]")
	}
	return nil
}

// FetchConfig configures document downloading.
type FetchConfig struct {
	// TimeoutSeconds bounds a single download.
	TimeoutSeconds int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Fetch Timeout,description=Per-download timeout in seconds,minimum=1,default=60"`

	// InsecureSkipVerify disables TLS verification. Municipal sites are
	// frequently misconfigured; enable only when a run demands it.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty" jsonschema:"title=Insecure Skip Verify,description=Disable TLS certificate verification for downloads"`

	// CACertificate points at a custom CA bundle.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty" jsonschema:"title=CA Certificate,description=Path to a custom CA certificate bundle"`

	// UserAgent sent with document requests.
	UserAgent string `yaml:"user_agent,omitempty" json:"user_agent,omitempty" jsonschema:"title=User Agent,description=User-Agent header for document requests"`
}

func (c *FetchConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 60
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36"
	}
}

func (c *FetchConfig) Validate() error {
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// PoolsConfig sizes the shared worker pools. IOWorkers bounds blocking
// file and subprocess work; CPUWorkers bounds PDF parsing.
type PoolsConfig struct {
	IOWorkers  int `yaml:"io_workers,omitempty" json:"io_workers,omitempty" jsonschema:"title=IO Workers,description=Concurrent blocking file and subprocess jobs,minimum=1"`
	CPUWorkers int `yaml:"cpu_workers,omitempty" json:"cpu_workers,omitempty" jsonschema:"title=CPU Workers,description=Concurrent PDF parse jobs,minimum=1"`
}

func (c *PoolsConfig) SetDefaults() {
	if c.IOWorkers == 0 {
		c.IOWorkers = 10
	}
	if c.CPUWorkers == 0 {
		c.CPUWorkers = runtime.NumCPU()
	}
}

func (c *PoolsConfig) Validate() error {
	if c.IOWorkers <= 0 || c.CPUWorkers <= 0 {
		return fmt.Errorf("pool sizes must be positive")
	}
	return nil
}

// SetDefaults applies defaults across the whole configuration tree,
// deriving unset directories from OutDir.
func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()
	c.Splitter.SetDefaults()
	c.Search.SetDefaults()
	c.Extraction.SetDefaults()
	c.Fetch.SetDefaults()
	c.Pools.SetDefaults()

	if c.OutDir != "" {
		if c.LogDir == "" {
			c.LogDir = filepath.Join(c.OutDir, "logs")
		}
		if c.CleanedTextDir == "" {
			c.CleanedTextDir = filepath.Join(c.OutDir, "cleaned_text")
		}
		if c.DocDir == "" {
			c.DocDir = filepath.Join(c.OutDir, "docs")
		}
		if c.DBDir == "" {
			c.DBDir = filepath.Join(c.OutDir, "db")
		}
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if c.OutDir == "" {
		return fmt.Errorf("out_dir is required")
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := c.Splitter.Validate(); err != nil {
		return fmt.Errorf("text_splitter validation failed: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}
	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("extraction validation failed: %w", err)
	}
	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch validation failed: %w", err)
	}
	if err := c.Pools.Validate(); err != nil {
		return fmt.Errorf("pools validation failed: %w", err)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// UsageFile is the path of the persisted usage report for this run.
func (c *Config) UsageFile() string {
	return filepath.Join(c.OutDir, "usage.json")
}
