package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete sopfusion configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	CaseMatch  CaseMatchConfig  `yaml:"case_match" json:"case_match"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Index      IndexConfig      `yaml:"index" json:"index"`
}

// CorpusConfig locates the SOP corpus.
type CorpusConfig struct {
	// Path is a JSON, YAML or SQLite file holding SOP records.
	Path string `yaml:"path" json:"path"`
	// Format is auto, json, yaml or sqlite. Auto picks by file extension.
	Format string `yaml:"format" json:"format"`
	// SQLiteTable is the table read when Format resolves to sqlite.
	SQLiteTable string `yaml:"sqlite_table" json:"sqlite_table"`
	// Watch reindexes when the corpus file changes (serve only).
	Watch         bool   `yaml:"watch" json:"watch"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// RetrievalConfig holds fusion weights, fan-out sizes and stage timeouts.
// Weights need not sum to 1.
type RetrievalConfig struct {
	BM25Weight   float64 `yaml:"bm25_weight" json:"bm25_weight"`
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	RRFK         int     `yaml:"rrf_k" json:"rrf_k"`

	NumQueryVariants int `yaml:"num_query_variants" json:"num_query_variants"`
	KPerQuery        int `yaml:"k_per_query" json:"k_per_query"`
	TopKAfterRRF     int `yaml:"top_k_after_rrf" json:"top_k_after_rrf"`
	FinalTopK        int `yaml:"final_top_k" json:"final_top_k"`

	// Parallelism bounds concurrent per-query lexical+vector work.
	Parallelism int `yaml:"parallelism" json:"parallelism"`

	ExpandTimeout string `yaml:"expand_timeout" json:"expand_timeout"`
	VectorTimeout string `yaml:"vector_timeout" json:"vector_timeout"`
	RerankTimeout string `yaml:"rerank_timeout" json:"rerank_timeout"`

	// LLMRerank set to false skips the LLM judgment and ranks by token overlap.
	LLMRerank *bool `yaml:"llm_rerank,omitempty" json:"llm_rerank,omitempty"`
}

// LexicalConfig selects the BM25 backend and its parameters.
type LexicalConfig struct {
	// Backend is memory (exact Okapi), bleve or sqlite.
	Backend string  `yaml:"backend" json:"backend"`
	K1      float64 `yaml:"k1" json:"k1"`
	B       float64 `yaml:"b" json:"b"`
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// Dimensions of 0 means detect from the embedder.
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures the text-generation backend used for query expansion
// and reranking.
type LLMConfig struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	OllamaHost  string  `yaml:"ollama_host" json:"ollama_host"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	Timeout     string  `yaml:"timeout" json:"timeout"`

	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BreakerFailures   int     `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset      string  `yaml:"breaker_reset" json:"breaker_reset"`
}

// CaseMatchConfig configures the historical case matcher.
type CaseMatchConfig struct {
	CasesPath        string  `yaml:"cases_path" json:"cases_path"`
	SimilarityWeight float64 `yaml:"similarity_weight" json:"similarity_weight"`
	EntityWeight     float64 `yaml:"entity_weight" json:"entity_weight"`
	ModuleWeight     float64 `yaml:"module_weight" json:"module_weight"`
	Threshold        float64 `yaml:"threshold" json:"threshold"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	// MetricsAddr serves Prometheus /metrics when non-empty (e.g. ":9464").
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// TelemetryDB persists query telemetry to SQLite when non-empty.
	TelemetryDB string `yaml:"telemetry_db" json:"telemetry_db"`
}

// IndexConfig configures where persisted index artifacts live.
type IndexConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Corpus: CorpusConfig{
			Format:        "auto",
			SQLiteTable:   "sops",
			WatchDebounce: "500ms",
		},
		Retrieval: RetrievalConfig{
			BM25Weight:       0.4,
			VectorWeight:     0.6,
			RRFK:             60,
			NumQueryVariants: 3,
			KPerQuery:        10,
			TopKAfterRRF:     10,
			FinalTopK:        5,
			Parallelism:      4,
			ExpandTimeout:    "20s",
			VectorTimeout:    "10s",
			RerankTimeout:    "30s",
		},
		Lexical: LexicalConfig{
			Backend: "memory",
			K1:      1.5,
			B:       0.75,
			Epsilon: 0.25,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			Model:     "nomic-embed-text",
			CacheSize: 1000,
			Timeout:   "30s",
		},
		LLM: LLMConfig{
			Provider:          "none",
			Model:             "qwen3:0.6b",
			Temperature:       0.2,
			Timeout:           "30s",
			RequestsPerSecond: 5,
			BreakerFailures:   3,
			BreakerReset:      "30s",
		},
		CaseMatch: CaseMatchConfig{
			SimilarityWeight: 0.7,
			EntityWeight:     0.2,
			ModuleWeight:     0.1,
			Threshold:        0.3,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Index: IndexConfig{
			DataDir: ".sopfusion",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/sopfusion/config.yaml, else ~/.config/sopfusion/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sopfusion", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "sopfusion", "config.yaml")
	}
	return filepath.Join(home, ".config", "sopfusion", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig returns nil, nil when no user config exists.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := parseYAMLFile(configPath, &parsed); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &parsed, nil
}

// Load loads configuration for the project in dir. Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/sopfusion/config.yaml)
//  3. Project config (.sopfusion.yaml in dir)
//  4. Environment variables (SOPFUSION_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ProjectConfigPath returns the project config file in dir, or "" if none.
// .sopfusion.yaml wins over .sopfusion.yml.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{".sopfusion.yaml", ".sopfusion.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func (c *Config) loadFromFile(dir string) error {
	path := ProjectConfigPath(dir)
	if path == "" {
		return nil
	}

	var parsed Config
	if err := parseYAMLFile(path, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)

	// Relative corpus paths are relative to the project config.
	if parsed.Corpus.Path != "" && !filepath.IsAbs(c.Corpus.Path) {
		c.Corpus.Path = filepath.Join(dir, c.Corpus.Path)
	}
	if parsed.CaseMatch.CasesPath != "" && !filepath.IsAbs(c.CaseMatch.CasesPath) {
		c.CaseMatch.CasesPath = filepath.Join(dir, c.CaseMatch.CasesPath)
	}
	return nil
}

func parseYAMLFile(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c. A zero weight can only
// be set through the environment.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeString(&c.Corpus.Path, other.Corpus.Path)
	mergeString(&c.Corpus.Format, other.Corpus.Format)
	mergeString(&c.Corpus.SQLiteTable, other.Corpus.SQLiteTable)
	mergeString(&c.Corpus.WatchDebounce, other.Corpus.WatchDebounce)
	if other.Corpus.Watch {
		c.Corpus.Watch = true
	}

	r, o := &c.Retrieval, other.Retrieval
	mergeFloat(&r.BM25Weight, o.BM25Weight)
	mergeFloat(&r.VectorWeight, o.VectorWeight)
	mergeInt(&r.RRFK, o.RRFK)
	mergeInt(&r.NumQueryVariants, o.NumQueryVariants)
	mergeInt(&r.KPerQuery, o.KPerQuery)
	mergeInt(&r.TopKAfterRRF, o.TopKAfterRRF)
	mergeInt(&r.FinalTopK, o.FinalTopK)
	mergeInt(&r.Parallelism, o.Parallelism)
	mergeString(&r.ExpandTimeout, o.ExpandTimeout)
	mergeString(&r.VectorTimeout, o.VectorTimeout)
	mergeString(&r.RerankTimeout, o.RerankTimeout)
	if o.LLMRerank != nil {
		v := *o.LLMRerank
		r.LLMRerank = &v
	}

	mergeString(&c.Lexical.Backend, other.Lexical.Backend)
	mergeFloat(&c.Lexical.K1, other.Lexical.K1)
	mergeFloat(&c.Lexical.B, other.Lexical.B)
	mergeFloat(&c.Lexical.Epsilon, other.Lexical.Epsilon)

	e, oe := &c.Embeddings, other.Embeddings
	mergeString(&e.Provider, oe.Provider)
	mergeString(&e.Model, oe.Model)
	mergeString(&e.OllamaHost, oe.OllamaHost)
	mergeInt(&e.Dimensions, oe.Dimensions)
	mergeInt(&e.CacheSize, oe.CacheSize)
	mergeString(&e.Timeout, oe.Timeout)

	l, ol := &c.LLM, other.LLM
	mergeString(&l.Provider, ol.Provider)
	mergeString(&l.Model, ol.Model)
	mergeString(&l.OllamaHost, ol.OllamaHost)
	mergeFloat(&l.Temperature, ol.Temperature)
	mergeString(&l.Timeout, ol.Timeout)
	mergeFloat(&l.RequestsPerSecond, ol.RequestsPerSecond)
	mergeInt(&l.BreakerFailures, ol.BreakerFailures)
	mergeString(&l.BreakerReset, ol.BreakerReset)

	cm, ocm := &c.CaseMatch, other.CaseMatch
	mergeString(&cm.CasesPath, ocm.CasesPath)
	mergeFloat(&cm.SimilarityWeight, ocm.SimilarityWeight)
	mergeFloat(&cm.EntityWeight, ocm.EntityWeight)
	mergeFloat(&cm.ModuleWeight, ocm.ModuleWeight)
	mergeFloat(&cm.Threshold, ocm.Threshold)

	mergeString(&c.Server.Transport, other.Server.Transport)
	mergeString(&c.Server.LogLevel, other.Server.LogLevel)
	mergeString(&c.Server.MetricsAddr, other.Server.MetricsAddr)
	mergeString(&c.Server.TelemetryDB, other.Server.TelemetryDB)

	mergeString(&c.Index.DataDir, other.Index.DataDir)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies SOPFUSION_* environment variable overrides.
// Numeric overrides that fail to parse are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SOPFUSION_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.BM25Weight = w
		}
	}
	if v := os.Getenv("SOPFUSION_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.VectorWeight = w
		}
	}
	if v := os.Getenv("SOPFUSION_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFK = k
		}
	}
	if v := os.Getenv("SOPFUSION_NUM_QUERY_VARIANTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Retrieval.NumQueryVariants = n
		}
	}
	if v := os.Getenv("SOPFUSION_CORPUS"); v != "" {
		c.Corpus.Path = v
	}
	if v := os.Getenv("SOPFUSION_LEXICAL_BACKEND"); v != "" {
		c.Lexical.Backend = v
	}
	if v := os.Getenv("SOPFUSION_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("SOPFUSION_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	// One host override serves both Ollama clients.
	if v := os.Getenv("SOPFUSION_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.LLM.OllamaHost = v
	}
	if v := os.Getenv("SOPFUSION_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("SOPFUSION_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("SOPFUSION_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("SOPFUSION_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	r := c.Retrieval
	if r.BM25Weight < 0 || r.VectorWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative, got bm25=%g vector=%g", r.BM25Weight, r.VectorWeight)
	}
	if r.BM25Weight == 0 && r.VectorWeight == 0 {
		return fmt.Errorf("at least one of bm25_weight and vector_weight must be positive")
	}
	if r.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", r.RRFK)
	}
	if r.NumQueryVariants < 0 {
		return fmt.Errorf("num_query_variants must be non-negative, got %d", r.NumQueryVariants)
	}
	for name, v := range map[string]int{
		"k_per_query":     r.KPerQuery,
		"top_k_after_rrf": r.TopKAfterRRF,
		"final_top_k":     r.FinalTopK,
		"parallelism":     r.Parallelism,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	for name, v := range map[string]string{
		"retrieval.expand_timeout": r.ExpandTimeout,
		"retrieval.vector_timeout": r.VectorTimeout,
		"retrieval.rerank_timeout": r.RerankTimeout,
		"embeddings.timeout":       c.Embeddings.Timeout,
		"llm.timeout":              c.LLM.Timeout,
		"llm.breaker_reset":        c.LLM.BreakerReset,
		"corpus.watch_debounce":    c.Corpus.WatchDebounce,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return fmt.Errorf("%s must be a non-negative duration, got %q", name, v)
		}
	}

	if !oneOf(c.Corpus.Format, "auto", "json", "yaml", "sqlite") {
		return fmt.Errorf("corpus.format must be 'auto', 'json', 'yaml', or 'sqlite', got %s", c.Corpus.Format)
	}

	l := c.Lexical
	if !oneOf(l.Backend, "memory", "bleve", "sqlite") {
		return fmt.Errorf("lexical.backend must be 'memory', 'bleve', or 'sqlite', got %s", l.Backend)
	}
	if l.K1 <= 0 {
		return fmt.Errorf("lexical.k1 must be positive, got %g", l.K1)
	}
	if l.B < 0 || l.B > 1 {
		return fmt.Errorf("lexical.b must be between 0 and 1, got %g", l.B)
	}
	if l.Epsilon < 0 {
		return fmt.Errorf("lexical.epsilon must be non-negative, got %g", l.Epsilon)
	}

	if !oneOf(c.Embeddings.Provider, "static", "ollama") {
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if !oneOf(c.LLM.Provider, "ollama", "static", "none") {
		return fmt.Errorf("llm.provider must be 'ollama', 'static', or 'none', got %s", c.LLM.Provider)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must be non-negative, got %g", c.LLM.RequestsPerSecond)
	}

	if c.CaseMatch.Threshold < 0 || c.CaseMatch.Threshold > 1 {
		return fmt.Errorf("case_match.threshold must be between 0 and 1, got %g", c.CaseMatch.Threshold)
	}

	if !oneOf(c.Server.Transport, "stdio") {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	if !oneOf(c.Server.LogLevel, "debug", "info", "warn", "error") {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

func oneOf(v string, options ...string) bool {
	v = strings.ToLower(v)
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// Duration parses a duration field, falling back to def when empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// UseLLMRerank reports whether the rerank stage should consult the LLM.
func (r RetrievalConfig) UseLLMRerank() bool {
	return r.LLMRerank == nil || *r.LLMRerank
}

// DataDir resolves the index data directory against the project root.
func (c *Config) DataDir(root string) string {
	if filepath.IsAbs(c.Index.DataDir) {
		return c.Index.DataDir
	}
	return filepath.Join(root, c.Index.DataDir)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
