// Package config loads the process-wide configuration once at startup from
// environment variables (with an optional .env file already loaded by the
// caller) and hands back an immutable value. Nothing in this package reads
// os.Getenv again after FromEnv returns.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig controls the structured logger and its file rotation.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig controls optional, best-effort external log shipping.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// AgentConfig is forwarded to the agent framework driving the tool-calling loop.
type AgentConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	MaxTurns        int
	ResumeAttempts  int // hard-capped at 2 by the controller regardless of this value
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	MaxMarkdownChars int
}

// MineruConfig configures the Parse Adapter's remote parser and local fallback.
type MineruConfig struct {
	BaseURL              string
	APIToken             string
	ModelVersion         string
	UploadEndpoint       string
	PollEndpointTemplates []string
	PollInterval         time.Duration
	PollTimeout          time.Duration
	AllowLocalFallback   bool
}

// PaperServiceConfig configures one leg (search or read) of the Paper-Search Adapter.
type PaperServiceConfig struct {
	BaseURL string
	APIKey  string
	Endpoint string
	Timeout time.Duration
}

// GatesConfig controls commit-time and annotation-time enforcement thresholds.
type GatesConfig struct {
	Enabled                            bool
	MinPaperSearchCallsForPDFAnnotate  int
	MinPaperSearchCallsForFinal        int
	MinDistinctPaperQueriesForFinal    int
	MinAnnotationsForFinal             int
	MinEnglishWordsForFinal            int
	MinChineseCharsForFinal            int
	ForceEnglishOutput                 bool
}

// SubmitConfig controls CLI submit-then-wait behavior.
type SubmitConfig struct {
	DefaultWaitSeconds  int
	PollIntervalSeconds float64
}

// OptionalExtras wires the genuinely optional domain-stack extras.
type OptionalExtras struct {
	StatusCacheRedisURL  string
	ArtifactMirrorBucket string
	// MetricsAddr, when set, makes the worker process serve Prometheus
	// metrics on this address (e.g. "127.0.0.1:9090").
	MetricsAddr string
}

// Config is the top-level, immutable configuration snapshot.
type Config struct {
	DataDir      string
	MaxPDFBytes  int64
	Logging      LoggingConfig
	Axiom        AxiomConfig
	Agent        AgentConfig
	Mineru       MineruConfig
	PaperSearch  PaperServiceConfig
	PaperRead    PaperServiceConfig
	Gates        GatesConfig
	Submit       SubmitConfig
	Extras       OptionalExtras
}

// FromEnv loads configuration from the environment with sensible, always-runnable defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.DataDir = getEnv("DATA_DIR", "./data")
	cfg.MaxPDFBytes = parseInt64(getEnv("MAX_PDF_BYTES", ""), 50*1024*1024)

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/deepreview.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_deepreview",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Agent = AgentConfig{
		Model:            getEnv("AGENT_MODEL", "gpt-5.2"),
		Temperature:      parseFloat(getEnv("AGENT_TEMPERATURE", "0.2"), 0.2),
		MaxTokens:        parseInt(getEnv("AGENT_MAX_TOKENS", "4096"), 4096),
		MaxTurns:         parseInt(getEnv("AGENT_MAX_TURNS", "1000"), 1000),
		ResumeAttempts:   parseInt(getEnv("AGENT_RESUME_ATTEMPTS", "2"), 2),
		OpenAIAPIKey:     firstNonEmptyEnv("OPENAI_API_KEY", "API_KEY", "LLM_API_KEY"),
		OpenAIBaseURL:    firstNonEmptyEnv("BASE_URL", "OPENAI_BASE_URL", "LLM_BASE_URL"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		MaxMarkdownChars: parseInt(getEnv("MAX_MARKDOWN_CHARS_TO_MODEL", "120000"), 120000),
	}
	if cfg.Agent.ResumeAttempts > 2 {
		cfg.Agent.ResumeAttempts = 2
	}
	if cfg.Agent.ResumeAttempts < 1 {
		cfg.Agent.ResumeAttempts = 1
	}

	cfg.Mineru = MineruConfig{
		BaseURL:              getEnv("MINERU_BASE_URL", "https://mineru.net/api/v4"),
		APIToken:             getEnv("MINERU_API_TOKEN", ""),
		ModelVersion:         getEnv("MINERU_MODEL_VERSION", "vlm"),
		UploadEndpoint:       getEnv("MINERU_UPLOAD_ENDPOINT", "/file-urls/batch"),
		PollEndpointTemplates: splitNonEmpty(getEnv("MINERU_POLL_ENDPOINT_TEMPLATES",
			"/extract-results/batch/{batch_id},/extract-results/{batch_id},/extract/task/{batch_id}"), ","),
		PollInterval:       parseDuration(getEnv("MINERU_POLL_INTERVAL_SECONDS", "3s"), 3*time.Second),
		PollTimeout:        parseDuration(getEnv("MINERU_POLL_TIMEOUT_SECONDS", "900s"), 900*time.Second),
		AllowLocalFallback: parseBool(getEnv("MINERU_ALLOW_LOCAL_FALLBACK", "false")),
	}

	cfg.PaperSearch = PaperServiceConfig{
		BaseURL:  getEnv("PAPER_SEARCH_BASE_URL", ""),
		APIKey:   getEnv("PAPER_SEARCH_API_KEY", ""),
		Endpoint: getEnv("PAPER_SEARCH_ENDPOINT", "/pasa/search"),
		Timeout:  parseDuration(getEnv("PAPER_SEARCH_TIMEOUT_SECONDS", "120s"), 120*time.Second),
	}
	cfg.PaperRead = PaperServiceConfig{
		BaseURL:  getEnv("PAPER_READ_BASE_URL", ""),
		APIKey:   getEnv("PAPER_READ_API_KEY", ""),
		Endpoint: getEnv("PAPER_READ_ENDPOINT", "/read"),
		Timeout:  parseDuration(getEnv("PAPER_READ_TIMEOUT_SECONDS", "180s"), 180*time.Second),
	}

	cfg.Gates = GatesConfig{
		Enabled:                           parseBool(getEnv("ENABLE_FINAL_GATES", "false")),
		MinPaperSearchCallsForPDFAnnotate: parseInt(getEnv("MIN_PAPER_SEARCH_CALLS_FOR_PDF_ANNOTATE", "3"), 3),
		MinPaperSearchCallsForFinal:       parseInt(getEnv("MIN_PAPER_SEARCH_CALLS_FOR_FINAL", "3"), 3),
		MinDistinctPaperQueriesForFinal:   parseInt(getEnv("MIN_DISTINCT_PAPER_QUERIES_FOR_FINAL", "3"), 3),
		MinAnnotationsForFinal:            parseInt(getEnv("MIN_ANNOTATIONS_FOR_FINAL", "10"), 10),
		MinEnglishWordsForFinal:           parseInt(getEnv("MIN_ENGLISH_WORDS_FOR_FINAL", "0"), 0),
		MinChineseCharsForFinal:           parseInt(getEnv("MIN_CHINESE_CHARS_FOR_FINAL", "0"), 0),
		ForceEnglishOutput:                parseBool(getEnv("FORCE_ENGLISH_OUTPUT", "true")),
	}

	cfg.Submit = SubmitConfig{
		DefaultWaitSeconds:  parseInt(getEnv("SUBMIT_DEFAULT_WAIT_SECONDS", "8"), 8),
		PollIntervalSeconds: parseFloat(getEnv("SUBMIT_POLL_INTERVAL_SECONDS", "1.0"), 1.0),
	}

	cfg.Extras = OptionalExtras{
		StatusCacheRedisURL:  getEnv("REDIS_URL", ""),
		ArtifactMirrorBucket: getEnv("ARTIFACT_MIRROR_S3_BUCKET", ""),
		MetricsAddr:          getEnv("METRICS_ADDR", ""),
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstNonEmptyEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
