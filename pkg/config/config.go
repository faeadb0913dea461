package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no explicit path is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for the sanctions engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sanctions SanctionsConfig `yaml:"sanctions"`
	AI        AIConfig        `yaml:"ai"`
	Match     MatchConfig     `yaml:"match"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"sanctions"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"sanctions_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig configures the optional query-embedding cache.
// Leaving Host empty disables the cache.
type RedisConfig struct {
	Host              string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port              int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password          string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB                int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	QueryEmbeddingTTL time.Duration `yaml:"query_embedding_ttl" env:"REDIS_QUERY_EMBEDDING_TTL" env-default:"24h"`
}

// SanctionsConfig controls where the sanctions list comes from and how it is
// narrowed to the relevant subset.
type SanctionsConfig struct {
	SourceURL          string        `yaml:"source_url" env:"SANCTIONS_SOURCE_URL" env-default:"https://sanctionslistservice.ofac.treas.gov/api/PublicationPreview/exports/SDN.XML"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout" env:"SANCTIONS_FETCH_TIMEOUT" env-default:"60s"`
	FetchMaxRetries    int           `yaml:"fetch_max_retries" env:"SANCTIONS_FETCH_MAX_RETRIES" env-default:"2"`
	MaxDocumentBytes   int64         `yaml:"max_document_bytes" env:"SANCTIONS_MAX_DOCUMENT_BYTES" env-default:"268435456"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"SANCTIONS_INSECURE_SKIP_VERIFY" env-default:"false"`
	// SyncInterval schedules periodic syncs in serve mode. Zero disables the scheduler.
	SyncInterval time.Duration `yaml:"sync_interval" env:"SANCTIONS_SYNC_INTERVAL" env-default:"0s"`

	TargetCountries      []string `yaml:"target_countries" env:"SANCTIONS_TARGET_COUNTRIES" env-separator:"," env-default:"Egypt,Saudi Arabia,United Arab Emirates,Jordan,Lebanon,Syria,Iraq,Yemen,Sudan,Libya,Kuwait,Qatar,Oman,Bahrain,Iran,Turkey"`
	FoodKeywords         []string `yaml:"food_keywords" env:"SANCTIONS_FOOD_KEYWORDS" env-separator:"," env-default:"food,agricultur,farm,grain,wheat,flour,sugar,rice,livestock,poultry,dairy,fishery,fertilizer,seed,crop,vegetable,fruit,meat,bakery,beverage,dates,olive,cattle,feed,irrigation"`
	ConstructionKeywords []string `yaml:"construction_keywords" env:"SANCTIONS_CONSTRUCTION_KEYWORDS" env-separator:"," env-default:"construction,contracting,contractor,engineering,building,cement,concrete,steel,infrastructure,real estate,excavation,asphalt,housing"`
	// PluralKeywords also matches keyword plurals in the sector filter.
	PluralKeywords       bool     `yaml:"plural_keywords" env:"SANCTIONS_PLURAL_KEYWORDS" env-default:"false"`
}

// AIConfig configures the OpenAI-compatible embedding/chat provider and the
// optional Anthropic ranker.
type AIConfig struct {
	BaseURL        string        `yaml:"base_url" env:"AI_BASE_URL" env-default:"https://api.openai.com/v1"`
	APIKey         string        `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
	EmbeddingModel string        `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	ChatModel      string        `yaml:"chat_model" env:"AI_CHAT_MODEL" env-default:"gpt-4o-mini"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"AI_REQUEST_TIMEOUT" env-default:"10s"`

	EmbeddingBatchSize int `yaml:"embedding_batch_size" env:"AI_EMBEDDING_BATCH_SIZE" env-default:"100"`
	MaxConcurrent      int `yaml:"max_concurrent" env:"AI_MAX_CONCURRENT" env-default:"4"`

	// RankingProvider selects the model used for LLM fallback ranking: "openai" or "anthropic".
	RankingProvider  string `yaml:"ranking_provider" env:"AI_RANKING_PROVIDER" env-default:"openai"`
	AnthropicAPIKey  string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	AnthropicModel   string `yaml:"anthropic_model" env:"ANTHROPIC_MODEL" env-default:"claude-3-5-haiku-latest"`
	AnthropicBaseURL string `yaml:"anthropic_base_url" env:"ANTHROPIC_BASE_URL" env-default:""`

	BreakerThreshold  int           `yaml:"breaker_threshold" env:"AI_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after" env:"AI_BREAKER_RESET_AFTER" env-default:"30s"`
}

// EmbeddingsAvailable returns true if an embedding provider is configured.
func (c *AIConfig) EmbeddingsAvailable() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.EmbeddingModel != ""
}

// RankingAvailable returns true if the configured LLM ranking provider has credentials.
func (c *AIConfig) RankingAvailable() bool {
	if c.RankingProvider == "anthropic" {
		return c.AnthropicAPIKey != "" && c.AnthropicModel != ""
	}
	return c.BaseURL != "" && c.APIKey != "" && c.ChatModel != ""
}

// MatchConfig tunes the match engine.
type MatchConfig struct {
	SQLConfidence      int     `yaml:"sql_confidence" env:"MATCH_SQL_CONFIDENCE" env-default:"95"`
	FallbackConfidence int     `yaml:"fallback_confidence" env:"MATCH_FALLBACK_CONFIDENCE" env-default:"30"`
	CandidatePoolSize  int     `yaml:"candidate_pool_size" env:"MATCH_CANDIDATE_POOL_SIZE" env-default:"100"`
	MaxResults         int     `yaml:"max_results" env:"MATCH_MAX_RESULTS" env-default:"20"`
	LLMCandidateCap    int     `yaml:"llm_candidate_cap" env:"MATCH_LLM_CANDIDATE_CAP" env-default:"20"`
	MinSimilarity      float64 `yaml:"min_similarity" env:"MATCH_MIN_SIMILARITY" env-default:"0.35"`
}

// Load reads configuration from path with environment variable overrides.
// When path does not exist, configuration comes from the environment alone.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// normalize trims list entries and drops empty ones.
func (c *Config) normalize() {
	c.Sanctions.TargetCountries = trimList(c.Sanctions.TargetCountries)
	c.Sanctions.FoodKeywords = trimList(c.Sanctions.FoodKeywords)
	c.Sanctions.ConstructionKeywords = trimList(c.Sanctions.ConstructionKeywords)
	c.AI.RankingProvider = strings.ToLower(strings.TrimSpace(c.AI.RankingProvider))
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	if c.Sanctions.SourceURL == "" {
		return fmt.Errorf("sanctions.source_url is required")
	}
	if c.Sanctions.FetchTimeout <= 0 {
		return fmt.Errorf("sanctions.fetch_timeout must be positive")
	}
	if c.Sanctions.InsecureSkipVerify && c.IsProduction() {
		return fmt.Errorf("sanctions.insecure_skip_verify is not allowed in production")
	}
	if len(c.Sanctions.TargetCountries) == 0 {
		return fmt.Errorf("sanctions.target_countries must not be empty")
	}
	if len(c.Sanctions.FoodKeywords) == 0 && len(c.Sanctions.ConstructionKeywords) == 0 {
		return fmt.Errorf("at least one sector keyword list must be configured")
	}
	switch c.AI.RankingProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("ai.ranking_provider must be openai or anthropic, got %q", c.AI.RankingProvider)
	}
	if c.Match.MaxResults < 1 || c.Match.MaxResults > 20 {
		return fmt.Errorf("match.max_results must be between 1 and 20")
	}
	if c.Match.CandidatePoolSize < 1 || c.Match.CandidatePoolSize > 100 {
		return fmt.Errorf("match.candidate_pool_size must be between 1 and 100")
	}
	if c.Match.LLMCandidateCap < 1 || c.Match.LLMCandidateCap > 20 {
		return fmt.Errorf("match.llm_candidate_cap must be between 1 and 20")
	}
	if !validConfidence(c.Match.SQLConfidence) || !validConfidence(c.Match.FallbackConfidence) {
		return fmt.Errorf("match confidences must be between 0 and 100")
	}
	return nil
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// URL returns the connection string in URL form, as required by golang-migrate.
// Credentials and the database name are escaped.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// WriteExample writes a config.yaml populated with the effective defaults
// (after environment overrides). Secrets are never written.
func WriteExample(w io.Writer) error {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("failed to read defaults: %w", err)
	}
	cfg.normalize()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func validConfidence(v int) bool {
	return v >= 0 && v <= 100
}
