package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every setting read from the environment.
type Config struct {
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"pdf_checker"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	// Only used with DB_DRIVER=sqlite.
	DBPath string `envconfig:"DB_PATH" default:"pdf_checker.db"`

	HTTPPort       string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey   string `envconfig:"API_SECRET_KEY"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`

	InlineAnalyzerTimeout   time.Duration `envconfig:"INLINE_ANALYZER_TIMEOUT" default:"30s"`
	InlineSummarizerTimeout time.Duration `envconfig:"INLINE_SUMMARIZER_TIMEOUT" default:"30s"`
	SweepAnalyzerTimeout    time.Duration `envconfig:"SWEEP_ANALYZER_TIMEOUT" default:"60s"`
	SweepSummarizerTimeout  time.Duration `envconfig:"SWEEP_SUMMARIZER_TIMEOUT" default:"120s"`
	StalenessThreshold      time.Duration `envconfig:"STALENESS_THRESHOLD" default:"10m"`
	SweepBatchSize          int           `envconfig:"SWEEP_BATCH_SIZE" default:"10"`

	// In-process sweeps; disable when an external scheduler calls the CLI instead.
	SweepEnabled          bool   `envconfig:"SWEEP_ENABLED" default:"true"`
	DocumentSweepSchedule string `envconfig:"DOCUMENT_SWEEP_SCHEDULE" default:"@every 1m"`
	SummarySweepSchedule  string `envconfig:"SUMMARY_SWEEP_SCHEDULE" default:"@every 1m"`

	VeraPDFPath    string `envconfig:"VERAPDF_PATH" default:"verapdf"`
	VeraPDFFlavour string `envconfig:"VERAPDF_FLAVOUR" default:"ua1"`

	SummarizerProvider string `envconfig:"SUMMARIZER_PROVIDER" default:"openrouter"`

	OpenRouterAPIKey  string  `envconfig:"OPENROUTER_API_KEY"`
	OpenRouterModel   string  `envconfig:"OPENROUTER_MODEL" default:"openai/gpt-4o-mini"`
	OpenRouterBaseURL string  `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
	OpenRouterRPS     float64 `envconfig:"OPENROUTER_RPS" default:"2"`

	VertexProjectID string `envconfig:"VERTEX_PROJECT_ID"`
	VertexRegion    string `envconfig:"VERTEX_REGION" default:"us-central1"`
	VertexModel     string `envconfig:"VERTEX_MODEL" default:"gemini-1.5-flash"`

	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"local"`
	StorageDir     string `envconfig:"STORAGE_DIR" default:"uploads"`

	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket string `envconfig:"S3_BUCKET"`

	GCSBucket string `envconfig:"GCS_BUCKET"`

	// Database backups reuse the S3 credentials above.
	BackupBucket string `envconfig:"BACKUP_S3_BUCKET"`
	BackupPrefix string `envconfig:"BACKUP_PREFIX" default:"backups/"`
	BackupKeep   int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

// DSN returns the data source name for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.DBPath
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return errors.Newf("unknown DB_DRIVER %q", c.DBDriver)
	}
	switch c.SummarizerProvider {
	case "openrouter", "vertex":
	default:
		return errors.Newf("unknown SUMMARIZER_PROVIDER %q", c.SummarizerProvider)
	}
	switch c.StorageBackend {
	case "local", "s3", "gcs":
	default:
		return errors.Newf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.StorageBackend == "s3" && c.S3Bucket == "" {
		return errors.New("S3_BUCKET is required for the s3 storage backend")
	}
	if c.StorageBackend == "gcs" && c.GCSBucket == "" {
		return errors.New("GCS_BUCKET is required for the gcs storage backend")
	}
	if c.SummarizerProvider == "vertex" && c.VertexProjectID == "" {
		return errors.New("VERTEX_PROJECT_ID is required for the vertex summarizer")
	}
	if c.BackupKeep < 1 {
		return errors.Newf("KEEP_BACKUPS must be at least 1, got %d", c.BackupKeep)
	}
	if c.SweepBatchSize <= 0 {
		return errors.Newf("SWEEP_BATCH_SIZE must be positive, got %d", c.SweepBatchSize)
	}
	for name, d := range map[string]time.Duration{
		"INLINE_ANALYZER_TIMEOUT":   c.InlineAnalyzerTimeout,
		"INLINE_SUMMARIZER_TIMEOUT": c.InlineSummarizerTimeout,
		"SWEEP_ANALYZER_TIMEOUT":    c.SweepAnalyzerTimeout,
		"SWEEP_SUMMARIZER_TIMEOUT":  c.SweepSummarizerTimeout,
	} {
		if d <= 0 {
			return errors.Newf("%s must be positive", name)
		}
	}
	if c.InlineAnalyzerTimeout > c.SweepAnalyzerTimeout || c.InlineSummarizerTimeout > c.SweepSummarizerTimeout {
		return errors.New("inline timeouts must not exceed sweep timeouts")
	}
	// A sweep worker still inside its deadline must never look stale to another sweep.
	if c.StalenessThreshold <= c.SweepAnalyzerTimeout || c.StalenessThreshold <= c.SweepSummarizerTimeout {
		return errors.Newf("STALENESS_THRESHOLD (%s) must exceed both sweep timeouts", c.StalenessThreshold)
	}
	return nil
}

// RedactedDSN is the DSN with the password masked, for logging.
func (c *Config) RedactedDSN() string {
	if c.DBPassword == "" {
		return c.DSN()
	}
	return strings.Replace(c.DSN(), "password="+c.DBPassword, "password=***", 1)
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, errors.Wrap(err, "process environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
