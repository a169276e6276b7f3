package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration required by the API process.
// Values come from env, optionally layered over a YAML file named by CONFIG_PATH.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig       `yaml:"app"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type AppConfig struct {
	Env  string `yaml:"env"  env:"APP_ENV"`
	Port int    `yaml:"port" env:"APP_PORT" env-default:"8080"`
}

type DBConfig struct {
	Host     string `yaml:"host"     env:"DB_HOST"`
	Port     int    `yaml:"port"     env:"DB_PORT" env-default:"5432"`
	User     string `yaml:"user"     env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Name     string `yaml:"name"     env:"DB_NAME"`

	// SSLMode is kept explicit for production posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"sslmode" env:"DB_SSLMODE"`

	// AutoMigrate applies the embedded goose migrations on startup.
	AutoMigrate bool `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`

	MaxOpenConns int `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns int `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
}

type RedisConfig struct {
	Host string `yaml:"host" env:"REDIS_HOST"`
	Port int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"   env:"JWT_SECRET"`
	JWTIssuer       string        `yaml:"jwt_issuer"   env:"JWT_ISSUER"`
	JWTAudience     string        `yaml:"jwt_audience" env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `yaml:"access_ttl"   env:"JWT_ACCESS_TTL"`
	RefreshTokenTTL time.Duration `yaml:"refresh_ttl"  env:"JWT_REFRESH_TTL"`
}

type CORSConfig struct {
	// AllowedOrigins is a comma-separated list; "*" allows any origin.
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"*"`
}

// Origins splits AllowedOrigins, dropping blanks.
func (c CORSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type StorageConfig struct {
	Backend      string `yaml:"backend"       env:"STORAGE_BACKEND"       env-default:"local"`
	LocalDir     string `yaml:"local_dir"     env:"STORAGE_LOCAL_DIR"     env-default:"./uploads/recordings"`
	GCSBucket    string `yaml:"gcs_bucket"    env:"STORAGE_GCS_BUCKET"`
	PublicPrefix string `yaml:"public_prefix" env:"STORAGE_PUBLIC_PREFIX" env-default:"/api/uploads/recordings"`
	MaxUpload    int64  `yaml:"max_upload"    env:"UPLOAD_MAX_BYTES"      env-default:"52428800"`
}

type AIConfig struct {
	OpenAIKey             string        `yaml:"openai_api_key"        env:"OPENAI_API_KEY"`
	OpenAIBaseURL         string        `yaml:"openai_base_url"       env:"OPENAI_BASE_URL"           env-default:"https://api.openai.com"`
	TranscriptionProvider string        `yaml:"transcription_provider" env:"AI_TRANSCRIPTION_PROVIDER" env-default:"openai"`
	TranscriptionModel    string        `yaml:"transcription_model"   env:"AI_TRANSCRIPTION_MODEL"    env-default:"whisper-1"`
	ReportModel           string        `yaml:"report_model"          env:"AI_REPORT_MODEL"           env-default:"gpt-4o"`
	ChartModel            string        `yaml:"chart_model"           env:"AI_CHART_MODEL"            env-default:"gpt-4o-mini"`
	Language              string        `yaml:"language"              env:"AI_LANGUAGE"               env-default:"it"`
	TranscriptionTimeout  time.Duration `yaml:"transcription_timeout" env:"AI_TRANSCRIPTION_TIMEOUT"  env-default:"5m"`
	ReportTimeout         time.Duration `yaml:"report_timeout"        env:"AI_REPORT_TIMEOUT"         env-default:"2m"`
	ChartTimeout          time.Duration `yaml:"chart_timeout"         env:"AI_CHART_TIMEOUT"          env-default:"45s"`
	MaxRetries            int           `yaml:"max_retries"           env:"AI_MAX_RETRIES"            env-default:"2"`

	// GoogleCredentialsFile is used by the google transcription provider and the gcs storage backend.
	GoogleCredentialsFile string `yaml:"google_credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PipelineConfig struct {
	StaleAfter        time.Duration `yaml:"stale_after"        env:"PIPELINE_STALE_AFTER"        env-default:"15m"`
	StudioConcurrency int           `yaml:"studio_concurrency" env:"PIPELINE_STUDIO_CONCURRENCY" env-default:"4"`
	RunTimeout        time.Duration `yaml:"run_timeout"        env:"PIPELINE_RUN_TIMEOUT"        env-default:"10m"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"      env:"OTEL_ENABLED"       env-default:"false"`
	Exporter    string  `yaml:"exporter"     env:"OTEL_EXPORTER"      env-default:"stdout"`
	ServiceName string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"  env-default:"referto-api"`
	SampleRatio float64 `yaml:"sample_ratio" env:"OTEL_SAMPLER_RATIO" env-default:"1"`
}

// Load reads CONFIG_PATH (if set) and then the environment. ENV wins over YAML.
func Load() (Config, error) {
	var c Config
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := cleanenv.ReadConfig(path, &c); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&c); err != nil {
		return Config{}, fmt.Errorf("config: read env: %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every group and applies environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.CORS.AllowedOrigins == "*" {
			errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS must list explicit origins in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("STORAGE_LOCAL_DIR is required for the local backend"))
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("STORAGE_GCS_BUCKET is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be local or gcs, got %q", c.Storage.Backend))
	}
	if c.Storage.MaxUpload <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.Storage.MaxUpload))
	}

	if c.AI.OpenAIKey == "" {
		// Report and chart generation always go through OpenAI.
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	switch c.AI.TranscriptionProvider {
	case "openai", "google":
	default:
		errs = append(errs, fmt.Errorf("AI_TRANSCRIPTION_PROVIDER must be openai or google, got %q", c.AI.TranscriptionProvider))
	}
	if c.AI.MaxRetries < 0 {
		errs = append(errs, errors.New("AI_MAX_RETRIES must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"AI_TRANSCRIPTION_TIMEOUT": c.AI.TranscriptionTimeout,
		"AI_REPORT_TIMEOUT":        c.AI.ReportTimeout,
		"AI_CHART_TIMEOUT":         c.AI.ChartTimeout,
		"PIPELINE_STALE_AFTER":     c.Pipeline.StaleAfter,
		"PIPELINE_RUN_TIMEOUT":     c.Pipeline.RunTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Pipeline.StudioConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_STUDIO_CONCURRENCY must be positive, got %d", c.Pipeline.StudioConcurrency))
	}

	if c.Telemetry.Enabled && c.Telemetry.Exporter != "stdout" && c.Telemetry.Exporter != "otlp" {
		errs = append(errs, fmt.Errorf("OTEL_EXPORTER must be stdout or otlp, got %q", c.Telemetry.Exporter))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLER_RATIO must be within [0,1], got %v", c.Telemetry.SampleRatio))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
