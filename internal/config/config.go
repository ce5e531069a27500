package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DatabaseConfig holds connection settings for the analysis store.
// Driver selects between the local SQLite file (default) and PostgreSQL.
type DatabaseConfig struct {
	Driver             string
	Path               string
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for the report archive.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an archive endpoint was configured.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// LLMConfig selects the language model backing the agents.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	TimeoutSec  int
}

// DefaultLLMTimeout applies when LLM_TIMEOUT_SEC is zero or negative.
const DefaultLLMTimeout = 5 * time.Minute

// Timeout is the budget for a whole crew run. It is never zero.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return DefaultLLMTimeout
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

type SearchConfig struct {
	SerpAPIKey string
}

type CrewConfig struct {
	// DefinitionPath points to a YAML file overriding the embedded agents and tasks.
	DefinitionPath string
}

type ExportConfig struct {
	CSVPath string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether analysis events should be published.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost             string
	Port                string
	Timezone            string
	DataDir             string
	MaxUploadMB         int
	AnalysisConcurrency int
	Database            DatabaseConfig
	MinIO               MinIOConfig
	LLM                 LLMConfig
	Search              SearchConfig
	Crew                CrewConfig
	Export              ExportConfig
	Kafka               KafkaConfig
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:             getEnv("APP_HOST", "localhost:8080"),
		Port:                getEnv("PORT", "8080"),
		Timezone:            getEnv("APP_TIMEZONE", "UTC"),
		DataDir:             getEnv("DATA_DIR", "data"),
		MaxUploadMB:         getEnvInt("MAX_UPLOAD_MB", 20),
		AnalysisConcurrency: getEnvInt("ANALYSIS_CONCURRENCY", 2),
		Database: DatabaseConfig{
			Driver:             getEnv("DB_DRIVER", DriverSQLite),
			Path:               getEnv("DB_PATH", "blood_analysis.db"),
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", "googleai"),
			Model:       getEnv("LLM_MODEL", "gemini-1.5-flash"),
			APIKey:      getEnv("LLM_API_KEY", getEnv("GOOGLE_API_KEY", "")),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			TimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 300),
		},
		Search: SearchConfig{
			SerpAPIKey: getEnv("SERPAPI_API_KEY", ""),
		},
		Crew: CrewConfig{
			DefinitionPath: getEnv("CREW_CONFIG", ""),
		},
		Export: ExportConfig{
			CSVPath: getEnv("CSV_EXPORT_PATH", "analysis_data.csv"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "blood-report-analyses"),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
