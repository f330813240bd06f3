package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smukkama/mobility-server/internal/anomaly"
	"github.com/smukkama/mobility-server/internal/logging"
	"github.com/smukkama/mobility-server/internal/trip"
)

// Sink modes for the ingest service
const (
	SinkDatabase = "database"
	SinkKafka    = "kafka"
)

// Source layouts for the ingest service
const (
	SourceRaw     = "raw"
	SourceCleaned = "cleaned"
)

type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	API         APIConfig
	Pipeline    PipelineConfig
	Aggregation AggregationConfig
	Log         logging.Config
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	StatsTTL time.Duration
}

type KafkaConfig struct {
	Brokers        []string
	TopicTrips     string
	TopicAnomalies string
	NumPartitions  int
	GroupID        string
	BatchSize      int
	FlushInterval  time.Duration
}

type APIConfig struct {
	Port           int
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// PipelineConfig holds everything the ingest run needs. Bounds and
// classifier settings are fixed for the whole run.
type PipelineConfig struct {
	Classifier   anomaly.Kind
	Settings     anomaly.Settings
	Bounds       trip.Bounds
	Source       string
	InputPath    string
	CleanedPath  string
	ExcludedPath string
	Sink         string
	InsertBatch  int
}

type AggregationConfig struct {
	Interval time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	kind, err := anomaly.ParseKind(getEnv("PIPELINE_CLASSIFIER", string(anomaly.KindIQR)))
	if err != nil {
		return nil, err
	}

	defaults := trip.DefaultBounds()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "mobility_user"),
			Password: getEnv("DB_PASSWORD", "mobility_pass"),
			DBName:   getEnv("DB_NAME", "mobility_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			StatsTTL: getEnvAsDuration("STATS_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:        splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			TopicTrips:     getEnv("KAFKA_TOPIC_TRIPS", "mobility.trips.clean"),
			TopicAnomalies: getEnv("KAFKA_TOPIC_ANOMALIES", "mobility.trips.anomalies"),
			NumPartitions:  getEnvAsInt("KAFKA_NUM_PARTITIONS", 6),
			GroupID:        getEnv("KAFKA_GROUP_ID", "dbwriter-group"),
			BatchSize:      getEnvAsInt("KAFKA_BATCH_SIZE", 500),
			FlushInterval:  getEnvAsDuration("KAFKA_FLUSH_INTERVAL", 5*time.Second),
		},
		API: APIConfig{
			Port:           getEnvAsInt("API_PORT", 8000),
			AllowedOrigins: splitList(getEnv("API_ALLOWED_ORIGINS", "*")),
			ReadTimeout:    getEnvAsDuration("API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("API_WRITE_TIMEOUT", 15*time.Second),
		},
		Pipeline: PipelineConfig{
			Classifier: kind,
			Settings: anomaly.Settings{
				Multiplier:     getEnvAsFloat("PIPELINE_IQR_MULTIPLIER", anomaly.DefaultMultiplier),
				SpeedThreshold: getEnvAsFloat("PIPELINE_SPEED_THRESHOLD", anomaly.DefaultSpeedThreshold),
			},
			Bounds: trip.Bounds{
				Latitude: trip.Range{
					Min: getEnvAsFloat("BOUNDS_LAT_MIN", defaults.Latitude.Min),
					Max: getEnvAsFloat("BOUNDS_LAT_MAX", defaults.Latitude.Max),
				},
				Longitude: trip.Range{
					Min: getEnvAsFloat("BOUNDS_LON_MIN", defaults.Longitude.Min),
					Max: getEnvAsFloat("BOUNDS_LON_MAX", defaults.Longitude.Max),
				},
				DurationSec: trip.Range{
					Min: getEnvAsFloat("BOUNDS_DURATION_MIN", defaults.DurationSec.Min),
					Max: getEnvAsFloat("BOUNDS_DURATION_MAX", defaults.DurationSec.Max),
				},
				Passengers: trip.Range{
					Min: getEnvAsFloat("BOUNDS_PASSENGERS_MIN", defaults.Passengers.Min),
					Max: getEnvAsFloat("BOUNDS_PASSENGERS_MAX", defaults.Passengers.Max),
				},
				MaxSpeedKmh: getEnvAsFloat("BOUNDS_MAX_SPEED", defaults.MaxSpeedKmh),
			},
			Source:       getEnv("INGEST_SOURCE", SourceRaw),
			InputPath:    getEnv("INGEST_INPUT", "data_processing/raw/train.csv"),
			CleanedPath:  getEnv("INGEST_CLEANED_OUTPUT", ""),
			ExcludedPath: getEnv("INGEST_EXCLUDED_OUTPUT", ""),
			Sink:         getEnv("INGEST_SINK", SinkDatabase),
			InsertBatch:  getEnvAsInt("INGEST_INSERT_BATCH", 1000),
		},
		Aggregation: AggregationConfig{
			Interval: getEnvAsDuration("AGGREGATION_INTERVAL", time.Hour),
		},
		Log: logging.Config{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings that would make a run meaningless
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.Settings.Multiplier < 0 {
		errs = append(errs, fmt.Errorf("iqr multiplier must not be negative, got %v", c.Pipeline.Settings.Multiplier))
	}
	if err := c.Pipeline.Bounds.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Pipeline.Sink {
	case SinkDatabase, SinkKafka:
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q", c.Pipeline.Sink))
	}
	switch c.Pipeline.Source {
	case SourceRaw, SourceCleaned:
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Pipeline.Source))
	}
	if c.Pipeline.InsertBatch <= 0 {
		errs = append(errs, fmt.Errorf("insert batch must be positive, got %d", c.Pipeline.InsertBatch))
	}
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("at least one kafka broker is required"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
