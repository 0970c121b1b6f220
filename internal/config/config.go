package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Sink drivers.
const (
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	SinkDriver  string
	DatabaseURL string
	SQLitePath  string

	// Archive source.
	DataDir          string
	QCLCDBaseURL     string
	DownloadTimeout  time.Duration
	DownloadInterval time.Duration
	ChunkSize        int

	MetarFeedURL         string
	MetarFeedHeaderLines int

	StationsFTPAddr string
	StationsFTPPath string

	// Kafka run requests. Disabled unless KAFKA_ENABLED=true.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration

	// Run lock. An empty address disables locking.
	RedisAddr     string
	RedisPassword string
	LockTTL       time.Duration

	// Archive mirror. An empty endpoint disables the mirror.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Cron expressions with a leading seconds field. Empty disables the job.
	MetarSchedule        string
	CurrentMonthSchedule string
	StationsSchedule     string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	downloadTimeout, err := parseDuration("DOWNLOAD_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}
	downloadInterval, err := parseDuration("DOWNLOAD_INTERVAL", "2s")
	if err != nil {
		return nil, err
	}
	lockTTL, err := parseDuration("LOCK_TTL", "2h")
	if err != nil {
		return nil, err
	}

	chunkSize, err := parsePositiveInt("CHUNK_SIZE", 100000)
	if err != nil {
		return nil, err
	}
	headerLines, err := parseNonNegativeInt("METAR_FEED_HEADER_LINES", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		SinkDriver:  sharedcfg.EnvOrDefault("SINK_DRIVER", SinkPostgres),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  sharedcfg.EnvOrDefault("SQLITE_PATH", "qclcd.db"),

		DataDir:          sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		QCLCDBaseURL:     sharedcfg.EnvOrDefault("QCLCD_BASE_URL", "https://www.ncdc.noaa.gov/orders/qclcd"),
		DownloadTimeout:  downloadTimeout,
		DownloadInterval: downloadInterval,
		ChunkSize:        chunkSize,

		MetarFeedURL:         sharedcfg.EnvOrDefault("METAR_FEED_URL", "http://aviationweather.gov/adds/dataserver_current/current/metars.cache.csv"),
		MetarFeedHeaderLines: headerLines,

		StationsFTPAddr: sharedcfg.EnvOrDefault("STATIONS_FTP_ADDR", "ftp.ncdc.noaa.gov:21"),
		StationsFTPPath: sharedcfg.EnvOrDefault("STATIONS_FTP_PATH", "/pub/data/noaa/isd-history.csv"),

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "qclcd-run-requests"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "qclcd-run-results"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "qclcd-etl"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		LockTTL:       lockTTL,

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    sharedcfg.EnvOrDefault("MINIO_BUCKET", "qclcd-archives"),
		MinioUseSSL:    os.Getenv("MINIO_USE_SSL") == "true",

		MetarSchedule:        sharedcfg.EnvOrDefault("METAR_SCHEDULE", "0 */15 * * * *"),
		CurrentMonthSchedule: sharedcfg.EnvOrDefault("CURRENT_MONTH_SCHEDULE", "0 30 6 * * *"),
		StationsSchedule:     sharedcfg.EnvOrDefault("STATIONS_SCHEDULE", "0 0 5 * * 0"),
	}

	switch cfg.SinkDriver {
	case SinkPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when SINK_DRIVER is postgres")
		}
	case SinkSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLITE_PATH is required when SINK_DRIVER is sqlite")
		}
	default:
		return nil, fmt.Errorf("invalid SINK_DRIVER %q", cfg.SinkDriver)
	}
	if cfg.QCLCDBaseURL == "" {
		return nil, errors.New("QCLCD_BASE_URL is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return nil, errors.New("MINIO_ENDPOINT is set but MINIO_ACCESS_KEY or MINIO_SECRET_KEY is not")
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: must be zero or more", key)
	}
	return n, nil
}
