package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	RecordStoreMongo    = "mongo"
	RecordStorePostgres = "postgres"
)

type Config struct {
	HTTPPort  string
	LogLevel  slog.Level
	PprofAddr string

	MinioEndpoint     string // object store endpoint, host:port
	BucketName        string
	MinioRootUser     string
	MinioRootPassword string
	MinioRegion       string
	MinioUseSSL       bool
	MinioPublicRead   bool   // attach an anonymous read policy to ObjectKeyPrefix
	ObjectKeyPrefix   string
	PublicBaseURL     string // overrides the endpoint-derived location when set
	UploadMaxAttempts int

	RecordStore     string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MasterDSN       string

	WatermarkText     string // empty means the product name is used as the label
	WatermarkTemplate string // path to an SVG overlay template, empty means the embedded one

	MaxUploadBytes int64
	RequestTimeout time.Duration
	RenderTimeout  time.Duration
	UploadTimeout  time.Duration
	PersistTimeout time.Duration

	KafkaBrokers     []string
	KafkaEventsTopic string
}

const (
	DefaultHTTPPort      = ":3000"
	DefaultMinioEndpoint = ":9000"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MINIO_ENDPOINT", DefaultMinioEndpoint)
	v.SetDefault("MINIO_REGION", "us-east-1")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("MINIO_PUBLIC_READ", false)
	v.SetDefault("BUCKET_NAME", "product-images")
	v.SetDefault("OBJECT_KEY_PREFIX", "products")
	v.SetDefault("UPLOAD_MAX_ATTEMPTS", 1)
	v.SetDefault("RECORD_STORE", RecordStoreMongo)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "products")
	v.SetDefault("MONGO_COLLECTION", "products")
	v.SetDefault("MAX_UPLOAD_BYTES", int64(100<<20))
	v.SetDefault("REQUEST_TIMEOUT", 60*time.Second)
	v.SetDefault("RENDER_TIMEOUT", 15*time.Second)
	v.SetDefault("UPLOAD_TIMEOUT", 30*time.Second)
	v.SetDefault("PERSIST_TIMEOUT", 10*time.Second)
	v.SetDefault("KAFKA_EVENTS_TOPIC", "product-images")
}

// NewConfig resolves configuration from .env and the process environment.
func NewConfig() (*Config, error) {
	return Load(nil)
}

// Load resolves configuration from .env, the process environment, an optional
// config file given by --config and command-line overrides in args.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	flags := pflag.NewFlagSet("product-images", pflag.ContinueOnError)
	configFile := flags.String("config", "", "config file (yaml, json or env)")
	port := flags.StringP("port", "p", "", "HTTP listen port")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", *configFile, err)
		}
	}
	if *port != "" {
		v.Set("HTTP_PORT", *port)
	}

	cfg := Config{
		HTTPPort:          formatPort(v.GetString("HTTP_PORT")),
		PprofAddr:         v.GetString("PPROF_ADDR"),
		MinioEndpoint:     v.GetString("MINIO_ENDPOINT"),
		BucketName:        v.GetString("BUCKET_NAME"),
		MinioRootUser:     v.GetString("MINIO_ROOT_USER"),
		MinioRootPassword: v.GetString("MINIO_ROOT_PASSWORD"),
		MinioRegion:       v.GetString("MINIO_REGION"),
		MinioUseSSL:       v.GetBool("MINIO_USE_SSL"),
		MinioPublicRead:   v.GetBool("MINIO_PUBLIC_READ"),
		ObjectKeyPrefix:   strings.Trim(v.GetString("OBJECT_KEY_PREFIX"), "/"),
		PublicBaseURL:     strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		UploadMaxAttempts: v.GetInt("UPLOAD_MAX_ATTEMPTS"),
		RecordStore:       strings.ToLower(v.GetString("RECORD_STORE")),
		MongoURI:          v.GetString("MONGO_URI"),
		MongoDatabase:     v.GetString("MONGO_DATABASE"),
		MongoCollection:   v.GetString("MONGO_COLLECTION"),
		MasterDSN:         v.GetString("MASTER_DSN"),
		WatermarkText:     v.GetString("WATERMARK_TEXT"),
		WatermarkTemplate: v.GetString("WATERMARK_TEMPLATE"),
		MaxUploadBytes:    v.GetInt64("MAX_UPLOAD_BYTES"),
		RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		RenderTimeout:     v.GetDuration("RENDER_TIMEOUT"),
		UploadTimeout:     v.GetDuration("UPLOAD_TIMEOUT"),
		PersistTimeout:    v.GetDuration("PERSIST_TIMEOUT"),
		KafkaBrokers:      splitList(v.GetString("KAFKA_BROKERS")),
		KafkaEventsTopic:  v.GetString("KAFKA_EVENTS_TOPIC"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.RecordStore {
	case RecordStoreMongo:
	case RecordStorePostgres:
		if c.MasterDSN == "" {
			return fmt.Errorf("MASTER_DSN is required for record store %q", c.RecordStore)
		}
	default:
		return fmt.Errorf("unknown RECORD_STORE %q", c.RecordStore)
	}
	if c.UploadMaxAttempts < 1 {
		return fmt.Errorf("UPLOAD_MAX_ATTEMPTS must be at least 1, got %d", c.UploadMaxAttempts)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func formatPort(httpPort string) string {
	if httpPort == "" {
		return DefaultHTTPPort
	}
	// Ensure port starts with ':' if not already present
	if !strings.Contains(httpPort, ":") {
		return ":" + httpPort
	}
	return httpPort
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
