package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dontpanicw/ProductImages/config"
	"github.com/dontpanicw/ProductImages/internal/adapter/broker"
	"github.com/dontpanicw/ProductImages/internal/adapter/processor"
	"github.com/dontpanicw/ProductImages/internal/adapter/repository/minio"
	"github.com/dontpanicw/ProductImages/internal/adapter/repository/mongo"
	"github.com/dontpanicw/ProductImages/internal/adapter/repository/postgres"
	"github.com/dontpanicw/ProductImages/internal/input/http"
	"github.com/dontpanicw/ProductImages/internal/port"
	"github.com/dontpanicw/ProductImages/internal/usecases"
	"github.com/dontpanicw/ProductImages/pkg/migrations"
)

const shutdownTimeout = 15 * time.Second

// InitLogger installs a JSON slog handler at the configured level as the default logger.
func InitLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return logger
}

func Start(cfg *config.Config) error {
	InitLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRecordStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	storage := minio.NewMinioClient(cfg)
	if err := storage.InitMinio(); err != nil {
		return fmt.Errorf("failed to initialize MinIO: %w", err)
	}
	slog.Info("MinIO initialized", "bucket", cfg.BucketName)

	renderer, err := newRenderer(cfg)
	if err != nil {
		return err
	}

	producer, closeProducer := newProducer(cfg)
	defer closeProducer()

	productUsecases := usecases.NewProductImageUsecases(repo, storage, renderer, producer, usecases.Options{
		KeyPrefix:     cfg.ObjectKeyPrefix,
		WatermarkText: cfg.WatermarkText,
		Timeouts: usecases.Timeouts{
			Request: cfg.RequestTimeout,
			Render:  cfg.RenderTimeout,
			Upload:  cfg.UploadTimeout,
			Persist: cfg.PersistTimeout,
		},
	})

	srv := http.NewServer(cfg.HTTPPort, cfg.MaxUploadBytes, productUsecases)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return <-errCh
}

// openRecordStore connects the configured product record store. The returned
// func releases its connection.
func openRecordStore(ctx context.Context, cfg *config.Config) (port.ProductRepository, func(), error) {
	switch cfg.RecordStore {
	case config.RecordStorePostgres:
		db, err := postgres.Open(ctx, cfg.MasterDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if err := migrations.Migrate(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		slog.Info("migrations applied")

		closeDB := func() {
			if err := db.Close(); err != nil {
				slog.Error("failed to close PostgreSQL", "err", err)
			}
		}
		return postgres.NewProductRepository(db), closeDB, nil

	default:
		client, err := mongo.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				slog.Error("failed to disconnect MongoDB", "err", err)
			}
		}

		repo := mongo.NewProductRepository(client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, err
		}
		slog.Info("MongoDB initialized", "database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
		return repo, disconnect, nil
	}
}

func newRenderer(cfg *config.Config) (*processor.Watermarker, error) {
	tmpl := processor.DefaultTemplate()
	if cfg.WatermarkTemplate != "" {
		b, err := os.ReadFile(cfg.WatermarkTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to read watermark template: %w", err)
		}
		tmpl = b
	}

	renderer, err := processor.NewWatermarker(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to load watermark template: %w", err)
	}
	return renderer, nil
}

func newProducer(cfg *config.Config) (port.Producer, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		slog.Info("Kafka brokers not configured, events are disabled")
		return broker.NoopProducer{}, func() {}
	}

	producer := broker.NewProducer(cfg)
	slog.Info("Kafka producer initialized", "topic", cfg.KafkaEventsTopic)
	return producer, func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close Kafka producer", "err", err)
		}
	}
}
