package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontpanicw/ProductImages/config"
	"github.com/dontpanicw/ProductImages/internal/domain"
	"github.com/dontpanicw/ProductImages/internal/port"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var _ port.ProductRepository = (*ProductRepository)(nil)

type ProductRepository struct {
	coll *mongo.Collection
}

func NewProductRepository(coll *mongo.Collection) *ProductRepository {
	return &ProductRepository{coll: coll}
}

// Connect opens a client and waits until the deployment answers a ping.
func Connect(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	const op = "mongo.Connect"
	log := slog.With("op", op)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	const attempts = 10
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx, readpref.Primary())
		cancel()
		if err == nil {
			log.Info("database is available")
			return client, nil
		}
		log.Warn("waiting for MongoDB", "attempt", i+1, "of", attempts, "err", err)
		time.Sleep(3 * time.Second)
	}

	_ = client.Disconnect(context.Background())
	return nil, fmt.Errorf("%s: database is unavailable: %w", op, err)
}

// EnsureIndexes creates the unique index the upsert relies on.
func (r *ProductRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "productName", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("productName_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create productName index: %w", err)
	}
	return nil
}

func (r *ProductRepository) AppendImages(ctx context.Context, productName string, locations []string) (*domain.ProductRecord, error) {
	const op = "ProductRepository.AppendImages"
	log := slog.With("op", op, "productName", productName)

	filter := bson.D{{Key: "productName", Value: productName}}
	update := bson.D{{Key: "$push", Value: bson.D{
		{Key: "images", Value: bson.D{{Key: "$each", Value: locations}}},
	}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var record domain.ProductRecord
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&record)
	if mongo.IsDuplicateKeyError(err) {
		// Two first uploads for the same name raced on the insert; the
		// winner's document now exists, so the second attempt updates it.
		log.Debug("retrying upsert after duplicate key")
		err = r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&record)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
	}

	log.Info("images appended", "added", len(locations), "total", len(record.Images))
	return &record, nil
}

func (r *ProductRepository) GetByName(ctx context.Context, productName string) (*domain.ProductRecord, error) {
	const op = "ProductRepository.GetByName"

	var record domain.ProductRecord
	err := r.coll.FindOne(ctx, bson.D{{Key: "productName", Value: productName}}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productName)
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
	}
	return &record, nil
}

func (r *ProductRepository) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, readpref.Primary())
}
