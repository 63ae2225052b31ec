package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontpanicw/ProductImages/internal/domain"
	"github.com/dontpanicw/ProductImages/internal/port"
	"github.com/lib/pq"
)

var _ port.ProductRepository = (*ProductRepository)(nil)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Open connects to PostgreSQL, waiting for it to accept connections.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	const op = "postgres.Open"
	log := slog.With("op", op)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	const attempts = 10
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			log.Info("database is available")
			return db, nil
		}
		log.Warn("waiting for PostgreSQL", "attempt", i+1, "of", attempts, "err", err)
		time.Sleep(3 * time.Second)
	}

	_ = db.Close()
	return nil, fmt.Errorf("%s: failed to connect to database after %d attempts: %w", op, attempts, err)
}

func (r *ProductRepository) AppendImages(ctx context.Context, productName string, locations []string) (*domain.ProductRecord, error) {
	const op = "ProductRepository.AppendImages"

	query := `
        INSERT INTO products (product_name, images)
        VALUES ($1, $2)
        ON CONFLICT (product_name) DO UPDATE SET
            images = products.images || EXCLUDED.images,
            updated_at = now()
        RETURNING product_name, images
    `

	var record domain.ProductRecord
	err := r.db.QueryRowContext(ctx, query, productName, pq.Array(locations)).Scan(
		&record.ProductName,
		pq.Array(&record.Images),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
	}

	slog.Info("images appended", "op", op, "productName", productName, "added", len(locations), "total", len(record.Images))
	return &record, nil
}

func (r *ProductRepository) GetByName(ctx context.Context, productName string) (*domain.ProductRecord, error) {
	const op = "ProductRepository.GetByName"

	query := `SELECT product_name, images FROM products WHERE product_name = $1`

	var record domain.ProductRecord
	err := r.db.QueryRowContext(ctx, query, productName).Scan(
		&record.ProductName,
		pq.Array(&record.Images),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productName)
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
	}

	return &record, nil
}

func (r *ProductRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
