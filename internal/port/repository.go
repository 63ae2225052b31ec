package port

import (
	"context"
	"io"

	"github.com/dontpanicw/ProductImages/internal/domain"
)

type ProductRepository interface {
	AppendImages(ctx context.Context, productName string, locations []string) (*domain.ProductRecord, error)
	GetByName(ctx context.Context, productName string) (*domain.ProductRecord, error)
	Ping(ctx context.Context) error
}

type ObjectStorage interface {
	// PutObject stores the object and returns its public location.
	PutObject(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) (string, error)
}

//HTTP routes:
//- GET /reza: upload form;
//- POST /api/images/upload: watermark and upload up to 10 images for a product;
//- GET /api/images/{productName}: product record;
//- GET /healthz: record store readiness.
