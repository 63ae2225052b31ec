package port

import (
	"context"

	"github.com/dontpanicw/ProductImages/internal/domain"
)

type ProductImageUsecases interface {
	UploadImages(ctx context.Context, productName string, files []domain.UploadFile) (*domain.ProductRecord, error)
	GetProduct(ctx context.Context, productName string) (*domain.ProductRecord, error)
	HealthCheck(ctx context.Context) error
}
