package port

import (
	"context"

	"github.com/dontpanicw/ProductImages/internal/domain"
)

type Producer interface {
	SendImagesAppended(ctx context.Context, event domain.ImagesAppendedEvent) error
}
