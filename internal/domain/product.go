package domain

import (
	"errors"
	"time"
)

const (
	// MaxBatchFiles is the number of files accepted from a single upload request.
	MaxBatchFiles = 10

	// WatermarkBottomMargin is the distance between the label baseline and the
	// bottom edge: two inches at 96 DPI.
	WatermarkBottomMargin = 192

	// WatermarkQuality is the JPEG quality of the rendered image.
	WatermarkQuality = 90
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrRender          = errors.New("failed to render watermark")
	ErrUpload          = errors.New("failed to upload image")
	ErrPersistence     = errors.New("failed to persist product record")
	ErrProductNotFound = errors.New("product not found")
	ErrTimeout         = errors.New("operation timed out")
)

// ProductRecord maps a product name to the locations of its watermarked images.
type ProductRecord struct {
	ProductName string   `json:"productName" bson:"productName"`
	Images      []string `json:"images" bson:"images"`
}

// UploadFile is a single file taken from an upload request.
type UploadFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ImagesAppendedEvent is published after new locations were persisted.
type ImagesAppendedEvent struct {
	ProductName string   `json:"productName"`
	Images      []string `json:"images"`
	Timestamp   int64    `json:"timestamp"`
}

func NewImagesAppendedEvent(productName string, images []string) ImagesAppendedEvent {
	return ImagesAppendedEvent{
		ProductName: productName,
		Images:      images,
		Timestamp:   time.Now().Unix(),
	}
}
