package usecases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dontpanicw/ProductImages/internal/domain"
	"github.com/dontpanicw/ProductImages/internal/port"
	"github.com/lithammer/shortuuid/v3"
	"golang.org/x/sync/errgroup"
)

var _ port.ProductImageUsecases = (*ProductImageUsecases)(nil)

// Timeouts bound each stage of an upload. A zero value disables that bound.
type Timeouts struct {
	Request time.Duration
	Render  time.Duration
	Upload  time.Duration
	Persist time.Duration
}

type Options struct {
	KeyPrefix     string
	WatermarkText string // empty means the product name is used as the label
	Timeouts      Timeouts
}

type ProductImageUsecases struct {
	repo     port.ProductRepository
	storage  port.ObjectStorage
	renderer port.Renderer
	producer port.Producer
	opts     Options

	now   func() time.Time
	token func() string
}

func NewProductImageUsecases(
	repo port.ProductRepository,
	storage port.ObjectStorage,
	renderer port.Renderer,
	producer port.Producer,
	opts Options,
) *ProductImageUsecases {
	return &ProductImageUsecases{
		repo:     repo,
		storage:  storage,
		renderer: renderer,
		producer: producer,
		opts:     opts,
		now:      time.Now,
		token:    shortuuid.New,
	}
}

// UploadImages watermarks every file, uploads the results and appends their
// locations to the product record. Any failed file fails the whole request.
// Objects uploaded before a later failure are not removed.
func (u *ProductImageUsecases) UploadImages(ctx context.Context, productName string, files []domain.UploadFile) (*domain.ProductRecord, error) {
	const op = "ProductImageUsecases.UploadImages"

	productName = strings.TrimSpace(productName)
	files, err := validateUpload(productName, files)
	if err != nil {
		return nil, err
	}

	log := slog.With("op", op, "productName", productName, "files", len(files))

	ctx, cancel := withTimeout(ctx, u.opts.Timeouts.Request)
	defer cancel()

	rendered, err := u.renderAll(ctx, files, u.label(productName))
	if err != nil {
		logFailure(log, "failed to render images", err)
		return nil, err
	}

	locations, err := u.uploadAll(ctx, files, rendered)
	if err != nil {
		logFailure(log, "failed to upload images", err)
		return nil, err
	}

	record, err := runStage(ctx, "persist", u.opts.Timeouts.Persist, func(ctx context.Context) (*domain.ProductRecord, error) {
		return u.repo.AppendImages(ctx, productName, locations)
	})
	if err != nil {
		logFailure(log, "failed to persist locations, uploaded objects are orphaned", err, "locations", locations)
		return nil, classify(err, domain.ErrPersistence)
	}

	event := domain.NewImagesAppendedEvent(productName, locations)
	if err := u.producer.SendImagesAppended(ctx, event); err != nil {
		log.Warn("failed to publish images appended event", "err", err)
	}

	log.Info("images uploaded", "total", len(record.Images))
	return record, nil
}

func (u *ProductImageUsecases) GetProduct(ctx context.Context, productName string) (*domain.ProductRecord, error) {
	productName = strings.TrimSpace(productName)
	if err := validateProductName(productName); err != nil {
		return nil, err
	}

	record, err := runStage(ctx, "lookup", u.opts.Timeouts.Persist, func(ctx context.Context) (*domain.ProductRecord, error) {
		return u.repo.GetByName(ctx, productName)
	})
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return nil, err
		}
		return nil, classify(err, domain.ErrPersistence)
	}
	return record, nil
}

func (u *ProductImageUsecases) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return u.repo.Ping(ctx)
}

func (u *ProductImageUsecases) renderAll(ctx context.Context, files []domain.UploadFile, label string) ([][]byte, error) {
	out := make([][]byte, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			data, err := runStage(gctx, "render", u.opts.Timeouts.Render, func(ctx context.Context) ([]byte, error) {
				return u.renderer.Render(ctx, f.Data, label)
			})
			if err != nil {
				return classify(fmt.Errorf("file %q: %w", f.FileName, err), domain.ErrRender)
			}
			out[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// uploadAll returns locations in the order of files.
func (u *ProductImageUsecases) uploadAll(ctx context.Context, files []domain.UploadFile, rendered [][]byte) ([]string, error) {
	locations := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		data := rendered[i]
		key := u.objectKey(f.FileName)
		contentType := http.DetectContentType(data)

		g.Go(func() error {
			location, err := runStage(gctx, "upload", u.opts.Timeouts.Upload, func(ctx context.Context) (string, error) {
				return u.storage.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
			})
			if err != nil {
				return classify(fmt.Errorf("file %q: %w", f.FileName, err), domain.ErrUpload)
			}
			locations[i] = location
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return locations, nil
}

func (u *ProductImageUsecases) label(productName string) string {
	if u.opts.WatermarkText != "" {
		return u.opts.WatermarkText
	}
	return productName
}

// objectKey builds <prefix>/<unix-millis>-<token>-<filename>. The extension
// is always .jpg since the renderer encodes JPEG.
func (u *ProductImageUsecases) objectKey(fileName string) string {
	name := fmt.Sprintf("%d-%s-%s", u.now().UnixMilli(), u.token(), sanitizeFileName(fileName))
	if u.opts.KeyPrefix == "" {
		return name
	}
	return u.opts.KeyPrefix + "/" + name
}

// validateProductName rejects names that cannot be addressed as a single
// path segment of GET /api/images/{productName}.
func validateProductName(productName string) error {
	if productName == "" {
		return fmt.Errorf("%w: product name is required", domain.ErrValidation)
	}
	if strings.Contains(productName, "/") {
		return fmt.Errorf("%w: product name must not contain slashes", domain.ErrValidation)
	}
	return nil
}

func validateUpload(productName string, files []domain.UploadFile) ([]domain.UploadFile, error) {
	if err := validateProductName(productName); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", domain.ErrValidation)
	}
	if len(files) > domain.MaxBatchFiles {
		slog.Warn("too many files, extra files are ignored",
			"productName", productName, "received", len(files), "accepted", domain.MaxBatchFiles)
		files = files[:domain.MaxBatchFiles]
	}
	for _, f := range files {
		if len(f.Data) == 0 {
			return nil, fmt.Errorf("%w: file %q is empty", domain.ErrValidation, f.FileName)
		}
	}
	return files, nil
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimSuffix(name, path.Ext(name))
	if strings.Trim(name, "._") == "" {
		name = "image"
	}
	return name + ".jpg"
}

// classify tags err with kind unless it already carries it, is a timeout or
// comes from the caller going away.
func classify(err error, kind error) error {
	if errors.Is(err, kind) || errors.Is(err, domain.ErrTimeout) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// logFailure keeps cancelled requests out of the error log.
func logFailure(log *slog.Logger, msg string, err error, args ...any) {
	args = append(args, "err", err)
	if errors.Is(err, context.Canceled) {
		log.Info(msg, args...)
		return
	}
	log.Error(msg, args...)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// runStage runs fn under its own deadline and returns as soon as the deadline
// passes, even if fn ignores its context.
func runStage[T any](ctx context.Context, stage string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	stageCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(stageCtx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %s: %w", domain.ErrTimeout, stage, r.err)
		}
		return r.v, r.err
	case <-stageCtx.Done():
		if err := stageCtx.Err(); errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %s stage exceeded its deadline", domain.ErrTimeout, stage)
		}
		return zero, fmt.Errorf("%s: %w", stage, stageCtx.Err())
	}
}
