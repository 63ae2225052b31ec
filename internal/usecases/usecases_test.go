package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dontpanicw/ProductImages/internal/domain"
)

// Mock implementations
type mockRepository struct {
	mu      sync.Mutex
	records map[string]*domain.ProductRecord
	calls   int

	appendImagesFunc func(ctx context.Context, name string, locations []string) (*domain.ProductRecord, error)
	pingFunc         func(ctx context.Context) error
}

func newMockRepository() *mockRepository {
	return &mockRepository{records: map[string]*domain.ProductRecord{}}
}

func (m *mockRepository) AppendImages(ctx context.Context, name string, locations []string) (*domain.ProductRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.appendImagesFunc != nil {
		return m.appendImagesFunc(ctx, name, locations)
	}
	rec, ok := m.records[name]
	if !ok {
		rec = &domain.ProductRecord{ProductName: name}
		m.records[name] = rec
	}
	rec.Images = append(rec.Images, locations...)
	return &domain.ProductRecord{ProductName: name, Images: append([]string(nil), rec.Images...)}, nil
}

func (m *mockRepository) GetByName(ctx context.Context, name string) (*domain.ProductRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, name)
	}
	return &domain.ProductRecord{ProductName: name, Images: append([]string(nil), rec.Images...)}, nil
}

func (m *mockRepository) Ping(ctx context.Context) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

type mockObjectStorage struct {
	puts          atomic.Int32
	putObjectFunc func(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

func (m *mockObjectStorage) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	m.puts.Add(1)
	if m.putObjectFunc != nil {
		return m.putObjectFunc(ctx, key, r, size, contentType)
	}
	return "http://store/" + key, nil
}

type mockRenderer struct {
	mu         sync.Mutex
	labels     []string
	renderFunc func(ctx context.Context, image []byte, label string) ([]byte, error)
}

func (m *mockRenderer) Render(ctx context.Context, image []byte, label string) ([]byte, error) {
	m.mu.Lock()
	m.labels = append(m.labels, label)
	m.mu.Unlock()
	if m.renderFunc != nil {
		return m.renderFunc(ctx, image, label)
	}
	return append([]byte("marked:"), image...), nil
}

type mockProducer struct {
	mu     sync.Mutex
	events []domain.ImagesAppendedEvent
	err    error
}

func (m *mockProducer) SendImagesAppended(ctx context.Context, event domain.ImagesAppendedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

type fixture struct {
	repo     *mockRepository
	storage  *mockObjectStorage
	renderer *mockRenderer
	producer *mockProducer
	usecase  *ProductImageUsecases
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		repo:     newMockRepository(),
		storage:  &mockObjectStorage{},
		renderer: &mockRenderer{},
		producer: &mockProducer{},
	}
	f.usecase = NewProductImageUsecases(f.repo, f.storage, f.renderer, f.producer, opts)
	return f
}

func makeFiles(n int) []domain.UploadFile {
	files := make([]domain.UploadFile, n)
	for i := range files {
		files[i] = domain.UploadFile{
			FileName:    fmt.Sprintf("photo-%d.jpg", i),
			ContentType: "image/jpeg",
			Data:        []byte(fmt.Sprintf("image-%d", i)),
		}
	}
	return files
}

func TestUploadImages_Success(t *testing.T) {
	for _, n := range []int{1, 3, domain.MaxBatchFiles} {
		t.Run(fmt.Sprintf("%d files", n), func(t *testing.T) {
			f := newFixture(Options{KeyPrefix: "products"})

			record, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(n))

			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if record.ProductName != "mug" {
				t.Errorf("Expected product mug, got %s", record.ProductName)
			}
			if len(record.Images) != n {
				t.Errorf("Expected %d images, got %d", n, len(record.Images))
			}
			if got := f.storage.puts.Load(); got != int32(n) {
				t.Errorf("Expected %d uploads, got %d", n, got)
			}
		})
	}
}

func TestUploadImages_PreservesSubmissionOrder(t *testing.T) {
	f := newFixture(Options{KeyPrefix: "products"})
	// Later files finish first.
	f.renderer.renderFunc = func(ctx context.Context, image []byte, label string) ([]byte, error) {
		var i int
		fmt.Sscanf(string(image), "image-%d", &i)
		time.Sleep(time.Duration(10-i) * time.Millisecond)
		return image, nil
	}
	files := makeFiles(5)

	record, err := f.usecase.UploadImages(context.Background(), "mug", files)

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	for i, loc := range record.Images {
		if !strings.HasSuffix(loc, files[i].FileName) {
			t.Errorf("Expected image %d to be %s, got %s", i, files[i].FileName, loc)
		}
	}
}

func TestUploadImages_Accumulates(t *testing.T) {
	f := newFixture(Options{KeyPrefix: "products"})
	ctx := context.Background()

	first, err := f.usecase.UploadImages(ctx, "mug", makeFiles(2))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := f.usecase.UploadImages(ctx, "mug", makeFiles(3))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(second.Images) != 5 {
		t.Fatalf("Expected 5 accumulated images, got %d", len(second.Images))
	}
	for i, loc := range first.Images {
		if second.Images[i] != loc {
			t.Errorf("Expected first batch to stay at the front, got %v", second.Images)
		}
	}

	got, err := f.usecase.GetProduct(ctx, "mug")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(got.Images) != 5 {
		t.Errorf("Expected fetch to return 5 images, got %d", len(got.Images))
	}
}

func TestUploadImages_ValidationError(t *testing.T) {
	tests := []struct {
		name        string
		productName string
		files       []domain.UploadFile
	}{
		{"empty name", "", makeFiles(1)},
		{"blank name", "   ", makeFiles(1)},
		{"no files", "mug", nil},
		{"empty file", "mug", []domain.UploadFile{{FileName: "a.jpg"}}},
		{"slash in name", "mugs/blue", makeFiles(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{})

			_, err := f.usecase.UploadImages(context.Background(), tt.productName, tt.files)

			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Expected ErrValidation, got %v", err)
			}
			if f.storage.puts.Load() != 0 || f.repo.calls != 0 {
				t.Error("Expected no writes on validation failure")
			}
		})
	}
}

func TestUploadImages_TooManyFiles(t *testing.T) {
	f := newFixture(Options{})

	record, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(domain.MaxBatchFiles+3))

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(record.Images) != domain.MaxBatchFiles {
		t.Errorf("Expected %d images, got %d", domain.MaxBatchFiles, len(record.Images))
	}
	if got := f.storage.puts.Load(); got != domain.MaxBatchFiles {
		t.Errorf("Expected %d uploads, got %d", domain.MaxBatchFiles, got)
	}
}

func TestUploadImages_UploadFailureIsAllOrNothing(t *testing.T) {
	f := newFixture(Options{})
	f.storage.putObjectFunc = func(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
		if strings.HasSuffix(key, "photo-2.jpg") {
			return "", errors.New("bucket rejected object")
		}
		return "http://store/" + key, nil
	}

	_, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(4))

	if !errors.Is(err, domain.ErrUpload) {
		t.Fatalf("Expected ErrUpload, got %v", err)
	}
	if f.repo.calls != 0 {
		t.Error("Expected record not to be updated")
	}
	if len(f.producer.events) != 0 {
		t.Error("Expected no event for a failed upload")
	}
}

func TestUploadImages_RenderFailure(t *testing.T) {
	f := newFixture(Options{})
	f.renderer.renderFunc = func(ctx context.Context, image []byte, label string) ([]byte, error) {
		if string(image) == "image-1" {
			return nil, errors.New("not an image")
		}
		return image, nil
	}

	_, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(3))

	if !errors.Is(err, domain.ErrRender) {
		t.Fatalf("Expected ErrRender, got %v", err)
	}
	if f.storage.puts.Load() != 0 {
		t.Error("Expected no uploads when rendering fails")
	}
}

func TestUploadImages_PersistFailure(t *testing.T) {
	f := newFixture(Options{})
	f.repo.appendImagesFunc = func(ctx context.Context, name string, locations []string) (*domain.ProductRecord, error) {
		return nil, errors.New("connection reset")
	}

	_, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(2))

	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("Expected ErrPersistence, got %v", err)
	}
	if got := f.storage.puts.Load(); got != 2 {
		t.Errorf("Expected both objects to stay uploaded, got %d puts", got)
	}
}

func TestUploadImages_CallerCancelled(t *testing.T) {
	f := newFixture(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	f.renderer.renderFunc = func(rctx context.Context, image []byte, label string) ([]byte, error) {
		cancel()
		<-rctx.Done()
		return nil, rctx.Err()
	}

	_, err := f.usecase.UploadImages(ctx, "mug", makeFiles(2))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	for _, kind := range []error{domain.ErrRender, domain.ErrUpload, domain.ErrPersistence, domain.ErrTimeout} {
		if errors.Is(err, kind) {
			t.Errorf("Expected cancellation not to be tagged as %v", kind)
		}
	}
	if f.storage.puts.Load() != 0 || f.repo.calls != 0 {
		t.Error("Expected no writes after cancellation")
	}
}

func TestUploadImages_RenderTimeout(t *testing.T) {
	f := newFixture(Options{Timeouts: Timeouts{Render: 20 * time.Millisecond}})
	release := make(chan struct{})
	defer close(release)
	f.renderer.renderFunc = func(ctx context.Context, image []byte, label string) ([]byte, error) {
		<-release
		return image, nil
	}

	start := time.Now()
	_, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(2))

	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected timeout to fire promptly, took %s", elapsed)
	}
}

func TestUploadImages_UploadTimeout(t *testing.T) {
	f := newFixture(Options{Timeouts: Timeouts{Upload: 20 * time.Millisecond}})
	f.storage.putObjectFunc = func(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(1))

	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, domain.ErrUpload) {
		t.Error("Expected timeout to be reported as its own kind")
	}
}

func TestUploadImages_EventFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(Options{})
	f.producer.err = errors.New("broker down")

	record, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(2))

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(f.producer.events) != 1 || len(f.producer.events[0].Images) != 2 {
		t.Errorf("Expected one event with 2 images, got %+v", f.producer.events)
	}
	if len(record.Images) != 2 {
		t.Errorf("Expected 2 images, got %d", len(record.Images))
	}
}

func TestUploadImages_Label(t *testing.T) {
	tests := []struct {
		name          string
		watermarkText string
		expected      string
	}{
		{"product name by default", "", "mug"},
		{"configured text", "ACME", "ACME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{WatermarkText: tt.watermarkText})

			if _, err := f.usecase.UploadImages(context.Background(), " mug ", makeFiles(1)); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if len(f.renderer.labels) != 1 || f.renderer.labels[0] != tt.expected {
				t.Errorf("Expected label %q, got %v", tt.expected, f.renderer.labels)
			}
		})
	}
}

func TestUploadImages_ContentTypeDetected(t *testing.T) {
	f := newFixture(Options{})
	f.renderer.renderFunc = func(ctx context.Context, image []byte, label string) ([]byte, error) {
		return []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, nil
	}
	var contentType string
	f.storage.putObjectFunc = func(ctx context.Context, key string, r io.Reader, size int64, ct string) (string, error) {
		contentType = ct
		return key, nil
	}

	if _, err := f.usecase.UploadImages(context.Background(), "mug", makeFiles(1)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if contentType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", contentType)
	}
}

func TestGetProduct(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.usecase.GetProduct(context.Background(), "missing")
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("Expected ErrProductNotFound, got %v", err)
	}

	for _, name := range []string{" ", "a/b"} {
		_, err = f.usecase.GetProduct(context.Background(), name)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("GetProduct(%q): expected ErrValidation, got %v", name, err)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(Options{})
	f.repo.pingFunc = func(ctx context.Context) error { return errors.New("down") }

	if err := f.usecase.HealthCheck(context.Background()); err == nil {
		t.Fatal("Expected error, got nil")
	}
}

func TestObjectKey(t *testing.T) {
	f := newFixture(Options{KeyPrefix: "products"})
	f.usecase.now = func() time.Time { return time.UnixMilli(1700000000123) }
	f.usecase.token = func() string { return "tok" }

	tests := []struct {
		fileName string
		expected string
	}{
		{"mug.jpg", "products/1700000000123-tok-mug.jpg"},
		{"mug.JPEG", "products/1700000000123-tok-mug.jpg"},
		{"../../etc/passwd", "products/1700000000123-tok-passwd.jpg"},
		{`C:\photos\blue mug.png`, "products/1700000000123-tok-blue_mug.jpg"},
		{"archive.tar.gz", "products/1700000000123-tok-archive.tar.jpg"},
		{".png", "products/1700000000123-tok-image.jpg"},
		{"", "products/1700000000123-tok-image.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			if got := f.usecase.objectKey(tt.fileName); got != tt.expected {
				t.Errorf("objectKey(%q) = %s, want %s", tt.fileName, got, tt.expected)
			}
		})
	}
}

func TestObjectKey_Unique(t *testing.T) {
	f := newFixture(Options{KeyPrefix: "products"})
	f.usecase.now = func() time.Time { return time.UnixMilli(1) }

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		key := f.usecase.objectKey("same.jpg")
		if seen[key] {
			t.Fatalf("Duplicate key %s", key)
		}
		seen[key] = true
	}
}
