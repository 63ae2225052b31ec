package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/dontpanicw/ProductImages/internal/domain"
	"github.com/dontpanicw/ProductImages/internal/port"
	"github.com/dontpanicw/ProductImages/web"
	"github.com/gorilla/mux"
)

const (
	fieldProductName = "productName"
	fieldImages      = "images"

	maxMemory = 32 << 20 // 32MB kept in memory, the rest spills to temp files
)

type Handler struct {
	usecases       port.ProductImageUsecases
	maxUploadBytes int64
}

func NewHandler(usecases port.ProductImageUsecases, maxUploadBytes int64) *Handler {
	return &Handler{
		usecases:       usecases,
		maxUploadBytes: maxUploadBytes,
	}
}

type uploadResponse struct {
	Message string                `json:"message"`
	Product *domain.ProductRecord `json:"product"`
}

func (h *Handler) UploadForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(web.UploadForm); err != nil {
		slog.Error("failed to write upload form", "err", err)
	}
}

func (h *Handler) UploadImages(w http.ResponseWriter, r *http.Request) {
	const op = "Handler.UploadImages"
	log := slog.With("op", op, "request_id", RequestIDFromContext(r.Context()))

	if h.maxUploadBytes > 0 {
		if r.ContentLength > h.maxUploadBytes {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn("failed to remove multipart temp files", "err", err)
		}
	}()

	productName := r.FormValue(fieldProductName)
	files, err := readFiles(r.MultipartForm.File[fieldImages])
	if err != nil {
		log.Error("failed to read uploaded files", "err", err)
		writeJSONError(w, http.StatusBadRequest, "Failed to read uploaded files")
		return
	}

	record, err := h.usecases.UploadImages(r.Context(), productName, files)
	if err != nil {
		status, message := statusFromError(err)
		if status >= http.StatusInternalServerError {
			log.Error("upload failed", "productName", productName, "err", err)
		}
		writeJSONError(w, status, message)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Message: "Images uploaded successfully",
		Product: record,
	})
}

func readFiles(headers []*multipart.FileHeader) ([]domain.UploadFile, error) {
	files := make([]domain.UploadFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, domain.UploadFile{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", fh.Filename, err)
	}
	return data, nil
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productName := mux.Vars(r)["productName"]

	record, err := h.usecases.GetProduct(r.Context(), productName)
	if err != nil {
		status, message := statusFromError(err)
		if status >= http.StatusInternalServerError {
			slog.Error("failed to get product", "op", "Handler.GetProduct", "productName", productName, "err", err)
		}
		writeJSONError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.usecases.HealthCheck(r.Context()); err != nil {
		slog.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
