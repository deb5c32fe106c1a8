package http

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/databowl/backend/internal/domain"
	"github.com/databowl/backend/internal/usecase"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	imageField      = "image"
	defaultMimeType = "image/jpeg"

	// room for multipart boundaries and headers on top of the image itself
	multipartOverhead = 64 << 10
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	estimateService *usecase.EstimateService
	maxUploadBytes  int64
	logger          *zap.SugaredLogger
}

// NewHandler creates a new HTTP handler
func NewHandler(estimateService *usecase.EstimateService, maxUploadBytes int64, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		estimateService: estimateService,
		maxUploadBytes:  maxUploadBytes,
		logger:          logger,
	}
}

// HealthCheck reports liveness and whether the inference client is configured
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"geminiReady": h.ready(),
	})
}

// Estimate handles POST /api/estimate with a single multipart "image" part
func (h *Handler) Estimate(c *gin.Context) {
	if !h.ready() {
		h.respondError(c, domain.NewGeminiUnavailable())
		return
	}

	image, estErr := h.readImage(c)
	if estErr != nil {
		h.respondError(c, estErr)
		return
	}

	estimate, err := h.estimateService.Estimate(c.Request.Context(), image)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, estimate)
}

func (h *Handler) ready() bool {
	return h.estimateService != nil && h.estimateService.Ready()
}

// readImage pulls exactly one image out of the multipart body, enforcing the upload limit
func (h *Handler) readImage(c *gin.Context) (*domain.ImageInput, *domain.EstimateError) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	form, err := c.MultipartForm()
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, domain.NewImageTooLarge(h.maxUploadBytes)
		}
		h.logger.Debugw("[Estimate] Could not parse multipart body", "error", err)
		return nil, domain.NewNoImage()
	}

	files := form.File[imageField]
	switch {
	case len(files) == 0:
		return nil, domain.NewNoImage()
	case len(files) > 1:
		return nil, domain.NewTooManyImages(len(files))
	}

	header := files[0]
	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		return nil, domain.NewImageTooLarge(h.maxUploadBytes)
	}

	data, err := readFile(header)
	if err != nil {
		return nil, domain.NewServerError(err)
	}
	if len(data) == 0 {
		return nil, domain.NewNoImage()
	}

	return &domain.ImageInput{
		Filename: header.Filename,
		MimeType: detectMimeType(data, header.Header.Get("Content-Type")),
		Data:     data,
	}, nil
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// detectMimeType prefers the sniffed type, then the declared one, then JPEG
func detectMimeType(data []byte, declared string) string {
	if detected := mimetype.Detect(data); strings.HasPrefix(detected.String(), "image/") {
		return detected.String()
	}
	if declared = strings.TrimSpace(declared); strings.HasPrefix(declared, "image/") {
		return declared
	}
	return defaultMimeType
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// multipart wraps the reader error as text in some paths
	return strings.Contains(err.Error(), "request body too large")
}

// respondError writes {"error": CODE, "detail": ...} with the error's status
func (h *Handler) respondError(c *gin.Context, err error) {
	estErr, ok := domain.AsEstimateError(err)
	if !ok {
		estErr = domain.NewServerError(err)
	}

	body := gin.H{"error": estErr.Code}
	if estErr.Detail != "" {
		body["detail"] = estErr.Detail
	}

	if estErr.Status >= http.StatusInternalServerError {
		h.logger.Errorw("[Estimate] Request failed", "code", estErr.Code, "error", err)
	}

	c.JSON(estErr.Status, body)
}
