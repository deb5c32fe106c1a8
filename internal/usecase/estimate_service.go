package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/databowl/backend/internal/domain"
	"go.uber.org/zap"
)

const rawLogLimit = 200

// EstimateServiceConfig holds configuration for the estimate service
type EstimateServiceConfig struct {
	Timeout      time.Duration // per attempt
	MaxAttempts  int
	RetryBackoff time.Duration
}

// EstimateService runs an uploaded photo through inference and sanitization
type EstimateService struct {
	client      domain.InferenceClient
	prompt      string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *zap.SugaredLogger
}

// NewEstimateService creates a new estimate service. A nil client disables
// the service: Ready reports false and Estimate always fails with
// GEMINI_UNAVAILABLE.
func NewEstimateService(
	client domain.InferenceClient,
	config EstimateServiceConfig,
	logger *zap.SugaredLogger,
) *EstimateService {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 2
	}

	backoff := config.RetryBackoff
	if backoff < 0 {
		backoff = 0
	}

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &EstimateService{
		client:      client,
		prompt:      EstimatePrompt(),
		timeout:     timeout,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
	}
}

// Ready reports whether an inference client was configured at startup.
func (s *EstimateService) Ready() bool {
	return s.client != nil
}

// Estimate produces a nutrition estimate for one image.
// Flow: generate -> extract JSON -> visibility guard, replayed as a whole on
// transient upstream faults up to maxAttempts times.
// Every returned error is a *domain.EstimateError.
func (s *EstimateService) Estimate(ctx context.Context, image *domain.ImageInput) (*domain.NutritionEstimate, error) {
	if s.client == nil {
		return nil, domain.NewGeminiUnavailable()
	}
	if image == nil || len(image.Data) == 0 {
		return nil, domain.NewNoImage()
	}

	s.logger.Infow("[Estimate] Processing image",
		"filename", image.Filename,
		"size", len(image.Data),
		"mimeType", image.MimeType,
	)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		estimate, err := s.runPipeline(ctx, image)
		if err == nil {
			s.logger.Infow("[Estimate] Final nutrition result",
				"calories", estimate.Calories,
				"items", len(estimate.Items),
				"attempt", attempt,
			)
			return estimate, nil
		}

		if !isTransient(ctx, err) {
			classified := classifyError(ctx, err)
			s.logger.Warnw("[Estimate] Request failed",
				"code", classified.Code,
				"attempt", attempt,
				"error", err,
			)
			return nil, classified
		}

		lastErr = err
		s.logger.Warnw("[Estimate] Transient upstream failure",
			"attempt", attempt,
			"maxAttempts", s.maxAttempts,
			"error", err,
		)

		if attempt < s.maxAttempts {
			if err := sleepContext(ctx, time.Duration(attempt)*s.backoff); err != nil {
				return nil, domain.NewServerError(err)
			}
		}
	}

	s.logger.Errorw("[Estimate] All attempts failed", "error", lastErr)
	return nil, domain.NewGeminiUnstable(lastErr)
}

// runPipeline performs one generate -> extract -> guard pass under its own deadline.
func (s *EstimateService) runPipeline(ctx context.Context, image *domain.ImageInput) (*domain.NutritionEstimate, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.client.Generate(attemptCtx, image.Data, mimeTypeOrDefault(image.MimeType), s.prompt)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Join(domain.ErrUpstreamTimeout, err)
		}
		return nil, err
	}

	s.logger.Debugw("[Estimate] Raw model response", "text", domain.Truncate(text, rawLogLimit))

	parsed := ExtractJSON(text)
	if parsed == nil {
		s.logger.Warnw("[Estimate] Could not extract JSON from model response",
			"text", domain.Truncate(text, rawLogLimit),
		)
	}

	estimate, err := VisibilityGuard(parsed)
	if err != nil {
		return nil, err
	}
	if estimate == nil {
		return nil, domain.NewAnalysisFailed(nil)
	}
	return estimate, nil
}

// isTransient reports whether a failed attempt is worth replaying: upstream
// 5xx, an "internal error" message, or a per-attempt timeout.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, domain.ErrUpstreamTimeout) {
		return true
	}
	if _, ok := domain.AsEstimateError(err); ok {
		return false
	}

	status, message := upstreamDetails(err)
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return strings.Contains(message, "internal error")
}

// classifyError maps a non-transient failure to the gateway error taxonomy.
func classifyError(ctx context.Context, err error) *domain.EstimateError {
	if estErr, ok := domain.AsEstimateError(err); ok {
		return estErr
	}
	if errors.Is(err, domain.ErrEmptyResponse) {
		return domain.NewAnalysisFailed(err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.NewServerError(ctxErr)
	}
	if errors.Is(err, domain.ErrUpstreamThrottled) {
		return domain.NewRateLimit(err)
	}

	status, message := upstreamDetails(err)
	switch {
	case status == http.StatusTooManyRequests || strings.Contains(message, "quota"):
		return domain.NewRateLimit(err)
	case status == http.StatusUnauthorized ||
		strings.Contains(message, "invalid api key") ||
		strings.Contains(message, "api key not valid"):
		return domain.NewInvalidAPIKey(err)
	}
	return domain.NewServerError(err)
}

// upstreamDetails returns the upstream HTTP status (0 if unknown) and the
// lowercased error text used for message matching.
func upstreamDetails(err error) (int, string) {
	message := strings.ToLower(err.Error())

	var upstreamErr *domain.UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode, message
	}
	return 0, message
}

func mimeTypeOrDefault(mimeType string) string {
	if mimeType == "" {
		return "image/jpeg"
	}
	return mimeType
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

