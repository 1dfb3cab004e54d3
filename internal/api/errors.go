package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/social-crawl-orchestrator/internal/middleware"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrPlatformUnsupported), errors.Is(err, crawler.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, crawler.ErrJobNotFound), errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrJobNotCompleted):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrProviderUnavailable), errors.Is(err, crawler.ErrProviderError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// not echoed to the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	middleware.WriteError(w, status, msg)
}
