package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nexus-link/durable"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (a *API) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, msg := statusOf(err)
	if e, ok := durable.AsError(err); ok && e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("admin request failed",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, ErrorResponse{Error: msg})
}

func statusOf(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			return he.Code, m
		}
		return he.Code, http.StatusText(he.Code)
	}

	switch {
	case isNotFound(err):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, durable.ErrInvalidState),
		errors.Is(err, durable.ErrConflict),
		errors.Is(err, durable.ErrLockTaken):
		return http.StatusConflict, err.Error()
	case errors.Is(err, durable.ErrStoreUnavailable),
		durable.KindOf(err) == durable.KindTryAgain:
		return http.StatusServiceUnavailable, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func isNotFound(err error) bool {
	return errors.Is(err, durable.ErrInstanceNotFound) ||
		errors.Is(err, durable.ErrActivityNotFound) ||
		errors.Is(err, durable.ErrVersionNotFound) ||
		errors.Is(err, durable.ErrFormNotFound) ||
		errors.Is(err, durable.ErrDefinitionNotFound)
}
