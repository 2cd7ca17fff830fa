package server

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/middleware"
)

const (
	msgIdentityConflict    = "User with this email already exists"
	msgUpstreamUnavailable = "Upstream unavailable"
	msgInvalidRequest      = "Invalid request"
	msgInvalidBody         = "Invalid request body"
	msgConflict            = "Conflict"
)

// errorResponse maps an error kind to a status and a body safe to return.
// 5xx bodies never carry wrapped detail.
func errorResponse(err error) (int, middleware.ErrorBody) {
	switch apperr.KindOf(err) {
	case apperr.KindAuthenticationRequired, apperr.KindInvalidToken:
		return http.StatusUnauthorized, middleware.ErrorBody{Error: middleware.MsgAuthenticationRequired}
	case apperr.KindPermissionDenied:
		return http.StatusForbidden, middleware.ErrorBody{Error: middleware.MsgForbidden}
	case apperr.KindNotFound:
		return http.StatusNotFound, middleware.ErrorBody{Error: middleware.MsgNotFound}
	case apperr.KindIdentityConflict:
		return http.StatusConflict, middleware.ErrorBody{Error: msgIdentityConflict}
	case apperr.KindConflict:
		return http.StatusConflict, middleware.ErrorBody{Error: msgConflict, Message: messageOf(err)}
	case apperr.KindInvalidInput:
		return http.StatusBadRequest, middleware.ErrorBody{Error: msgInvalidRequest, Message: messageOf(err)}
	case apperr.KindUpstreamUnavailable:
		return http.StatusBadGateway, middleware.ErrorBody{Error: msgUpstreamUnavailable}
	default:
		return http.StatusInternalServerError, middleware.ErrorBody{Error: middleware.MsgInternal}
	}
}

// messageOf returns the outermost classified message without op or cause.
func messageOf(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// writeServiceError logs err and writes the mapped response.
func writeServiceError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	status, body := errorResponse(err)

	entry := log.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"kind":   apperr.KindOf(err).String(),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	middleware.WriteJSON(w, status, body)
}
