package keycloak

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/Nerzal/gocloak/v13"

	"github.com/marketcore/gatekeeper/internal/apperr"
)

// errSessionExpired marks a 401 from the admin API. It never leaves the
// package: Session.Do either recovers from it or reports a fatal error.
var errSessionExpired = errors.New("keycloak: admin session rejected")

// statusOf returns the HTTP status carried by a gocloak error. gocloak
// reports transport failures with code 0; ok is false for foreign errors.
func statusOf(err error) (code int, ok bool) {
	var apiErr *gocloak.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

func isUnauthorized(err error) bool {
	code, _ := statusOf(err)
	return errors.Is(err, errSessionExpired) || code == http.StatusUnauthorized
}

// classify maps a provider failure onto the error taxonomy. Errors that are
// already classified pass through untouched.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrapf(apperr.KindUpstreamUnavailable, op, err, "identity provider did not respond in time")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Wrapf(apperr.KindUpstreamUnavailable, op, err, "identity provider unreachable")
	}

	code, ok := statusOf(err)
	if !ok {
		return apperr.Wrap(apperr.KindFatal, op, err)
	}
	switch {
	case code == http.StatusConflict:
		return apperr.Wrapf(apperr.KindIdentityConflict, op, err, "identity already exists")
	case code == http.StatusNotFound:
		return apperr.Wrapf(apperr.KindNotFound, op, err, "identity provider resource not found")
	case code == http.StatusUnauthorized:
		return apperr.Wrapf(apperr.KindFatal, op, err, "admin session rejected")
	case code == 0, code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return apperr.Wrapf(apperr.KindUpstreamUnavailable, op, err, "identity provider unavailable")
	default:
		return apperr.Wrap(apperr.KindFatal, op, err)
	}
}
