package authz

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/auth"
)

// DefaultResolverTimeout bounds a single owner lookup.
const DefaultResolverTimeout = 5 * time.Second

// DenyKind classifies a denial.
type DenyKind string

const (
	DenyAuthenticationRequired DenyKind = "authentication_required"
	DenyPermissionDenied       DenyKind = "permission_denied"
	DenyNotFound               DenyKind = "not_found"
	DenyResolverError          DenyKind = "resolver_error"
)

// Deny describes why a requirement was not met. Message is safe to show the
// caller; Reason is for logs only.
type Deny struct {
	Kind    DenyKind
	Message string
	Groups  []string
	Reason  string
}

// Decision is the outcome of evaluating a requirement.
type Decision struct {
	Allowed bool
	Deny    *Deny
}

// Err converts a denial to a classified error. Allowed decisions yield nil.
func (d Decision) Err() error {
	if d.Allowed || d.Deny == nil {
		return nil
	}
	const op = "authz.Evaluate"
	switch d.Deny.Kind {
	case DenyAuthenticationRequired:
		return apperr.New(apperr.KindAuthenticationRequired, op, d.Deny.Message)
	case DenyNotFound:
		return apperr.New(apperr.KindNotFound, op, d.Deny.Message)
	case DenyResolverError:
		return apperr.New(apperr.KindFatal, op, d.Deny.Message)
	default:
		return apperr.New(apperr.KindPermissionDenied, op, d.Deny.Message)
	}
}

const (
	msgAuthenticationRequired = "Authentication required"
	msgForbidden              = "You do not have permission to perform this action"
	msgNotFound               = "Resource not found"
	msgResolverFailed         = "Unable to verify resource ownership"
)

// Evaluator decides requirements. The zero value is usable.
type Evaluator struct {
	// ResolverTimeout bounds owner resolution; zero means DefaultResolverTimeout.
	ResolverTimeout time.Duration
	Logger          logrus.FieldLogger
}

// NewEvaluator returns an evaluator with the given resolver timeout.
func NewEvaluator(timeout time.Duration, logger logrus.FieldLogger) *Evaluator {
	return &Evaluator{ResolverTimeout: timeout, Logger: logger}
}

var defaultEvaluator = &Evaluator{}

// Evaluate decides req for claims with the default evaluator.
func Evaluate(ctx context.Context, claims *auth.Claims, req Requirement) Decision {
	return defaultEvaluator.Evaluate(ctx, claims, req)
}

// Evaluate decides req for claims. Nil claims are denied unless the
// requirement allows anonymous callers. The only I/O performed is through an
// owner resolver.
func (e *Evaluator) Evaluate(ctx context.Context, claims *auth.Claims, req Requirement) Decision {
	if claims == nil {
		if req.anonymous {
			return allow()
		}
		return deny(DenyAuthenticationRequired, msgAuthenticationRequired, nil, "no claims")
	}

	switch req.kind {
	case kindGroup, kindAnyGroup:
		if claims.HasAnyGroup(req.groups...) {
			return allow()
		}
		return deny(DenyPermissionDenied, msgForbidden, claims.Groups, "missing group "+req.String())

	case kindExpression:
		if auth.EvaluateExpression(req.expr, claims) {
			return allow()
		}
		return deny(DenyPermissionDenied, msgForbidden, claims.Groups, "expression not satisfied "+req.String())

	case kindOwnerOr:
		if req.privileged != "" && claims.HasGroup(req.privileged) {
			return allow()
		}
		return e.evaluateOwner(ctx, claims, req)

	default:
		return deny(DenyPermissionDenied, msgForbidden, claims.Groups, "empty requirement")
	}
}

func (e *Evaluator) evaluateOwner(ctx context.Context, claims *auth.Claims, req Requirement) Decision {
	if req.resolver == nil {
		return deny(DenyResolverError, msgResolverFailed, claims.Groups, "no owner resolver")
	}

	timeout := e.ResolverTimeout
	if timeout <= 0 {
		timeout = DefaultResolverTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	owner, err := req.resolver(rctx)
	switch {
	case errors.Is(err, ErrNoResource), apperr.IsKind(err, apperr.KindNotFound):
		return deny(DenyNotFound, msgNotFound, claims.Groups, "resource not found")
	case err != nil:
		e.logger().WithError(err).WithField("subject", claims.Subject).Warn("owner resolution failed")
		return deny(DenyResolverError, msgResolverFailed, claims.Groups, err.Error())
	}

	if owner != "" && owner == claims.Subject {
		return allow()
	}
	return deny(DenyPermissionDenied, msgForbidden, claims.Groups, "caller is not the owner")
}

func (e *Evaluator) logger() logrus.FieldLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return logrus.StandardLogger()
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(kind DenyKind, message string, groups []string, reason string) Decision {
	return Decision{Deny: &Deny{
		Kind:    kind,
		Message: message,
		Groups:  append([]string{}, groups...),
		Reason:  reason,
	}}
}
