package identity

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/marketcore/gatekeeper/internal/events"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

// ReconcileReport summarizes one ReconcilePending run.
type ReconcileReport struct {
	Attempted int                `json:"attempted"`
	Resolved  int                `json:"resolved"`
	Failed    int                `json:"failed"`
	Failures  []ReconcileFailure `json:"failures,omitempty"`
}

// ReconcileFailure is a replay that failed again.
type ReconcileFailure struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Group    string `json:"group"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// RetrySync implements Service. It is idempotent: assigning a group the
// user already has succeeds.
func (m *Manager) RetrySync(ctx context.Context, email, group string) error {
	const op = "identity.RetrySync"

	email = normalizeEmail(email)
	group = auth.NormalizeGroup(group)
	if email == "" || group == "" {
		return apperr.New(apperr.KindInvalidInput, op, "email and group are required")
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentity, op,
		attribute.String(telemetry.AttrUserEmail, email),
		attribute.String(telemetry.AttrSyncGroup, group))
	defer span.End()

	if err := m.syncGroup(ctx, email, group); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// ReconcilePending implements Service. A failed replay bumps the attempt
// counter and leaves the record open; the run continues with the next one.
func (m *Manager) ReconcilePending(ctx context.Context, limit int) (ReconcileReport, error) {
	const op = "identity.ReconcilePending"
	var report ReconcileReport

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentity, op)
	defer span.End()

	open, err := m.store.SyncFailures().ListOpen(ctx, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return report, err
	}

	for _, f := range open {
		if err := ctx.Err(); err != nil {
			return report, apperr.Wrap(apperr.KindUpstreamUnavailable, op, err)
		}
		report.Attempted++
		log := m.log.WithFields(logrus.Fields{"sync_failure_id": f.ID, "email": f.Email, "group": f.TargetGroup})

		if err := m.RetrySync(ctx, f.Email, f.TargetGroup); err != nil {
			if rerr := m.store.SyncFailures().RecordAttempt(ctx, f.ID, err.Error()); rerr != nil {
				log.WithError(rerr).Error("failed to record sync attempt")
			}
			log.WithError(err).Warn("provider sync replay failed")
			report.Failed++
			report.Failures = append(report.Failures, ReconcileFailure{
				ID:       f.ID,
				Email:    f.Email,
				Group:    f.TargetGroup,
				Attempts: f.Attempts + 1,
				Error:    err.Error(),
			})
			continue
		}

		if err := m.store.SyncFailures().MarkResolved(ctx, f.ID); err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			log.WithError(err).Error("provider synced but failure record not closed")
		}
		report.Resolved++
		log.Info("provider sync replayed")
		m.emit(ctx, events.Event{
			Type:  events.SyncResolved,
			Email: f.Email,
			Metadata: map[string]any{
				"group":           f.TargetGroup,
				"sync_failure_id": f.ID,
				"attempts":        f.Attempts,
			},
		})
	}

	span.SetAttributes(
		attribute.Int("gatekeeper.reconcile.resolved", report.Resolved),
		attribute.Int("gatekeeper.reconcile.failed", report.Failed),
	)
	if report.Attempted > 0 {
		m.log.WithFields(logrus.Fields{
			"attempted": report.Attempted,
			"resolved":  report.Resolved,
			"failed":    report.Failed,
		}).Info("reconciliation finished")
	}
	return report, nil
}

// syncGroup assigns group to the provider account registered under email
// and links the local user to that account if it was not yet linked.
func (m *Manager) syncGroup(ctx context.Context, email, group string) error {
	account, err := m.provider.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := m.provider.AddUserToGroup(ctx, account.ID, group); err != nil {
		return err
	}
	m.linkSubject(ctx, email, account.ID)
	return nil
}

func (m *Manager) linkSubject(ctx context.Context, email, subject string) {
	user, err := m.store.Users().GetByEmail(ctx, email)
	if err != nil || (user.Subject != nil && *user.Subject != "") {
		return
	}
	if err := m.store.Users().SetSubject(ctx, user.ID, subject); err != nil {
		m.log.WithError(err).WithField("user_id", user.ID).Warn("failed to link local user to provider account")
	}
}

// recordSyncFailure persists a provider step to replay later and returns
// the record id, or "" if the record itself could not be written.
func (m *Manager) recordSyncFailure(ctx context.Context, userID, email, group string, cause error) string {
	failure := &models.ProviderSyncFailure{
		Email:       email,
		TargetGroup: group,
		Operation:   models.SyncAddToGroup,
		LastError:   cause.Error(),
	}
	if err := m.store.SyncFailures().Record(context.WithoutCancel(ctx), failure); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"email": email,
			"group": group,
			"cause": cause.Error(),
		}).Error("failed to record provider sync failure")
		return ""
	}

	m.emit(ctx, events.Event{
		Type:   events.MerchantSyncFailed,
		UserID: userID,
		Email:  email,
		Metadata: map[string]any{
			"group":           group,
			"sync_failure_id": failure.ID,
			"error":           cause.Error(),
		},
	})
	return failure.ID
}
