package identity

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/approval"
	"github.com/marketcore/gatekeeper/internal/db/bunx"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/marketcore/gatekeeper/internal/repository"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

// ApprovalResult reports an approval and whether the provider caught up.
// ProviderSynced false means the merchant group assignment is queued under
// SyncFailureID; the approval itself is durable either way.
type ApprovalResult struct {
	Profile        *models.MerchantProfile `json:"profile"`
	ProviderSynced bool                    `json:"providerSynced"`
	SyncFailureID  string                  `json:"syncFailureId,omitempty"`
}

// UpgradeToMerchant implements Service.
func (m *Manager) UpgradeToMerchant(ctx context.Context, req UpgradeRequest) (*models.MerchantProfile, error) {
	const op = "identity.UpgradeToMerchant"

	if err := req.Validate(); err != nil {
		return nil, invalid(op, err)
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentity, op,
		attribute.String(telemetry.AttrUserID, req.UserID),
		attribute.String(telemetry.AttrUserEmail, normalizeEmail(req.Email)))
	defer span.End()

	var profile *models.MerchantProfile
	err := m.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		user, err := m.resolveUpgradeUser(ctx, tx, req)
		if err != nil {
			return err
		}

		candidate := &models.MerchantProfile{
			UserID:         user.ID,
			CommissionRate: m.opts.DefaultCommissionRate,
		}
		req.ShopInfo.Apply(candidate)
		profile, err = tx.Merchants().Upsert(ctx, candidate)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"user_id": profile.UserID,
		"status":  string(profile.Status),
	}).Info("merchant profile submitted")
	return profile, nil
}

// resolveUpgradeUser finds the local user by id, subject, then email, and
// creates a BUYER record when only an email is known.
func (m *Manager) resolveUpgradeUser(ctx context.Context, tx repository.Store, req UpgradeRequest) (*models.User, error) {
	const op = "identity.UpgradeToMerchant"
	users := tx.Users()
	email := normalizeEmail(req.Email)

	if req.UserID != "" {
		user, err := users.GetByID(ctx, req.UserID)
		if err == nil {
			return user, nil
		}
		if !apperr.IsKind(err, apperr.KindNotFound) || email == "" {
			return nil, err
		}
	}

	if req.Subject != "" {
		user, err := users.GetBySubject(ctx, req.Subject)
		if err == nil {
			return user, nil
		}
		if !apperr.IsKind(err, apperr.KindNotFound) {
			return nil, err
		}
	}

	if email == "" {
		return nil, apperr.New(apperr.KindInvalidInput, op, "user not found and email not provided for creation")
	}

	user, err := users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if req.Subject != "" && user.Subject != nil && *user.Subject != "" && *user.Subject != req.Subject {
			m.log.WithFields(logrus.Fields{"user_id": user.ID, "email": email}).
				Warn("merchant submission subject does not match linked account")
			return nil, apperr.New(apperr.KindPermissionDenied, op, "email is linked to a different account")
		}
		if req.Subject != "" && (user.Subject == nil || *user.Subject == "") {
			if err := users.SetSubject(ctx, user.ID, req.Subject); err != nil {
				return nil, err
			}
			subject := req.Subject
			user.Subject = &subject
		}
		return user, nil
	case !apperr.IsKind(err, apperr.KindNotFound):
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = email
	}
	user = &models.User{Email: email, Name: name, Role: models.RoleBuyer}
	if req.Subject != "" {
		subject := req.Subject
		user.Subject = &subject
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{"user_id": user.ID, "email": email}).Info("created local user on merchant submission")
	return user, nil
}

// Approve implements Service.
func (m *Manager) Approve(ctx context.Context, userID, actor string) (*ApprovalResult, error) {
	const op = "identity.Approve"

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentity, op,
		attribute.String(telemetry.AttrUserID, userID))
	defer span.End()

	profile, err := m.loadProfile(ctx, op, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := &ApprovalResult{}
	syncHook := func(ctx context.Context, tc approval.TransitionContext) error {
		result.ProviderSynced, result.SyncFailureID = m.syncMerchantGroup(ctx, tc.Profile)
		tc.Metadata["provider_synced"] = result.ProviderSynced
		if result.SyncFailureID != "" {
			tc.Metadata["sync_failure_id"] = result.SyncFailureID
		}
		return nil
	}

	profile, err = m.machine.Transition(ctx, profile, approval.Approved,
		approval.WithActor(actor),
		approval.WithAfterHook(syncHook))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if profile.User != nil {
		profile.User.Role = models.RoleMerchant
	}
	result.Profile = profile
	span.SetAttributes(attribute.Bool("gatekeeper.provider_synced", result.ProviderSynced))
	return result, nil
}

// Reject implements Service.
func (m *Manager) Reject(ctx context.Context, userID, actor string) (*models.MerchantProfile, error) {
	const op = "identity.Reject"

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentity, op,
		attribute.String(telemetry.AttrUserID, userID))
	defer span.End()

	profile, err := m.loadProfile(ctx, op, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	from := profile.Status

	profile, err = m.machine.Transition(ctx, profile, approval.Rejected, approval.WithActor(actor))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if from == approval.Approved && profile.User != nil {
		profile.User.Role = models.RoleBuyer
	}
	return profile, nil
}

// syncMerchantGroup mirrors an approval to the provider. Failures are
// queued for reconciliation and never undo the approval.
func (m *Manager) syncMerchantGroup(ctx context.Context, profile *models.MerchantProfile) (synced bool, failureID string) {
	log := m.log.WithFields(logrus.Fields{"user_id": profile.UserID, "group": m.opts.MerchantGroup})

	user := profile.User
	if user == nil {
		var err error
		if user, err = m.store.Users().GetByID(ctx, profile.UserID); err != nil {
			log.WithError(err).Error("cannot load user for provider sync")
			return false, ""
		}
	}

	if err := m.syncGroup(ctx, user.Email, m.opts.MerchantGroup); err != nil {
		log.WithError(err).Warn("merchant group sync failed, queued for reconciliation")
		return false, m.recordSyncFailure(ctx, user.ID, user.Email, m.opts.MerchantGroup, err)
	}
	log.Info("merchant group synced to provider")
	return true, ""
}

// GetMerchant implements Service.
func (m *Manager) GetMerchant(ctx context.Context, userID string) (*models.MerchantProfile, error) {
	return m.loadProfile(ctx, "identity.GetMerchant", userID)
}

// loadProfile treats ids that cannot be user ids as unknown users.
func (m *Manager) loadProfile(ctx context.Context, op, userID string) (*models.MerchantProfile, error) {
	if !bunx.IsUUID(userID) {
		return nil, apperr.New(apperr.KindNotFound, op, "merchant profile not found")
	}
	return m.store.Merchants().GetByUserID(ctx, userID)
}

// ListPending implements Service.
func (m *Manager) ListPending(ctx context.Context) ([]models.MerchantProfile, error) {
	return m.store.Merchants().ListByStatus(ctx, models.MerchantPending)
}

// MerchantOwner implements Service.
func (m *Manager) MerchantOwner(ctx context.Context, userID string) (string, error) {
	profile, err := m.loadProfile(ctx, "identity.MerchantOwner", userID)
	if err != nil {
		return "", err
	}
	if profile.User == nil {
		return "", apperr.New(apperr.KindNotFound, "identity.MerchantOwner", "merchant has no user")
	}
	return profile.User.PrincipalSubject(), nil
}

// statusStore persists a status change and the matching role in one
// transaction.
type statusStore struct {
	store repository.Store
	log   logrus.FieldLogger
}

func (s statusStore) UpdateStatus(ctx context.Context, userID string, from, to approval.Status) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.Merchants().UpdateStatus(ctx, userID, from, to); err != nil {
			return err
		}

		switch {
		case to == approval.Approved:
			return tx.Users().SetRole(ctx, userID, models.RoleMerchant)
		case from == approval.Approved:
			s.log.WithField("user_id", userID).
				Warn("merchant demoted locally, provider group membership left unchanged")
			return tx.Users().SetRole(ctx, userID, models.RoleBuyer)
		}
		return nil
	})
}
