package identity

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/marketcore/gatekeeper/internal/events"
	"github.com/marketcore/gatekeeper/internal/keycloak"
	"github.com/marketcore/gatekeeper/internal/repository"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

// RegisterClient implements Service.
func (m *Manager) RegisterClient(ctx context.Context, req RegisterRequest) (*models.User, error) {
	const op = "identity.RegisterClient"

	if err := req.Validate(); err != nil {
		return nil, invalid(op, err)
	}
	email := normalizeEmail(req.Email)

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentity, op,
		attribute.String(telemetry.AttrUserEmail, email))
	defer span.End()

	user, _, syncErr, err := m.register(ctx, op, req, email, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	m.emit(ctx, events.Event{Type: events.ClientRegistered, UserID: user.ID, Email: email})
	if syncErr != nil {
		telemetry.RecordError(span, syncErr)
		return user, syncErr
	}
	return user, nil
}

// RegisterMerchant implements Service.
func (m *Manager) RegisterMerchant(ctx context.Context, req RegisterMerchantRequest) (*models.User, *models.MerchantProfile, error) {
	const op = "identity.RegisterMerchant"

	if err := req.Validate(); err != nil {
		return nil, nil, invalid(op, err)
	}
	email := normalizeEmail(req.Email)

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentity, op,
		attribute.String(telemetry.AttrUserEmail, email))
	defer span.End()

	shop := req.ShopInfo
	user, profile, syncErr, err := m.register(ctx, op, req.RegisterRequest, email, &shop)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}

	m.emit(ctx, events.Event{
		Type:     events.MerchantRegistered,
		UserID:   user.ID,
		Email:    email,
		ToStatus: string(profile.Status),
		Metadata: map[string]any{"shop_name": profile.ShopName},
	})
	if syncErr != nil {
		telemetry.RecordError(span, syncErr)
		return user, profile, syncErr
	}
	return user, profile, nil
}

// register runs the registration saga: provider account, client group,
// then the local shadow (and profile when shop is set) in one transaction.
// syncErr is non-nil when everything committed except the group assignment.
func (m *Manager) register(ctx context.Context, op string, req RegisterRequest, email string, shop *models.ShopInfo) (user *models.User, profile *models.MerchantProfile, syncErr error, err error) {
	log := m.log.WithFields(logrus.Fields{"op": op, "email": email})

	exists, err := m.store.Users().ExistsByEmail(ctx, email)
	if err != nil {
		return nil, nil, nil, err
	}
	if exists {
		return nil, nil, nil, apperr.New(apperr.KindIdentityConflict, op, "user with this email already exists")
	}

	first, last := splitName(req.Name)
	providerID, err := m.provider.CreateUser(ctx, keycloak.NewUser{
		Email:     email,
		Password:  req.Password,
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	log = log.WithField("provider_id", providerID)

	groupErr := m.provider.AddUserToGroup(ctx, providerID, m.opts.ClientGroup)
	if groupErr != nil {
		log.WithError(groupErr).Warn("client group assignment failed")
	}

	subject := providerID
	user = &models.User{
		Subject: &subject,
		Email:   email,
		Name:    req.Name,
		Role:    models.RoleBuyer,
	}
	err = m.store.RunInTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		if shop == nil {
			return nil
		}
		profile = &models.MerchantProfile{
			UserID:         user.ID,
			CommissionRate: m.opts.DefaultCommissionRate,
		}
		shop.Apply(profile)
		return tx.Merchants().Create(ctx, profile)
	})
	if err != nil {
		m.compensate(ctx, log, providerID, err)
		return nil, nil, nil, err
	}
	if profile != nil {
		profile.User = user
	}
	log.WithField("user_id", user.ID).Info("user registered")

	if groupErr != nil {
		m.recordSyncFailure(ctx, user.ID, email, m.opts.ClientGroup, groupErr)
		syncErr = apperr.Wrapf(apperr.KindPartialSync, op, groupErr,
			"account created, %s group membership pending reconciliation", m.opts.ClientGroup)
	}
	return user, profile, syncErr, nil
}

// compensate handles a provider account whose local shadow could not be
// written. Without compensation the account is left for an operator.
func (m *Manager) compensate(ctx context.Context, log logrus.FieldLogger, providerID string, cause error) {
	log = log.WithError(cause)
	if !m.opts.CompensateRegistration {
		log.Error("local write failed after provider account was created; provider account left in place")
		return
	}

	if err := m.provider.DeleteUser(context.WithoutCancel(ctx), providerID); err != nil {
		log.WithField("compensation_error", err.Error()).Error("failed to delete provider account after local write failure")
		return
	}
	log.Warn("deleted provider account after local write failure")
}
