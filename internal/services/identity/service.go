// Package identity owns the account lifecycle that spans the identity
// provider and the local database: registration, merchant onboarding,
// approval decisions and reconciliation of provider writes that did not
// land.
//
// The provider and the database cannot commit atomically. Every flow writes
// the side that is authoritative for the decision first and mirrors to the
// other side afterwards; a mirror step that fails is persisted as a
// ProviderSyncFailure and replayed by ReconcilePending.
package identity

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/approval"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/marketcore/gatekeeper/internal/events"
	"github.com/marketcore/gatekeeper/internal/keycloak"
	"github.com/marketcore/gatekeeper/internal/repository"
)

// DefaultCommissionRate applies to merchant profiles created without one.
const DefaultCommissionRate = 0.05

// Service is the identity lifecycle API used by the HTTP handlers and the CLI.
type Service interface {
	// RegisterClient creates a provider account in the client group and its
	// local BUYER shadow. A failed group assignment returns the user together
	// with a PartialSync error.
	RegisterClient(ctx context.Context, req RegisterRequest) (*models.User, error)

	// RegisterMerchant registers like RegisterClient and opens a PENDING
	// merchant profile in the same local transaction.
	RegisterMerchant(ctx context.Context, req RegisterMerchantRequest) (*models.User, *models.MerchantProfile, error)

	// UpgradeToMerchant creates or updates the caller's merchant profile.
	// Repeated calls update shop fields only and never change status.
	UpgradeToMerchant(ctx context.Context, req UpgradeRequest) (*models.MerchantProfile, error)

	// Approve moves a PENDING profile to APPROVED, promotes the user to
	// MERCHANT and mirrors the merchant group to the provider on a best
	// effort basis.
	Approve(ctx context.Context, userID, actor string) (*ApprovalResult, error)

	// Reject moves a PENDING profile to REJECTED. No provider change.
	Reject(ctx context.Context, userID, actor string) (*models.MerchantProfile, error)

	GetMerchant(ctx context.Context, userID string) (*models.MerchantProfile, error)
	ListPending(ctx context.Context) ([]models.MerchantProfile, error)

	// MerchantOwner returns the principal subject owning the merchant
	// profile of userID. Suitable as an authz.OwnerResolver.
	MerchantOwner(ctx context.Context, userID string) (string, error)

	// RetrySync replays a provider group assignment from (email, group) alone.
	RetrySync(ctx context.Context, email, group string) error

	// ReconcilePending replays up to limit open sync failures.
	ReconcilePending(ctx context.Context, limit int) (ReconcileReport, error)
}

// Provider is the subset of the identity provider admin API the lifecycle needs.
type Provider interface {
	CreateUser(ctx context.Context, u keycloak.NewUser) (string, error)
	AddUserToGroup(ctx context.Context, userID, group string) error
	FindUserByEmail(ctx context.Context, email string) (*keycloak.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	ClientGroup   string
	MerchantGroup string

	DefaultCommissionRate float64

	// AllowTerminalOverride permits APPROVED <-> REJECTED decisions
	AllowTerminalOverride bool

	// CompensateRegistration deletes the provider account when the local
	// write of a registration fails.
	CompensateRegistration bool

	Sink   events.Sink
	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Manager implements Service.
type Manager struct {
	store    repository.Store
	provider Provider
	machine  *approval.Machine
	opts     Options
	sink     events.Sink
	log      logrus.FieldLogger
}

var _ Service = (*Manager)(nil)

// NewManager wires a Manager over store and provider.
func NewManager(store repository.Store, provider Provider, opts Options) *Manager {
	if opts.ClientGroup == "" {
		opts.ClientGroup = auth.GroupClient
	}
	if opts.MerchantGroup == "" {
		opts.MerchantGroup = auth.GroupMerchant
	}
	opts.ClientGroup = auth.NormalizeGroup(opts.ClientGroup)
	opts.MerchantGroup = auth.NormalizeGroup(opts.MerchantGroup)
	if opts.DefaultCommissionRate <= 0 {
		opts.DefaultCommissionRate = DefaultCommissionRate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	m := &Manager{
		store:    store,
		provider: provider,
		opts:     opts,
		sink:     events.Normalize(opts.Sink),
		log:      opts.Logger.WithField("component", "identity"),
	}
	m.machine = approval.New(statusStore{store: store, log: m.log},
		approval.WithAllowTerminalOverride(opts.AllowTerminalOverride),
		approval.WithLogger(opts.Logger),
		approval.WithClock(opts.Now),
		approval.WithSink(m.sink),
	)
	return m
}

func (m *Manager) emit(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = m.opts.Now()
	}
	if e.Actor == "" {
		e.Actor = "system"
	}
	if err := m.sink.Record(ctx, e); err != nil {
		m.log.WithError(err).WithField("event", string(e.Type)).Warn("failed to record lifecycle event")
	}
}
