package keycloak

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/config"
	"github.com/marketcore/gatekeeper/internal/telemetry"
)

const groupCacheSize = 64

// NewUser is an account to create in the realm.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// User is a realm account as returned by the admin API.
type User struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
	Enabled   bool
}

// Client performs realm administration through an admin Session.
type Client struct {
	gc      *gocloak.GoCloak
	session *Session
	realm   string
	groups  *expirable.LRU[string, string]
	log     logrus.FieldLogger
	metrics *telemetry.ProviderMetrics
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Realm         string
	GroupCacheTTL time.Duration
	Logger        logrus.FieldLogger
	Metrics       *telemetry.ProviderMetrics
}

// NewClient creates a client for realm using session for authentication.
func NewClient(gc *gocloak.GoCloak, session *Session, opts ClientOptions) *Client {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		gc:      gc,
		session: session,
		realm:   opts.Realm,
		groups:  expirable.NewLRU[string, string](groupCacheSize, nil, opts.GroupCacheTTL),
		log:     log.WithFields(logrus.Fields{"component": "keycloak.client", "realm": opts.Realm}),
		metrics: opts.Metrics,
	}
}

// New builds the gocloak client, admin session and realm client from configuration.
func New(cfg config.KeycloakConfig, log logrus.FieldLogger, metrics *telemetry.ProviderMetrics) *Client {
	gc := gocloak.NewClient(strings.TrimRight(cfg.URL, "/"))
	gc.RestyClient().SetTimeout(cfg.RequestTimeout)

	session := NewSession(gc, SessionConfig{
		AdminRealm:     cfg.AdminRealm,
		Username:       cfg.AdminUsername,
		Password:       cfg.AdminPassword,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         log,
		Metrics:        metrics,
	})
	return NewClient(gc, session, ClientOptions{
		Realm:         cfg.Realm,
		GroupCacheTTL: cfg.GroupCacheTTL,
		Logger:        log,
		Metrics:       metrics,
	})
}

// PurgeGroupCache drops every cached group id and returns how many were held.
func (c *Client) PurgeGroupCache() int {
	n := c.groups.Len()
	c.groups.Purge()
	c.log.WithField("entries", n).Info("group id cache purged")
	return n
}

// Session returns the admin session used by the client.
func (c *Client) Session() *Session {
	return c.session
}

// do runs fn inside the admin session, traced and classified as op.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context, token string) error, attrs ...attribute.KeyValue) error {
	name := "keycloak." + op
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerKeycloak, name,
		append(attrs, attribute.String(telemetry.AttrKeycloakOp, op))...)
	defer span.End()

	start := time.Now()
	err := classify(ctx, name, c.session.Do(ctx, fn))

	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
		telemetry.RecordError(span, err)
	}
	c.metrics.RecordCall(ctx, op, outcome, float64(time.Since(start).Milliseconds()))
	return err
}

// CreateUser creates an enabled, email-verified account with a permanent
// password and returns its provider ID. An existing email or username yields
// an IdentityConflict error.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (string, error) {
	var id string
	err := c.do(ctx, "CreateUser", func(ctx context.Context, token string) error {
		var err error
		id, err = c.gc.CreateUser(ctx, token, c.realm, gocloak.User{
			Username:      gocloak.StringP(u.Email),
			Email:         gocloak.StringP(u.Email),
			FirstName:     gocloak.StringP(u.FirstName),
			LastName:      gocloak.StringP(u.LastName),
			Enabled:       gocloak.BoolP(true),
			EmailVerified: gocloak.BoolP(true),
			Credentials: &[]gocloak.CredentialRepresentation{{
				Type:      gocloak.StringP("password"),
				Value:     gocloak.StringP(u.Password),
				Temporary: gocloak.BoolP(false),
			}},
		})
		return err
	}, attribute.String(telemetry.AttrUserEmail, u.Email))
	if err != nil {
		return "", err
	}

	c.log.WithField("user_id", id).Info("user created in identity provider")
	return id, nil
}

// FindGroupID resolves a top-level group by name. Names are compared in
// normalized form and cached for the configured TTL.
func (c *Client) FindGroupID(ctx context.Context, name string) (string, error) {
	name = auth.NormalizeGroup(name)
	if id, ok := c.groups.Get(name); ok {
		return id, nil
	}

	var found string
	err := c.do(ctx, "FindGroupID", func(ctx context.Context, token string) error {
		groups, err := c.gc.GetGroups(ctx, token, c.realm, gocloak.GetGroupsParams{Search: gocloak.StringP(name)})
		if err != nil {
			return err
		}
		for _, g := range groups {
			if g == nil || g.ID == nil {
				continue
			}
			if auth.NormalizeGroup(gocloak.PString(g.Name)) == name {
				found = *g.ID
				return nil
			}
		}
		return apperr.New(apperr.KindNotFound, "keycloak.FindGroupID", fmt.Sprintf("group %q not found", name))
	}, attribute.String(telemetry.AttrSyncGroup, name))
	if err != nil {
		return "", err
	}

	c.groups.Add(name, found)
	return found, nil
}

// AddUserToGroup adds the provider user to the named group.
func (c *Client) AddUserToGroup(ctx context.Context, userID, group string) error {
	group = auth.NormalizeGroup(group)
	groupID, err := c.FindGroupID(ctx, group)
	if err != nil {
		return err
	}

	err = c.do(ctx, "AddUserToGroup", func(ctx context.Context, token string) error {
		return c.gc.AddUserToGroup(ctx, token, c.realm, userID, groupID)
	}, attribute.String(telemetry.AttrSyncGroup, group))
	if apperr.IsKind(err, apperr.KindNotFound) {
		// The cached ID may belong to a deleted group
		c.groups.Remove(group)
	}
	if err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{"user_id": userID, "group": group}).Info("user added to group")
	return nil
}

// FindUserByEmail returns the account whose email matches exactly.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := c.do(ctx, "FindUserByEmail", func(ctx context.Context, token string) error {
		users, err := c.gc.GetUsers(ctx, token, c.realm, gocloak.GetUsersParams{
			Email: gocloak.StringP(email),
			Exact: gocloak.BoolP(true),
		})
		if err != nil {
			return err
		}
		for _, u := range users {
			if u == nil || u.ID == nil || !strings.EqualFold(gocloak.PString(u.Email), email) {
				continue
			}
			user = &User{
				ID:        *u.ID,
				Username:  gocloak.PString(u.Username),
				Email:     gocloak.PString(u.Email),
				FirstName: gocloak.PString(u.FirstName),
				LastName:  gocloak.PString(u.LastName),
				Enabled:   gocloak.PBool(u.Enabled),
			}
			return nil
		}
		return apperr.New(apperr.KindNotFound, "keycloak.FindUserByEmail", "no user with this email")
	}, attribute.String(telemetry.AttrUserEmail, email))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes an account by provider ID.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	err := c.do(ctx, "DeleteUser", func(ctx context.Context, token string) error {
		return c.gc.DeleteUser(ctx, token, c.realm, userID)
	})
	if err != nil {
		return err
	}
	c.log.WithField("user_id", userID).Info("user deleted from identity provider")
	return nil
}

// EnsureGroup creates the named top-level group if it does not exist and
// returns its ID.
func (c *Client) EnsureGroup(ctx context.Context, name string) (string, bool, error) {
	name = auth.NormalizeGroup(name)
	if name == "" {
		return "", false, apperr.New(apperr.KindInvalidInput, "keycloak.EnsureGroup", "group name is empty")
	}

	id, err := c.FindGroupID(ctx, name)
	if err == nil {
		return id, false, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return "", false, err
	}

	err = c.do(ctx, "CreateGroup", func(ctx context.Context, token string) error {
		var err error
		id, err = c.gc.CreateGroup(ctx, token, c.realm, gocloak.Group{Name: gocloak.StringP(name)})
		return err
	}, attribute.String(telemetry.AttrSyncGroup, name))
	if apperr.IsKind(err, apperr.KindIdentityConflict) {
		// Created concurrently
		id, err = c.FindGroupID(ctx, name)
		return id, false, err
	}
	if err != nil {
		return "", false, err
	}

	c.groups.Add(name, id)
	c.log.WithField("group", name).Info("group created")
	return id, true, nil
}
