package identity

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/db/models"
)

const minPasswordLength = 8

// RegisterRequest carries the credentials for a new account.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Validate implements validation.Validatable.
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLength, 0).
			Error("must be at least 8 characters")),
		validation.Field(&r.Name, validation.Required, validation.By(notBlank)),
	)
}

// RegisterMerchantRequest is a RegisterRequest plus the shop to open.
type RegisterMerchantRequest struct {
	RegisterRequest
	models.ShopInfo
}

// Validate implements validation.Validatable.
func (r RegisterMerchantRequest) Validate() error {
	if err := r.RegisterRequest.Validate(); err != nil {
		return err
	}
	return validateShop(r.ShopInfo)
}

// UpgradeRequest asks to open or update a shop for an existing principal.
// The user is resolved by UserID, then Subject, then Email; when none
// matches and Email is set, a local BUYER record is created on the fly.
type UpgradeRequest struct {
	UserID  string `json:"userId,omitempty"`
	Subject string `json:"-"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	models.ShopInfo
}

// Validate implements validation.Validatable.
func (r UpgradeRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.EmailFormat),
		validation.Field(&r.UserID, validation.Required.When(r.Subject == "" && r.Email == "").
			Error("a user id, subject or email is required"), is.UUID),
	)
	if err != nil {
		return err
	}
	return validateShop(r.ShopInfo)
}

func validateShop(s models.ShopInfo) error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ShopName, validation.Required, validation.By(notBlank), validation.Length(1, 200)),
		validation.Field(&s.MvolaNumber, validation.Length(0, 32)),
	)
}

func notBlank(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return validation.NewError("validation_blank", "cannot be blank")
	}
	return nil
}

func invalid(op string, err error) error {
	return apperr.Wrapf(apperr.KindInvalidInput, op, err, "%s", err.Error())
}

// splitName splits a display name on the first space. The last name
// defaults to the first when the name has a single word.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	first = parts[0]
	last = strings.Join(parts[1:], " ")
	if last == "" {
		last = first
	}
	return first, last
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
