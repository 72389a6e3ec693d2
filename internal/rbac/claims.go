package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidClaims is returned when verified identity claims cannot form a Principal.
var ErrInvalidClaims = errors.New("rbac: invalid identity claims")

// Claims is the verified identity handed over by the identity provider.
type Claims struct {
	Subject     string   `json:"sub" validate:"required,max=128"`
	Role        string   `json:"role" validate:"required,oneof=super-admin school-admin teacher safeguarding-lead finance-admin parent student"`
	SchoolID    string   `json:"school_id,omitempty" validate:"omitempty,max=128"`
	Permissions []string `json:"permissions,omitempty" validate:"omitempty,dive,required"`
	Active      bool     `json:"active"`
	GuardianOf  []string `json:"guardian_of,omitempty" validate:"omitempty,dive,required"`
	StudentID   string   `json:"student_id,omitempty" validate:"required_if=Role student"`
}

var claimsValidator = validator.New()

// NewPrincipal validates claims and builds the typed Principal used by the engine.
// Unknown override permissions are rejected rather than ignored.
func NewPrincipal(c Claims) (Principal, error) {
	if err := claimsValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Principal{}, fmt.Errorf("%w: %s failed %s", ErrInvalidClaims, verrs[0].Field(), verrs[0].Tag())
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	overrides := make(PermissionSet, len(c.Permissions))
	for _, raw := range c.Permissions {
		perm, ok := ParsePermission(raw)
		if !ok {
			return Principal{}, fmt.Errorf("%w: unknown permission %q", ErrInvalidClaims, raw)
		}
		overrides[perm] = struct{}{}
	}
	guardianOf := make([]string, 0, len(c.GuardianOf))
	for _, id := range c.GuardianOf {
		guardianOf = append(guardianOf, strings.TrimSpace(id))
	}
	return Principal{
		ID:         strings.TrimSpace(c.Subject),
		Role:       Role(c.Role),
		SchoolID:   strings.TrimSpace(c.SchoolID),
		Overrides:  overrides,
		Active:     c.Active,
		GuardianOf: guardianOf,
		StudentID:  strings.TrimSpace(c.StudentID),
	}, nil
}
