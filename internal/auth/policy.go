package auth

import (
	"context"
	"slices"

	"github.com/lppm-portal/kkn-api/internal/models"
)

// Capability names an action guarded by the API.
type Capability string

const (
	CapReviewRegistrations Capability = "kkn.registration.review"
	CapSubmitRegistration  Capability = "kkn.registration.submit"
)

// Principal is the authenticated user of a request.
type Principal struct {
	User models.User
}

func (p Principal) ID() uint {
	return p.User.ID
}

func (p Principal) Role() string {
	return p.User.Role
}

type Policy interface {
	Allows(p Principal, c Capability) bool
}

// RolePolicy grants capabilities by role.
type RolePolicy map[string][]Capability

func DefaultPolicy() RolePolicy {
	return RolePolicy{
		models.RoleStudent:  {CapSubmitRegistration},
		models.RoleReviewer: {CapReviewRegistrations},
		models.RoleAdmin:    {CapReviewRegistrations, CapSubmitRegistration},
	}
}

func (rp RolePolicy) Allows(p Principal, c Capability) bool {
	return slices.Contains(rp[p.Role()], c)
}

func (rp RolePolicy) Capabilities(role string) []Capability {
	return slices.Clone(rp[role])
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
