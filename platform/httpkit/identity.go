// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"exposure_backend/platform/apperr"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity represents the caller's verified token claims.
// Handlers read the organization scope from here instead of from request bodies.
type Identity interface {
	// UserID returns the token subject.
	UserID() uuid.UUID
	// OrganizationID returns the organization the token is scoped to, if any.
	OrganizationID() *uuid.UUID
	// Roles returns the roles carried by the token.
	Roles() []string
	// HasRole checks if the token carries a specific role.
	HasRole(role string) bool
	// IsAuthenticated returns true if a valid token was presented.
	IsAuthenticated() bool
}

type identity struct {
	userID        uuid.UUID
	orgID         *uuid.UUID
	roles         []string
	authenticated bool
}

func (i *identity) UserID() uuid.UUID          { return i.userID }
func (i *identity) OrganizationID() *uuid.UUID { return i.orgID }
func (i *identity) Roles() []string            { return i.roles }
func (i *identity) IsAuthenticated() bool      { return i.authenticated }

func (i *identity) HasRole(role string) bool {
	for _, r := range i.roles {
		if r == role {
			return true
		}
	}
	return false
}

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if user info is not present.
func GetIdentity(c *gin.Context) Identity {
	userID, userOK := c.Get(ContextUserIDKey)
	if !userOK {
		return &identity{authenticated: false}
	}

	uid, ok := userID.(uuid.UUID)
	if !ok {
		return &identity{authenticated: false}
	}

	var roleList []string
	if roles, ok := c.Get(ContextRolesKey); ok {
		roleList, _ = roles.([]string)
	}

	var orgID *uuid.UUID
	if raw, ok := c.Get(ContextOrganizationIDKey); ok {
		if parsed, ok := raw.(uuid.UUID); ok {
			orgID = &parsed
		}
	}

	return &identity{
		userID:        uid,
		orgID:         orgID,
		roles:         roleList,
		authenticated: true,
	}
}

// MustGetOrganizationID returns the caller's organization or aborts the request.
// It aborts with 401 when unauthenticated and 403 when the token has no organization scope.
func MustGetOrganizationID(c *gin.Context) (uuid.UUID, bool) {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		abortUnauthorized(c, "unauthorized")
		return uuid.Nil, false
	}
	orgID := id.OrganizationID()
	if orgID == nil {
		c.Abort()
		HandleError(c, apperr.Forbidden("organization scope required"))
		return uuid.Nil, false
	}
	return *orgID, true
}
