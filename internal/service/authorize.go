package service

import (
	"errors"

	"github.com/kitbay/kitbay/internal/model"
)

// ErrForbidden is returned when the caller may not access a resource.
var ErrForbidden = errors.New("forbidden")

// Authorize allows public, published components to anyone. Everything else
// requires the caller to own the component or be an admin; caller may be
// nil for anonymous requests.
func Authorize(caller *Principal, c *model.Component) error {
	if c.IsPublic && c.Status == model.StatusPublished {
		return nil
	}
	return AuthorizeOwner(caller, c.OwnerID)
}

// AuthorizeOwner requires caller to be ownerID or an admin.
func AuthorizeOwner(caller *Principal, ownerID string) error {
	if caller == nil {
		return ErrForbidden
	}
	if caller.IsAdmin() || (ownerID != "" && caller.UserID == ownerID) {
		return nil
	}
	return ErrForbidden
}

// Filter scopes a component filter to what caller may see.
func Filter(caller *Principal, f model.ComponentFilter) model.ComponentFilter {
	f.ViewerID = caller.ID()
	f.IncludeAll = caller.IsAdmin()
	return f
}
