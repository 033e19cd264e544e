// Package identity maps tenant-scoped external user ids onto internal user
// accounts. The mapping is created at most once per (tenant, external user)
// and never deleted.
package identity

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrProvisioningFailed = errors.New("identity provisioning failed")
)

type User struct {
	ID    string
	Email string
}

// Binding links a tenant's external user id to an internal user.
type Binding struct {
	TenantID       string
	ExternalUserID string
	InternalUserID string
}

// Store is the persistence surface the provisioner relies on.
//
// CreateUser and CreateUserAppBinding are insert-or-fetch: when a row with the
// same unique key already exists they return that row instead of failing, so
// concurrent provisioning of one identity converges on a single user and a
// single binding.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, email, credentialHash string) (User, error)
	FindUserAppBinding(ctx context.Context, externalUserID, tenantID string) (Binding, error)
	CreateUserAppBinding(ctx context.Context, b Binding) (Binding, error)
}
