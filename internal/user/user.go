// Package user defines the User entity the dispatcher resolves delivery
// audiences against, and the directory contract read/write layers of the
// Engine depend on for role lookups.
package user

import "context"

// Role mirrors ledger.Role; kept as its own type so this package does not
// need to import ledger for a concept it owns independently (a User exists
// whether or not it has ever posted a transaction).
type Role string

const (
	RoleDev      Role = "dev"
	RoleBoss     Role = "boss"
	RoleEmployee Role = "employee"
	RoleInvestor Role = "investor"
)

// User is a recipient of delivered recommendations and/or an actor against
// the Ledger and Recommendation Store.
type User struct {
	ID       string
	Contact  string // the Notifier's recipient handle
	Role     Role
	IsActive bool
}

// Directory resolves users for delivery-audience and permission checks.
// Only active users are candidates for delivery.
type Directory interface {
	FindByID(ctx context.Context, id string) (*User, error)
	ActiveByRoles(ctx context.Context, roles []string) ([]User, error)
}

// InMemory is a directory backed by a fixed slice, used in tests and local
// dry runs of the dispatcher.
type InMemory struct {
	byID map[string]User
}

// NewInMemory builds a directory from a fixed user list.
func NewInMemory(users []User) *InMemory {
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return &InMemory{byID: byID}
}

func (d *InMemory) FindByID(_ context.Context, id string) (*User, error) {
	u, ok := d.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (d *InMemory) ActiveByRoles(_ context.Context, roles []string) ([]User, error) {
	wanted := make(map[string]bool, len(roles))
	for _, r := range roles {
		wanted[r] = true
	}
	var out []User
	for _, u := range d.byID {
		if u.IsActive && wanted[string(u.Role)] {
			out = append(out, u)
		}
	}
	return out, nil
}
