// Package db provides the storage driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/store"
	"github.com/guildsage/guildsage/store/db/postgres"
	"github.com/guildsage/guildsage/store/db/sqlite"
)

// NewDriver creates a new storage driver based on the profile.
func NewDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
