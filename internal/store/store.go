// Package store implements import targets for the supported databases.
//
// Each driver registers an Opener in init. Callers select one by the
// DB_DRIVER name and receive a Target that satisfies core.Target and owns
// its connection pool:
//
//	target, err := store.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer target.Close()
//
//	service, err := core.NewService(target, cfg)
//
// Built-in drivers: sqlite (modernc.org/sqlite), postgres (pgx pool),
// mysql, sqlserver and libsql.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

// Target is a core.Target that must be closed when no longer needed.
type Target interface {
	core.Target

	// Driver returns the registered driver name.
	Driver() string

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Opener connects to a database described by cfg.
type Opener func(ctx context.Context, cfg config.DatabaseConfig) (Target, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Opener)
)

// Register makes a driver available by the provided name.
// If Register is called twice with the same name or if open is nil, it panics.
func Register(name string, open Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("store: Register opener is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("store: Register called twice for driver " + name)
	}
	drivers[name] = open
}

// Open connects using the driver named by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Target, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("store: %s: empty database URL", cfg.Driver)
	}

	target, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", cfg.Driver, err)
	}
	return target, nil
}

// Drivers returns a sorted list of the names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}
