package db

import (
	"fmt"
	"sort"
	"sync"
)

// Driver opens engines of one kind.
type Driver struct {
	Name string
	Open func(location string, opts EnvOptions) (Engine, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by name.
func Register(d Driver) error {
	if d.Name == "" || d.Open == nil {
		return fmt.Errorf("db: invalid driver %q", d.Name)
	}

	driversMu.Lock()
	defer driversMu.Unlock()

	if _, ok := drivers[d.Name]; ok {
		return fmt.Errorf("db: driver %q registered twice", d.Name)
	}
	drivers[d.Name] = d
	return nil
}

// MustRegister is Register for use in init functions.
func MustRegister(d Driver) {
	if err := Register(d); err != nil {
		panic(err)
	}
}

// Open opens location with the named driver.
func Open(name, location string, opts EnvOptions) (Engine, error) {
	driversMu.RLock()
	d, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return d.Open(location, opts.WithDefaults())
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Registered(name string) bool {
	driversMu.RLock()
	defer driversMu.RUnlock()

	_, ok := drivers[name]
	return ok
}
