// Package inmemdb provides mutex-guarded in-memory repositories, used as the
// storage backend in tests and local development.
package inmemdb

import (
	"sync"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/user"
)

type DB struct {
	mu      sync.RWMutex
	users   map[string]*user.User         // by ID
	records map[string]*attendance.Record // by ID
}

func Open() *DB {
	return &DB{
		users:   make(map[string]*user.User),
		records: make(map[string]*attendance.Record),
	}
}
