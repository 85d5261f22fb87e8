// Package store persists coaching data: a partitioned key-value table for
// programs, requirements, and job records, plus an object store for large
// blobs such as run transcripts.
//
// The KV store runs against Postgres in production and an in-memory map in
// tests and local development; both backends share the same semantics.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested key or object does not exist.
var ErrNotFound = errors.New("store: not found")

// Item is one row of the partitioned table. PK groups related records (one
// user, one job); SK orders records inside the partition.
type Item struct {
	PK        string          `json:"pk"`
	SK        string          `json:"sk"`
	Body      json.RawMessage `json:"body"`
	UpdatedAt time.Time       `json:"updated_at"`
}
