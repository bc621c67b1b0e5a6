// Package models provides core data structures for the hyperlapse server.
package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// JobKeyLength is the number of characters kept from a generated UUID.
const JobKeyLength = 8

// JobKey identifies one outstanding top-level request and, when the request
// was split into chunks, a single chunk of it.
//
// The zero Index is only meaningful when Split is true. A key for an unsplit
// request carries no index at all, so single-chunk jobs look exactly like
// top-level jobs to the progress router.
//
// JobKey is comparable and safe to use as a map key.
type JobKey struct {
	ID    string
	Index int
	Split bool
}

// NewJobKey creates a fresh top-level key from a random UUID.
//
// Example:
//
//	key := models.NewJobKey()
//	chunkKey := key.WithIndex(1) // "a1b2c3d4#1"
func NewJobKey() JobKey {
	return JobKey{ID: uuid.NewString()[:JobKeyLength]}
}

// ParseJobKey builds a key from its wire form: an id plus an optional index.
func ParseJobKey(id string, index *int) (JobKey, error) {
	key := JobKey{ID: id}
	if index != nil {
		key = key.WithIndex(*index)
	}
	if err := key.Validate(); err != nil {
		return JobKey{}, err
	}
	return key, nil
}

// WithIndex returns the chunk key for chunk i of this job.
func (k JobKey) WithIndex(i int) JobKey {
	return JobKey{ID: k.ID, Index: i, Split: true}
}

// Base returns the top-level key with any chunk index removed.
func (k JobKey) Base() JobKey {
	return JobKey{ID: k.ID}
}

// IndexPtr returns the chunk index, or nil for an unsplit key.
func (k JobKey) IndexPtr() *int {
	if !k.Split {
		return nil
	}
	i := k.Index
	return &i
}

// Validate checks that the key has an id and a non-negative index.
func (k JobKey) Validate() error {
	if strings.TrimSpace(k.ID) == "" {
		return fmt.Errorf("job key cannot be empty")
	}
	if k.Split && k.Index < 0 {
		return fmt.Errorf("chunk index must be non-negative, got %d", k.Index)
	}
	return nil
}

func (k JobKey) String() string {
	if !k.Split {
		return k.ID
	}
	return k.ID + "#" + strconv.Itoa(k.Index)
}
