package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for worker and result identifiers.
// ULIDs sort lexicographically by creation time, which keeps listings in
// spawn order without an extra column.
func NewID() string {
	return ulid.Make().String()
}
