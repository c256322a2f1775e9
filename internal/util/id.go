package util

import "github.com/google/uuid"

// NewID returns a fresh entity id. Ids are assigned before the durable
// write is acknowledged, so creation is optimistic.
func NewID() string {
	return uuid.NewString()
}
