// Package idgen generates time-ordered MessageIds.
//
// MessageId uses a version-1 UUID: a 60-bit timestamp plus clock sequence
// plus the node's 48-bit MAC-derived id, so ids sort roughly by creation
// time and never collide across gateway replicas with distinct node ids.
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init sets the process-wide node id used for every subsequently generated
// MessageId. Must be called once at startup before any NewMessageID call.
func Init(nodeMAC [6]byte) error {
	initOnce.Do(func() {
		uuid.SetNodeID(nodeMAC[:])
	})
	return initErr
}

// NewMessageID returns a new version-1 (time-ordered) UUID.
func NewMessageID() (uuid.UUID, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("generate message id: %w", err)
	}
	return id, nil
}
