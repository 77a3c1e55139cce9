package models

import (
	"time"

	"github.com/google/uuid"
)

// Relay status values. Later lifecycle states (running, suspended, deleted)
// are owned by downstream provisioning infrastructure.
const (
	RelayStatusPending   = "pending"
	RelayStatusProvision = "provision"
)

// Relay represents a provisionable hosted relay
type Relay struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Status      string    `json:"status" db:"status"`
	OwnerPubkey string    `json:"owner_pubkey" db:"owner_pubkey"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// NewRelay creates a relay awaiting payment
func NewRelay(name, ownerPubkey string) *Relay {
	now := time.Now().UTC()
	return &Relay{
		ID:          uuid.New().String(),
		Name:        name,
		Status:      RelayStatusPending,
		OwnerPubkey: ownerPubkey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Provisionable reports whether the relay is still waiting for the
// provision handoff. A relay that already advanced is left untouched.
func (r *Relay) Provisionable() bool {
	return r.Status == "" || r.Status == RelayStatusPending
}
