package models

import "time"

// User represents an account keyed by its Nostr public key
type User struct {
	Pubkey    string    `json:"pubkey" db:"pubkey"`
	Name      string    `json:"name" db:"name"`
	Admin     bool      `json:"admin" db:"admin"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewUser creates a non-admin user for a verified pubkey
func NewUser(pubkey string) *User {
	return &User{
		Pubkey:    pubkey,
		CreatedAt: time.Now().UTC(),
	}
}
