package store

import "time"

// Store is a rated business. OwnerID is nil for admin-created stores that
// were not assigned an owner.
type Store struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	OwnerID   *int64    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows store listings by a case-insensitive substring of name or address.
type Filter struct {
	Query string
}
