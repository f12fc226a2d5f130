package model

import (
	"time"

	"github.com/google/uuid"
)

// Item is the example catalog resource exposed under /api/items.
type Item struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Category    string    `json:"category"`
	ImagePath   *string   `json:"image_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasImage reports whether an image object is attached.
func (i *Item) HasImage() bool {
	return i.ImagePath != nil && *i.ImagePath != ""
}
