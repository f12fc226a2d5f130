package repository

// Package repository contains data access layer abstractions.
// Implementations live in subpackages (postgres) and hold no business logic.

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"projectapi/internal/model"
)

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate key")

// ErrMissingReference is returned when a foreign key rejects a write.
var ErrMissingReference = errors.New("referenced row does not exist")

// UserRepository defines data access for users.
type UserRepository interface {
	// Create inserts a new user and returns the stored row.
	// Returns ErrDuplicate when the e-mail is already taken.
	Create(ctx context.Context, u *model.User) (*model.User, error)

	// FindByID returns sql.ErrNoRows when the user does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)

	// FindByEmail returns sql.ErrNoRows when no user has that e-mail.
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// UpdateProfile overwrites first and last name and returns the stored row.
	UpdateProfile(ctx context.Context, id uuid.UUID, firstName, lastName string) (*model.User, error)

	// TouchLastLogin sets last_login to now.
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// ItemRepository defines data access for items.
type ItemRepository interface {
	// Create returns ErrMissingReference when the owner does not exist.
	Create(ctx context.Context, it *model.Item) (*model.Item, error)

	// FindByID returns sql.ErrNoRows when the item does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Item, error)

	// List returns one page of items matching the filter plus the total match count.
	List(ctx context.Context, q ItemQuery) (*PageResult[model.Item], error)

	// Update overwrites the mutable columns of it and returns the stored row.
	// Returns sql.ErrNoRows when the item does not exist.
	Update(ctx context.Context, it *model.Item) (*model.Item, error)

	// SetImage replaces image_path (nil clears it). Returns sql.ErrNoRows when missing.
	SetImage(ctx context.Context, id uuid.UUID, path *string) (*model.Item, error)

	// Delete removes an item by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}

// SortField is a whitelisted item column usable in ORDER BY.
type SortField string

const (
	SortName      SortField = "name"
	SortPrice     SortField = "price"
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
)

// Valid reports whether f is one of the whitelisted columns.
func (f SortField) Valid() bool {
	switch f {
	case SortName, SortPrice, SortCreatedAt, SortUpdatedAt:
		return true
	}
	return false
}

// ItemFilter narrows an item listing. Zero values mean "no constraint".
type ItemFilter struct {
	Category string
	Search   string
	MinPrice *float64
	MaxPrice *float64
	OwnerID  *uuid.UUID
}

// ItemSort orders an item listing; id in the same direction breaks ties.
type ItemSort struct {
	Field SortField
	Desc  bool
}

// ItemQuery combines filter, sort and page for ItemRepository.List.
type ItemQuery struct {
	Filter ItemFilter
	Sort   ItemSort
	Page   PageQuery
}
