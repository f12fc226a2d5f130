package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"projectapi/internal/apperr"
	"projectapi/internal/cache"
	"projectapi/internal/logger"
	"projectapi/internal/model"
	"projectapi/internal/repository"
	"projectapi/internal/storage"
	"projectapi/internal/validator"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	imageURLExpiry = 15 * time.Minute
)

// ItemInput is the full item payload used by create and replace.
type ItemInput struct {
	Name        string   `json:"name" validate:"required,min=1,max=200"`
	Description string   `json:"description" validate:"max=2000"`
	Price       *float64 `json:"price" validate:"required,gte=0,lte=9999999999.99"`
	Category    string   `json:"category" validate:"required,min=1,max=50"`
}

// ItemPatch is a partial update; nil fields are left untouched.
type ItemPatch struct {
	Name        *string  `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string  `json:"description,omitempty" validate:"omitempty,max=2000"`
	Price       *float64 `json:"price,omitempty" validate:"omitempty,gte=0,lte=9999999999.99"`
	Category    *string  `json:"category,omitempty" validate:"omitempty,min=1,max=50"`
}

func (p ItemPatch) empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil && p.Category == nil
}

// ItemListParams are the raw list options after query-string decoding.
type ItemListParams struct {
	Limit    int
	Offset   int
	Category string
	Search   string
	MinPrice *float64
	MaxPrice *float64
	OwnerID  *uuid.UUID
	// Sort is a field name with an optional leading "-" for descending.
	Sort string
}

// ItemListResult is the service-level DTO for paginated items.
type ItemListResult struct {
	Items   []model.Item `json:"data"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"has_more"`
}

// Actor is the authenticated caller performing a write.
type Actor struct {
	UserID  uuid.UUID
	IsStaff bool
}

func (a Actor) canModify(it *model.Item) bool {
	return a.IsStaff || it.OwnerID == a.UserID
}

// ParseSort turns "price" or "-created_at" into a repository sort.
// An empty string yields the default, newest first.
func ParseSort(s string) (repository.ItemSort, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return repository.ItemSort{Field: repository.SortCreatedAt, Desc: true}, nil
	}
	desc := strings.HasPrefix(s, "-")
	field := repository.SortField(strings.TrimPrefix(s, "-"))
	if !field.Valid() {
		return repository.ItemSort{}, apperr.Invalid("invalid sort field %q", string(field))
	}
	return repository.ItemSort{Field: field, Desc: desc}, nil
}

// ItemService defines the use cases for the item collection.
type ItemService interface {
	List(ctx context.Context, p ItemListParams) (*ItemListResult, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Item, error)
	Create(ctx context.Context, actor Actor, in ItemInput) (*model.Item, error)
	Replace(ctx context.Context, actor Actor, id uuid.UUID, in ItemInput) (*model.Item, error)
	Patch(ctx context.Context, actor Actor, id uuid.UUID, in ItemPatch) (*model.Item, error)
	// Delete removes the image object first, then the row.
	Delete(ctx context.Context, actor Actor, id uuid.UUID) error
	// UploadImage stores a new image and swaps it in, rolling back storage if the DB update fails.
	UploadImage(ctx context.Context, actor Actor, id uuid.UUID, r io.Reader, filename, contentType string, size int64) (*model.Item, error)
	// ImageURL returns a short-lived download URL for the item's image.
	ImageURL(ctx context.Context, id uuid.UUID) (string, error)
}

type itemService struct {
	repo  repository.ItemRepository
	cache cache.Cache
	store storage.Storage
	ttl   time.Duration
	now   func() time.Time
}

// NewItemService constructs a new ItemService. cacheTTL <= 0 disables read caching.
func NewItemService(repo repository.ItemRepository, c cache.Cache, store storage.Storage, cacheTTL time.Duration) ItemService {
	return &itemService{repo: repo, cache: c, store: store, ttl: cacheTTL, now: time.Now}
}

func itemKey(id uuid.UUID) string {
	return "item:" + id.String()
}

func (s *itemService) List(ctx context.Context, p ItemListParams) (*ItemListResult, error) {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.MinPrice != nil && p.MaxPrice != nil && *p.MinPrice > *p.MaxPrice {
		return nil, apperr.Invalid("min_price must not exceed max_price")
	}
	sort, err := ParseSort(p.Sort)
	if err != nil {
		return nil, err
	}

	res, err := s.repo.List(ctx, repository.ItemQuery{
		Filter: repository.ItemFilter{
			Category: strings.TrimSpace(p.Category),
			Search:   p.Search,
			MinPrice: p.MinPrice,
			MaxPrice: p.MaxPrice,
			OwnerID:  p.OwnerID,
		},
		Sort: sort,
		Page: repository.PageQuery{Limit: p.Limit, Offset: p.Offset},
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return &ItemListResult{
		Items:   res.Items,
		Total:   res.Total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(res.Items) < res.Total,
	}, nil
}

func (s *itemService) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	if it, ok := s.cached(ctx, id); ok {
		return it, nil
	}
	it, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, it)
	return it, nil
}

func (s *itemService) Create(ctx context.Context, actor Actor, in ItemInput) (*model.Item, error) {
	in = trimInput(in)
	if err := validator.Struct(in); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	it := &model.Item{
		ID:          uuid.New(),
		OwnerID:     actor.UserID,
		Name:        in.Name,
		Description: in.Description,
		Price:       *in.Price,
		Category:    in.Category,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	stored, err := s.repo.Create(ctx, it)
	if err != nil {
		if errors.Is(err, repository.ErrMissingReference) {
			return nil, apperr.Unauthorized("user no longer exists")
		}
		return nil, fmt.Errorf("create item: %w", err)
	}
	return stored, nil
}

func (s *itemService) Replace(ctx context.Context, actor Actor, id uuid.UUID, in ItemInput) (*model.Item, error) {
	in = trimInput(in)
	if err := validator.Struct(in); err != nil {
		return nil, err
	}
	it, err := s.authorize(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	it.Name = in.Name
	it.Description = in.Description
	it.Price = *in.Price
	it.Category = in.Category
	return s.save(ctx, it)
}

func (s *itemService) Patch(ctx context.Context, actor Actor, id uuid.UUID, in ItemPatch) (*model.Item, error) {
	if in.empty() {
		return nil, apperr.Invalid("at least one field must be provided")
	}
	in = trimPatch(in)
	if err := validator.Struct(in); err != nil {
		return nil, err
	}
	it, err := s.authorize(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		it.Name = *in.Name
	}
	if in.Description != nil {
		it.Description = *in.Description
	}
	if in.Price != nil {
		it.Price = *in.Price
	}
	if in.Category != nil {
		it.Category = *in.Category
	}
	return s.save(ctx, it)
}

func (s *itemService) save(ctx context.Context, it *model.Item) (*model.Item, error) {
	it.UpdatedAt = s.now().UTC()
	updated, err := s.repo.Update(ctx, it)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("item not found")
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	s.forget(ctx, it.ID)
	return updated, nil
}

func (s *itemService) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	it, err := s.authorize(ctx, actor, id)
	if err != nil {
		return err
	}
	// Storage goes first; a failure keeps the row so the object stays reachable.
	if it.HasImage() {
		if err := s.store.Delete(ctx, *it.ImagePath); err != nil {
			return storageErr("delete storage", err)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	s.forget(ctx, id)
	return nil
}

func (s *itemService) UploadImage(ctx context.Context, actor Actor, id uuid.UUID, r io.Reader, filename, contentType string, size int64) (*model.Item, error) {
	if r == nil {
		return nil, apperr.Invalid("file is required")
	}
	it, err := s.authorize(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	key := filepath.ToSlash(filepath.Join("items", id.String(), uuid.NewString()+strings.ToLower(filepath.Ext(filename))))
	obj, err := s.store.Put(ctx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata:    map[string]string{"original-filename": filename},
	})
	if err != nil {
		return nil, storageErr("upload to storage", err)
	}

	updated, err := s.repo.SetImage(ctx, id, &obj.Key)
	if err != nil {
		if delErr := s.store.Delete(ctx, obj.Key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("item not found")
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	if it.HasImage() && *it.ImagePath != obj.Key {
		if err := s.store.Delete(ctx, *it.ImagePath); err != nil {
			logger.L().Warn("failed to remove replaced image",
				zap.String("component", "items"),
				zap.String("key", *it.ImagePath),
				zap.Error(err),
			)
		}
	}
	s.forget(ctx, id)
	return updated, nil
}

func (s *itemService) ImageURL(ctx context.Context, id uuid.UUID) (string, error) {
	it, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !it.HasImage() {
		return "", apperr.NotFound("item has no image")
	}
	u, err := s.store.PresignGet(ctx, *it.ImagePath, imageURLExpiry)
	if err != nil {
		return "", storageErr("presign", err)
	}
	return u, nil
}

func (s *itemService) find(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	it, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("item not found")
		}
		return nil, fmt.Errorf("find item: %w", err)
	}
	return it, nil
}

// authorize loads the item fresh from the repository and checks write permission.
func (s *itemService) authorize(ctx context.Context, actor Actor, id uuid.UUID) (*model.Item, error) {
	it, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canModify(it) {
		return nil, apperr.ErrForbidden
	}
	return it, nil
}

func (s *itemService) cached(ctx context.Context, id uuid.UUID) (*model.Item, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return nil, false
	}
	b, err := s.cache.Get(ctx, itemKey(id))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logger.L().Warn("cache get failed", zap.String("component", "items"), zap.Error(err))
		}
		return nil, false
	}
	var it model.Item
	if err := json.Unmarshal(b, &it); err != nil {
		return nil, false
	}
	return &it, true
}

func (s *itemService) remember(ctx context.Context, it *model.Item) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	b, err := json.Marshal(it)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, itemKey(it.ID), b, s.ttl); err != nil {
		logger.L().Warn("cache set failed", zap.String("component", "items"), zap.Error(err))
	}
}

func (s *itemService) forget(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, itemKey(id)); err != nil {
		logger.L().Warn("cache delete failed", zap.String("component", "items"), zap.Error(err))
	}
}

func trimInput(in ItemInput) ItemInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	return in
}

func trimPatch(p ItemPatch) ItemPatch {
	p.Name = trimPtr(p.Name)
	p.Description = trimPtr(p.Description)
	p.Category = trimPtr(p.Category)
	return p
}

// trimPtr returns a trimmed copy so the caller's value is left alone.
func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func storageErr(op string, err error) error {
	if errors.Is(err, storage.ErrDisabled) {
		return fmt.Errorf("%s: %w", op, apperr.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
