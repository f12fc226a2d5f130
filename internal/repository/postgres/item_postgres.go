package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"projectapi/internal/model"
	"projectapi/internal/repository"
)

// ItemPostgres is a PostgreSQL implementation of repository.ItemRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type ItemPostgres struct {
	db *sql.DB
}

// NewItemPostgres creates a new ItemPostgres repository.
func NewItemPostgres(db *sql.DB) *ItemPostgres {
	return &ItemPostgres{db: db}
}

var _ repository.ItemRepository = (*ItemPostgres)(nil)

const itemColumns = `id, owner_id, name, description, price, category, image_path, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*model.Item, error) {
	var it model.Item
	var image sql.NullString
	if err := row.Scan(
		&it.ID,
		&it.OwnerID,
		&it.Name,
		&it.Description,
		&it.Price,
		&it.Category,
		&image,
		&it.CreatedAt,
		&it.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if image.Valid {
		s := image.String
		it.ImagePath = &s
	}
	return &it, nil
}

// Create inserts a new item row and returns the stored record.
func (r *ItemPostgres) Create(ctx context.Context, it *model.Item) (*model.Item, error) {
	const q = `
		INSERT INTO items (id, owner_id, name, description, price, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + itemColumns
	row := r.db.QueryRowContext(ctx, q,
		it.ID,
		it.OwnerID,
		it.Name,
		it.Description,
		it.Price,
		it.Category,
		it.CreatedAt,
		it.UpdatedAt,
	)
	stored, err := scanItem(row)
	if err != nil {
		return nil, translate(err)
	}
	return stored, nil
}

// FindByID fetches a single item by its ID.
func (r *ItemPostgres) FindByID(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	const q = `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	return scanItem(r.db.QueryRowContext(ctx, q, id))
}

// List returns items using LIMIT/OFFSET pagination and the total count of matching rows.
func (r *ItemPostgres) List(ctx context.Context, q repository.ItemQuery) (*repository.PageResult[model.Item], error) {
	order, err := buildItemOrder(q.Sort)
	if err != nil {
		return nil, err
	}
	where, args := buildItemWhere(q.Filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, err
	}
	n := len(args)
	qList := `SELECT ` + itemColumns + ` FROM items` + where + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, q.Page.Limit, q.Page.Offset)

	rows, err := r.db.QueryContext(ctx, qList, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Item]{
		Items: items,
		Total: total,
	}, nil
}

// Update overwrites name, description, price, category and updated_at.
func (r *ItemPostgres) Update(ctx context.Context, it *model.Item) (*model.Item, error) {
	const q = `
		UPDATE items
		SET name = $2, description = $3, price = $4, category = $5, updated_at = $6
		WHERE id = $1
		RETURNING ` + itemColumns
	row := r.db.QueryRowContext(ctx, q,
		it.ID,
		it.Name,
		it.Description,
		it.Price,
		it.Category,
		it.UpdatedAt,
	)
	return scanItem(row)
}

// SetImage replaces the image object key.
func (r *ItemPostgres) SetImage(ctx context.Context, id uuid.UUID, path *string) (*model.Item, error) {
	const q = `
		UPDATE items SET image_path = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + itemColumns
	var v sql.NullString
	if path != nil {
		v = sql.NullString{String: *path, Valid: true}
	}
	return scanItem(r.db.QueryRowContext(ctx, q, id, v))
}

// Delete removes an item by ID. It does not return an error if the row does not exist.
func (r *ItemPostgres) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM items WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// buildItemWhere renders the filter as a WHERE clause with positional
// placeholders starting at $1. Only values are parameterized; column names are fixed.
func buildItemWhere(f repository.ItemFilter) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Category != "" {
		conds = append(conds, "category = "+next(f.Category))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := next("%" + escapeLike(s) + "%")
		conds = append(conds, fmt.Sprintf("(name ILIKE %s OR description ILIKE %s)", p, p))
	}
	if f.MinPrice != nil {
		conds = append(conds, "price >= "+next(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		conds = append(conds, "price <= "+next(*f.MaxPrice))
	}
	if f.OwnerID != nil {
		conds = append(conds, "owner_id = "+next(*f.OwnerID))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildItemOrder renders ORDER BY with id as tie-breaker in the same direction.
func buildItemOrder(s repository.ItemSort) (string, error) {
	field := s.Field
	if field == "" {
		field = repository.SortCreatedAt
	}
	if !field.Valid() {
		return "", fmt.Errorf("unsupported sort field %q", field)
	}
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", field, dir, dir), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
