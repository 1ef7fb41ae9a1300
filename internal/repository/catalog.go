package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aurum/api/internal/db"
)

type Category struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

type Product struct {
	ID             string    `json:"id"`
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CategoryID     string    `json:"categoryId,omitempty"`
	CategorySlug   string    `json:"category,omitempty"`
	Material       string    `json:"material"`
	Gemstone       string    `json:"gemstone,omitempty"`
	PriceCents     int64     `json:"priceCents"`
	CompareAtCents int64     `json:"compareAtCents,omitempty"`
	Stock          int       `json:"stock"`
	Images         []string  `json:"images"`
	Featured       bool      `json:"featured"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func ListCategories(ctx context.Context, q db.Querier) ([]Category, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, slug, name, description, position FROM categories ORDER BY position, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.Position); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func CategoryBySlug(ctx context.Context, q db.Querier, slug string) (*Category, error) {
	var c Category
	err := q.QueryRowContext(ctx, `SELECT id, slug, name, description, position FROM categories WHERE slug = ?`, slug).
		Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.Position)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &c, err
}

func CreateCategory(ctx context.Context, q db.Querier, c *Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := q.ExecContext(ctx, `INSERT INTO categories (id, slug, name, description, position) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Slug, c.Name, c.Description, c.Position)
	return err
}

// ProductFilter narrows ListProducts. Zero values mean "no constraint".
type ProductFilter struct {
	CategorySlug    string
	Search          string
	Material        string
	MinCents        int64
	MaxCents        int64
	FeaturedOnly    bool
	IncludeInactive bool
	Sort            string
	Limit           int
	Offset          int
}

const productColumns = `p.id, p.slug, p.name, p.description, p.category_id, COALESCE(c.slug, ''), p.material, p.gemstone,
	p.price_cents, p.compare_at_cents, p.stock, p.images, p.featured, p.active, p.created_at, p.updated_at`

const productFrom = ` FROM products p LEFT JOIN categories c ON c.id = p.category_id`

func scanProduct(s scanner) (*Product, error) {
	var p Product
	var categoryID sql.NullString
	var images, createdAt, updatedAt string
	var featured, active int
	err := s.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &categoryID, &p.CategorySlug, &p.Material, &p.Gemstone,
		&p.PriceCents, &p.CompareAtCents, &p.Stock, &images, &featured, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.CategoryID = categoryID.String
	p.Featured = featured == 1
	p.Active = active == 1
	p.CreatedAt = db.ParseTime(createdAt)
	p.UpdatedAt = db.ParseTime(updatedAt)
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil || p.Images == nil {
		p.Images = []string{}
	}
	return &p, nil
}

var productSorts = map[string]string{
	"":           "p.featured DESC, p.created_at DESC",
	"newest":     "p.created_at DESC",
	"price_asc":  "p.price_cents ASC, p.name ASC",
	"price_desc": "p.price_cents DESC, p.name ASC",
	"name":       "p.name ASC",
}

// ValidProductSort reports whether s is an accepted sort key.
func ValidProductSort(s string) bool {
	_, ok := productSorts[s]
	return ok
}

// ListProducts returns one page of products and the total matching count.
func ListProducts(ctx context.Context, q db.Querier, f ProductFilter) ([]Product, int, error) {
	where := []string{"1 = 1"}
	args := []interface{}{}
	if !f.IncludeInactive {
		where = append(where, "p.active = 1")
	}
	if f.CategorySlug != "" {
		where = append(where, "c.slug = ?")
		args = append(args, f.CategorySlug)
	}
	if f.Search != "" {
		where = append(where, "(LOWER(p.name) LIKE ? OR LOWER(p.description) LIKE ? OR LOWER(p.gemstone) LIKE ?)")
		like := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, like, like, like)
	}
	if f.Material != "" {
		where = append(where, "LOWER(p.material) = ?")
		args = append(args, strings.ToLower(f.Material))
	}
	if f.MinCents > 0 {
		where = append(where, "p.price_cents >= ?")
		args = append(args, f.MinCents)
	}
	if f.MaxCents > 0 {
		where = append(where, "p.price_cents <= ?")
		args = append(args, f.MaxCents)
	}
	if f.FeaturedOnly {
		where = append(where, "p.featured = 1")
	}
	cond := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*)`+productFrom+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	order, ok := productSorts[f.Sort]
	if !ok {
		order = productSorts[""]
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 24
	}
	query := `SELECT ` + productColumns + productFrom + cond + ` ORDER BY ` + order + ` LIMIT ? OFFSET ?`
	rows, err := q.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	list := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *p)
	}
	return list, total, rows.Err()
}

func ProductBySlug(ctx context.Context, q db.Querier, slug string) (*Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+productFrom+` WHERE p.slug = ?`, slug))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func ProductByID(ctx context.Context, q db.Querier, id string) (*Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+productFrom+` WHERE p.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func CreateProduct(ctx context.Context, q db.Querier, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	images, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO products (id, slug, name, description, category_id, material, gemstone, price_cents,
		compare_at_cents, stock, images, featured, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Slug, p.Name, p.Description, nullString(p.CategoryID), p.Material, p.Gemstone, p.PriceCents,
		p.CompareAtCents, p.Stock, string(images), boolInt(p.Featured), boolInt(p.Active), db.FormatTime(now), db.FormatTime(now),
	)
	return err
}

func UpdateProduct(ctx context.Context, q db.Querier, p *Product) error {
	images, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `UPDATE products SET slug = ?, name = ?, description = ?, category_id = ?, material = ?, gemstone = ?,
		price_cents = ?, compare_at_cents = ?, stock = ?, images = ?, featured = ?, active = ?, updated_at = ? WHERE id = ?`,
		p.Slug, p.Name, p.Description, nullString(p.CategoryID), p.Material, p.Gemstone, p.PriceCents, p.CompareAtCents,
		p.Stock, string(images), boolInt(p.Featured), boolInt(p.Active), db.FormatTime(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return err
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateProduct hides a product from the storefront; order history keeps
// referencing it.
func DeactivateProduct(ctx context.Context, q db.Querier, id string) error {
	res, err := q.ExecContext(ctx, `UPDATE products SET active = 0, updated_at = ? WHERE id = ?`, db.FormatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReserveStock decrements stock only if enough units remain.
func ReserveStock(ctx context.Context, q db.Querier, productID string, n int) error {
	res, err := q.ExecContext(ctx, `UPDATE products SET stock = stock - ? WHERE id = ? AND active = 1 AND stock >= ?`, n, productID, n)
	if err != nil {
		return err
	}
	if affected, err := rowsAffected(res); err != nil {
		return err
	} else if affected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func ReleaseStock(ctx context.Context, q db.Querier, productID string, n int) error {
	_, err := q.ExecContext(ctx, `UPDATE products SET stock = stock + ? WHERE id = ?`, n, productID)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
