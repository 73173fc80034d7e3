package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"toybox-api/models"
)

const toyColumns = `id, slug, name, description, category, age_group, brand, price, stock, tags, image_url, created_at, updated_at`

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func scanToy(row scanner) (*models.Toy, error) {
	var toy models.Toy
	var tags sql.NullString
	var imageURL sql.NullString

	err := row.Scan(
		&toy.ID,
		&toy.Slug,
		&toy.Name,
		&toy.Description,
		&toy.Category,
		&toy.AgeGroup,
		&toy.Brand,
		&toy.Price,
		&toy.Stock,
		&tags,
		&imageURL,
		&toy.CreatedAt,
		&toy.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	toy.ImageURL = imageURL.String
	toy.Tags = []string{}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &toy.Tags); err != nil {
			log.Printf("Warning: invalid tags json for toy %d: %v", toy.ID, err)
			toy.Tags = []string{}
		}
	}
	return &toy, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("error encoding tags: %w", err)
	}
	return string(b), nil
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func toyWhere(f models.ToyFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.AgeGroup != "" {
		conds = append(conds, "age_group = ?")
		args = append(args, f.AgeGroup)
	}
	if f.Brand != "" {
		conds = append(conds, "brand = ?")
		args = append(args, f.Brand)
	}
	if f.Tag != "" {
		conds = append(conds, "JSON_CONTAINS(tags, JSON_QUOTE(?))")
		args = append(args, f.Tag)
	}
	if f.Query != "" {
		conds = append(conds, "(name LIKE ? OR description LIKE ?)")
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}
	if f.MinPrice != nil {
		conds = append(conds, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		conds = append(conds, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.InStock {
		conds = append(conds, "stock > 0")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (c *Connection) ListToys(ctx context.Context, filter models.ToyFilter) (*models.ToyPage, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	where, args := toyWhere(filter)

	var total int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM toys"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("error counting toys: %w", mapError(err))
	}

	query := "SELECT " + toyColumns + " FROM toys" + where + " ORDER BY name ASC LIMIT ? OFFSET ?"
	rows, err := c.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("error listing toys: %w", mapError(err))
	}
	defer rows.Close()

	toys := []models.Toy{}
	for rows.Next() {
		toy, err := scanToy(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning toy: %w", err)
		}
		toys = append(toys, *toy)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.ToyPage{Toys: toys, Total: total, Limit: limit, Offset: offset}, nil
}

func (c *Connection) GetToy(ctx context.Context, id int64) (*models.Toy, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+toyColumns+" FROM toys WHERE id = ?", id)
	toy, err := scanToy(row)
	if err != nil {
		return nil, mapError(err)
	}
	return toy, nil
}

func (c *Connection) GetToyBySlug(ctx context.Context, s string) (*models.Toy, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+toyColumns+" FROM toys WHERE slug = ?", s)
	toy, err := scanToy(row)
	if err != nil {
		return nil, mapError(err)
	}
	return toy, nil
}

func (c *Connection) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT category FROM toys WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("error listing categories: %w", mapError(err))
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

// CreateToy inserts a toy. A statement rejected by the server for lack of privileges is
// returned as ErrPermissionDenied.
func (c *Connection) CreateToy(ctx context.Context, toy *models.Toy) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if toy.Slug == "" {
		toy.Slug = slug.Make(toy.Name)
	}
	tags, err := encodeTags(toy.Tags)
	if err != nil {
		return err
	}

	result, err := c.db.ExecContext(ctx, `
		INSERT INTO toys (slug, name, description, category, age_group, brand, price, stock, tags, image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`, toy.Slug, toy.Name, toy.Description, toy.Category, toy.AgeGroup, toy.Brand, toy.Price, toy.Stock, tags, toy.ImageURL)
	if err != nil {
		log.Printf("Error creating toy %q: %v", toy.Name, err)
		return fmt.Errorf("failed to create toy: %w", mapError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read toy id: %w", err)
	}
	toy.ID = id
	return nil
}

// ApplyToyInput copies the set fields of in onto toy. The slug follows the name.
func ApplyToyInput(toy *models.Toy, in models.ToyInput) {
	if in.Name != nil {
		toy.Name = strings.TrimSpace(*in.Name)
		toy.Slug = slug.Make(toy.Name)
	}
	if in.Description != nil {
		toy.Description = *in.Description
	}
	if in.Category != nil {
		toy.Category = *in.Category
	}
	if in.AgeGroup != nil {
		toy.AgeGroup = *in.AgeGroup
	}
	if in.Brand != nil {
		toy.Brand = *in.Brand
	}
	if in.Price != nil {
		toy.Price = *in.Price
	}
	if in.Stock != nil {
		toy.Stock = *in.Stock
	}
	if in.Tags != nil {
		toy.Tags = *in.Tags
	}
	if in.ImageURL != nil {
		toy.ImageURL = *in.ImageURL
	}
}

func (c *Connection) UpdateToy(ctx context.Context, toy *models.Toy) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tags, err := encodeTags(toy.Tags)
	if err != nil {
		return err
	}

	result, err := c.db.ExecContext(ctx, `
		UPDATE toys
		SET slug = ?, name = ?, description = ?, category = ?, age_group = ?, brand = ?,
			price = ?, stock = ?, tags = ?, image_url = ?, updated_at = NOW()
		WHERE id = ?
	`, toy.Slug, toy.Name, toy.Description, toy.Category, toy.AgeGroup, toy.Brand,
		toy.Price, toy.Stock, tags, toy.ImageURL, toy.ID)
	if err != nil {
		log.Printf("Error updating toy %d: %v", toy.ID, err)
		return fmt.Errorf("failed to update toy: %w", mapError(err))
	}
	return c.expectUpdated(ctx, result, `SELECT 1 FROM toys WHERE id = ?`, toy.ID)
}

func (c *Connection) DeleteToy(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM toys WHERE id = ?`, id)
	if err != nil {
		log.Printf("Error deleting toy %d: %v", id, err)
		return fmt.Errorf("failed to delete toy: %w", mapError(err))
	}
	return expectAffected(result)
}

// AdjustStock adds delta to a toy's stock and returns the new level. The stock never
// goes below zero.
func (c *Connection) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	result, err := c.db.ExecContext(ctx, `
		UPDATE toys SET stock = stock + ?, updated_at = NOW()
		WHERE id = ? AND stock + ? >= 0
	`, delta, id, delta)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust stock: %w", mapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		if _, err := c.GetToy(ctx, id); err != nil {
			return 0, err
		}
		return 0, ErrInsufficientStock
	}

	var stock int
	if err := c.db.QueryRowContext(ctx, `SELECT stock FROM toys WHERE id = ?`, id).Scan(&stock); err != nil {
		return 0, mapError(err)
	}
	return stock, nil
}

// UpsertToyBySlug inserts the toy or refreshes the row with the same slug. It reports
// whether a new row was created.
func (c *Connection) UpsertToyBySlug(ctx context.Context, toy *models.Toy) (bool, error) {
	if toy.Slug == "" {
		toy.Slug = slug.Make(toy.Name)
	}
	tags, err := encodeTags(toy.Tags)
	if err != nil {
		return false, err
	}

	result, err := c.db.ExecContext(ctx, `
		INSERT INTO toys (slug, name, description, category, age_group, brand, price, stock, tags, image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), description = VALUES(description), category = VALUES(category),
			age_group = VALUES(age_group), brand = VALUES(brand), price = VALUES(price),
			stock = VALUES(stock), tags = VALUES(tags), image_url = VALUES(image_url), updated_at = NOW()
	`, toy.Slug, toy.Name, toy.Description, toy.Category, toy.AgeGroup, toy.Brand, toy.Price, toy.Stock, tags, toy.ImageURL)
	if err != nil {
		return false, fmt.Errorf("failed to import toy %q: %w", toy.Slug, mapError(err))
	}

	// MySQL reports 1 for an insert and 2 for an update of an existing row.
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (c *Connection) LowStockToys(ctx context.Context, threshold int) ([]models.Toy, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT "+toyColumns+" FROM toys WHERE stock <= ? ORDER BY stock ASC, name ASC", threshold)
	if err != nil {
		return nil, fmt.Errorf("error listing low stock toys: %w", mapError(err))
	}
	defer rows.Close()

	toys := []models.Toy{}
	for rows.Next() {
		toy, err := scanToy(rows)
		if err != nil {
			return nil, err
		}
		toys = append(toys, *toy)
	}
	return toys, rows.Err()
}

func expectAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// expectUpdated treats zero affected rows as ErrNotFound only when exists finds no row.
// Without clientFoundRows MySQL counts an update that leaves the row as it was as zero.
func (c *Connection) expectUpdated(ctx context.Context, result sql.Result, exists string, args ...interface{}) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var found int
	if err := c.db.QueryRowContext(ctx, exists, args...).Scan(&found); err != nil {
		return mapError(err)
	}
	return nil
}
