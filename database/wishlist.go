package database

import (
	"context"
	"fmt"

	"toybox-api/models"
)

func (c *Connection) GetWishlist(ctx context.Context, userID int64) ([]models.WishlistItem, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT w.created_at, t.id, t.slug, t.name, t.description, t.category, t.age_group, t.brand,
			t.price, t.stock, t.tags, t.image_url, t.created_at, t.updated_at
		FROM wishlist_items w
		JOIN toys t ON t.id = w.toy_id
		WHERE w.user_id = ?
		ORDER BY w.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("error fetching wishlist: %w", mapError(err))
	}
	defer rows.Close()

	items := []models.WishlistItem{}
	for rows.Next() {
		var item models.WishlistItem
		toy, err := scanToy(prefixedRow{scan: rows.Scan, head: []interface{}{&item.AddedAt}})
		if err != nil {
			return nil, err
		}
		item.ToyID = toy.ID
		item.Toy = toy
		items = append(items, item)
	}
	return items, rows.Err()
}

// prefixedRow scans leading columns into head before handing the rest to the caller.
type prefixedRow struct {
	scan func(dest ...interface{}) error
	head []interface{}
}

func (r prefixedRow) Scan(dest ...interface{}) error {
	return r.scan(append(append([]interface{}{}, r.head...), dest...)...)
}

// AddToWishlist is idempotent.
func (c *Connection) AddToWishlist(ctx context.Context, userID, toyID int64) error {
	if _, err := c.GetToy(ctx, toyID); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT IGNORE INTO wishlist_items (user_id, toy_id, created_at) VALUES (?, ?, NOW())
	`, userID, toyID)
	if err != nil {
		return fmt.Errorf("failed to add wishlist item: %w", mapError(err))
	}
	return nil
}

func (c *Connection) RemoveFromWishlist(ctx context.Context, userID, toyID int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM wishlist_items WHERE user_id = ? AND toy_id = ?`, userID, toyID)
	if err != nil {
		return fmt.Errorf("failed to remove wishlist item: %w", mapError(err))
	}
	return nil
}

func (c *Connection) ListReviews(ctx context.Context, toyID int64) ([]models.Review, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.id, r.toy_id, r.user_id, u.name, r.rating, r.comment, r.created_at
		FROM reviews r
		JOIN users u ON u.id = r.user_id
		WHERE r.toy_id = ?
		ORDER BY r.created_at DESC
	`, toyID)
	if err != nil {
		return nil, fmt.Errorf("error fetching reviews: %w", mapError(err))
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ToyID, &r.UserID, &r.UserName, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// SaveReview keeps one review per user per toy; a second submission replaces the first.
func (c *Connection) SaveReview(ctx context.Context, review *models.Review) error {
	if _, err := c.GetToy(ctx, review.ToyID); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO reviews (toy_id, user_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE rating = VALUES(rating), comment = VALUES(comment), created_at = NOW()
	`, review.ToyID, review.UserID, review.Rating, review.Comment)
	if err != nil {
		return fmt.Errorf("failed to save review: %w", mapError(err))
	}
	return nil
}
