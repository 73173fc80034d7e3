package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"toybox-api/models"
)

const planColumns = `id, name, toys_per_month, price, features, is_popular, deposit, created_at`

func scanPlan(row scanner) (*models.Plan, error) {
	var plan models.Plan
	var features sql.NullString

	err := row.Scan(
		&plan.ID,
		&plan.Name,
		&plan.ToysPerMonth,
		&plan.Price,
		&features,
		&plan.IsPopular,
		&plan.Deposit,
		&plan.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	plan.Features = []string{}
	if features.Valid && features.String != "" {
		if err := json.Unmarshal([]byte(features.String), &plan.Features); err != nil {
			log.Printf("Warning: invalid features json for plan %d: %v", plan.ID, err)
			plan.Features = []string{}
		}
	}
	return &plan, nil
}

func (c *Connection) GetPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT "+planColumns+" FROM plans ORDER BY price ASC")
	if err != nil {
		return nil, fmt.Errorf("error listing plans: %w", mapError(err))
	}
	defer rows.Close()

	plans := []models.Plan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (c *Connection) GetPlanByID(ctx context.Context, id int64) (*models.Plan, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	plan, err := scanPlan(row)
	if err != nil {
		return nil, mapError(err)
	}
	return plan, nil
}
