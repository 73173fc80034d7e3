package models

import "time"

type Toy struct {
	ID          int64     `json:"id" db:"id"`
	Slug        string    `json:"slug" db:"slug"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Category    string    `json:"category" db:"category"`
	AgeGroup    string    `json:"age_group" db:"age_group"`
	Brand       string    `json:"brand" db:"brand"`
	Price       float64   `json:"price" db:"price"`
	Stock       int       `json:"stock" db:"stock"`
	Tags        []string  `json:"tags,omitempty" db:"-"`
	ImageURL    string    `json:"image_url,omitempty" db:"image_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ToyInput is the admin create/update payload. Nil fields are left untouched on update.
type ToyInput struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	AgeGroup    *string   `json:"age_group"`
	Brand       *string   `json:"brand"`
	Price       *float64  `json:"price"`
	Stock       *int      `json:"stock"`
	Tags        *[]string `json:"tags"`
	ImageURL    *string   `json:"image_url"`
}

type ToyFilter struct {
	Category string
	AgeGroup string
	Brand    string
	Tag      string
	Query    string
	MinPrice *float64
	MaxPrice *float64
	InStock  bool
	Limit    int
	Offset   int
}

type ToyPage struct {
	Toys   []Toy `json:"toys"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
