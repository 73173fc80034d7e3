// Package toyimport loads the legacy JSON toy file into the toys table.
//
// The file predates the relational catalog and was edited by hand, so prices appear both
// in rupees and in paise. Any integral price above 100 is taken to be paise.
package toyimport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"

	"toybox-api/models"
)

var minorUnitThreshold = decimal.NewFromInt(100)

// ErrInvalidFile covers a toy file that cannot be opened or parsed.
var ErrInvalidFile = errors.New("invalid toy file")

type Store interface {
	UpsertToyBySlug(ctx context.Context, toy *models.Toy) (bool, error)
}

type Result struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped []string `json:"skipped"`
}

type legacyToy struct {
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	AgeGroup    string      `json:"age_group"`
	AgeGroupAlt string      `json:"ageGroup"`
	Brand       string      `json:"brand"`
	Price       json.Number `json:"price"`
	Stock       int         `json:"stock"`
	Tags        []string    `json:"tags"`
	ImageURL    string      `json:"image_url"`
	Image       string      `json:"image"`
}

type Importer struct {
	store Store
}

func NewImporter(store Store) *Importer {
	return &Importer{store: store}
}

func (i *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	defer f.Close()

	return i.Import(ctx, f)
}

// Import upserts every toy in r by slug. The first store error stops the import and is
// returned as is, so a permission failure reaches the caller unchanged.
func (i *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	entries, err := decode(r)
	if err != nil {
		return nil, err
	}

	result := &Result{Skipped: []string{}}
	for n, entry := range entries {
		toy, reason := entry.toToy()
		if reason != "" {
			result.Skipped = append(result.Skipped, fmt.Sprintf("entry %d: %s", n, reason))
			continue
		}

		created, err := i.store.UpsertToyBySlug(ctx, toy)
		if err != nil {
			return result, err
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	log.Printf("Toy import finished: %d created, %d updated, %d skipped",
		result.Created, result.Updated, len(result.Skipped))
	return result, nil
}

// decode accepts either a bare array or an object with a "toys" array.
func decode(r io.Reader) ([]legacyToy, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	raw = bytes.TrimSpace(raw)

	var entries []legacyToy
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped struct {
			Toys []legacyToy `json:"toys"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
		}
		return wrapped.Toys, nil
	}

	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return entries, nil
}

func (e legacyToy) toToy() (*models.Toy, string) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return nil, "missing name"
	}

	price, err := NormalizePrice(e.Price)
	if err != nil {
		return nil, err.Error()
	}
	if e.Stock < 0 {
		return nil, "negative stock"
	}

	toy := &models.Toy{
		Slug:        e.Slug,
		Name:        name,
		Description: e.Description,
		Category:    e.Category,
		AgeGroup:    e.AgeGroup,
		Brand:       e.Brand,
		Price:       price,
		Stock:       e.Stock,
		Tags:        e.Tags,
		ImageURL:    e.ImageURL,
	}
	if toy.Slug == "" {
		toy.Slug = slug.Make(name)
	} else {
		toy.Slug = slug.Make(toy.Slug)
	}
	if toy.AgeGroup == "" {
		toy.AgeGroup = e.AgeGroupAlt
	}
	if toy.ImageURL == "" {
		toy.ImageURL = e.Image
	}
	return toy, ""
}

// NormalizePrice converts a legacy price to rupees.
func NormalizePrice(raw json.Number) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing price")
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", raw)
	}
	if price.IsNegative() {
		return 0, fmt.Errorf("negative price %q", raw)
	}

	if price.IsInteger() && price.GreaterThan(minorUnitThreshold) {
		price = price.Shift(-2)
	}
	return price.Round(2).InexactFloat64(), nil
}
