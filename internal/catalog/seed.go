package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// seedEntry is one record of the product cache file, keyed by image filename.
type seedEntry struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImagePath   string  `json:"image_path"`
	Rating      float64 `json:"rating"`
	Category    string  `json:"category"`
}

// LoadSeedFile reads a product cache file: a JSON object mapping image
// filenames to product records. Products come back sorted by filename so
// ids are assigned deterministically.
func LoadSeedFile(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var entries map[string]seedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	names := make([]string, 0, len(entries))
	for k := range entries {
		names = append(names, k)
	}
	sort.Strings(names)

	products := make([]domain.Product, 0, len(entries))
	for _, file := range names {
		e := entries[file]
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("seed entry %q: missing name", file)
		}
		if e.Price < 0 {
			return nil, fmt.Errorf("seed entry %q: negative price", file)
		}
		if e.Rating < 0 || e.Rating > 5 {
			return nil, fmt.Errorf("seed entry %q: rating %.1f out of range", file, e.Rating)
		}
		img := e.ImagePath
		if img == "" {
			img = file
		}
		products = append(products, domain.Product{
			Name:        e.Name,
			Description: e.Description,
			Price:       e.Price,
			Rating:      e.Rating,
			Category:    strings.ToLower(strings.TrimSpace(e.Category)),
			ImageRef:    img,
		})
	}
	return products, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id          SERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price       DOUBLE PRECISION NOT NULL CHECK (price >= 0),
	rating      DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (rating >= 0 AND rating <= 5),
	category    TEXT NOT NULL DEFAULT '',
	image_path  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_products_category ON products (category);
CREATE INDEX IF NOT EXISTS idx_products_price ON products (price);
`

// EnsureSchema creates the products table on Postgres. SQLite databases get
// it from the store migrations.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating products table: %w", err)
	}
	return nil
}

// Seed inserts products in one transaction. With replace set, existing rows
// are removed first and ids restart at 1; otherwise seeding a non-empty
// catalog is refused.
func (s *SQLStore) Seed(ctx context.Context, products []domain.Product, replace bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&existing); err != nil {
		return 0, fmt.Errorf("counting products: %w", err)
	}
	if existing > 0 && !replace {
		return 0, fmt.Errorf("catalog already has %d products (use replace to overwrite)", existing)
	}
	if existing > 0 || replace {
		if err := s.truncate(ctx, tx); err != nil {
			return 0, err
		}
	}

	b := &builder{dialect: s.dialect}
	marks := make([]string, 6)
	for i := range marks {
		marks[i] = b.arg(nil)
	}
	insert := "INSERT INTO products (name, description, price, rating, category, image_path) VALUES (" +
		strings.Join(marks, ", ") + ")"
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		if _, err := stmt.ExecContext(ctx, p.Name, p.Description, p.Price, p.Rating, p.Category, p.ImageRef); err != nil {
			return 0, fmt.Errorf("inserting %q: %w", p.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.invalidate()
	s.log.Info().Int("count", len(products)).Bool("replace", replace).Msg("catalog seeded")
	return len(products), nil
}

// truncate empties the table and resets the id sequence.
func (s *SQLStore) truncate(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{"DELETE FROM products", "DELETE FROM sqlite_sequence WHERE name = 'products'"}
	if s.dialect == DialectPostgres {
		stmts = []string{"TRUNCATE TABLE products RESTART IDENTITY"}
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clearing products: %w", err)
		}
	}
	return nil
}
