package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
)

// Store is the read side of the product catalog.
type Store interface {
	Search(ctx context.Context, spec domain.FilterSpec) (SearchResult, error)
	Categories(ctx context.Context) ([]string, error)
	Get(ctx context.Context, ids []int64) ([]domain.Product, error)
}

// SearchResult is one page of matches plus the total match count.
type SearchResult struct {
	Products []domain.Product
	Total    int
}

const categoryCacheTTL = 5 * time.Minute

// SQLStore serves the catalog from a database/sql handle. The pool is shared
// by all turns; nothing here takes a turn-level lock.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *logging.Logger

	mu         sync.Mutex
	categories []string
	loadedAt   time.Time
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect, log *logging.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, log: log.Sub("catalog")}
}

// OpenPostgres opens a pgx-backed pool against dsn.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, nil
}

// Dialect reports the placeholder style this store compiles for.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Search runs the compiled page and count queries for a normalized spec.
func (s *SQLStore) Search(ctx context.Context, spec domain.FilterSpec) (SearchResult, error) {
	start := time.Now()
	q := Compile(spec, s.dialect)

	rows, err := s.db.QueryContext(ctx, q.Select.SQL, q.Select.Args...)
	if err != nil {
		return SearchResult{}, domain.NewError(domain.ErrToolExecution, "catalog.search", err)
	}
	products, err := scanProducts(rows)
	if err != nil {
		return SearchResult{}, domain.NewError(domain.ErrToolExecution, "catalog.search", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, q.Count.SQL, q.Count.Args...).Scan(&total); err != nil {
		return SearchResult{}, domain.NewError(domain.ErrToolExecution, "catalog.count", err)
	}

	s.log.Debug().
		Int("matches", len(products)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("catalog search")
	return SearchResult{Products: products, Total: total}, nil
}

// Categories returns the distinct non-empty categories, cached briefly.
func (s *SQLStore) Categories(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.categories != nil && time.Since(s.loadedAt) < categoryCacheTTL {
		return s.categories, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, domain.NewError(domain.ErrToolExecution, "catalog.categories", err)
	}
	defer rows.Close()

	cats := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, domain.NewError(domain.ErrToolExecution, "catalog.categories", err)
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.ErrToolExecution, "catalog.categories", err)
	}

	s.categories = cats
	s.loadedAt = time.Now()
	return cats, nil
}

// Get returns the products with the given ids in id order. Unknown ids are
// skipped.
func (s *SQLStore) Get(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b := &builder{dialect: s.dialect}
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = b.arg(id)
	}
	query := "SELECT " + productColumns + " FROM products WHERE id IN (" + strings.Join(marks, ", ") + ") ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, domain.NewError(domain.ErrToolExecution, "catalog.get", err)
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, domain.NewError(domain.ErrToolExecution, "catalog.get", err)
	}
	return products, nil
}

// invalidate drops the cached category list after writes.
func (s *SQLStore) invalidate() {
	s.mu.Lock()
	s.categories = nil
	s.mu.Unlock()
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()
	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Rating, &p.Category, &p.ImageRef); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
