package catalog

import (
	"strconv"
	"strings"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/domain"
)

// Dialect selects the placeholder syntax of the target database.
type Dialect int

const (
	DialectSQLite   Dialect = iota // ? placeholders
	DialectPostgres                // $1, $2, ... placeholders
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// productColumns is the fixed projection of every catalog query.
const productColumns = "id, name, description, price, rating, category, image_path"

// Query is SQL text plus its bound arguments.
type Query struct {
	SQL  string
	Args []any
}

// Compiled holds the page query and the matching total-count query.
type Compiled struct {
	Select Query
	Count  Query
}

// builder accumulates SQL fragments. User-influenced values only ever enter
// through arg, which returns a placeholder.
type builder struct {
	dialect Dialect
	args    []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	if b.dialect == DialectPostgres {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

// Compile builds the read-only SELECT and COUNT queries for a normalized
// FilterSpec. Column names, operators and sort clauses come from constants;
// keyword patterns, prices, ratings, category and limit are bound.
func Compile(spec domain.FilterSpec, dialect Dialect) Compiled {
	where := func(b *builder) string {
		var conds []string
		if spec.PriceMin != nil {
			conds = append(conds, "price >= "+b.arg(*spec.PriceMin))
		}
		if spec.PriceMax != nil {
			conds = append(conds, "price <= "+b.arg(*spec.PriceMax))
		}
		if spec.RatingMin != nil {
			conds = append(conds, "rating >= "+b.arg(*spec.RatingMin))
		}
		if spec.Category != "" {
			conds = append(conds, "LOWER(category) = "+b.arg(strings.ToLower(spec.Category)))
		}
		if len(spec.Keywords) > 0 {
			matches := make([]string, 0, len(spec.Keywords))
			for _, kw := range spec.Keywords {
				matches = append(matches, keywordMatch(b, kw))
			}
			conds = append(conds, "("+strings.Join(matches, " OR ")+")")
		}
		if len(conds) == 0 {
			return ""
		}
		return " WHERE " + strings.Join(conds, " AND ")
	}

	sel := &builder{dialect: dialect}
	var q strings.Builder
	q.WriteString("SELECT " + productColumns + " FROM products")
	q.WriteString(where(sel))
	q.WriteString(" ORDER BY ")
	q.WriteString(orderBy(sel, spec))
	q.WriteString(" LIMIT " + sel.arg(spec.Limit))

	cnt := &builder{dialect: dialect}
	countSQL := "SELECT COUNT(*) FROM products" + where(cnt)

	return Compiled{
		Select: Query{SQL: q.String(), Args: sel.args},
		Count:  Query{SQL: countSQL, Args: cnt.args},
	}
}

// keywordMatch matches one keyword against name or description.
func keywordMatch(b *builder, kw string) string {
	pattern := "%" + escapeLike(kw) + "%"
	return "(LOWER(name) LIKE " + b.arg(pattern) + ` ESCAPE '\' OR LOWER(description) LIKE ` + b.arg(pattern) + ` ESCAPE '\')`
}

func orderBy(b *builder, spec domain.FilterSpec) string {
	switch spec.Sort {
	case domain.SortPriceAsc:
		return "price ASC, rating DESC, id ASC"
	case domain.SortPriceDesc:
		return "price DESC, rating DESC, id ASC"
	case domain.SortRatingDesc:
		return "rating DESC, price ASC, id ASC"
	}
	if len(spec.Keywords) == 0 {
		return "rating DESC, id ASC"
	}
	hits := make([]string, 0, len(spec.Keywords))
	for _, kw := range spec.Keywords {
		hits = append(hits, "(CASE WHEN "+keywordMatch(b, kw)+" THEN 1 ELSE 0 END)")
	}
	return "(" + strings.Join(hits, " + ") + ") DESC, rating DESC, id ASC"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
