package domain

// Product is a single catalog item. The agent never mutates products.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Rating      float64 `json:"rating"`
	Category    string  `json:"category"`
	ImageRef    string  `json:"imageRef,omitempty"`
}

// SortOrder selects how catalog matches are ordered.
type SortOrder string

const (
	SortRelevance  SortOrder = "relevance"
	SortPriceAsc   SortOrder = "price_asc"
	SortPriceDesc  SortOrder = "price_desc"
	SortRatingDesc SortOrder = "rating_desc"
)

// Valid reports whether s is one of the known sort orders.
func (s SortOrder) Valid() bool {
	switch s {
	case SortRelevance, SortPriceAsc, SortPriceDesc, SortRatingDesc:
		return true
	}
	return false
}

// FilterSpec is the structured, allow-listed form of a catalog request.
// Nil pointers mean "no constraint".
type FilterSpec struct {
	PriceMin  *float64  `json:"priceMin,omitempty"`
	PriceMax  *float64  `json:"priceMax,omitempty"`
	Category  string    `json:"category,omitempty"`
	RatingMin *float64  `json:"ratingMin,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	Sort      SortOrder `json:"sort,omitempty"`
	Limit     int       `json:"limit,omitempty"`

	// Notes records adjustments made while normalizing, e.g. a category
	// that was not recognized and fell back to keyword matching.
	Notes []string `json:"notes,omitempty"`
}

// Float returns a pointer to v. Handy for building FilterSpec literals.
func Float(v float64) *float64 { return &v }

// CandidateSet is the ordered list of products surfaced during one turn.
type CandidateSet []Product

// IDs returns the product ids in order.
func (c CandidateSet) IDs() []int64 {
	ids := make([]int64, 0, len(c))
	for _, p := range c {
		ids = append(ids, p.ID)
	}
	return ids
}

// Contains reports whether id is a member of the set.
func (c CandidateSet) Contains(id int64) bool {
	_, ok := c.Lookup(id)
	return ok
}

// Lookup returns the product with the given id.
func (c CandidateSet) Lookup(id int64) (Product, bool) {
	for _, p := range c {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// Merge appends products not already present, keeping first-seen order.
func (c CandidateSet) Merge(more []Product) CandidateSet {
	out := c
	for _, p := range more {
		if !out.Contains(p.ID) {
			out = append(out, p)
		}
	}
	return out
}
