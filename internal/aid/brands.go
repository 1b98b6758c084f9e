package aid

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/segsight/segsight/internal/models"
	"github.com/segsight/segsight/internal/repository"
)

// ErrReadOnlyBrands reports a write against the file-backed brand list.
var ErrReadOnlyBrands = fmt.Errorf("aid: brand vocabulary is read-only")

// StaticBrands is a file-backed, read-only brand vocabulary. The aid worker
// has no database; logo detection bindings that need a vocabulary load it
// from a JSON file at startup instead.
type StaticBrands struct {
	brands []*models.Brand
}

// LoadBrands reads a brand vocabulary from a JSON file. An empty path yields
// an empty vocabulary, which the prompt classifier treats as nothing to find.
func LoadBrands(path string) (*StaticBrands, error) {
	if path == "" {
		return &StaticBrands{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading brands file: %w", err)
	}

	var brands []*models.Brand
	if err := json.Unmarshal(data, &brands); err != nil {
		return nil, fmt.Errorf("parsing brands file: %w", err)
	}
	for _, b := range brands {
		if b.Name == "" {
			return nil, fmt.Errorf("brands file: every brand needs a name")
		}
	}
	return &StaticBrands{brands: brands}, nil
}

// Len returns the number of loaded brands.
func (s *StaticBrands) Len() int { return len(s.brands) }

// Create is rejected; the vocabulary is file-backed.
func (s *StaticBrands) Create(context.Context, *models.Brand) error { return ErrReadOnlyBrands }

// Update is rejected; the vocabulary is file-backed.
func (s *StaticBrands) Update(context.Context, *models.Brand) error { return ErrReadOnlyBrands }

// Delete is rejected; the vocabulary is file-backed.
func (s *StaticBrands) Delete(context.Context, models.ULID) error { return ErrReadOnlyBrands }

// GetByID looks a brand up by ID. File-backed brands have no IDs, so this
// always reports not found.
func (s *StaticBrands) GetByID(context.Context, models.ULID) (*models.Brand, error) {
	return nil, nil
}

// GetAll returns every loaded brand.
func (s *StaticBrands) GetAll(context.Context) ([]*models.Brand, error) {
	return s.brands, nil
}

// GetActive returns the active loaded brands.
func (s *StaticBrands) GetActive(context.Context) ([]*models.Brand, error) {
	active := make([]*models.Brand, 0, len(s.brands))
	for _, b := range s.brands {
		if b.Active {
			active = append(active, b)
		}
	}
	return active, nil
}

// ActiveSearchTerms flattens the search terms of all active brands into a
// deduplicated vocabulary, keyed back to the brand name. A brand with no
// search terms contributes its own name; the first brand to claim a term
// wins, in name order, matching the database-backed repository.
func (s *StaticBrands) ActiveSearchTerms(ctx context.Context) (map[string]string, error) {
	ordered := make([]*models.Brand, 0, len(s.brands))
	for _, b := range s.brands {
		if b.Active {
			ordered = append(ordered, b)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	vocab := make(map[string]string)
	for _, b := range ordered {
		terms := b.SearchTerms
		if len(terms) == 0 {
			terms = models.StringList{b.Name}
		}
		for _, term := range terms {
			term = strings.TrimSpace(strings.ToLower(term))
			if term == "" {
				continue
			}
			if _, taken := vocab[term]; !taken {
				vocab[term] = b.Name
			}
		}
	}
	return vocab, nil
}

var _ repository.BrandRepository = (*StaticBrands)(nil)
