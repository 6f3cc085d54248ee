package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// SuggestThreshold is the minimum similarity for an advisory mapping suggestion.
const SuggestThreshold = 0.85

// maxSuggestions caps advisory matches returned for one code.
const maxSuggestions = 5

// MappingStore is the storage contract of the product mapper.
type MappingStore interface {
	GetProductMapping(ctx context.Context, tenantID, resellerID, sourceCode string) (ProductMapping, error)
	ListProductMappings(ctx context.Context, tenantID, resellerID string) ([]ProductMapping, error)
}

// Suggestion is an existing mapping similar to an unmapped code.
// It is shown to reviewers and never applied automatically.
type Suggestion struct {
	SourceCode  string  `json:"source_code"`
	CanonicalID string  `json:"canonical_id"`
	Similarity  float64 `json:"similarity"`
}

// ProductResolution is the outcome of mapping one product code.
// Problem is set when the row must fail; CanonicalID is set otherwise.
type ProductResolution struct {
	CanonicalID string
	Problem     *RowError
}

// NormalizeProductCode trims, collapses whitespace and upper-cases a source code.
func NormalizeProductCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(CleanCell(code)), " "))
}

// ProductMapper turns source product codes into canonical product ids.
// Mappings are only ever looked up, never inferred.
type ProductMapper struct {
	repo  MappingStore
	cache sync.Map // tenant/reseller/code -> canonical id

	knownMu sync.Mutex
	known   map[string][]ProductMapping // tenant/reseller -> mappings, for suggestions
}

// NewProductMapper returns a mapper backed by repo.
func NewProductMapper(repo MappingStore) *ProductMapper {
	return &ProductMapper{repo: repo, known: make(map[string][]ProductMapping)}
}

// Resolve maps code under identity. Universal identifiers are checked for a
// valid GTIN and passed through; source codes need an explicit mapping.
func (m *ProductMapper) Resolve(ctx context.Context, tenantID, resellerID string, identity ProductIdentity, code string) (ProductResolution, error) {
	if identity == ProductUniversal {
		cleaned := CleanCell(code)
		if len(cleaned) < 8 || len(cleaned) > 14 || !ValidGTIN(NormalizeGTIN(cleaned)) {
			return ProductResolution{Problem: &RowError{
				Kind:    KindInvalidFieldValue,
				Field:   string(FieldProduct),
				Value:   code,
				Message: "not a valid GTIN",
			}}, nil
		}
		return ProductResolution{CanonicalID: NormalizeGTIN(cleaned)}, nil
	}

	normalized := NormalizeProductCode(code)
	key := tenantID + "\x00" + resellerID + "\x00" + normalized
	if id, ok := m.cache.Load(key); ok {
		return ProductResolution{CanonicalID: id.(string)}, nil
	}

	pm, err := m.repo.GetProductMapping(ctx, tenantID, resellerID, normalized)
	if errors.Is(err, ErrMappingNotFound) {
		problem := &RowError{
			Kind:    KindMappingNotFound,
			Field:   string(FieldProduct),
			Value:   code,
			Message: fmt.Sprintf("no product mapping for code %q", normalized),
		}
		sugg, err := m.Suggest(ctx, tenantID, resellerID, normalized)
		if err != nil {
			return ProductResolution{}, err
		}
		if len(sugg) > 0 {
			problem.Suggestion = fmt.Sprintf("%s (%s, %.0f%% similar)", sugg[0].SourceCode, sugg[0].CanonicalID, sugg[0].Similarity*100)
		}
		return ProductResolution{Problem: problem}, nil
	}
	if err != nil {
		return ProductResolution{}, fmt.Errorf("get product mapping: %w", err)
	}

	m.cache.Store(key, pm.CanonicalID)
	return ProductResolution{CanonicalID: pm.CanonicalID}, nil
}

// Suggest returns mapped codes of the reseller whose similarity to code is at
// least SuggestThreshold, best first.
func (m *ProductMapper) Suggest(ctx context.Context, tenantID, resellerID, code string) ([]Suggestion, error) {
	mappings, err := m.mappings(ctx, tenantID, resellerID)
	if err != nil {
		return nil, err
	}
	return rankSuggestions(NormalizeProductCode(code), mappings), nil
}

func (m *ProductMapper) mappings(ctx context.Context, tenantID, resellerID string) ([]ProductMapping, error) {
	key := tenantID + "\x00" + resellerID

	m.knownMu.Lock()
	defer m.knownMu.Unlock()
	if list, ok := m.known[key]; ok {
		return list, nil
	}
	list, err := m.repo.ListProductMappings(ctx, tenantID, resellerID)
	if err != nil {
		return nil, fmt.Errorf("list product mappings: %w", err)
	}
	m.known[key] = list
	return list, nil
}

func rankSuggestions(code string, mappings []ProductMapping) []Suggestion {
	var out []Suggestion
	for _, pm := range mappings {
		sim := similarity(code, pm.SourceCode)
		if sim >= SuggestThreshold && pm.SourceCode != code {
			out = append(out, Suggestion{SourceCode: pm.SourceCode, CanonicalID: pm.CanonicalID, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].SourceCode < out[j].SourceCode
	})
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

// similarity is 1 - levenshtein distance / length of the longer string.
func similarity(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}
