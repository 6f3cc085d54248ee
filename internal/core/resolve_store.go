package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// onlineVocabulary lists normalized store names that always mean an online channel.
var onlineVocabulary = map[string]struct{}{
	"online":     {},
	"web":        {},
	"e-shop":     {},
	"eshop":      {},
	"webshop":    {},
	"web shop":   {},
	"internet":   {},
	"e-commerce": {},
	"ecommerce":  {},
}

// StoreUpserter is the storage contract of the store resolver: an atomic
// insert-or-return on (tenant, reseller, normalized name).
type StoreUpserter interface {
	UpsertStore(ctx context.Context, s Store) (Store, error)
}

// NormalizeStoreName trims, case-folds and collapses inner whitespace.
func NormalizeStoreName(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(CleanCell(raw))), " ")
}

// ClassifyChannel returns online when the normalized name is an online
// synonym or one of the reseller's online codes, physical otherwise.
func ClassifyChannel(normalized string, onlineCodes []string) Channel {
	if _, ok := onlineVocabulary[normalized]; ok {
		return ChannelOnline
	}
	for _, code := range onlineCodes {
		if strings.EqualFold(normalized, strings.TrimSpace(code)) {
			return ChannelOnline
		}
	}
	return ChannelPhysical
}

// StoreResolver resolves raw store identifiers to canonical stores.
// Concurrent calls for one key share a single upsert; results are cached for
// the lifetime of the resolver, which is one batch run.
type StoreResolver struct {
	repo  StoreUpserter
	group singleflight.Group
	cache sync.Map // key -> Store
}

// NewStoreResolver returns a resolver backed by repo.
func NewStoreResolver(repo StoreUpserter) *StoreResolver {
	return &StoreResolver{repo: repo}
}

// Resolve returns the store for raw, creating it on first encounter.
func (r *StoreResolver) Resolve(ctx context.Context, tenantID, resellerID, raw string, onlineCodes []string) (Store, error) {
	normalized := NormalizeStoreName(raw)
	if normalized == "" {
		return Store{}, WithKind(KindInvalidFieldValue, errors.New("empty store identifier"))
	}

	key := tenantID + "\x00" + resellerID + "\x00" + normalized
	if s, ok := r.cache.Load(key); ok {
		return s.(Store), nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		s, err := r.repo.UpsertStore(ctx, Store{
			TenantID:       tenantID,
			ResellerID:     resellerID,
			Name:           strings.TrimSpace(CleanCell(raw)),
			NormalizedName: normalized,
			Channel:        ClassifyChannel(normalized, onlineCodes),
		})
		if err != nil {
			return Store{}, fmt.Errorf("upsert store %q: %w", normalized, err)
		}
		r.cache.Store(key, s)
		return s, nil
	})
	if err != nil {
		return Store{}, err
	}
	return v.(Store), nil
}
