package core_test

import (
	"context"
	"sync"
	"testing"

	"github.com/JonMunkholm/salesingest/internal/core"
	"github.com/JonMunkholm/salesingest/internal/memdb"
)

func TestNormalizeStoreName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Online", "online"},
		{"  online ", "online"},
		{"Berlin   Mitte", "berlin mitte"},
		{`="Shop 12"`, "shop 12"},
	}
	for _, tt := range tests {
		if got := core.NormalizeStoreName(tt.in); got != tt.want {
			t.Errorf("NormalizeStoreName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassifyChannel(t *testing.T) {
	tests := []struct {
		name  string
		codes []string
		want  core.Channel
	}{
		{"online", nil, core.ChannelOnline},
		{"e-shop", nil, core.ChannelOnline},
		{"webshop", nil, core.ChannelOnline},
		{"ws", []string{"WS", "EC"}, core.ChannelOnline},
		{"ws", nil, core.ChannelPhysical},
		{"berlin mitte", []string{"WS"}, core.ChannelPhysical},
		{"online outlet", nil, core.ChannelPhysical},
	}
	for _, tt := range tests {
		if got := core.ClassifyChannel(tt.name, tt.codes); got != tt.want {
			t.Errorf("ClassifyChannel(%q, %v) = %s, want %s", tt.name, tt.codes, got, tt.want)
		}
	}
}

func TestStoreResolver_SameStoreDifferentCase(t *testing.T) {
	db := memdb.New()
	r := core.NewStoreResolver(db)
	ctx := context.Background()

	a, err := r.Resolve(ctx, "t1", "bolt", "Online", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := core.NewStoreResolver(db).Resolve(ctx, "t1", "bolt", "online", nil)
	if err != nil {
		t.Fatal(err)
	}

	if a.ID != b.ID {
		t.Errorf("Online and online resolved to different stores: %s vs %s", a.ID, b.ID)
	}
	if a.Channel != core.ChannelOnline {
		t.Errorf("channel = %s, want online", a.Channel)
	}
	if n := len(db.Stores()); n != 1 {
		t.Errorf("stores = %d, want 1", n)
	}
}

func TestStoreResolver_ConcurrentCreatesOne(t *testing.T) {
	db := memdb.New()
	ctx := context.Background()

	const n = 50
	// separate resolvers model separate batches racing on one store
	resolvers := []*core.StoreResolver{core.NewStoreResolver(db), core.NewStoreResolver(db)}
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := resolvers[i%2].Resolve(ctx, "t1", "bolt", "Berlin  Mitte", nil)
			if err != nil {
				t.Error(err)
				return
			}
			ids <- s.ID.String()
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Errorf("distinct store ids = %d, want 1", len(seen))
	}
	if got := len(db.Stores()); got != 1 {
		t.Errorf("stores = %d, want 1", got)
	}
}

func TestStoreResolver_ScopedByTenantAndReseller(t *testing.T) {
	db := memdb.New()
	r := core.NewStoreResolver(db)
	ctx := context.Background()

	a, _ := r.Resolve(ctx, "t1", "bolt", "Mitte", nil)
	b, _ := r.Resolve(ctx, "t2", "bolt", "Mitte", nil)
	c, _ := r.Resolve(ctx, "t1", "fjord", "Mitte", nil)
	if a.ID == b.ID || a.ID == c.ID {
		t.Error("stores leaked across tenant or reseller")
	}
}

func TestStoreResolver_CachesWithinBatch(t *testing.T) {
	db := memdb.New()
	r := core.NewStoreResolver(db)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := r.Resolve(ctx, "t1", "bolt", "Mitte", nil); err != nil {
			t.Fatal(err)
		}
	}
	if got := db.StoreUpserts(); got != 1 {
		t.Errorf("upserts = %d, want 1", got)
	}
}

func TestStoreResolver_EmptyName(t *testing.T) {
	_, err := core.NewStoreResolver(memdb.New()).Resolve(context.Background(), "t1", "bolt", "  ", nil)
	if core.KindOf(err) != core.KindInvalidFieldValue {
		t.Errorf("err = %v, want InvalidFieldValue", err)
	}
}

func TestProductMapper_NoGuessing(t *testing.T) {
	db := memdb.New()
	ctx := context.Background()
	svc := core.NewService(core.Deps{Repo: db}, core.PipelineConfig{})
	if _, err := svc.ConfirmMapping(ctx, "t1", "fjord", "ART-1001", "4006381333931"); err != nil {
		t.Fatal(err)
	}

	m := core.NewProductMapper(db)

	res, err := m.Resolve(ctx, "t1", "fjord", core.ProductSourceCode, "art-1001")
	if err != nil {
		t.Fatal(err)
	}
	if res.Problem != nil || res.CanonicalID != "4006381333931" {
		t.Errorf("mapped code: %+v", res)
	}

	res, err = m.Resolve(ctx, "t1", "fjord", core.ProductSourceCode, "ART-1002")
	if err != nil {
		t.Fatal(err)
	}
	if res.Problem == nil || res.Problem.Kind != core.KindMappingNotFound {
		t.Fatalf("unmapped code should fail with MappingNotFound: %+v", res)
	}
	if res.CanonicalID != "" {
		t.Error("unmapped code must not get a canonical id")
	}
	if res.Problem.Suggestion == "" {
		t.Error("expected an advisory suggestion for a near match")
	}

	res, _ = m.Resolve(ctx, "t2", "fjord", core.ProductSourceCode, "ART-1001")
	if res.Problem == nil {
		t.Error("mapping leaked across tenants")
	}
}

func TestProductMapper_Universal(t *testing.T) {
	m := core.NewProductMapper(memdb.New())
	ctx := context.Background()

	tests := []struct {
		code    string
		want    string
		problem bool
	}{
		{"4006381333931", "04006381333931", false},
		{"36000291452", "00036000291452", false}, // UPC with leading zero lost by a spreadsheet
		{"4006381333932", "", true},
		{"ABC", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			res, err := m.Resolve(ctx, "t1", "bolt", core.ProductUniversal, tt.code)
			if err != nil {
				t.Fatal(err)
			}
			if (res.Problem != nil) != tt.problem || res.CanonicalID != tt.want {
				t.Errorf("Resolve(%s) = %+v", tt.code, res)
			}
		})
	}
}

func TestSuggestMappings(t *testing.T) {
	db := memdb.New()
	ctx := context.Background()
	svc := core.NewService(core.Deps{Repo: db}, core.PipelineConfig{})
	for code, id := range map[string]string{"SKU-12345": "P1", "SKU-12346": "P2", "TOTALLY-OTHER": "P3"} {
		if _, err := svc.ConfirmMapping(ctx, "t1", "pixel", code, id); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.SuggestMappings(ctx, "t1", "pixel", "sku-12347")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("suggestions = %+v, want 2", got)
	}
	for _, s := range got {
		if s.Similarity < core.SuggestThreshold {
			t.Errorf("suggestion below threshold: %+v", s)
		}
	}
	if got[0].SourceCode != "SKU-12345" {
		t.Errorf("ties should sort by code, got %s first", got[0].SourceCode)
	}
}
