package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/salesingest/internal/core"
)

// UpsertStore inserts the store or returns the existing one with the same
// normalized name. The no-op DO UPDATE makes RETURNING yield the existing row,
// so concurrent callers all get the same id.
func (db *DB) UpsertStore(ctx context.Context, s core.Store) (core.Store, error) {
	var out core.Store
	var channel string
	err := db.pool.QueryRow(ctx, `
		INSERT INTO stores (id, tenant_id, reseller_id, name, normalized_name, channel)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, reseller_id, normalized_name)
		DO UPDATE SET normalized_name = EXCLUDED.normalized_name
		RETURNING id, tenant_id, reseller_id, name, normalized_name, channel, created_at`,
		uuid.New(), s.TenantID, s.ResellerID, s.Name, s.NormalizedName, string(s.Channel),
	).Scan(&out.ID, &out.TenantID, &out.ResellerID, &out.Name, &out.NormalizedName, &channel, &out.CreatedAt)
	if err != nil {
		return core.Store{}, wrap("upsert store", err)
	}
	out.Channel = core.Channel(channel)
	return out, nil
}

const mappingColumns = `id, tenant_id, reseller_id, source_code, canonical_id, created_at`

func scanMapping(row pgx.Row) (core.ProductMapping, error) {
	var pm core.ProductMapping
	err := row.Scan(&pm.ID, &pm.TenantID, &pm.ResellerID, &pm.SourceCode, &pm.CanonicalID, &pm.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ProductMapping{}, core.ErrMappingNotFound
	}
	return pm, err
}

func (db *DB) GetProductMapping(ctx context.Context, tenantID, resellerID, sourceCode string) (core.ProductMapping, error) {
	pm, err := scanMapping(db.pool.QueryRow(ctx, `
		SELECT `+mappingColumns+` FROM product_mappings
		WHERE tenant_id = $1 AND reseller_id = $2 AND source_code = $3`,
		tenantID, resellerID, sourceCode))
	return pm, wrap("get product mapping", err)
}

func (db *DB) ListProductMappings(ctx context.Context, tenantID, resellerID string) ([]core.ProductMapping, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+mappingColumns+` FROM product_mappings
		WHERE tenant_id = $1 AND reseller_id = $2 ORDER BY source_code`,
		tenantID, resellerID)
	if err != nil {
		return nil, wrap("list product mappings", err)
	}
	defer rows.Close()

	var out []core.ProductMapping
	for rows.Next() {
		pm, err := scanMapping(rows)
		if err != nil {
			return nil, wrap("scan product mapping", err)
		}
		out = append(out, pm)
	}
	return out, wrap("list product mappings", rows.Err())
}

func (db *DB) UpsertProductMapping(ctx context.Context, pm core.ProductMapping) (core.ProductMapping, error) {
	out, err := scanMapping(db.pool.QueryRow(ctx, `
		INSERT INTO product_mappings (id, tenant_id, reseller_id, source_code, canonical_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, reseller_id, source_code)
		DO UPDATE SET canonical_id = EXCLUDED.canonical_id, updated_at = now()
		RETURNING `+mappingColumns,
		uuid.New(), pm.TenantID, pm.ResellerID, pm.SourceCode, pm.CanonicalID))
	return out, wrap("upsert product mapping", err)
}
