package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/identity"
	"github.com/obsrvr/tradeledger/internal/model"
	"github.com/obsrvr/tradeledger/internal/pipeline"
)

// OrgStore implements identity.OrgStore against organizations_master,
// using pg_trgm's similarity() for fuzzy candidate ranking, per the
// approach already noted in internal/identity/similarity.go.
type OrgStore struct {
	pool *db.Pool
}

func NewOrgStore(pool *db.Pool) *OrgStore { return &OrgStore{pool: pool} }

func (o *OrgStore) ExactMatch(ctx context.Context, tuples []identity.Tuple) (map[identity.Tuple]uuid.UUID, error) {
	out := make(map[identity.Tuple]uuid.UUID, len(tuples))
	if len(tuples) == 0 {
		return out, nil
	}
	names := make([]string, len(tuples))
	countries := make([]string, len(tuples))
	for i, t := range tuples {
		names[i] = t.NormalizedName
		countries[i] = t.Country
	}
	rows, err := o.pool.Query(ctx, `
		SELECT uuid, normalized_name, country
		FROM organizations_master
		WHERE (normalized_name, country) IN (
			SELECT * FROM unnest($1::text[], $2::text[])
		)
	`, names, countries)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk exact-match organizations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name, country string
		if err := rows.Scan(&id, &name, &country); err != nil {
			return nil, fmt.Errorf("failed to scan exact match row: %w", err)
		}
		out[identity.Tuple{NormalizedName: name, Country: country}] = id
	}
	return out, rows.Err()
}

func (o *OrgStore) FuzzyCandidates(ctx context.Context, country, normalizedName string, threshold float64) ([]identity.FuzzyHit, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT uuid, similarity(normalized_name, $2) AS sim
		FROM organizations_master
		WHERE country = $1 AND normalized_name % $2 AND similarity(normalized_name, $2) >= $3
		ORDER BY sim DESC
	`, country, normalizedName, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to fuzzy-match organizations: %w", err)
	}
	defer rows.Close()

	var hits []identity.FuzzyHit
	for rows.Next() {
		var hit identity.FuzzyHit
		if err := rows.Scan(&hit.UUID, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan fuzzy hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (o *OrgStore) InsertOrGet(ctx context.Context, tuple identity.Tuple, role identity.Role, rawName string) (uuid.UUID, bool, error) {
	id := uuid.New()
	var returned uuid.UUID
	err := o.pool.QueryRow(ctx, `
		INSERT INTO organizations_master (uuid, normalized_name, country, type, raw_name_variants, first_seen, last_seen, transaction_count)
		VALUES ($1, $2, $3, $4, ARRAY[$5]::text[], now(), now(), 0)
		ON CONFLICT (normalized_name, country) DO NOTHING
		RETURNING uuid
	`, id, tuple.NormalizedName, tuple.Country, role, rawName).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent writer won the race; fetch the row it created.
		existing, err := o.pool.Query(ctx, `
			SELECT uuid FROM organizations_master WHERE normalized_name = $1 AND country = $2
		`, tuple.NormalizedName, tuple.Country)
		if err != nil {
			return uuid.UUID{}, false, fmt.Errorf("failed to look up organization after insert race: %w", err)
		}
		defer existing.Close()
		if existing.Next() {
			var winner uuid.UUID
			if err := existing.Scan(&winner); err != nil {
				return uuid.UUID{}, false, fmt.Errorf("failed to scan organization after insert race: %w", err)
			}
			return winner, false, nil
		}
		return uuid.UUID{}, false, fmt.Errorf("organization insert race: %w", pipeline.ErrConstraintViolation)
	}
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("failed to insert organization: %w", err)
	}
	return returned, true, nil
}

func (o *OrgStore) PromoteToMixed(ctx context.Context, id uuid.UUID) error {
	_, err := o.pool.Exec(ctx, `
		UPDATE organizations_master SET type = $2, last_seen = now() WHERE uuid = $1
	`, id, model.OrgMixed)
	if err != nil {
		return fmt.Errorf("failed to promote organization to MIXED: %w", err)
	}
	return nil
}

func (o *OrgStore) AppendVariant(ctx context.Context, id uuid.UUID, rawName string) error {
	_, err := o.pool.Exec(ctx, `
		UPDATE organizations_master
		SET raw_name_variants = array_append(raw_name_variants, $2),
		    last_seen = now(),
		    transaction_count = transaction_count + 1
		WHERE uuid = $1 AND NOT ($2 = ANY(raw_name_variants))
	`, id, rawName)
	if err != nil {
		return fmt.Errorf("failed to append raw name variant: %w", err)
	}
	return nil
}

func (o *OrgStore) TypeOf(ctx context.Context, id uuid.UUID) (identity.Role, error) {
	var typ identity.Role
	err := o.pool.QueryRow(ctx, `SELECT type FROM organizations_master WHERE uuid = $1`, id).Scan(&typ)
	if err != nil {
		return "", fmt.Errorf("failed to read organization type: %w", err)
	}
	return typ, nil
}

// StdRowStore implements identity.StdRowStore against standardized_rows.
type StdRowStore struct {
	pool *db.Pool
}

func NewStdRowStore(pool *db.Pool) *StdRowStore { return &StdRowStore{pool: pool} }

func (s *StdRowStore) PendingCandidates(ctx context.Context, limit int) ([]identity.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, $1::text AS role, buyer_name_raw, destination_country
		FROM standardized_rows
		WHERE buyer_uuid IS NULL AND buyer_name_raw <> '' AND NOT buyer_identity_rejected
		LIMIT $2
	`, model.OrgBuyer, limit/2)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending buyer candidates: %w", err)
	}
	candidates, err := scanCandidates(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	supplierRows, err := s.pool.Query(ctx, `
		SELECT id, $1::text AS role, supplier_name_raw, origin_country
		FROM standardized_rows
		WHERE supplier_uuid IS NULL AND supplier_name_raw <> '' AND NOT supplier_identity_rejected
		LIMIT $2
	`, model.OrgSupplier, limit/2)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending supplier candidates: %w", err)
	}
	supplierCandidates, err := scanCandidates(supplierRows)
	supplierRows.Close()
	if err != nil {
		return nil, err
	}

	return append(candidates, supplierCandidates...), nil
}

func scanCandidates(rows pgx.Rows) ([]identity.Candidate, error) {
	var out []identity.Candidate
	for rows.Next() {
		var c identity.Candidate
		if err := rows.Scan(&c.StdID, &c.Role, &c.RawName, &c.Country); err != nil {
			return nil, fmt.Errorf("failed to scan identity candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *StdRowStore) WriteBackBuyer(ctx context.Context, stdIDs []int64, buyerUUID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE standardized_rows SET buyer_uuid = $2 WHERE id = ANY($1)
	`, stdIDs, buyerUUID)
	if err != nil {
		return fmt.Errorf("failed to write back buyer uuid: %w", err)
	}
	return nil
}

func (s *StdRowStore) WriteBackSupplier(ctx context.Context, stdIDs []int64, supplierUUID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE standardized_rows SET supplier_uuid = $2 WHERE id = ANY($1)
	`, stdIDs, supplierUUID)
	if err != nil {
		return fmt.Errorf("failed to write back supplier uuid: %w", err)
	}
	return nil
}

// MarkBuyerUnresolvable/MarkSupplierUnresolvable stamp a durable rejection
// marker on rows whose raw name normalizes to empty, so PendingCandidates
// excludes them on every future call instead of re-fetching and re-dropping
// them forever.
func (s *StdRowStore) MarkBuyerUnresolvable(ctx context.Context, stdIDs []int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE standardized_rows SET buyer_identity_rejected = true WHERE id = ANY($1)
	`, stdIDs)
	if err != nil {
		return fmt.Errorf("failed to mark buyer candidates unresolvable: %w", err)
	}
	return nil
}

func (s *StdRowStore) MarkSupplierUnresolvable(ctx context.Context, stdIDs []int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE standardized_rows SET supplier_identity_rejected = true WHERE id = ANY($1)
	`, stdIDs)
	if err != nil {
		return fmt.Errorf("failed to mark supplier candidates unresolvable: %w", err)
	}
	return nil
}
