package tenants

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Sources lists where tenant records may come from, in priority order.
type Sources struct {
	Pool     *pgxpool.Pool
	File     string
	SeedJSON string
}

// Load builds the registry from the first configured source. With a database,
// the file and seed records are upserted into embed_apps before loading.
func Load(ctx context.Context, src Sources, log *zap.SugaredLogger) (*Registry, error) {
	var seed []Record
	if src.File != "" {
		recs, err := LoadFile(src.File)
		if err != nil {
			return nil, err
		}
		seed = append(seed, recs...)
	}
	if src.SeedJSON != "" {
		recs, err := ParseSeed(src.SeedJSON)
		if err != nil {
			return nil, err
		}
		seed = append(seed, recs...)
	}

	if src.Pool != nil {
		if err := EnsureSchema(ctx, src.Pool); err != nil {
			return nil, err
		}
		if err := SeedFromRecords(ctx, src.Pool, seed); err != nil {
			return nil, err
		}
		recs, err := LoadPostgres(ctx, src.Pool)
		if err != nil {
			return nil, err
		}
		log.Infow("tenant registry loaded", "source", "postgres", "count", len(recs))
		return NewRegistry(recs)
	}

	if len(seed) == 0 {
		log.Warnw("no tenant source configured, using dev tenant", "id", DevRecords()[0].ID)
		seed = DevRecords()
	}
	log.Infow("tenant registry loaded", "source", "static", "count", len(seed))
	return NewRegistry(seed)
}
