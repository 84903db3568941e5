package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcules/stepcache/internal/config"
)

// Policy is a stored option override applied to every model with the given
// name when caching is enabled.
type Policy struct {
	ModelName string         `json:"model_name"`
	Options   config.Options `json:"options"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// UpsertPolicy validates p against the built-in defaults and stores it.
func (s *Store) UpsertPolicy(ctx context.Context, p Policy) error {
	if s.db == nil {
		return nil
	}
	if _, err := config.Defaults().Resolve(p.Options); err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}

	o := p.Options
	var strategy sql.NullString
	if o.Strategy != nil {
		strategy = sql.NullString{String: o.Strategy.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache_policies(model_name, strategy, skip_interval, warmup_steps, noise_scale, enable_stats, debug, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(model_name) DO UPDATE SET
  strategy=excluded.strategy,
  skip_interval=excluded.skip_interval,
  warmup_steps=excluded.warmup_steps,
  noise_scale=excluded.noise_scale,
  enable_stats=excluded.enable_stats,
  debug=excluded.debug,
  updated_at=excluded.updated_at;
`, p.ModelName, strategy, nullInt(o.SkipInterval), nullInt(o.WarmupSteps), nullFloat(o.NoiseScale),
		nullBool(o.EnableStats), nullBool(o.Debug), p.UpdatedAt.UnixMilli())
	return err
}

func (s *Store) GetPolicy(ctx context.Context, modelName string) (Policy, bool, error) {
	if s.db == nil {
		return Policy{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `
SELECT model_name, strategy, skip_interval, warmup_steps, noise_scale, enable_stats, debug, updated_at
FROM cache_policies WHERE model_name=?;
`, modelName)

	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	return p, true, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]Policy, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT model_name, strategy, skip_interval, warmup_steps, noise_scale, enable_stats, debug, updated_at
FROM cache_policies
ORDER BY model_name ASC;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePolicy(ctx context.Context, modelName string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache_policies WHERE model_name=?;", modelName)
	return err
}

// CachePolicy makes the store a registry policy source.
func (s *Store) CachePolicy(ctx context.Context, modelName string) (config.Options, bool, error) {
	p, ok, err := s.GetPolicy(ctx, modelName)
	if err != nil || !ok {
		return config.Options{}, ok, err
	}
	return p.Options, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(sc scanner) (Policy, error) {
	var (
		p                  Policy
		strategy           sql.NullString
		skip, warmup       sql.NullInt64
		noise              sql.NullFloat64
		enableStats, debug sql.NullBool
		updatedAt          int64
	)
	if err := sc.Scan(&p.ModelName, &strategy, &skip, &warmup, &noise, &enableStats, &debug, &updatedAt); err != nil {
		return Policy{}, err
	}

	if strategy.Valid {
		st, err := config.ParseStrategy(strategy.String)
		if err != nil {
			return Policy{}, err
		}
		p.Options.Strategy = &st
	}
	if skip.Valid {
		n := int(skip.Int64)
		p.Options.SkipInterval = &n
	}
	if warmup.Valid {
		n := int(warmup.Int64)
		p.Options.WarmupSteps = &n
	}
	if noise.Valid {
		p.Options.NoiseScale = &noise.Float64
	}
	if enableStats.Valid {
		p.Options.EnableStats = &enableStats.Bool
	}
	if debug.Valid {
		p.Options.Debug = &debug.Bool
	}
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return p, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolToInt(*v)), Valid: true}
}
