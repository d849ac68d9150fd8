package statestore

import (
	"context"
	"time"

	"github.com/yanun0323/decimal"

	"github.com/nightfield/signalgate/internal/schema"
)

// Store composes the Postgres durable layer and the Redis fast-path
// layer into the single collaborator the rest of the gateway depends
// on: it satisfies gate.IdempotencyStore, gate.RateLimiter, and
// gate.ProfileReader, and builds the schema.ProfileSnapshot RiskSizer
// reads at entry.
type Store struct {
	pg    *PostgresStore
	redis *RedisClient

	CVaRLookback int
}

// New wires the two backing stores together.
func New(pg *PostgresStore, redis *RedisClient, cvarLookback int) *Store {
	if cvarLookback <= 0 {
		cvarLookback = 60
	}
	return &Store{pg: pg, redis: redis, CVaRLookback: cvarLookback}
}

// Close releases both backing connections.
func (s *Store) Close() error {
	pgErr := s.pg.Close()
	redisErr := s.redis.Close()
	if pgErr != nil {
		return pgErr
	}
	return redisErr
}

// SeenRecently implements gate.IdempotencyStore by delegating to Redis,
// the only store with TTL-based expiry.
func (s *Store) SeenRecently(ctx context.Context, key string) (schema.ChainID, bool, error) {
	return s.redis.SeenRecently(ctx, key)
}

// MarkSeen implements gate.IdempotencyStore.
func (s *Store) MarkSeen(ctx context.Context, key string, chainID schema.ChainID) error {
	return s.redis.MarkSeen(ctx, key, chainID)
}

// Allow implements gate.RateLimiter by delegating to Redis, so the
// bucket is shared across every gateway instance behind a load
// balancer.
func (s *Store) Allow(ctx context.Context, profileID schema.ProfileID, producerID schema.ProducerID) (bool, error) {
	return s.redis.Allow(ctx, profileID, producerID)
}

// Get implements gate.ProfileReader.
func (s *Store) Get(ctx context.Context, profileID schema.ProfileID) (schema.Profile, bool, error) {
	return s.pg.GetProfile(ctx, profileID)
}

// UpsertProfile persists a profile, deriving peak equity by taking the
// max of the stored peak and the current equity so that a manual
// equity correction downward never resets a drawdown in progress.
func (s *Store) UpsertProfile(ctx context.Context, p schema.Profile) error {
	prevPeak, err := s.peakEquity(ctx, p.ID, p.Equity)
	if err != nil {
		return err
	}
	peak := prevPeak
	if p.Equity.Cmp(peak) > 0 {
		peak = p.Equity
	}
	return s.pg.UpsertProfile(ctx, p, peak.String())
}

func (s *Store) peakEquity(ctx context.Context, id schema.ProfileID, fallback decimal.Decimal) (decimal.Decimal, error) {
	var rec ProfileRecord
	err := s.pg.db(ctx).Select("peak_equity").Where("id = ?", string(id)).Take(&rec).Error
	if err != nil {
		return fallback, nil
	}
	if rec.PeakEquity == "" {
		return fallback, nil
	}
	return decimalFromString(rec.PeakEquity)
}

// RecordFill appends a rolling-return sample for the symbol, read back
// by Snapshot for RiskSizer's CVaR and correlation policies.
func (s *Store) RecordFill(ctx context.Context, profileID schema.ProfileID, symbol string, ret float64, at time.Time) error {
	return s.pg.RecordReturn(ctx, profileID, symbol, ret, at)
}

// UpsertPosition persists a position on open, mark update, or close.
func (s *Store) UpsertPosition(ctx context.Context, p schema.Position) error {
	return s.pg.UpsertPosition(ctx, p)
}

// Snapshot builds the consistent, point-in-time schema.ProfileSnapshot
// RiskSizer reads at entry: open positions, peak equity, drawdown
// fraction, and rolling-return series per symbol currently held or
// about to be traded.
func (s *Store) Snapshot(ctx context.Context, profileID schema.ProfileID, candidateSymbol string) (schema.ProfileSnapshot, error) {
	profile, ok, err := s.pg.GetProfile(ctx, profileID)
	if err != nil {
		return schema.ProfileSnapshot{}, err
	}
	if !ok {
		return schema.ProfileSnapshot{}, nil
	}

	open, err := s.pg.OpenPositions(ctx, profileID)
	if err != nil {
		return schema.ProfileSnapshot{}, err
	}

	var rec ProfileRecord
	peak := profile.Equity
	if err := s.pg.db(ctx).Select("peak_equity").Where("id = ?", string(profileID)).Take(&rec).Error; err == nil && rec.PeakEquity != "" {
		if p, err := decimalFromString(rec.PeakEquity); err == nil {
			peak = p
		}
	}

	drawdown := 0.0
	if peakF, _ := peak.Float64(); peakF > 0 {
		if eqF, _ := profile.Equity.Float64(); eqF < peakF {
			drawdown = (peakF - eqF) / peakF
		}
	}

	symbols := map[string]bool{candidateSymbol: true}
	for _, p := range open {
		symbols[p.Symbol] = true
	}
	symbolList := make([]string, 0, len(symbols))
	for sym := range symbols {
		symbolList = append(symbolList, sym)
	}

	returns, err := s.pg.RollingReturns(ctx, profileID, symbolList, s.CVaRLookback)
	if err != nil {
		return schema.ProfileSnapshot{}, err
	}

	return schema.ProfileSnapshot{
		Profile:        profile,
		OpenPositions:  open,
		PeakEquity:     peak,
		Drawdown:       drawdown,
		RollingReturns: returns,
	}, nil
}
