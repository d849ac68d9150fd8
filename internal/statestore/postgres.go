package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nightfield/signalgate/internal/schema"
	"github.com/nightfield/signalgate/pkg/conn"
)

// ProfileRecord is the gorm-mapped durable form of schema.Profile.
// Decimal fields are stored as strings: gorm has no native mapping for
// yanun0323/decimal, and string preserves exact precision across
// restarts, unlike float64.
type ProfileRecord struct {
	ID             string `gorm:"primaryKey"`
	BrokerCredsRef string
	Equity         string
	TradingEnabled bool
	Connection     uint8
	RiskConfig     string `gorm:"type:jsonb"`
	CreatedAt      time.Time
	PeakEquity     string
}

// TableName pins the table name rather than letting gorm pluralize it.
func (ProfileRecord) TableName() string { return "profiles" }

// PositionRecord is the gorm-mapped durable form of schema.Position.
type PositionRecord struct {
	Ticket         string `gorm:"primaryKey"`
	ProfileID      string `gorm:"index"`
	Symbol         string
	Direction      uint8
	Volume         string
	EntryPrice     string
	StopLoss       string
	TakeProfit     string
	CurrentMark    string
	OriginChainID  string
	OriginSignalID string
	OpenedAt       time.Time
	ClosedAt       time.Time
	Closed         bool `gorm:"index"`
}

func (PositionRecord) TableName() string { return "positions" }

// ReturnSampleRecord stores one rolling-return observation per
// (profile, symbol) pair, consumed by RiskSizer's correlation policy.
type ReturnSampleRecord struct {
	ID        uint `gorm:"primaryKey"`
	ProfileID string `gorm:"index:idx_return_profile_symbol"`
	Symbol    string `gorm:"index:idx_return_profile_symbol"`
	Return    float64
	At        time.Time `gorm:"index"`
}

func (ReturnSampleRecord) TableName() string { return "return_samples" }

// PostgresConfig configures the durable profile/position store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// PostgresStore persists profiles, positions, and rolling-return
// samples, grounded on the connection-pool wrapper shared with the
// rest of the gateway.
type PostgresStore struct {
	client *conn.Client
}

// OpenPostgres dials Postgres and ensures the schema exists.
func OpenPostgres(cfg PostgresConfig) (*PostgresStore, error) {
	client, err := conn.New(conn.Option{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		SSLMode:  cfg.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("statestore: connect to postgres: %w", err)
	}

	db := client.DB()
	if err := db.AutoMigrate(&ProfileRecord{}, &PositionRecord{}, &ReturnSampleRecord{}); err != nil {
		return nil, fmt.Errorf("statestore: migrate schema: %w", err)
	}
	return &PostgresStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.client.Close()
}

func (s *PostgresStore) db(ctx context.Context) *gorm.DB {
	return s.client.DB().WithContext(ctx)
}

// GetProfile loads a profile by id, reporting false if it does not
// exist rather than an error, matching gate.ProfileReader's contract.
func (s *PostgresStore) GetProfile(ctx context.Context, id schema.ProfileID) (schema.Profile, bool, error) {
	var rec ProfileRecord
	err := s.db(ctx).Where("id = ?", string(id)).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return schema.Profile{}, false, nil
		}
		return schema.Profile{}, false, err
	}

	var open []PositionRecord
	if err := s.db(ctx).Where("profile_id = ? AND closed = ?", string(id), false).Find(&open).Error; err != nil {
		return schema.Profile{}, false, err
	}
	ids := make([]string, 0, len(open))
	for _, p := range open {
		ids = append(ids, p.Ticket)
	}

	profile, err := recordToProfile(rec, ids)
	return profile, true, err
}

// UpsertProfile writes the full profile record, used by admin
// provisioning and by equity updates after fills.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p schema.Profile, peakEquity string) error {
	rec, err := profileToRecord(p, peakEquity)
	if err != nil {
		return err
	}
	return s.db(ctx).Save(&rec).Error
}

// OpenPositions returns the profile's currently open positions.
func (s *PostgresStore) OpenPositions(ctx context.Context, profileID schema.ProfileID) ([]schema.Position, error) {
	var recs []PositionRecord
	if err := s.db(ctx).Where("profile_id = ? AND closed = ?", string(profileID), false).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]schema.Position, 0, len(recs))
	for _, r := range recs {
		pos, err := recordToPosition(r)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// UpsertPosition writes a position, used on open, mark update, and
// close (Closed=true, ClosedAt set).
func (s *PostgresStore) UpsertPosition(ctx context.Context, p schema.Position) error {
	rec := positionToRecord(p)
	return s.db(ctx).Save(&rec).Error
}

// RecordReturn appends a rolling-return sample, trimming history older
// than lookback samples is left to the caller's query window rather
// than deletion here, so Export/audit tooling can still see history.
func (s *PostgresStore) RecordReturn(ctx context.Context, profileID schema.ProfileID, symbol string, ret float64, at time.Time) error {
	rec := ReturnSampleRecord{ProfileID: string(profileID), Symbol: symbol, Return: ret, At: at}
	return s.db(ctx).Create(&rec).Error
}

// RollingReturns loads the most recent lookback return samples per
// symbol the profile currently holds or has recently traded.
func (s *PostgresStore) RollingReturns(ctx context.Context, profileID schema.ProfileID, symbols []string, lookback int) (map[string][]float64, error) {
	out := make(map[string][]float64, len(symbols))
	for _, symbol := range symbols {
		var recs []ReturnSampleRecord
		if err := s.db(ctx).Where("profile_id = ? AND symbol = ?", string(profileID), symbol).
			Order("at desc").Limit(lookback).Find(&recs).Error; err != nil {
			return nil, err
		}
		series := make([]float64, len(recs))
		for i, r := range recs {
			series[len(recs)-1-i] = r.Return
		}
		out[symbol] = series
	}
	return out, nil
}

func profileToRecord(p schema.Profile, peakEquity string) (ProfileRecord, error) {
	riskJSON, err := encodeRiskConfig(p.RiskConfig)
	if err != nil {
		return ProfileRecord{}, err
	}
	return ProfileRecord{
		ID:             string(p.ID),
		BrokerCredsRef: p.BrokerCredsRef,
		Equity:         p.Equity.String(),
		TradingEnabled: p.TradingEnabled,
		Connection:     uint8(p.Connection),
		RiskConfig:     riskJSON,
		CreatedAt:      p.CreatedAt,
		PeakEquity:     peakEquity,
	}, nil
}

func recordToProfile(rec ProfileRecord, openPositionIDs []string) (schema.Profile, error) {
	equity, err := decimalFromString(rec.Equity)
	if err != nil {
		return schema.Profile{}, err
	}
	riskCfg, err := decodeRiskConfig(rec.RiskConfig)
	if err != nil {
		return schema.Profile{}, err
	}
	return schema.Profile{
		ID:              schema.ProfileID(rec.ID),
		BrokerCredsRef:  rec.BrokerCredsRef,
		Equity:          equity,
		TradingEnabled:  rec.TradingEnabled,
		Connection:      schema.ConnectionState(rec.Connection),
		RiskConfig:      riskCfg,
		CreatedAt:       rec.CreatedAt,
		OpenPositionIDs: openPositionIDs,
	}, nil
}

func positionToRecord(p schema.Position) PositionRecord {
	return PositionRecord{
		Ticket:         p.Ticket,
		ProfileID:      string(p.ProfileID),
		Symbol:         p.Symbol,
		Direction:      uint8(p.Direction),
		Volume:         p.Volume.String(),
		EntryPrice:     p.EntryPrice.String(),
		StopLoss:       p.StopLoss.String(),
		TakeProfit:     p.TakeProfit.String(),
		CurrentMark:    p.CurrentMark.String(),
		OriginChainID:  string(p.OriginChainID),
		OriginSignalID: string(p.OriginSignalID),
		OpenedAt:       p.OpenedAt,
		ClosedAt:       p.ClosedAt,
		Closed:         p.Closed,
	}
}

func recordToPosition(r PositionRecord) (schema.Position, error) {
	volume, err := decimalFromString(r.Volume)
	if err != nil {
		return schema.Position{}, err
	}
	entry, err := decimalFromString(r.EntryPrice)
	if err != nil {
		return schema.Position{}, err
	}
	stop, err := decimalFromString(r.StopLoss)
	if err != nil {
		return schema.Position{}, err
	}
	target, err := decimalFromString(r.TakeProfit)
	if err != nil {
		return schema.Position{}, err
	}
	mark, err := decimalFromString(r.CurrentMark)
	if err != nil {
		return schema.Position{}, err
	}
	return schema.Position{
		Ticket:         r.Ticket,
		ProfileID:      schema.ProfileID(r.ProfileID),
		Symbol:         r.Symbol,
		Direction:      schema.Direction(r.Direction),
		Volume:         volume,
		EntryPrice:     entry,
		StopLoss:       stop,
		TakeProfit:     target,
		CurrentMark:    mark,
		OriginChainID:  schema.ChainID(r.OriginChainID),
		OriginSignalID: schema.SignalID(r.OriginSignalID),
		OpenedAt:       r.OpenedAt,
		ClosedAt:       r.ClosedAt,
		Closed:         r.Closed,
	}, nil
}
