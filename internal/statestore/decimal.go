package statestore

import (
	"encoding/json"
	"fmt"

	"github.com/yanun0323/decimal"

	"github.com/nightfield/signalgate/internal/schema"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.NewFromInt(0), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal(""), fmt.Errorf("statestore: parse decimal %q: %w", s, err)
	}
	return d, nil
}

func encodeRiskConfig(cfg schema.RiskConfig) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("statestore: encode risk config: %w", err)
	}
	return string(b), nil
}

func decodeRiskConfig(raw string) (schema.RiskConfig, error) {
	var cfg schema.RiskConfig
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("statestore: decode risk config: %w", err)
	}
	return cfg, nil
}
