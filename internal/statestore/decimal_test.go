package statestore

import (
	"testing"

	"github.com/nightfield/signalgate/internal/schema"
)

func TestDecimalFromStringEmptyIsZero(t *testing.T) {
	d, err := decimalFromString("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsZero() {
		t.Fatalf("expected an empty string to parse as zero, got %s", d.String())
	}
}

func TestDecimalFromStringParsesValue(t *testing.T) {
	d, err := decimalFromString("123.45")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "123.45" {
		t.Fatalf("String() = %s, want 123.45", d.String())
	}
}

func TestDecimalFromStringRejectsGarbage(t *testing.T) {
	if _, err := decimalFromString("not-a-number"); err == nil {
		t.Fatalf("expected an error parsing a non-numeric string")
	}
}

func TestRiskConfigEncodeDecodeRoundTrips(t *testing.T) {
	cfg := schema.RiskConfig{MaxPositions: 3, MaxRiskPerTradeFraction: 0.02}
	encoded, err := encodeRiskConfig(cfg)
	if err != nil {
		t.Fatalf("encodeRiskConfig failed: %v", err)
	}

	decoded, err := decodeRiskConfig(encoded)
	if err != nil {
		t.Fatalf("decodeRiskConfig failed: %v", err)
	}
	if decoded.MaxPositions != cfg.MaxPositions || decoded.MaxRiskPerTradeFraction != cfg.MaxRiskPerTradeFraction {
		t.Fatalf("decoded = %+v, want %+v", decoded, cfg)
	}
}

func TestDecodeRiskConfigEmptyStringIsZeroValue(t *testing.T) {
	decoded, err := decodeRiskConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != (schema.RiskConfig{}) {
		t.Fatalf("expected a zero-value RiskConfig for an empty string, got %+v", decoded)
	}
}

func TestDecodeRiskConfigRejectsMalformedJSON(t *testing.T) {
	if _, err := decodeRiskConfig("{not json"); err == nil {
		t.Fatalf("expected an error decoding malformed JSON")
	}
}
