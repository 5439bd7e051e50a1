package order

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSymbolConstraintsValidate(t *testing.T) {
	c := SymbolConstraints{
		StepSize:  decimal.RequireFromString("0.001"),
		MinAmount: decimal.RequireFromString("0.001"),
		MaxAmount: decimal.NewFromInt(10),
	}
	if err := c.Validate(decimal.RequireFromString("0.1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Validate(decimal.RequireFromString("0.0015")); err == nil {
		t.Fatalf("expected step size error")
	}
	if err := c.Validate(decimal.RequireFromString("0.0005")); err == nil {
		t.Fatalf("expected min amount error")
	}
	if err := c.Validate(decimal.NewFromInt(11)); err == nil {
		t.Fatalf("expected max amount error")
	}
	if err := (SymbolConstraints{}).Validate(decimal.RequireFromString("0.123456")); err != nil {
		t.Fatalf("empty constraints must accept anything: %v", err)
	}
}
