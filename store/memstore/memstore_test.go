package memstore

import (
	"context"
	"errors"
	"testing"

	"tradebot-go/order"
	"tradebot-go/store"
	"tradebot-go/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestSaveError(t *testing.T) {
	s := New()
	s.SetSaveError(errors.New("boom"))
	err := s.Orders().SaveOrder(context.Background(), order.Order{ID: "x"})
	var pe *store.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	s.SetSaveError(nil)
	if err := s.Orders().SaveOrder(context.Background(), order.Order{ID: "x"}); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}
