// Package gateway defines the outbound command surface toward the
// broker-connectivity collaborator. The core only ever talks to this
// interface; wire concerns live outside.
package gateway

import (
	"context"

	"github.com/Jakers471/risk-manager/domain"
)

// OrderRequest describes one order to place.
type OrderRequest struct {
	ContractID string
	Side       string // "buy" or "sell"
	Size       float64
	Type       string // "market", "limit", "stop"
	Price      float64
}

// Gateway executes trading commands and answers order queries. All calls
// take a context; enforcement dispatches them with a timeout.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (domain.OrderRef, error)
	CancelOrder(ctx context.Context, orderID string) error
	// CancelAllOrders cancels every working order, or only those on the
	// given contract when contractID is non-empty.
	CancelAllOrders(ctx context.Context, contractID string) error
	ClosePosition(ctx context.Context, contractID string) error
	ReducePosition(ctx context.Context, contractID string, size float64) error
	// OpenOrders lists working orders; used as the protective-order
	// cache-miss fallback.
	OpenOrders(ctx context.Context) ([]domain.OrderRef, error)
}
