// Package sim is an in-memory gateway used by tests and replay runs. It
// records every command it receives and can be told to fail the next N
// calls of an operation, which is how the executor's retry and fail-held
// paths get exercised.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Jakers471/risk-manager/domain"
	"github.com/Jakers471/risk-manager/gateway"
)

// ErrInjected is returned by operations failed on purpose.
var ErrInjected = errors.New("injected gateway failure")

// Command is one recorded gateway call.
type Command struct {
	Op         string // "place", "cancel", "cancel_all", "close", "reduce"
	OrderID    string
	ContractID string
	Size       float64
}

type Gateway struct {
	mu         sync.Mutex
	commands   []Command
	openOrders []domain.OrderRef
	failures   map[string]int
	nextID     int
	log        *slog.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

func New(log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		failures: make(map[string]int),
		log:      log.With("component", "sim-gateway"),
	}
}

// FailNext makes the next n calls of op fail with ErrInjected.
func (g *Gateway) FailNext(op string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = n
}

// SetOpenOrders seeds the working-order list returned by OpenOrders.
func (g *Gateway) SetOpenOrders(orders []domain.OrderRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openOrders = append([]domain.OrderRef(nil), orders...)
}

// Commands returns a copy of everything recorded so far.
func (g *Gateway) Commands() []Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Command(nil), g.commands...)
}

// CommandsOf returns only the recorded calls of one operation.
func (g *Gateway) CommandsOf(op string) []Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Command
	for _, c := range g.commands {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) record(ctx context.Context, c Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.failures[c.Op]; n > 0 {
		g.failures[c.Op] = n - 1
		return fmt.Errorf("%s: %w", c.Op, ErrInjected)
	}
	g.commands = append(g.commands, c)
	return nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req gateway.OrderRequest) (domain.OrderRef, error) {
	err := g.record(ctx, Command{Op: "place", ContractID: req.ContractID, Size: req.Size})
	if err != nil {
		return domain.OrderRef{}, err
	}
	g.mu.Lock()
	g.nextID++
	id := fmt.Sprintf("sim-%d", g.nextID)
	g.mu.Unlock()
	g.log.Debug("order placed", "order", id, "contract", req.ContractID)
	return domain.OrderRef{OrderID: id, ContractID: req.ContractID, Side: req.Side, Size: req.Size}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.record(ctx, Command{Op: "cancel", OrderID: orderID})
}

func (g *Gateway) CancelAllOrders(ctx context.Context, contractID string) error {
	return g.record(ctx, Command{Op: "cancel_all", ContractID: contractID})
}

func (g *Gateway) ClosePosition(ctx context.Context, contractID string) error {
	return g.record(ctx, Command{Op: "close", ContractID: contractID})
}

func (g *Gateway) ReducePosition(ctx context.Context, contractID string, size float64) error {
	return g.record(ctx, Command{Op: "reduce", ContractID: contractID, Size: size})
}

func (g *Gateway) OpenOrders(ctx context.Context) ([]domain.OrderRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.failures["open_orders"]; n > 0 {
		g.failures["open_orders"] = n - 1
		return nil, fmt.Errorf("open_orders: %w", ErrInjected)
	}
	return append([]domain.OrderRef(nil), g.openOrders...), nil
}
