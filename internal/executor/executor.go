// Package executor turns trade instructions into real orders and
// accounts for what actually filled.
//
// A multi-hop instruction executes sequentially: each hop's output,
// computed from the exchange's reported fills net of commissions, is
// the next hop's input. Any failed hop aborts the rest of the path and
// the result reports whatever asset the funds ended up in. Instructions
// run concurrently through a small worker pool.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hydra/internal/market"
	"hydra/internal/risk"
	"hydra/pkg/types"
)

const maxWorkers = 5

// OrderClient is the slice of the exchange client the executor needs.
type OrderClient interface {
	TestOrder(ctx context.Context, symbol string, side types.Side, quantity decimal.Decimal) error
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, quantity decimal.Decimal) (*types.OrderResponse, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*types.OrderResponse, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Recorder persists finished executions.
type Recorder interface {
	Append(result types.ExecutionResult) error
}

// Executor places the orders for trade instructions.
type Executor struct {
	client   OrderClient
	recorder Recorder
	logger   *slog.Logger
}

// NewExecutor creates an executor. recorder may be nil to skip
// persistence.
func NewExecutor(client OrderClient, recorder Recorder, logger *slog.Logger) *Executor {
	return &Executor{
		client:   client,
		recorder: recorder,
		logger:   logger.With("component", "executor"),
	}
}

// ExecuteAll runs a batch of instructions concurrently and returns the
// results in completion order. Each result is persisted as it finishes.
func (e *Executor) ExecuteAll(ctx context.Context, graph *market.Graph, instructions []types.TradeInstruction) []types.ExecutionResult {
	if len(instructions) == 0 {
		return nil
	}

	workers := len(instructions)
	if workers > maxWorkers {
		workers = maxWorkers
	}

	jobs := make(chan types.TradeInstruction)
	out := make(chan types.ExecutionResult, len(instructions))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range jobs {
				out <- e.Execute(ctx, graph, in)
			}
		}()
	}

	for _, in := range instructions {
		jobs <- in
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]types.ExecutionResult, 0, len(instructions))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// Execute runs one instruction hop by hop.
func (e *Executor) Execute(ctx context.Context, graph *market.Graph, in types.TradeInstruction) types.ExecutionResult {
	start := time.Now()
	amount := in.Amount
	totalCommission := decimal.Zero

	result := types.ExecutionResult{
		InstructionID:          in.ID,
		Path:                   in.Path,
		InitialAmount:          in.Amount,
		PredictedProfitPercent: in.PredictedProfitPercent,
		Regime:                 in.Regime,
	}

	fail := func(hop types.Hop, err error) types.ExecutionResult {
		e.logger.Error("execution aborted",
			"instruction", in.ID, "symbol", hop.Symbol, "error", err)
		result.FinalAmount = amount
		result.ProfitLoss = amount.Sub(in.Amount)
		result.TotalCommission = totalCommission
		result.ExecutionTime = time.Since(start)
		result.Error = err.Error()
		e.record(result)
		return result
	}

	for _, hop := range in.Hops {
		si, ok := graph.SymbolInfo(hop.Symbol)
		if !ok || si.Status != types.StatusTrading {
			return fail(hop, fmt.Errorf("symbol %s not trading", hop.Symbol))
		}

		qty, err := e.orderQuantity(ctx, hop, si, amount)
		if err != nil {
			return fail(hop, err)
		}
		if !qty.IsPositive() {
			return fail(hop, fmt.Errorf("quantity %s below lot minimum", amount))
		}

		if err := e.client.TestOrder(ctx, hop.Symbol, hop.Side, qty); err != nil {
			return fail(hop, fmt.Errorf("test order: %w", err))
		}

		order, err := e.client.PlaceMarketOrder(ctx, hop.Symbol, hop.Side, qty)
		if err != nil {
			return fail(hop, fmt.Errorf("place order: %w", err))
		}
		if len(order.Fills) == 0 {
			// FULL responses normally carry fills; refetch once for the
			// ones that don't.
			if refreshed, gerr := e.client.GetOrder(ctx, hop.Symbol, order.OrderID); gerr == nil {
				order = refreshed
			}
		}

		received, commission, err := e.settle(ctx, hop, order)
		if err != nil {
			return fail(hop, err)
		}
		totalCommission = totalCommission.Add(commission)
		amount = received

		e.logger.Info("hop filled",
			"instruction", in.ID, "symbol", hop.Symbol, "side", hop.Side,
			"received", amount.String(), "asset", hop.To)
	}

	result.FinalAmount = amount
	result.ProfitLoss = amount.Sub(in.Amount)
	result.TotalCommission = totalCommission
	result.ExecutionTime = time.Since(start)
	result.Success = amount.GreaterThan(in.Amount)
	e.record(result)
	return result
}

// orderQuantity converts the held amount into the base quantity the
// order needs, snapped to the symbol's lot grid. A SELL spends the held
// base directly; a BUY holds the quote asset and derives the base
// quantity from the current price.
func (e *Executor) orderQuantity(ctx context.Context, hop types.Hop, si types.SymbolInfo, amount decimal.Decimal) (decimal.Decimal, error) {
	if hop.Side == types.SELL {
		return risk.AdjustQuantity(si.LotSize, amount), nil
	}
	price, err := e.client.TickerPrice(ctx, hop.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price for buy sizing: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("zero price for %s", hop.Symbol)
	}
	return risk.AdjustQuantity(si.LotSize, amount.Div(price)), nil
}

// settle computes what a filled order actually delivered. The received
// amount is net of commissions charged in the received asset; foreign
// commissions are valued in USDT for the commission total.
func (e *Executor) settle(ctx context.Context, hop types.Hop, order *types.OrderResponse) (received, commission decimal.Decimal, err error) {
	if len(order.Fills) == 0 {
		// No per-fill detail: fall back to the order totals, gross of
		// commission.
		var raw string
		if hop.Side == types.BUY {
			raw = order.ExecutedQty
		} else {
			raw = order.CummulativeQuoteQty
		}
		received, err = decimal.NewFromString(raw)
		if err != nil || !received.IsPositive() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("order %d reported no fills", order.OrderID)
		}
		return received, decimal.Zero, nil
	}

	received = decimal.Zero
	commission = decimal.Zero
	for _, fill := range order.Fills {
		price, perr := decimal.NewFromString(fill.Price)
		qty, qerr := decimal.NewFromString(fill.Qty)
		comm, cerr := decimal.NewFromString(fill.Commission)
		if perr != nil || qerr != nil || cerr != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("unparseable fill on order %d", order.OrderID)
		}

		if hop.Side == types.BUY {
			received = received.Add(qty)
		} else {
			received = received.Add(qty.Mul(price))
		}
		if fill.CommissionAsset == hop.To {
			received = received.Sub(comm)
		}
		commission = commission.Add(e.commissionValue(ctx, fill.CommissionAsset, comm))
	}
	return received, commission, nil
}

// commissionValue converts a commission into USDT terms. Unknown assets
// fall back to the raw figure.
func (e *Executor) commissionValue(ctx context.Context, asset string, amount decimal.Decimal) decimal.Decimal {
	if asset == "USDT" || amount.IsZero() {
		return amount
	}
	price, err := e.client.TickerPrice(ctx, asset+"USDT")
	if err != nil || !price.IsPositive() {
		e.logger.Warn("commission asset has no USDT price, using raw value", "asset", asset)
		return amount
	}
	return amount.Mul(price)
}

func (e *Executor) record(result types.ExecutionResult) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Append(result); err != nil {
		e.logger.Error("persist execution result failed",
			"instruction", result.InstructionID, "error", err)
	}
}
