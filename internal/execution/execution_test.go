package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptrader/internal/common"
	"cryptrader/internal/exchange"
	"cryptrader/internal/metrics"
	"cryptrader/internal/order"
	"cryptrader/internal/strategy"
)

type fakeConn struct {
	placeErrs   []error
	placeRes    *exchange.OrderResult
	statusRes   *exchange.OrderResult
	cancelErr   error
	placeCalls  int
	cancelCalls int
}

func (f *fakeConn) Name() string { return "fake" }
func (f *fakeConn) Ticker(context.Context, string) (*exchange.Ticker, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeConn) OrderBook(context.Context, string, int) (*exchange.OrderBook, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeConn) Candles(context.Context, string, string, int) ([]exchange.Candle, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeConn) Balances(context.Context) (map[string]exchange.Balance, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeConn) PlaceOrder(context.Context, exchange.OrderRequest) (*exchange.OrderResult, error) {
	f.placeCalls++
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.placeRes, nil
}
func (f *fakeConn) CancelOrder(context.Context, string, string) error {
	f.cancelCalls++
	return f.cancelErr
}
func (f *fakeConn) OrderStatus(context.Context, string, string) (*exchange.OrderResult, error) {
	return f.statusRes, nil
}
func (f *fakeConn) Fees() exchange.Fees { return exchange.Fees{} }

type fakePortfolio struct{ quote float64 }

func (f *fakePortfolio) QuoteBalance() float64        { return f.quote }
func (f *fakePortfolio) AssetBalance(string) float64  { return 0 }

type fillRecord struct {
	symbol, side  string
	amount, price float64
}

func setup(conn *fakeConn, dryRun bool) (*Executor, *order.Manager, *[]fillRecord) {
	orders := order.NewManager(10, 100)
	var fills []fillRecord
	onFill := func(symbol, side string, amount, price float64) {
		fills = append(fills, fillRecord{symbol, side, amount, price})
	}
	connectors := map[string]exchange.Connector{}
	if conn != nil {
		connectors["fake"] = conn
	}
	ex := New(connectors, "fake", orders, nil, metrics.NewWrapper(nil), dryRun, onFill)
	return ex, orders, &fills
}

func createOrder(t *testing.T, m *order.Manager, price float64) *order.Order {
	t.Helper()
	created := m.ProcessSignals([]strategy.Signal{{
		Strategy: "test", Symbol: "BTC/USDT", Action: common.SideBuy,
		Amount: 0.01, Price: price, Ts: time.Now(),
	}}, &fakePortfolio{quote: 10000})
	if len(created) != 1 {
		t.Fatalf("expected one order, got %d", len(created))
	}
	return created[0]
}

func TestExecute_DryRunFills(t *testing.T) {
	t.Parallel()

	ex, orders, fills := setup(nil, true)
	o := createOrder(t, orders, 50000)

	if err := ex.Execute(context.Background(), o); err != nil {
		t.Fatalf("execute: %v", err)
	}

	active, history := orders.Counts()
	if active != 0 || history != 1 {
		t.Fatalf("filled order must move to history, got %d active %d history", active, history)
	}
	h := orders.History(1)[0]
	if h.Status != common.OrderStatusFilled || h.AvgPrice != 50000 {
		t.Errorf("unexpected order state: %+v", h)
	}

	if len(*fills) != 1 {
		t.Fatalf("expected one fill callback, got %d", len(*fills))
	}
	if f := (*fills)[0]; f.symbol != "BTC/USDT" || f.side != common.SideBuy || f.amount != 0.01 || f.price != 50000 {
		t.Errorf("unexpected fill: %+v", f)
	}
}

func TestExecute_DryRunRejectsWithoutPrice(t *testing.T) {
	t.Parallel()

	ex, orders, fills := setup(nil, true)
	o := createOrder(t, orders, 0)

	if err := ex.Execute(context.Background(), o); err == nil {
		t.Fatal("dry-run order without a reference price must error")
	}
	if h := orders.History(1); len(h) != 1 || h[0].Status != common.OrderStatusRejected {
		t.Errorf("order must be rejected, got %+v", h)
	}
	if len(*fills) != 0 {
		t.Error("rejected order must not produce a fill")
	}
}

func TestExecute_LiveRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{
		placeErrs: []error{errors.New("connection reset by peer")},
		placeRes: &exchange.OrderResult{
			OrderID: "v-1", Symbol: "BTC/USDT", Side: common.SideBuy,
			Status: common.OrderStatusFilled, Filled: 0.01, AvgPrice: 50010, Ts: time.Now(),
		},
	}
	ex, orders, fills := setup(conn, false)
	o := createOrder(t, orders, 50000)

	if err := ex.Execute(context.Background(), o); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if conn.placeCalls != 2 {
		t.Errorf("expected a retry after the transient failure, got %d calls", conn.placeCalls)
	}

	h := orders.History(1)[0]
	if h.ExchangeID != "v-1" || h.Status != common.OrderStatusFilled {
		t.Errorf("unexpected order state: %+v", h)
	}
	if len(*fills) != 1 || (*fills)[0].price != 50010 {
		t.Errorf("fill must use the venue average price, got %+v", *fills)
	}
}

func TestExecute_LiveFatalErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{placeErrs: []error{errors.New("binance: insufficient balance")}}
	ex, orders, _ := setup(conn, false)
	o := createOrder(t, orders, 50000)

	if err := ex.Execute(context.Background(), o); err == nil {
		t.Fatal("fatal venue error must surface")
	}
	if conn.placeCalls != 1 {
		t.Errorf("fatal errors must not be retried, got %d calls", conn.placeCalls)
	}
	if h := orders.History(1); len(h) != 1 || h[0].Status != common.OrderStatusRejected {
		t.Errorf("order must be rejected, got %+v", h)
	}
}

func TestExecute_UnknownVenue(t *testing.T) {
	t.Parallel()

	ex, orders, _ := setup(nil, false)
	o := createOrder(t, orders, 50000)
	o.Exchange = "nonexistent"

	if err := ex.Execute(context.Background(), o); err == nil {
		t.Fatal("missing connector must error")
	}
	if h := orders.History(1); len(h) != 1 || h[0].Status != common.OrderStatusRejected {
		t.Errorf("order must be rejected, got %+v", h)
	}
}

func TestCancel_LiveWithdrawsSubmittedOrder(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	ex, orders, _ := setup(conn, false)
	o := createOrder(t, orders, 50000)
	orders.UpdateStatus(o.ID, common.OrderStatusSubmitted, 0, 0, time.Time{})
	orders.SetExchangeID(o.ID, "v-7")

	if err := ex.Cancel(context.Background(), o); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if conn.cancelCalls != 1 {
		t.Errorf("expected one venue cancel, got %d", conn.cancelCalls)
	}

	active, history := orders.Counts()
	if active != 0 || history != 1 {
		t.Fatalf("canceled order must move to history, got %d active %d history", active, history)
	}
	if h := orders.History(1)[0]; h.Status != common.OrderStatusCanceled {
		t.Errorf("unexpected order state: %+v", h)
	}
}

func TestCancel_VenueErrorKeepsOrder(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{cancelErr: errors.New("kraken: Unknown order")}
	ex, orders, _ := setup(conn, false)
	o := createOrder(t, orders, 50000)
	orders.UpdateStatus(o.ID, common.OrderStatusSubmitted, 0, 0, time.Time{})
	orders.SetExchangeID(o.ID, "v-7")

	if err := ex.Cancel(context.Background(), o); err == nil {
		t.Fatal("venue cancel failure must surface")
	}
	if active, _ := orders.Counts(); active != 1 {
		t.Error("order must stay active when the venue refuses the cancel")
	}
}

func TestCancel_DryRunAndTerminal(t *testing.T) {
	t.Parallel()

	ex, orders, _ := setup(nil, true)
	o := createOrder(t, orders, 50000)

	if err := ex.Cancel(context.Background(), o); err != nil {
		t.Fatalf("dry-run cancel needs no connector: %v", err)
	}
	if h := orders.History(1); len(h) != 1 || h[0].Status != common.OrderStatusCanceled {
		t.Errorf("unexpected order state: %+v", h)
	}

	// The order is now terminal, a second cancel must error.
	if err := ex.Cancel(context.Background(), o); err == nil {
		t.Error("canceling a terminal order must error")
	}
}

func TestReconcile_AppliesVenueFill(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{
		statusRes: &exchange.OrderResult{
			OrderID: "v-9", Symbol: "BTC/USDT", Side: common.SideBuy,
			Status: common.OrderStatusFilled, Filled: 0.01, AvgPrice: 49990, Ts: time.Now(),
		},
	}
	ex, orders, fills := setup(conn, false)
	o := createOrder(t, orders, 50000)
	orders.UpdateStatus(o.ID, common.OrderStatusSubmitted, 0, 0, time.Time{})
	orders.SetExchangeID(o.ID, "v-9")

	ex.Reconcile(context.Background())

	active, history := orders.Counts()
	if active != 0 || history != 1 {
		t.Fatalf("reconciled fill must close the order, got %d active %d history", active, history)
	}
	if len(*fills) != 1 || (*fills)[0].amount != 0.01 || (*fills)[0].price != 49990 {
		t.Errorf("unexpected fill: %+v", *fills)
	}
}

func TestReconcile_DryRunIsNoop(t *testing.T) {
	t.Parallel()

	ex, orders, fills := setup(nil, true)
	o := createOrder(t, orders, 50000)
	orders.UpdateStatus(o.ID, common.OrderStatusSubmitted, 0, 0, time.Time{})
	orders.SetExchangeID(o.ID, "v-1")

	ex.Reconcile(context.Background())

	if active, _ := orders.Counts(); active != 1 {
		t.Error("dry-run reconcile must leave orders untouched")
	}
	if len(*fills) != 0 {
		t.Error("dry-run reconcile must not record fills")
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"insufficient funds", errors.New("kraken: Insufficient funds"), false},
		{"invalid request", errors.New("binance: -1013 Invalid quantity"), false},
		{"unauthorized", errors.New("coinbase: Unauthorized"), false},
		{"min notional", errors.New("binance: Filter failure: MIN NOTIONAL"), false},
		{"network", errors.New("connection reset by peer"), true},
		{"timeout", errors.New("request failed: i/o timeout"), true},
		{"server error", errors.New("binance: status 502, body: bad gateway"), true},
	}
	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Errorf("%s: retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
