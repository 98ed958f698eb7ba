package order

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/hospitality-core/internal/domain/audit"
	"github.com/xenking/hospitality-core/internal/domain/auth"
	"github.com/xenking/hospitality-core/internal/domain/catalog"
)

// --- Mock implementations ---

type mockCatalog struct {
	items map[string]catalog.MenuItem
	err   error
}

func (m *mockCatalog) GetMenuItemsByIDs(_ context.Context, ids []string) ([]catalog.MenuItem, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.MenuItem
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// memOrderRepo applies conditional writes under a mutex, mirroring the
// single-statement guard of the SQL implementation.
type memOrderRepo struct {
	mu          sync.Mutex
	byID        map[string]Order
	dupNumbers  int
	createCalls int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{byID: make(map[string]Order)}
}

func (m *memOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.dupNumbers > 0 {
		m.dupNumbers--
		return ErrDuplicateNumber
	}
	m.byID[o.ID] = *o
	return nil
}

func (m *memOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (m *memOrderRepo) GetByNumber(_ context.Context, number string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.OrderNumber == number {
			return &o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *memOrderRepo) List(_ context.Context, f Filter) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

func (m *memOrderRepo) ChangeStatus(_ context.Context, c StatusChange) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[c.OrderID]
	if !ok {
		return "", ErrOrderNotFound
	}
	for _, from := range c.From {
		if o.Status == from {
			prev := o.Status
			o.Status = c.To
			if c.To == StatusCancelled {
				o.CancelReason = c.CancelReason
			}
			o.UpdatedAt = c.At
			m.byID[o.ID] = o
			return prev, nil
		}
	}
	return "", &MismatchError{Current: string(o.Status)}
}

func (m *memOrderRepo) ChangePayment(_ context.Context, c PaymentChange) (PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[c.OrderID]
	if !ok {
		return "", ErrOrderNotFound
	}
	for _, from := range c.From {
		if o.PaymentStatus == from {
			prev := o.PaymentStatus
			o.PaymentStatus = c.To
			if c.RefundAmount != nil {
				o.RefundAmount = c.RefundAmount
				o.RefundedAt = &c.At
			}
			if c.To == PaymentComped {
				o.CompReason = c.CompReason
				o.CompedAt = &c.At
			}
			m.byID[o.ID] = o
			return prev, nil
		}
	}
	return "", &MismatchError{Current: string(o.PaymentStatus)}
}

func (m *memOrderRepo) put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.ID] = o
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockAuditor struct {
	mu      sync.Mutex
	entries []audit.LogInput
	err     error
}

func (m *mockAuditor) LogActivity(_ context.Context, in audit.LogInput) (*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.entries = append(m.entries, in)
	return &audit.Entry{Action: in.Action, Resource: in.Resource}, nil
}

type emitted struct {
	channel string
	event   string
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (m *mockDispatcher) Emit(_ context.Context, channel, event string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, emitted{channel: channel, event: event})
	return m.err
}

type mockMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockMailer) SendEmail(_ context.Context, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return m.err
}

// --- Helpers ---

var testNow = time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)

type fixture struct {
	svc        *Service
	repo       *memOrderRepo
	auditor    *mockAuditor
	dispatcher *mockDispatcher
	mailer     *mockMailer
}

func newFixture(items ...catalog.MenuItem) *fixture {
	byID := make(map[string]catalog.MenuItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	f := &fixture{
		repo:       newMemOrderRepo(),
		auditor:    &mockAuditor{},
		dispatcher: &mockDispatcher{},
		mailer:     &mockMailer{},
	}
	numbers := NewNumberGenerator(0)
	numbers.now = func() time.Time { return testNow }
	f.svc = NewService(Params{
		Catalog:    &mockCatalog{items: byID},
		Orders:     f.repo,
		Tx:         passTx{},
		Audit:      f.auditor,
		Pricing:    NewEngine(DefaultPricing),
		Numbers:    numbers,
		Dispatcher: f.dispatcher,
		Mailer:     f.mailer,
	})
	f.svc.now = func() time.Time { return testNow }
	f.svc.async = func(fn func()) { fn() }
	return f
}

func menuItem(id string, price string, prep int) catalog.MenuItem {
	return catalog.MenuItem{
		ID:              id,
		Name:            "Item " + id,
		Price:           decimal.RequireFromString(price),
		IsAvailable:     true,
		ModuleID:        "restaurant",
		PrepTimeMinutes: prep,
	}
}

func seedOrder(f *fixture, status Status) Order {
	o := Order{
		ID:            "order-" + string(status),
		OrderNumber:   "ORD-20260504-" + strings.ToUpper(string(status)),
		OrderType:     TypeDineIn,
		Status:        status,
		PaymentStatus: PaymentPending,
		Totals:        Totals{Total: decimal.RequireFromString("40.25")},
	}
	f.repo.put(o)
	return o
}

var staff = auth.Actor{UserID: "0b8f8a1e-9d55-4c1e-b7a3-2a5e5a3c0d11", IPAddress: "10.1.1.1"}

// --- Tests ---

func TestCreateOrder_DineInScenario(t *testing.T) {
	f := newFixture(menuItem("burger", "10.00", 12), menuItem("salad", "15.00", 7))

	o, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		OrderType:     TypeDineIn,
		CustomerEmail: "guest@example.com",
		Items: []ItemInput{
			{MenuItemID: "burger", Quantity: 2},
			{MenuItemID: "salad", Quantity: 1},
		},
	}, staff)
	require.NoError(t, err)

	assert.Equal(t, "35", o.Subtotal.String())
	assert.Equal(t, "3.5", o.TaxAmount.String())
	assert.Equal(t, "1.75", o.ServiceCharge.String())
	assert.True(t, o.DeliveryFee.IsZero())
	assert.Equal(t, "40.25", o.Total.StringFixed(2))
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Regexp(t, `^ORD-20260504-[0-9A-HJKMNP-TV-Z]{6}$`, o.OrderNumber)
	assert.Equal(t, testNow.Add(17*time.Minute), o.EstimatedReadyTime)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "20", o.Items[0].Subtotal.String())

	require.Len(t, f.auditor.entries, 1)
	assert.Equal(t, audit.ActionCreate, f.auditor.entries[0].Action)
	assert.Equal(t, []emitted{{EventChannel, EventOrderCreated}}, f.dispatcher.events)
	assert.Equal(t, []string{"guest@example.com"}, f.mailer.sent)
}

func TestCreateOrder_Validation(t *testing.T) {
	unavailable := menuItem("soup", "6.00", 5)
	unavailable.IsAvailable = false

	tests := []struct {
		name    string
		req     CreateOrderRequest
		wantErr error
	}{
		{
			name:    "no items",
			req:     CreateOrderRequest{OrderType: TypeTakeaway},
			wantErr: ErrEmptyOrder,
		},
		{
			name:    "unknown order type",
			req:     CreateOrderRequest{OrderType: "drive_thru", Items: []ItemInput{{MenuItemID: "burger", Quantity: 1}}},
			wantErr: ErrInvalidOrderType,
		},
		{
			name:    "zero quantity",
			req:     CreateOrderRequest{OrderType: TypeTakeaway, Items: []ItemInput{{MenuItemID: "burger", Quantity: 0}}},
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "missing item",
			req:     CreateOrderRequest{OrderType: TypeTakeaway, Items: []ItemInput{{MenuItemID: "ghost", Quantity: 1}}},
			wantErr: ErrItemNotFound,
		},
		{
			name:    "unavailable item",
			req:     CreateOrderRequest{OrderType: TypeTakeaway, Items: []ItemInput{{MenuItemID: "soup", Quantity: 1}}},
			wantErr: ErrItemUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(menuItem("burger", "10.00", 10), unavailable)
			_, err := f.svc.CreateOrder(context.Background(), tt.req, staff)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.repo.createCalls)
			assert.Empty(t, f.auditor.entries)
		})
	}
}

func TestCreateOrder_CustomerID(t *testing.T) {
	ptr := func(s string) *string { return &s }

	t.Run("malformed", func(t *testing.T) {
		f := newFixture(menuItem("burger", "10.00", 10))
		_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
			CustomerID: ptr("guest-1"),
			OrderType:  TypeTakeaway,
			Items:      []ItemInput{{MenuItemID: "burger", Quantity: 1}},
		}, staff)

		require.ErrorIs(t, err, ErrInvalidCustomerID)
		assert.Zero(t, f.repo.createCalls)
		assert.Empty(t, f.auditor.entries)
	})

	t.Run("blank is a guest order", func(t *testing.T) {
		f := newFixture(menuItem("burger", "10.00", 10))
		o, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
			CustomerID: ptr("  "),
			OrderType:  TypeTakeaway,
			Items:      []ItemInput{{MenuItemID: "burger", Quantity: 1}},
		}, staff)

		require.NoError(t, err)
		assert.Nil(t, o.CustomerID)
	})

	t.Run("normalised", func(t *testing.T) {
		f := newFixture(menuItem("burger", "10.00", 10))
		o, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
			CustomerID: ptr(" 4B2E8C1A-7D3F-4E6B-9A05-1C2D3E4F5A6B "),
			OrderType:  TypeTakeaway,
			Items:      []ItemInput{{MenuItemID: "burger", Quantity: 1}},
		}, staff)

		require.NoError(t, err)
		require.NotNil(t, o.CustomerID)
		assert.Equal(t, "4b2e8c1a-7d3f-4e6b-9a05-1c2d3e4f5a6b", *o.CustomerID)
	})
}

func TestCreateOrder_BestEffortSideEffects(t *testing.T) {
	f := newFixture(menuItem("burger", "10.00", 10))
	f.dispatcher.err = errors.New("broker down")
	f.mailer.err = errors.New("smtp down")

	o, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		OrderType:     TypeDelivery,
		CustomerEmail: "guest@example.com",
		Items:         []ItemInput{{MenuItemID: "burger", Quantity: 1}},
	}, auth.System)

	require.NoError(t, err)
	assert.Equal(t, "3.00", o.DeliveryFee.StringFixed(2))
	assert.Nil(t, o.CreatedBy)
	assert.Len(t, f.mailer.sent, 1)
}

func TestCreateOrder_RetriesNumberCollision(t *testing.T) {
	f := newFixture(menuItem("burger", "10.00", 10))
	f.repo.dupNumbers = 2

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		OrderType: TypeTakeaway,
		Items:     []ItemInput{{MenuItemID: "burger", Quantity: 1}},
	}, staff)

	require.NoError(t, err)
	assert.Equal(t, 3, f.repo.createCalls)
}

func TestCreateOrder_AuditFailureIsFatal(t *testing.T) {
	f := newFixture(menuItem("burger", "10.00", 10))
	f.auditor.err = audit.ErrLogFailed

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		OrderType: TypeTakeaway,
		Items:     []ItemInput{{MenuItemID: "burger", Quantity: 1}},
	}, staff)

	require.ErrorIs(t, err, audit.ErrLogFailed)
	assert.Empty(t, f.dispatcher.events)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	all := []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture()
				o := seedOrder(f, from)

				updated, err := f.svc.UpdateStatus(context.Background(), o.ID, to, staff)
				if CanTransition(from, to) {
					require.NoError(t, err)
					assert.Equal(t, to, updated.Status)
					require.Len(t, f.auditor.entries, 1)
					assert.Equal(t, audit.ActionStatusChange, f.auditor.entries[0].Action)
					return
				}
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Empty(t, f.auditor.entries)
			})
		}
	}
}

func TestUpdateStatus_PendingToReadyRejected(t *testing.T) {
	f := newFixture()
	o := seedOrder(f, StatusPending)

	_, err := f.svc.UpdateStatus(context.Background(), o.ID, StatusReady, staff)

	require.ErrorIs(t, err, ErrInvalidTransition)
	stored, _ := f.repo.Get(context.Background(), o.ID)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture()

	_, err := f.svc.UpdateStatus(context.Background(), "missing", StatusConfirmed, staff)
	require.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), "missing", "teleported", staff)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateStatus_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture()
	o := seedOrder(f, StatusPending)

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateStatus(context.Background(), o.ID, StatusConfirmed, staff)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrInvalidTransition):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, rejected)
	assert.Len(t, f.auditor.entries, 1)
}

func TestCancelOrder(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady} {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture()
			o := seedOrder(f, from)

			updated, err := f.svc.CancelOrder(context.Background(), o.ID, " guest left ", staff)
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, updated.Status)
			assert.Equal(t, "guest left", updated.CancelReason)
			assert.Equal(t, []emitted{{EventChannel, EventOrderCancelled}}, f.dispatcher.events)
		})
	}

	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		t.Run("terminal "+string(from), func(t *testing.T) {
			f := newFixture()
			o := seedOrder(f, from)

			_, err := f.svc.CancelOrder(context.Background(), o.ID, "late", staff)
			require.ErrorIs(t, err, ErrCannotCancel)
			for _, to := range []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled} {
				_, err := f.svc.UpdateStatus(context.Background(), o.ID, to, staff)
				require.Error(t, err)
			}
		})
	}
}

func TestVoidOrder_RecordsApproval(t *testing.T) {
	f := newFixture()
	o := seedOrder(f, StatusPreparing)

	_, err := f.svc.VoidOrder(context.Background(), o.ID, "kitchen error", "approval-1", staff)
	require.NoError(t, err)

	require.Len(t, f.auditor.entries, 1)
	raw, err := json.Marshal(f.auditor.entries[0].NewValue)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"cancelled","reason":"kitchen error","approvalId":"approval-1"}`, string(raw))
}

func TestMarkRefunded(t *testing.T) {
	f := newFixture()
	o := seedOrder(f, StatusCompleted)

	_, err := f.svc.MarkRefunded(context.Background(), o.ID, decimal.RequireFromString("99"), "a-1", staff)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.MarkRefunded(context.Background(), o.ID, decimal.Zero, "a-1", staff)
	require.ErrorIs(t, err, ErrInvalidAmount)

	updated, err := f.svc.MarkRefunded(context.Background(), o.ID, decimal.RequireFromString("12.5"), "a-1", staff)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, updated.PaymentStatus)
	require.NotNil(t, updated.RefundAmount)
	assert.Equal(t, "12.50", updated.RefundAmount.StringFixed(2))
	assert.Equal(t, testNow, *updated.RefundedAt)

	_, err = f.svc.MarkRefunded(context.Background(), o.ID, decimal.RequireFromString("1"), "a-2", staff)
	require.ErrorIs(t, err, ErrPaymentConflict)
}

func TestMarkComped(t *testing.T) {
	f := newFixture()
	o := seedOrder(f, StatusReady)

	updated, err := f.svc.MarkComped(context.Background(), o.ID, "birthday", "a-9", staff)
	require.NoError(t, err)
	assert.Equal(t, PaymentComped, updated.PaymentStatus)
	assert.Equal(t, "birthday", updated.CompReason)

	_, err = f.svc.MarkComped(context.Background(), "missing", "x", "a-9", staff)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrders_Pagination(t *testing.T) {
	f := newFixture()
	seedOrder(f, StatusPending)

	_, _, err := f.svc.ListOrders(context.Background(), Filter{Limit: 101})
	require.ErrorIs(t, err, ErrInvalidPagination)

	_, _, err = f.svc.ListOrders(context.Background(), Filter{Status: "lost"})
	require.ErrorIs(t, err, ErrInvalidStatus)

	orders, total, err := f.svc.ListOrders(context.Background(), Filter{Status: StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, orders, 1)
}

func TestGetOrderByNumber_Normalises(t *testing.T) {
	f := newFixture()
	o := seedOrder(f, StatusPending)

	got, err := f.svc.GetOrderByNumber(context.Background(), " "+o.OrderNumber+" ")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}
