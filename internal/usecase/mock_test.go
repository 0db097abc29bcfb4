//go:build !integration

package usecase

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/adapter"
	"payportal/internal/domain/ports/repository"
	"payportal/internal/domain/protocol"
	"payportal/internal/infra/db/memory"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Mock chain provider ----

// MockChain reports receipts set per reference. Unknown references are not found.
type MockChain struct {
	mu        sync.Mutex
	receipts  map[string]adapter.Receipt
	errs      map[string]error
	calls     int
	CheckFunc func(ctx context.Context, chainID int64, ref string) (adapter.Receipt, error)
}

var _ adapter.ChainVerifier = (*MockChain)(nil)

func NewMockChain() *MockChain {
	return &MockChain{receipts: map[string]adapter.Receipt{}, errs: map[string]error{}}
}

// Settle makes ref a confirmed transfer of amount to recipient.
func (m *MockChain) Settle(ref, amount, token, recipient string, confirmations uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[ref] = adapter.Receipt{
		Found: true, Confirmations: confirmations, Amount: amount, TokenSymbol: token,
		Recipient: recipient, Payer: "0xPAYER",
	}
	delete(m.errs, ref)
}

func (m *MockChain) Set(ref string, r adapter.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[ref] = r
}

func (m *MockChain) Fail(ref string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[ref] = err
}

func (m *MockChain) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockChain) CheckTransaction(ctx context.Context, chainID int64, ref string) (adapter.Receipt, error) {
	m.mu.Lock()
	m.calls++
	fn := m.CheckFunc
	r, err := m.receipts[ref], m.errs[ref]
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, chainID, ref)
	}
	return r, err
}

// ---- Repositories: memory store with overridable methods ----

type MockPaymentLinkRepo struct {
	*memory.PaymentLinkRepo
	FindByIDFunc       func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentLink, error)
	IncrementUsageFunc func(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.PaymentLink, error)
}

func (m *MockPaymentLinkRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentLink, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	return m.PaymentLinkRepo.FindByID(ctx, tx, id)
}

func (m *MockPaymentLinkRepo) IncrementUsage(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.PaymentLink, error) {
	if m.IncrementUsageFunc != nil {
		return m.IncrementUsageFunc(ctx, tx, id, now)
	}
	return m.PaymentLinkRepo.IncrementUsage(ctx, tx, id, now)
}

type MockPaymentRepo struct {
	*memory.PaymentRepo
	InsertFunc      func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	FindByTxRefFunc func(ctx context.Context, tx repository.Tx, ref string) (*model.Payment, error)
}

func (m *MockPaymentRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx, p)
	}
	return m.PaymentRepo.Insert(ctx, tx, p)
}

func (m *MockPaymentRepo) FindByTxRef(ctx context.Context, tx repository.Tx, ref string) (*model.Payment, error) {
	if m.FindByTxRefFunc != nil {
		return m.FindByTxRefFunc(ctx, tx, ref)
	}
	return m.PaymentRepo.FindByTxRef(ctx, tx, ref)
}

type MockSubscriptionRepo struct {
	*memory.SubscriptionRepo
	UpdateFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
}

func (m *MockSubscriptionRepo) Update(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, tx, s)
	}
	return m.SubscriptionRepo.Update(ctx, tx, s)
}

// MockTxManager runs fn immediately unless WithTxFunc is set.
type MockTxManager struct {
	WithTxFunc func(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- Event recorder ----

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) has(t model.EventType) bool {
	for _, got := range p.types() {
		if got == t {
			return true
		}
	}
	return false
}

// ---- Harness ----

const (
	testChainETH   int64 = 1
	testChainSlow  int64 = 137
	testRecipient        = "0xAAA"
	testTarget           = "https://example.com/secret"
	testThreshold        = 3
)

type harness struct {
	clock    time.Time
	chain    *MockChain
	links    *MockPaymentLinkRepo
	payments *MockPaymentRepo
	subs     *MockSubscriptionRepo
	txm      *MockTxManager
	events   *recordingPublisher
	verify   *verificationUC
	link     *linkUC
	billing  *billingUC
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	h := &harness{
		clock:    time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC),
		chain:    NewMockChain(),
		links:    &MockPaymentLinkRepo{PaymentLinkRepo: store.Links()},
		payments: &MockPaymentRepo{PaymentRepo: store.Payments()},
		subs:     &MockSubscriptionRepo{SubscriptionRepo: store.Subscriptions()},
		txm:      &MockTxManager{},
		events:   &recordingPublisher{},
	}
	chains := []ChainPolicy{
		{ChainID: testChainETH, Name: "ethereum", Confirmations: testThreshold, Verifier: h.chain},
		{ChainID: testChainSlow, Name: "polygon", Confirmations: 5, Verifier: h.chain},
	}
	h.verify = NewVerificationUseCase(h.payments, chains, 200*time.Millisecond, newTestLogger())
	locker := memory.NewKeyedLocker()
	opts := protocol.Options{BasePath: "/pay", TimeoutSeconds: 900}
	h.link = NewLinkUseCase(h.links, h.payments, h.verify, locker, h.events, opts, newTestLogger())
	h.link.now = h.now
	h.billing = NewBillingUseCase(h.links, h.payments, h.subs, h.txm, h.verify, locker, h.events, 100, newTestLogger())
	h.billing.now = h.now
	return h
}

func (h *harness) now() time.Time { return h.clock }

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) createLink(t *testing.T, mutate func(in *model.CreatePaymentLinkInput)) *model.PaymentLink {
	t.Helper()
	in := model.CreatePaymentLinkInput{
		TargetURL:        testTarget,
		Price:            model.Price{Amount: "0.001", TokenSymbol: "ETH", ChainID: testChainETH},
		RecipientAddress: testRecipient,
	}
	if mutate != nil {
		mutate(&in)
	}
	l, err := h.link.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	return l
}

// settle makes ref a valid payment of the default price.
func (h *harness) settle(ref string) {
	h.chain.Settle(ref, "0.001", "ETH", testRecipient, testThreshold)
}

func intPtr(v int) *int { return &v }
