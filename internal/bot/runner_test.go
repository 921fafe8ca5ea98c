package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/ledger"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/marketplace"
)

type fakeMarketplace struct {
	offers    []marketplace.Offer
	fetchErr  error
	placeErr  error
	details   marketplace.CounterpartyDetails
	detailErr error
	paidErr   error
	confirmErr error

	placeCalls int
	paidCalls  int
}

func (f *fakeMarketplace) FetchOffers(ctx context.Context, query marketplace.OfferQuery) ([]marketplace.Offer, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.offers, nil
}

func (f *fakeMarketplace) PlaceOrder(ctx context.Context, offerID string, fiatAmount float64) (marketplace.OrderDetails, error) {
	f.placeCalls++
	if f.placeErr != nil {
		return marketplace.OrderDetails{}, f.placeErr
	}
	return marketplace.OrderDetails{OrderNo: "ord-" + offerID}, nil
}

func (f *fakeMarketplace) FetchCounterpartyDetails(ctx context.Context, orderNo string) (marketplace.CounterpartyDetails, error) {
	if f.detailErr != nil {
		return marketplace.CounterpartyDetails{}, f.detailErr
	}
	return f.details, nil
}

func (f *fakeMarketplace) MarkPaid(ctx context.Context, orderNo string) error {
	f.paidCalls++
	return f.paidErr
}

func (f *fakeMarketplace) ConfirmCompletion(ctx context.Context, orderNo string) error {
	return f.confirmErr
}

type fakeGateway struct {
	failAccounts map[string]error
	calls        []string
}

func (f *fakeGateway) SendPayment(ctx context.Context, accountNumber, bankCode string, amount float64) (string, error) {
	f.calls = append(f.calls, accountNumber)
	if err, ok := f.failAccounts[accountNumber]; ok {
		return "", err
	}
	return "TRF_" + accountNumber, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(subject, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, subject+": "+body)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fakeBooks 以内存结构模拟账本，状态迁移约束与真实实现一致。
type fakeBooks struct {
	mu       sync.Mutex
	orders   map[string]*ledger.OrderRecord
	history  []ledger.OrderStatus
	payments []ledger.PaymentRecord
	clients  []ledger.Client
	cycle    ledger.CycleState
}

func newFakeBooks(clients ...ledger.Client) *fakeBooks {
	return &fakeBooks{orders: map[string]*ledger.OrderRecord{}, clients: clients}
}

func (f *fakeBooks) InsertOrder(ctx context.Context, record ledger.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[record.MarketplaceOrder] = &record
	f.history = append(f.history, record.Status)
	return nil
}

func (f *fakeBooks) UpdateOrderStatus(ctx context.Context, marketplaceOrderID string, status ledger.OrderStatus, paymentRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.orders[marketplaceOrderID]
	if !ok {
		return ledger.ErrOrderNotFound
	}
	if !ledger.CanTransition(record.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ledger.ErrIllegalTransition, record.Status, status)
	}
	record.Status = status
	if paymentRef != "" {
		record.PaymentReference = paymentRef
	}
	f.history = append(f.history, status)
	return nil
}

func (f *fakeBooks) InsertPayment(ctx context.Context, record ledger.PaymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record.Status = ledger.PaymentStatusSuccess
	f.payments = append(f.payments, record)
	return nil
}

func (f *fakeBooks) ListClients(ctx context.Context) ([]ledger.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Client(nil), f.clients...), nil
}

func (f *fakeBooks) SaveCycleState(ctx context.Context, state ledger.CycleState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycle = state
	return nil
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Marketplace.APIKey = "key"
	cfg.Marketplace.APISecret = "secret"
	cfg.Marketplace.Crypto = "USDT"
	cfg.Marketplace.Fiat = "NGN"
	cfg.Marketplace.Side = "Buy"
	cfg.Marketplace.Retry = config.RetryConfig{Attempts: 2, Delay: time.Millisecond}
	cfg.Gateway.SecretKey = "sk_test"
	cfg.Gateway.Retry = config.RetryConfig{Attempts: 2, Delay: time.Millisecond}
	cfg.Trade.FiatAmount = 3000
	cfg.Scheduler.RunInterval = time.Hour
	cfg.Scheduler.ErrorCooldown = time.Millisecond
	cfg.Scheduler.ClientDelay = 0
	return cfg
}

func goodOffer() marketplace.Offer {
	return marketplace.Offer{
		ID:               "adv-1",
		SellerName:       "seller-a",
		Price:            "1500",
		MinTradeAmount:   "1000",
		MaxTradeAmount:   "10000",
		TradableQuantity: "50",
	}
}

func goodSeller() marketplace.CounterpartyDetails {
	return marketplace.CounterpartyDetails{
		AccountNumber:     "0123456789",
		BankName:          "Kuda Bank",
		AccountHolderName: "Ada O.",
	}
}

func TestCycleHappyPath(t *testing.T) {
	market := &fakeMarketplace{offers: []marketplace.Offer{goodOffer()}, details: goodSeller()}
	gw := &fakeGateway{}
	notify := &fakeNotifier{}
	books := newFakeBooks()

	r := NewRunner(testConfig(), market, gw, notify, books, nil)
	r.runCycle(context.Background())

	record, ok := books.orders["ord-adv-1"]
	if !ok {
		t.Fatal("expected an order record")
	}
	if record.Status != ledger.StatusCompleted {
		t.Errorf("expected Completed, got %s", record.Status)
	}
	if record.PaymentReference != "TRF_0123456789" {
		t.Errorf("transfer reference not recorded: %q", record.PaymentReference)
	}

	want := []ledger.OrderStatus{
		ledger.StatusOrderPlaced,
		ledger.StatusPaymentSent,
		ledger.StatusPaymentConfirmedUpstream,
		ledger.StatusCompleted,
	}
	if len(books.history) != len(want) {
		t.Fatalf("unexpected status history %v", books.history)
	}
	for i := range want {
		if books.history[i] != want[i] {
			t.Fatalf("status history out of order: %v", books.history)
		}
	}

	if len(books.payments) != 1 {
		t.Fatalf("expected 1 payment record, got %d", len(books.payments))
	}
	if books.payments[0].Label != "Ada O." || books.payments[0].Amount != 3000 {
		t.Errorf("unexpected payment record %+v", books.payments[0])
	}
	if notify.count() != 0 {
		t.Errorf("happy path must not escalate, got %v", notify.messages)
	}
}

func TestPlaceOrderFailureLeavesNoRecordAndPayoutsStillRun(t *testing.T) {
	market := &fakeMarketplace{
		offers:   []marketplace.Offer{goodOffer()},
		placeErr: errors.New("upstream 502"),
	}
	gw := &fakeGateway{}
	notify := &fakeNotifier{}
	books := newFakeBooks(ledger.Client{ID: "c1", Name: "Ngozi", Account: "111", BankCode: "044", PayoutAmount: 500})

	r := NewRunner(testConfig(), market, gw, notify, books, nil)
	r.runCycle(context.Background())

	if market.placeCalls != 2 {
		t.Errorf("expected 2 place attempts, got %d", market.placeCalls)
	}
	if len(books.orders) != 0 {
		t.Errorf("failed placement must not create an order record: %v", books.orders)
	}
	if notify.count() != 1 {
		t.Fatalf("expected exactly 1 escalation, got %v", notify.messages)
	}

	// 打款不受采购失败影响
	if len(gw.calls) != 1 || gw.calls[0] != "111" {
		t.Errorf("payout leg should still run, calls=%v", gw.calls)
	}
	if len(books.payments) != 1 || books.payments[0].Label != "Ngozi" {
		t.Errorf("expected 1 payout record, got %+v", books.payments)
	}
}

func TestGatewayFailureMarksManualAndSkipsPaymentRecord(t *testing.T) {
	market := &fakeMarketplace{offers: []marketplace.Offer{goodOffer()}, details: goodSeller()}
	gw := &fakeGateway{failAccounts: map[string]error{"0123456789": errors.New("transfer failed")}}
	notify := &fakeNotifier{}
	books := newFakeBooks()

	r := NewRunner(testConfig(), market, gw, notify, books, nil)
	r.runCycle(context.Background())

	record := books.orders["ord-adv-1"]
	if record == nil || record.Status != ledger.StatusManualPaymentGatewayFailure {
		t.Fatalf("expected gateway-failure manual status, got %+v", record)
	}
	if len(books.payments) != 0 {
		t.Errorf("payment record must not exist on gateway failure: %+v", books.payments)
	}
	if notify.count() != 1 {
		t.Errorf("expected 1 escalation, got %v", notify.messages)
	}
	if market.paidCalls != 0 {
		t.Error("pipeline must stop before marking paid")
	}
}

func TestUnknownBankGoesManualWithoutGatewayCall(t *testing.T) {
	market := &fakeMarketplace{offers: []marketplace.Offer{goodOffer()}}
	market.details = marketplace.CounterpartyDetails{
		AccountNumber:     "0123456789",
		BankName:          "Banque Inconnue",
		AccountHolderName: "Ada O.",
	}
	gw := &fakeGateway{}
	notify := &fakeNotifier{}
	books := newFakeBooks()

	r := NewRunner(testConfig(), market, gw, notify, books, nil)
	r.runCycle(context.Background())

	record := books.orders["ord-adv-1"]
	if record == nil || record.Status != ledger.StatusManualPaymentUnknownBank {
		t.Fatalf("expected unknown-bank manual status, got %+v", record)
	}
	if len(gw.calls) != 0 {
		t.Errorf("gateway must not be called for unknown bank, calls=%v", gw.calls)
	}
	if notify.count() != 1 {
		t.Errorf("expected 1 escalation, got %v", notify.messages)
	}
}

func TestMarkPaidFailureAfterTransfer(t *testing.T) {
	market := &fakeMarketplace{
		offers:  []marketplace.Offer{goodOffer()},
		details: goodSeller(),
		paidErr: errors.New("timeout"),
	}
	gw := &fakeGateway{}
	notify := &fakeNotifier{}
	books := newFakeBooks()

	r := NewRunner(testConfig(), market, gw, notify, books, nil)
	r.runCycle(context.Background())

	record := books.orders["ord-adv-1"]
	if record == nil || record.Status != ledger.StatusManualConfirmationNeeded {
		t.Fatalf("expected ManualConfirmationNeeded, got %+v", record)
	}
	// 资金已出，支付记录必须保留
	if len(books.payments) != 1 {
		t.Errorf("payment record from the completed transfer must remain, got %+v", books.payments)
	}
}

func TestPayoutFailureEscalatesAndContinues(t *testing.T) {
	market := &fakeMarketplace{} // 无报价，只走打款
	gw := &fakeGateway{failAccounts: map[string]error{"222": errors.New("insufficient balance")}}
	notify := &fakeNotifier{}
	books := newFakeBooks(
		ledger.Client{ID: "c1", Name: "Ngozi", Account: "111", BankCode: "044", PayoutAmount: 500},
		ledger.Client{ID: "c2", Name: "Emeka", Account: "222", BankCode: "057", PayoutAmount: 700},
		ledger.Client{ID: "c3", Name: "Bola", Account: "333", BankCode: "058", PayoutAmount: 900},
	)

	r := NewRunner(testConfig(), market, gw, notify, books, nil)
	r.runCycle(context.Background())

	if len(books.payments) != 2 {
		t.Fatalf("expected 2 successful payouts, got %+v", books.payments)
	}
	if books.payments[0].Label != "Ngozi" || books.payments[1].Label != "Bola" {
		t.Errorf("payouts must keep client order, got %+v", books.payments)
	}
	if notify.count() != 1 {
		t.Fatalf("expected 1 escalation, got %v", notify.messages)
	}
	if !strings.Contains(notify.messages[0], "Emeka") {
		t.Errorf("escalation must name the failed client: %s", notify.messages[0])
	}
}

func TestDesiredAmountFallsBackToFirstClient(t *testing.T) {
	cfg := testConfig()
	cfg.Trade.FiatAmount = 0

	books := newFakeBooks(ledger.Client{ID: "c1", Name: "Ngozi", Account: "111", BankCode: "044", PayoutAmount: 2000})
	r := NewRunner(cfg, &fakeMarketplace{}, &fakeGateway{}, &fakeNotifier{}, books, nil)

	clients, _ := books.ListClients(context.Background())
	if got := r.desiredFiatAmount(clients); got != 2000 {
		t.Errorf("expected fallback to first client amount, got %v", got)
	}
	if got := r.desiredFiatAmount(nil); got != 0 {
		t.Errorf("no config and no clients must yield 0, got %v", got)
	}
}

func TestStartRejectsWhileRunning(t *testing.T) {
	market := &fakeMarketplace{}
	r := NewRunner(testConfig(), market, &fakeGateway{}, &fakeNotifier{}, newFakeBooks(), nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	r.Stop()
	r.Wait()

	status, _ := r.Status()
	if status.Phase != PhaseStopped {
		t.Errorf("expected Stopped after shutdown, got %s", status)
	}

	// 停止后可以重新启动
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	r.Stop()
	r.Wait()
}

func TestStopReturnsPromptly(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.RunInterval = time.Hour

	r := NewRunner(cfg, &fakeMarketplace{}, &fakeGateway{}, &fakeNotifier{}, newFakeBooks(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(50 * time.Millisecond) // 让循环进入休眠
	begin := time.Now()
	r.Stop()
	r.Wait()
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Errorf("stop took too long: %v", elapsed)
	}
}

func TestMissingCredentialsEntersErrorState(t *testing.T) {
	cfg := testConfig()
	cfg.Marketplace.APIKey = ""

	notify := &fakeNotifier{}
	r := NewRunner(cfg, &fakeMarketplace{}, &fakeGateway{}, notify, newFakeBooks(), nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Wait()

	status, _ := r.Status()
	if status.Phase != PhaseError {
		t.Fatalf("expected Error phase, got %s", status)
	}
	if notify.count() != 1 {
		t.Errorf("expected 1 escalation, got %v", notify.messages)
	}
}

func TestFetchFailureStillRunsPayouts(t *testing.T) {
	market := &fakeMarketplace{fetchErr: errors.New("gateway timeout")}
	gw := &fakeGateway{}
	notify := &fakeNotifier{}
	books := newFakeBooks(ledger.Client{ID: "c1", Name: "Ngozi", Account: "111", BankCode: "044", PayoutAmount: 500})

	r := NewRunner(testConfig(), market, gw, notify, books, nil)
	r.runCycle(context.Background())

	if notify.count() != 1 {
		t.Fatalf("expected 1 escalation for fetch failure, got %v", notify.messages)
	}
	if len(books.payments) != 1 {
		t.Errorf("payouts must run despite fetch failure, got %+v", books.payments)
	}
}
