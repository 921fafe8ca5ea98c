package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/bank"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/ledger"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/marketplace"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/retry"
)

// ErrAlreadyRunning 表示调度器已在运行，启动请求被拒绝而非排队。
var ErrAlreadyRunning = errors.New("bot: 调度器已在运行")

// Marketplace 是调度器依赖的市场操作集合。
type Marketplace interface {
	FetchOffers(ctx context.Context, query marketplace.OfferQuery) ([]marketplace.Offer, error)
	PlaceOrder(ctx context.Context, offerID string, fiatAmount float64) (marketplace.OrderDetails, error)
	FetchCounterpartyDetails(ctx context.Context, orderNo string) (marketplace.CounterpartyDetails, error)
	MarkPaid(ctx context.Context, orderNo string) error
	ConfirmCompletion(ctx context.Context, orderNo string) error
}

// Gateway 是调度器依赖的法币转账操作。
type Gateway interface {
	SendPayment(ctx context.Context, accountNumber, bankCode string, amount float64) (string, error)
}

// Notifier 负责把需要人工介入的事件送出去。
type Notifier interface {
	Notify(subject, body string)
}

// Books 为调度器所需的账本操作集合。
type Books interface {
	InsertOrder(ctx context.Context, record ledger.OrderRecord) error
	UpdateOrderStatus(ctx context.Context, marketplaceOrderID string, status ledger.OrderStatus, paymentRef string) error
	InsertPayment(ctx context.Context, record ledger.PaymentRecord) error
	ListClients(ctx context.Context) ([]ledger.Client, error)
	SaveCycleState(ctx context.Context, state ledger.CycleState) error
}

// Runner 驱动调度主循环：每轮先执行采购管线，再给全部客户打款。
// 同一时刻最多只有一个循环在运行。
type Runner struct {
	cfg      config.Config
	market   Marketplace
	gateway  Gateway
	notifier Notifier
	books    Books
	logger   *zap.Logger

	state *state

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner 构造调度器。
func NewRunner(cfg config.Config, market Marketplace, gateway Gateway, notifier Notifier, books Books, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		market:   market,
		gateway:  gateway,
		notifier: notifier,
		books:    books,
		logger:   logger,
		state:    newState(),
	}
}

// Status 返回状态快照与最近一次完整循环时间。
func (r *Runner) Status() (Status, time.Time) {
	return r.state.Snapshot()
}

// Running 判断主循环是否仍在运行。
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done != nil
}

// Start 启动主循环。仅允许从 Idle/Stopped/Error 启动，循环已存在时
// 返回 ErrAlreadyRunning，请求不会排队。
func (r *Runner) Start(parent context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return ErrAlreadyRunning
	}

	status, _ := r.state.Snapshot()
	switch status.Phase {
	case PhaseIdle, PhaseStopped, PhaseError:
	default:
		return ErrAlreadyRunning
	}

	r.state.setPhase(PhaseStarting)

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, r.done)
	return nil
}

// Stop 发出停止信号后立即返回，循环在当前操作的取消点退出。
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		return
	}
	status, _ := r.state.Snapshot()
	if status.Phase == PhaseRunning || status.Phase == PhaseStarting {
		r.state.setPhase(PhaseStopping)
	}
	r.cancel()
}

// Wait 阻塞至主循环退出，用于优雅停机。
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (r *Runner) run(ctx context.Context, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.done = nil
		r.mu.Unlock()
		close(done)
	}()

	if !r.cfg.HasCredentials() {
		r.logger.Error("缺少市场或网关密钥，拒绝进入主循环")
		r.notifier.Notify("启动失败", "市场或支付网关密钥缺失，主循环未启动，请补齐配置后重试")
		r.state.setError("缺少接口密钥")
		r.persistCycleState(context.Background())
		return
	}

	r.state.setPhase(PhaseRunning)
	r.logger.Info("调度主循环已启动",
		zap.Duration("run_interval", r.cfg.Scheduler.RunInterval),
		zap.Float64("fiat_amount", r.cfg.Trade.FiatAmount),
	)

	for {
		if ctx.Err() != nil {
			break
		}

		if panicked := r.safeCycle(ctx); panicked {
			// 循环不退出，冷却后继续下一轮
			if !sleepCtx(ctx, r.cfg.Scheduler.ErrorCooldown) {
				break
			}
			continue
		}

		r.state.markRun(time.Now().UTC())
		r.persistCycleState(ctx)

		if ctx.Err() != nil {
			break
		}
		r.state.setSubstate(SubstateSleeping)
		if !sleepCtx(ctx, r.cfg.Scheduler.RunInterval) {
			break
		}
	}

	r.state.setPhase(PhaseStopped)
	r.persistCycleState(context.Background())
	r.logger.Info("调度主循环已退出")
}

// safeCycle 在循环边界兜住一轮内的任何 panic，保证进程不退出。
func (r *Runner) safeCycle(ctx context.Context) (panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			r.logger.Error("本轮执行发生未处理异常",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			r.notifier.Notify("调度器异常", fmt.Sprintf("本轮执行发生未处理异常: %v，进入冷却后继续", rec))
			r.state.setError(fmt.Sprintf("未处理异常: %v", rec))
		}
	}()

	r.runCycle(ctx)
	return false
}

// runCycle 执行一轮：采购管线 + 客户打款。采购任一环节失败都不影响打款。
func (r *Runner) runCycle(ctx context.Context) {
	clients, err := r.books.ListClients(ctx)
	if err != nil {
		r.logger.Error("读取客户列表失败", zap.Error(err))
		clients = nil
	}

	r.runPurchase(ctx, clients)

	if ctx.Err() == nil {
		r.runPayouts(ctx, clients)
	}
}

func (r *Runner) runPurchase(ctx context.Context, clients []ledger.Client) {
	r.state.setSubstate(SubstateFetchingOffers)

	query := marketplace.OfferQuery{
		Crypto:        r.cfg.Marketplace.Crypto,
		Fiat:          r.cfg.Marketplace.Fiat,
		Side:          r.cfg.Marketplace.Side,
		PaymentMethod: r.cfg.Marketplace.PaymentMethod,
	}
	offers, err := retry.Do(ctx, "fetch_offers", r.marketPolicy(), r.logger,
		func(ctx context.Context) ([]marketplace.Offer, error) {
			return r.market.FetchOffers(ctx, query)
		})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("获取报价失败", zap.Error(err))
		r.notifier.Notify("获取报价失败", fmt.Sprintf("报价查询重试耗尽: %v", err))
		r.state.setError("获取报价失败")
		return
	}

	r.state.setSubstate(SubstateProcessingOffers)

	desired := r.desiredFiatAmount(clients)
	if desired <= 0 {
		r.logger.Info("未配置采购金额且无客户可参考，跳过采购")
		return
	}

	offer, ok := marketplace.SelectOffer(offers, desired, r.logger)
	if !ok {
		r.logger.Info("本轮没有满足条件的报价",
			zap.Int("offers", len(offers)),
			zap.Float64("desired_fiat", desired),
		)
		return
	}

	r.executeTrade(ctx, offer, desired)
}

// desiredFiatAmount 返回本轮采购金额，未配置时退回第一个客户的打款金额。
func (r *Runner) desiredFiatAmount(clients []ledger.Client) float64 {
	if r.cfg.Trade.FiatAmount > 0 {
		return r.cfg.Trade.FiatAmount
	}
	if len(clients) > 0 {
		return clients[0].PayoutAmount
	}
	return 0
}

// executeTrade 依次执行五个阶段，每次状态推进都先落库再进入下一阶段。
func (r *Runner) executeTrade(ctx context.Context, offer marketplace.Offer, fiatAmount float64) {
	// 阶段一：下单。失败不产生任何订单记录。
	details, err := retry.Do(ctx, "place_order", r.marketPolicy(), r.logger,
		func(ctx context.Context) (marketplace.OrderDetails, error) {
			return r.market.PlaceOrder(ctx, offer.ID, fiatAmount)
		})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("下单失败", zap.String("adv_no", offer.ID), zap.Error(err))
		r.notifier.Notify("下单失败", fmt.Sprintf("报价 %s 下单重试耗尽: %v", offer.ID, err))
		return
	}

	cryptoAmount, err := offer.CryptoAmount(fiatAmount)
	if err != nil {
		// 能被选中的报价单价必然可解析，这里只兜底
		r.logger.Warn("换算加密货币数量失败", zap.Error(err))
	}

	record := ledger.OrderRecord{
		MarketplaceOrder: details.OrderNo,
		CounterpartyName: offer.SellerName,
		FiatAmount:       fiatAmount,
		CryptoAmount:     cryptoAmount,
		Status:           ledger.StatusOrderPlaced,
	}
	if err := r.books.InsertOrder(ctx, record); err != nil {
		r.logger.Error("订单落库失败", zap.String("order_no", details.OrderNo), zap.Error(err))
		r.notifier.Notify("订单落库失败", fmt.Sprintf("订单 %s 已在市场创建但未能写入账本: %v", details.OrderNo, err))
		return
	}
	r.logger.Info("订单已创建",
		zap.String("order_no", details.OrderNo),
		zap.String("seller", offer.SellerName),
		zap.Float64("fiat_amount", fiatAmount),
		zap.Float64("crypto_amount", cryptoAmount),
	)

	// 阶段二：获取卖方收款信息并解析银行代码。
	r.state.setSubstate(SubstateAwaitingSellerInfo)
	seller, err := retry.Do(ctx, "fetch_counterparty", r.marketPolicy(), r.logger,
		func(ctx context.Context) (marketplace.CounterpartyDetails, error) {
			return r.market.FetchCounterpartyDetails(ctx, details.OrderNo)
		})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failOrder(ctx, details.OrderNo, ledger.StatusManualPaymentUnknownBank,
			fmt.Sprintf("订单 %s 获取卖方收款信息失败: %v，需要人工打款", details.OrderNo, err))
		return
	}
	if !seller.Complete() {
		r.failOrder(ctx, details.OrderNo, ledger.StatusManualPaymentUnknownBank,
			fmt.Sprintf("订单 %s 的卖方收款信息不完整，需要人工打款", details.OrderNo))
		return
	}

	bankCode, ok := bank.ResolveCode(seller.BankName)
	if !ok {
		r.failOrder(ctx, details.OrderNo, ledger.StatusManualPaymentUnknownBank,
			fmt.Sprintf("订单 %s 的卖方银行 %q 不在支持列表，需要人工打款", details.OrderNo, seller.BankName))
		return
	}

	// 阶段三：经网关向卖方转账。失败不产生支付记录。
	r.state.setSubstate(SubstateSendingPayment)
	transferCode, err := retry.Do(ctx, "send_payment", r.paymentPolicy(), r.logger,
		func(ctx context.Context) (string, error) {
			return r.gateway.SendPayment(ctx, seller.AccountNumber, bankCode, fiatAmount)
		})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failOrder(ctx, details.OrderNo, ledger.StatusManualPaymentGatewayFailure,
			fmt.Sprintf("订单 %s 网关转账失败: %v，需要人工打款", details.OrderNo, err))
		return
	}

	if err := r.books.UpdateOrderStatus(ctx, details.OrderNo, ledger.StatusPaymentSent, transferCode); err != nil {
		r.logger.Error("更新订单状态失败", zap.String("order_no", details.OrderNo), zap.Error(err))
	}
	if err := r.books.InsertPayment(ctx, ledger.PaymentRecord{
		Label:    seller.AccountHolderName,
		Amount:   fiatAmount,
		BankCode: bankCode,
	}); err != nil {
		r.logger.Error("支付记录落库失败", zap.String("order_no", details.OrderNo), zap.Error(err))
	}
	r.logger.Info("卖方转账已完成",
		zap.String("order_no", details.OrderNo),
		zap.String("transfer_code", transferCode),
	)

	// 阶段四：向市场确认已付款。此后资金已出、不可回退。
	r.state.setSubstate(SubstateConfirmingUpstream)
	_, err = retry.Do(ctx, "mark_paid", r.marketPolicy(), r.logger,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.market.MarkPaid(ctx, details.OrderNo)
		})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failOrder(ctx, details.OrderNo, ledger.StatusManualConfirmationNeeded,
			fmt.Sprintf("订单 %s 已向卖方付款但标记付款失败: %v，请人工到市场确认", details.OrderNo, err))
		return
	}
	if err := r.books.UpdateOrderStatus(ctx, details.OrderNo, ledger.StatusPaymentConfirmedUpstream, ""); err != nil {
		r.logger.Error("更新订单状态失败", zap.String("order_no", details.OrderNo), zap.Error(err))
	}

	// 阶段五：确认放币。
	r.state.setSubstate(SubstateReleasingCrypto)
	_, err = retry.Do(ctx, "confirm_completion", r.marketPolicy(), r.logger,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.market.ConfirmCompletion(ctx, details.OrderNo)
		})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failOrder(ctx, details.OrderNo, ledger.StatusManualReleaseNeeded,
			fmt.Sprintf("订单 %s 确认放币失败: %v，请人工跟进", details.OrderNo, err))
		return
	}
	if err := r.books.UpdateOrderStatus(ctx, details.OrderNo, ledger.StatusCompleted, ""); err != nil {
		r.logger.Error("更新订单状态失败", zap.String("order_no", details.OrderNo), zap.Error(err))
	}

	r.logger.Info("订单已完成", zap.String("order_no", details.OrderNo))
}

// failOrder 将订单推进到对应的人工处理终态并发出告警。
func (r *Runner) failOrder(ctx context.Context, orderNo string, status ledger.OrderStatus, message string) {
	if err := r.books.UpdateOrderStatus(ctx, orderNo, status, ""); err != nil {
		r.logger.Error("更新订单状态失败",
			zap.String("order_no", orderNo),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	r.logger.Error("订单进入人工处理",
		zap.String("order_no", orderNo),
		zap.String("status", string(status)),
	)
	r.notifier.Notify("需要人工介入", message)
}

// runPayouts 按列表顺序给每个客户打款，单个失败只告警不中断。
func (r *Runner) runPayouts(ctx context.Context, clients []ledger.Client) {
	if len(clients) == 0 {
		return
	}
	r.state.setSubstate(SubstateProcessingPayouts)

	for i, client := range clients {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && !sleepCtx(ctx, r.cfg.Scheduler.ClientDelay) {
			return
		}

		transferCode, err := retry.Do(ctx, "client_payout", r.paymentPolicy(), r.logger,
			func(ctx context.Context) (string, error) {
				return r.gateway.SendPayment(ctx, client.Account, client.BankCode, client.PayoutAmount)
			})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("客户打款失败",
				zap.String("client", client.Name),
				zap.Float64("amount", client.PayoutAmount),
				zap.Error(err),
			)
			r.notifier.Notify("客户打款失败",
				fmt.Sprintf("客户 %s（账户 %s）打款 %.2f 失败: %v，请人工处理", client.Name, client.Account, client.PayoutAmount, err))
			continue
		}

		if err := r.books.InsertPayment(ctx, ledger.PaymentRecord{
			Label:    client.Name,
			Amount:   client.PayoutAmount,
			BankCode: client.BankCode,
		}); err != nil {
			r.logger.Error("支付记录落库失败", zap.String("client", client.Name), zap.Error(err))
		}
		r.logger.Info("客户打款成功",
			zap.String("client", client.Name),
			zap.String("transfer_code", transferCode),
			zap.Float64("amount", client.PayoutAmount),
		)
	}
}

func (r *Runner) persistCycleState(ctx context.Context) {
	status, lastRun := r.state.Snapshot()
	if err := r.books.SaveCycleState(ctx, ledger.CycleState{
		Status:      status.String(),
		LastRunTime: lastRun,
	}); err != nil {
		r.logger.Error("保存调度状态失败", zap.Error(err))
	}
}

func (r *Runner) marketPolicy() retry.Policy {
	return retry.Policy{
		Attempts: r.cfg.Marketplace.Retry.Attempts,
		Delay:    r.cfg.Marketplace.Retry.Delay,
	}
}

func (r *Runner) paymentPolicy() retry.Policy {
	return retry.Policy{
		Attempts: r.cfg.Gateway.Retry.Attempts,
		Delay:    r.cfg.Gateway.Retry.Delay,
	}
}

// sleepCtx 可取消地休眠，被取消时返回 false。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
