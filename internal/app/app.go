// Package app 聚合各组件并驱动系统生命周期。
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/alert"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/bot"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/gateway"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/ledger"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/marketplace"
	"github.com/obachibuike2003/my-p2p-dashboard/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 构建账本、市场与网关客户端及调度器，随后提供管理接口，
// 直至 ctx 被取消。调度器须经 POST /api/bot/start 启动。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("P2P 调度系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("crypto", a.cfg.Marketplace.Crypto),
		zap.String("fiat", a.cfg.Marketplace.Fiat),
	)

	books, err := ledger.New(a.store, a.logger.Named("ledger"))
	if err != nil {
		return fmt.Errorf("初始化账本失败: %w", err)
	}

	market := marketplace.NewClient(a.cfg.Marketplace, a.logger.Named("marketplace"))
	pay := gateway.NewClient(a.cfg.Gateway, a.logger.Named("gateway"))
	notifier := alert.NewMailer(a.cfg.Alert, a.logger.Named("alert"))

	runner := bot.NewRunner(*a.cfg, market, pay, notifier, books, a.logger.Named("bot"))

	srv := newServer(a.cfg, runner, books, ctx, a.logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: srv.routes(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.logger.Info("管理接口已启动", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("管理接口异常: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		runner.Stop()
		runner.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("关闭管理接口失败", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	a.logger.Info("系统收到退出信号，已停止")
	return nil
}
