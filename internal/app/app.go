package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"swap-router/internal/config"
	"swap-router/internal/monitor"
	"swap-router/internal/order"
	"swap-router/internal/pipeline"
	"swap-router/internal/pubsub"
	"swap-router/internal/router"
	"swap-router/internal/store"
	"swap-router/internal/venue"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	orders  *order.Store
	pub     *pubsub.Publisher
	bridge  *pubsub.Bridge
	runner  *pipeline.Runner
	monitor *monitor.Service
}

// New 组装全部组件。订单存储显式注入管线，不经过任何全局状态。
func New(cfg *config.Config, logger *zap.Logger, db *store.Store) (*App, error) {
	monitorSvc, err := monitor.NewService(db, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	clients := make([]venue.Client, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		clients = append(clients, venue.NewSimulated(vc, logger))
	}

	orders := order.NewStore()
	pub := pubsub.NewPublisher(logger)
	agg := router.NewAggregator(clients, router.PriceComparator{}, cfg.Router.QuoteTimeout, logger)
	runner := pipeline.NewRunner(orders, agg, clients, pub, monitorSvc, cfg.Pipeline, logger)

	return &App{
		cfg:     cfg,
		logger:  logger,
		orders:  orders,
		pub:     pub,
		bridge:  pubsub.NewBridge(pub, logger),
		runner:  runner,
		monitor: monitorSvc,
	}, nil
}

// Run 启动管线与 HTTP 服务，阻塞到退出信号，再优雅收尾。
func (a *App) Run(ctx context.Context) error {
	a.runner.Start(ctx)

	venues := make([]string, 0, len(a.cfg.Venues))
	for _, vc := range a.cfg.Venues {
		venues = append(venues, vc.Name)
	}
	a.logger.Info("换币路由已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Strings("venues", venues),
		zap.Int("port", a.cfg.Server.Port),
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: a.routes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP 服务异常", zap.Error(err))
		}
	}()

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout+10*time.Second)
	defer cancelDrain()
	if err := a.runner.Drain(drainCtx); err != nil {
		a.logger.Warn("在途订单未全部排空", zap.Error(err))
	}

	return nil
}
