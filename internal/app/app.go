package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"airdrop/internal/airdrop"
	"airdrop/internal/chain"
	"airdrop/internal/config"
	"airdrop/internal/connection"
	apperrors "airdrop/internal/errors"
	"airdrop/internal/history"
	"airdrop/internal/logging"
	"airdrop/internal/metrics"
	"airdrop/internal/notify"
	"airdrop/internal/output"
	"airdrop/internal/recipients"
	"airdrop/internal/shutdown"
	"airdrop/internal/stats"
	"airdrop/internal/validation"
	"airdrop/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// App 进程内的应用状态: 接收方列表、代币设置、签名会话和执行器
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Pool     *connection.Pool
	Signer   *chain.KeySigner
	Reader   *chain.TokenReader
	List     *recipients.List
	Settings *airdrop.SettingsStore
	Executor *airdrop.Executor
	Notices  *notify.Center
	Metrics  *metrics.Metrics
	Errors   *apperrors.ErrorHandler
	Output   output.Output
	History  *history.Store // 未启用时为nil
	Validate *validation.Validator

	db         *config.DatabaseConfig
	structured *logging.StructuredLogger
	gasPer     decimal.Decimal

	closeOnce sync.Once
	stopWatch func()
}

// Option 构造选项
type Option func(*options)

type options struct {
	dial connection.DialFunc
	out  output.Output
}

// WithDialer 替换RPC拨号函数
func WithDialer(dial connection.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithOutput 使用指定的结果输出，忽略配置中的输出格式
func WithOutput(out output.Output) Option {
	return func(o *options) { o.out = out }
}

// New 按配置组装所有组件
func New(cfg *config.Config, logger *logrus.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logrus.New()
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics.New(),
		Errors:   apperrors.NewErrorHandler(logger),
		Notices:  notify.NewCenter(notify.DefaultCapacity, notify.DefaultTTL, logger),
		Validate: validation.NewValidator(logger, false),
	}

	gasPer, err := decimal.NewFromString(cfg.Airdrop.GasPerRecipient)
	if err != nil {
		gasPer = stats.GasPerRecipient
	}
	a.gasPer = gasPer

	a.Errors.AddCallback(func(err *apperrors.AirdropError) {
		a.Metrics.IncErrors(err.Type.String(), err.Code)
	})

	if cfg.Logging != nil && cfg.Logging.Format == "json" {
		sl, err := logging.NewStructuredLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("创建结构化日志失败: %w", err)
		}
		a.structured = sl
	}

	a.Pool = connection.NewPool(cfg.Chain.Nodes, logger)
	if o.dial != nil {
		a.Pool.WithDialer(o.dial)
	}

	a.Settings = airdrop.NewSettingsStore(*cfg.Token, logger)
	a.Signer = chain.NewKeySigner(a.Pool, cfg.Chain.ChainID, cfg.Signer.GasMultiplier, logger).
		WithMaxFee(a.Settings.GasPrice)
	a.Reader = chain.NewTokenReader(a.Pool, a.Signer, a.Settings.Get, logger).
		WithTimeout(cfg.Chain.RequestTimeoutDuration()).
		WithStructuredLogger(a.structured)
	a.List = recipients.NewList(nil, logger)

	a.Output = o.out
	if a.Output == nil {
		a.Output, err = output.NewOutput(cfg.Output, logger)
		if err != nil {
			return nil, fmt.Errorf("创建输出器失败: %w", err)
		}
	}

	if cfg.History != nil && cfg.History.Enabled {
		a.History, err = history.NewStore(cfg.History.Path, logger)
		if err != nil {
			a.Output.Close()
			return nil, fmt.Errorf("打开历史记录失败: %w", err)
		}
	}

	if dsn := os.Getenv(config.EnvDBDSN); dsn != "" {
		db, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("数据库不可用，设置修改不会保存: %v", err)
		} else {
			a.db = db
			a.Settings.OnChange(func(s models.AirdropSettings) {
				if err := db.SaveSettings(context.Background(), &s); err != nil {
					a.Errors.HandleError(context.Background(), apperrors.WrapError(err, apperrors.ErrorTypeStorage,
						apperrors.SeverityMedium, "SETTINGS_SAVE_FAILED", "保存代币设置失败").WithComponent("config"))
				}
			})
		}
	}

	// 代币地址变化后旧余额失效
	a.Settings.OnChange(func(models.AirdropSettings) { a.Reader.Reset() })

	a.Executor = airdrop.NewExecutor(a.List, a.Settings, a.Signer, a.Reader, chain.MustERC20(), logger).
		WithOutput(a.Output).
		WithMetrics(a.Metrics).
		WithNotifier(a.Notices).
		WithErrorHandler(a.Errors).
		WithStructuredLogger(a.structured).
		WithDelays(cfg.Airdrop.TxDelayDuration(), cfg.Airdrop.RefreshDelayDuration())
	if a.History != nil {
		a.Executor.WithArchive(a.History)
	}

	a.watchList()
	return a, nil
}

// watchList 列表变化时更新接收方指标
func (a *App) watchList() {
	changes, cancel := a.List.Subscribe()
	a.stopWatch = cancel
	go func() {
		for range changes {
			entries := a.List.Snapshot()
			a.Metrics.SetRecipients(len(entries), stats.ValidCount(entries))
		}
	}()
}

// ConnectFromConfig 配置或环境变量中提供了私钥时建立签名会话
func (a *App) ConnectFromConfig(ctx context.Context) error {
	key := a.Config.Signer.PrivateKey
	if key == "" {
		return nil
	}
	return a.Connect(ctx, key)
}

// Connect 建立签名会话并读取一次余额
func (a *App) Connect(ctx context.Context, privateKeyHex string) error {
	if err := a.Signer.Connect(ctx, privateKeyHex); err != nil {
		return err
	}
	a.Reader.Reset()
	if b, err := a.Reader.Balance(ctx); err == nil {
		a.Metrics.SetBalance(b.Formatted.InexactFloat64())
	}
	return nil
}

// Disconnect 结束签名会话
func (a *App) Disconnect() {
	a.Signer.Disconnect()
	a.Reader.Reset()
}

// Balance 最近一次读取的余额，没有缓存时读取链上余额；失败或未连接时为0
func (a *App) Balance(ctx context.Context) decimal.Decimal {
	if b, _ := a.Reader.Cached(); b != nil {
		return b.Formatted
	}
	if !a.Signer.Connected() {
		return decimal.Zero
	}
	b, err := a.Reader.Balance(ctx)
	if err != nil {
		return decimal.Zero
	}
	return b.Formatted
}

// Stats 当前列表的派生统计
func (a *App) Stats(ctx context.Context) models.AirdropStats {
	return stats.CalculateWithGas(a.List.Snapshot(), a.Balance(ctx), a.gasPer)
}

// CheckList 校验当前列表: 无效地址为错误，重复地址和无效金额为警告
func (a *App) CheckList() *validation.ValidationResult {
	return a.Validate.ValidateList(a.List.Snapshot())
}

// Results 结果视图
func (a *App) Results() []stats.ResultView {
	return stats.Results(a.List.Snapshot(), a.Config.Chain.ExplorerURL)
}

// Session 钱包会话
func (a *App) Session(ctx context.Context) models.WalletSession {
	return a.Signer.Session(ctx)
}

// RegisterShutdown 按顺序注册停机步骤，stopHTTP可以为nil
func (a *App) RegisterShutdown(gs *shutdown.GracefulShutdown, stopHTTP func(ctx context.Context) error) {
	if stopHTTP != nil {
		gs.RegisterShutdownFunc("http", stopHTTP, shutdown.OrderStopHTTP)
	}
	gs.RegisterShutdownFunc("airdrop", a.Executor.Wait, shutdown.OrderWaitForRun)
	gs.RegisterShutdownFunc("output", func(context.Context) error { return a.Output.Close() }, shutdown.OrderFlushOutputs)
	if a.History != nil {
		gs.RegisterShutdownFunc("history", func(context.Context) error { return a.History.Close() }, shutdown.OrderCloseStorage)
	}
	gs.RegisterShutdownFunc("rpc", func(context.Context) error { return a.Close() }, shutdown.OrderCloseConnections)
}

// Close 释放连接，不等待运行结束
func (a *App) Close() error {
	var firstErr error
	a.closeOnce.Do(func() {
		if a.stopWatch != nil {
			a.stopWatch()
		}
		a.Signer.Disconnect()
		if err := a.Pool.Close(); err != nil {
			firstErr = err
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if a.structured != nil {
			a.structured.Close()
		}
	})
	return firstErr
}
