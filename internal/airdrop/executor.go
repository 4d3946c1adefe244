package airdrop

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "airdrop/internal/errors"
	"airdrop/internal/logging"
	"airdrop/internal/metrics"
	"airdrop/internal/notify"
	"airdrop/internal/output"
	"airdrop/internal/recipients"
	"airdrop/internal/stats"
	"airdrop/internal/validation"
	"airdrop/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// 执行器默认间隔
const (
	DefaultTxDelay      = time.Second
	DefaultRefreshDelay = 2 * time.Second

	// 中途中止时仍处于processing的接收方记录的原因
	reasonRunAborted = "run aborted"
)

// Check 前置条件检查结果
type Check struct {
	Ready           bool   `json:"ready"`
	SignerConnected bool   `json:"signer_connected"`
	ValidRecipients int    `json:"valid_recipients"`
	TotalAmount     string `json:"total_amount"`
	Balance         string `json:"balance"`
	Symbol          string `json:"symbol,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Status 执行器状态
type Status struct {
	Running  bool              `json:"running"`
	Progress models.Progress   `json:"progress"`
	Fraction float64           `json:"fraction"`
	Current  *models.RunReport `json:"current,omitempty"`
	Last     *models.RunReport `json:"last,omitempty"`
}

// run 一次运行冻结的数据
type run struct {
	report   *models.RunReport
	snapshot []models.RecipientEntry
	settings models.AirdropSettings
}

// Executor 顺序空投执行器，同一时间只允许一次运行
type Executor struct {
	list     *recipients.List
	settings *SettingsStore
	signer   Signer
	balance  BalanceReader
	encoder  TransferEncoder

	out        output.Output
	metrics    *metrics.Metrics
	archive    ReportArchive
	notifier   notify.Notifier
	errHandler *apperrors.ErrorHandler
	logger     *logrus.Logger
	slog       *logging.StructuredLogger
	sleep      Sleeper

	txDelay      time.Duration
	refreshDelay time.Duration
	newID        func() string
	now          func() time.Time

	mu       sync.Mutex
	running  bool
	active   int
	idle     chan struct{}
	progress models.Progress
	current  *models.RunReport
	last     *models.RunReport
}

// NewExecutor 创建执行器
func NewExecutor(list *recipients.List, settings *SettingsStore, signer Signer, balance BalanceReader,
	encoder TransferEncoder, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	idle := make(chan struct{})
	close(idle)

	return &Executor{
		list:         list,
		settings:     settings,
		signer:       signer,
		balance:      balance,
		encoder:      encoder,
		out:          output.NopOutput{},
		notifier:     nopNotifier{},
		logger:       logger,
		sleep:        SleepContext,
		txDelay:      DefaultTxDelay,
		refreshDelay: DefaultRefreshDelay,
		newID:        uuid.NewString,
		now:          time.Now,
		idle:         idle,
	}
}

// WithOutput 设置结果输出
func (e *Executor) WithOutput(out output.Output) *Executor {
	if out != nil {
		e.out = out
	}
	return e
}

// WithMetrics 设置指标
func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.metrics = m
	return e
}

// WithArchive 设置报告归档
func (e *Executor) WithArchive(archive ReportArchive) *Executor {
	e.archive = archive
	return e
}

// WithNotifier 设置通知
func (e *Executor) WithNotifier(n notify.Notifier) *Executor {
	if n != nil {
		e.notifier = n
	}
	return e
}

// WithErrorHandler 设置错误处理器
func (e *Executor) WithErrorHandler(h *apperrors.ErrorHandler) *Executor {
	e.errHandler = h
	return e
}

// WithStructuredLogger 运行和转账日志改用结构化日志
func (e *Executor) WithStructuredLogger(l *logging.StructuredLogger) *Executor {
	e.slog = l
	return e
}

// WithSleeper 替换等待实现
func (e *Executor) WithSleeper(s Sleeper) *Executor {
	if s != nil {
		e.sleep = s
	}
	return e
}

// WithDelays 设置转账间隔和余额刷新延迟
func (e *Executor) WithDelays(txDelay, refreshDelay time.Duration) *Executor {
	e.txDelay = txDelay
	e.refreshDelay = refreshDelay
	return e
}

// Preflight 按顺序检查: 钱包已连接、至少一个有效接收方、余额足够。
// 余额读取失败按0处理。
func (e *Executor) Preflight(ctx context.Context) (*Check, error) {
	check, _, err := e.preflight(ctx, e.list.Valid())
	if err != nil {
		return check, err
	}
	return check, nil
}

func (e *Executor) preflight(ctx context.Context, valid []models.RecipientEntry) (*Check, *models.TokenBalance, *apperrors.AirdropError) {
	sum := stats.ValidSum(valid)
	check := &Check{
		SignerConnected: e.signer != nil && e.signer.Connected(),
		ValidRecipients: len(valid),
		TotalAmount:     sum.String(),
	}

	balance := decimal.Zero
	var tb *models.TokenBalance
	if check.SignerConnected && e.balance != nil {
		b, err := e.balance.Balance(ctx)
		if err != nil {
			e.logger.Warnf("读取余额失败，按0计算: %v", err)
		} else {
			tb = b
			balance = b.Formatted
			check.Symbol = b.Symbol
		}
	}
	check.Balance = balance.String()

	var err *apperrors.AirdropError
	switch {
	case !check.SignerConnected:
		err = apperrors.Precondition(apperrors.ErrNoSigner, "")
	case len(valid) == 0:
		err = apperrors.Precondition(apperrors.ErrNoValidRecipients, "")
	case balance.LessThan(sum):
		err = apperrors.Precondition(apperrors.ErrInsufficientBalance, "余额 %s 小于所需 %s", balance, sum)
	}
	if err != nil {
		check.Code = err.Code
		check.Message = err.Message
		return check, tb, err
	}
	check.Ready = true
	return check, tb, nil
}

// Run 同步执行一次空投，返回运行报告。
// 运行不随ctx取消而中断，所有快照中的接收方都会被尝试。
func (e *Executor) Run(ctx context.Context) (*models.RunReport, error) {
	r, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return e.execute(context.WithoutCancel(ctx), r)
}

// Start 同步检查前置条件后在后台运行，返回运行ID
func (e *Executor) Start(ctx context.Context) (string, error) {
	r, err := e.prepare(ctx)
	if err != nil {
		return "", err
	}
	go func() {
		_, _ = e.execute(context.WithoutCancel(ctx), r)
	}()
	return r.report.ID, nil
}

// Wait 等待运行和余额刷新全部结束
func (e *Executor) Wait(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status 当前状态，报告为副本
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Running:  e.running,
		Progress: e.progress,
		Fraction: e.progress.Fraction(),
	}
	if e.current != nil {
		s.Current = copyReport(e.current)
	}
	if e.last != nil {
		s.Last = copyReport(e.last)
	}
	return s
}

// Running 是否有运行在进行
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func copyReport(r *models.RunReport) *models.RunReport {
	c := *r
	c.Results = append([]*models.TransferResult(nil), r.Results...)
	return &c
}

// prepare 占用运行槽位、检查前置条件并冻结有效接收方快照。
// 检查失败时不修改任何接收方状态。
func (e *Executor) prepare(ctx context.Context) (*run, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		err := apperrors.Precondition(apperrors.ErrRunInProgress, "")
		e.handle(ctx, err)
		return nil, err
	}
	e.running = true
	e.beginActivityLocked()
	e.mu.Unlock()

	snapshot := e.list.Valid()
	check, tb, perr := e.preflight(ctx, snapshot)
	if perr != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.endActivity()
		e.handle(ctx, perr)
		return nil, perr
	}

	settings := e.settings.Get()
	symbol := settings.TokenSymbol
	if symbol == "" && tb != nil {
		symbol = tb.Symbol
	}
	settings.TokenSymbol = symbol

	report := &models.RunReport{
		ID:            e.newID(),
		StartedAt:     e.now(),
		TokenAddress:  settings.TokenAddress,
		TokenSymbol:   symbol,
		Total:         len(snapshot),
		Results:       make([]*models.TransferResult, 0, len(snapshot)),
		BalanceBefore: check.Balance,
	}

	ids := make([]string, len(snapshot))
	for i := range snapshot {
		ids[i] = snapshot[i].ID
	}
	if n := e.list.ResetForRun(ids); n > 0 {
		e.logger.Debugf("%d 个已完成的接收方重置为pending", n)
	}

	e.mu.Lock()
	e.progress = models.Progress{Completed: 0, Total: len(snapshot)}
	e.current = report
	e.mu.Unlock()
	e.metrics.RunStarted()

	return &run{report: report, snapshot: snapshot, settings: settings}, nil
}

// execute 顺序处理快照，单个接收方失败不影响其余接收方
func (e *Executor) execute(ctx context.Context, r *run) (*models.RunReport, error) {
	defer e.endActivity()

	e.logRunStart(r)
	if err := e.loop(ctx, r); err != nil {
		return e.abort(ctx, r, err)
	}

	e.notifier.Success("Airdrop completed!")

	e.mu.Lock()
	r.report.FinishedAt = e.now()
	e.running = false
	e.current = nil
	e.last = r.report
	e.mu.Unlock()
	e.metrics.RunFinished("completed")
	e.logRunEnd(r)

	e.refresh(ctx, r.report)
	e.publishReport(ctx, r.report)
	return r.report, nil
}

// loop 运行级错误(包括panic)会中止整个循环
func (e *Executor) loop(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if e.encoder == nil {
		return fmt.Errorf("transfer encoder unavailable")
	}
	token, ok := validation.NormalizeAddress(r.settings.TokenAddress)
	if !ok {
		return fmt.Errorf("代币合约地址无效: %q", r.settings.TokenAddress)
	}

	last := len(r.snapshot) - 1
	for i := range r.snapshot {
		result := e.transfer(ctx, r, i, token)
		e.record(ctx, r, result)
		if i < last {
			e.sleep(ctx, e.txDelay)
		}
	}
	return nil
}

// transfer 处理单个接收方: processing -> 提交 -> success/failed
func (e *Executor) transfer(ctx context.Context, r *run, i int, token common.Address) *models.TransferResult {
	entry := r.snapshot[i]
	result := &models.TransferResult{
		RunID:       r.report.ID,
		Index:       i,
		RecipientID: entry.ID,
		Address:     entry.Address,
		Amount:      entry.Amount,
		StartedAt:   e.now(),
	}

	if err := e.list.MarkProcessing(entry.ID); err != nil {
		// 快照中的接收方在轮到它之前被删除，没有状态可以迁移
		var ae *apperrors.AirdropError
		if apperrors.HasCode(err, apperrors.CodeRecipientNotFound) {
			ae = apperrors.NewAirdropError(apperrors.ErrorTypeSubmission, apperrors.SeverityLow,
				apperrors.CodeRecipientRemoved, "recipient removed")
		} else {
			ae = apperrors.WrapError(err, apperrors.ErrorTypeSubmission, apperrors.SeverityMedium,
				apperrors.CodeSubmissionFailed, "无法开始处理接收方")
		}
		e.fillFailure(ctx, r, result, ae)
		e.notifier.Error("Failed to send %s to %s...", r.settings.TokenSymbol, prefix(entry.Address))
		return result
	}

	hash, ae := e.submit(ctx, r, entry, token)
	if ae != nil {
		e.fillFailure(ctx, r, result, ae)
		if err := e.list.MarkFailed(entry.ID, result.Reason); err != nil {
			e.logger.Warnf("标记失败状态出错 %s: %v", entry.ID, err)
		}
		e.notifier.Error("Failed to send %s to %s...", r.settings.TokenSymbol, prefix(entry.Address))
		return result
	}

	result.Outcome = models.OutcomeSuccess
	result.TxHash = hash.Hex()
	result.FinishedAt = e.now()
	if err := e.list.MarkSuccess(entry.ID, result.TxHash); err != nil {
		e.logger.Warnf("标记成功状态出错 %s: %v", entry.ID, err)
	}
	e.notifier.Success("Successfully sent %s %s to %s...", entry.Amount, r.settings.TokenSymbol, prefix(entry.Address))
	return result
}

func (e *Executor) submit(ctx context.Context, r *run, entry models.RecipientEntry, token common.Address) (common.Hash, *apperrors.AirdropError) {
	amount, err := validation.ToBaseUnits(entry.Amount, r.settings.TokenDecimals)
	if err != nil {
		return common.Hash{}, apperrors.WrapError(err, apperrors.ErrorTypeSubmission, apperrors.SeverityMedium,
			apperrors.CodeInvalidAmount, "金额无效")
	}

	data, err := e.encoder.EncodeTransfer(common.HexToAddress(entry.Address), amount)
	if err != nil {
		return common.Hash{}, apperrors.WrapError(err, apperrors.ErrorTypeSubmission, apperrors.SeverityMedium,
			apperrors.CodeInvalidCallData, "编码调用数据失败")
	}

	hash, err := e.signer.Submit(ctx, token, data)
	if err != nil {
		return common.Hash{}, apperrors.ClassifySubmitError(err)
	}
	return hash, nil
}

func (e *Executor) fillFailure(ctx context.Context, r *run, result *models.TransferResult, ae *apperrors.AirdropError) {
	ae = ae.WithComponent("airdrop").WithRecipient(result.RecipientID).WithContext("run_id", r.report.ID)
	e.handle(ctx, ae)

	result.Outcome = models.OutcomeFailure
	result.ErrorCode = ae.Code
	result.Reason = reason(ae)
	result.FinishedAt = e.now()
}

// record 追加结果并推进进度
func (e *Executor) record(ctx context.Context, r *run, result *models.TransferResult) {
	e.mu.Lock()
	r.report.Add(result)
	e.progress.Completed++
	fraction := e.progress.Fraction()
	e.mu.Unlock()

	e.metrics.ObserveTransfer(string(result.Outcome), result.ErrorCode, result.FinishedAt.Sub(result.StartedAt))
	e.metrics.SetProgress(fraction)
	e.logTransfer(r, result)

	if err := e.out.WriteResult(result); err != nil {
		e.handle(ctx, apperrors.WrapError(err, apperrors.ErrorTypeOutput, apperrors.SeverityLow,
			"OUTPUT_FAILED", "写入转账结果失败").WithComponent("output"))
	}
}

// abort 运行级错误: 一条失败通知，进度清零，卡在processing的接收方记为失败
func (e *Executor) abort(ctx context.Context, r *run, cause error) (*models.RunReport, error) {
	ae := apperrors.WrapError(cause, apperrors.ErrorTypeRun, apperrors.SeverityHigh,
		apperrors.CodeRunFailed, apperrors.ErrRunFailed.Message).
		WithComponent("airdrop").WithContext("run_id", r.report.ID)
	e.handle(ctx, ae)
	e.notifier.Error(apperrors.ErrRunFailed.Message)

	for _, entry := range r.snapshot {
		if cur, ok := e.list.Get(entry.ID); ok && cur.Status == models.StatusProcessing {
			if err := e.list.MarkFailed(entry.ID, reasonRunAborted); err != nil {
				e.logger.Warnf("标记失败状态出错 %s: %v", entry.ID, err)
			}
		}
	}

	e.mu.Lock()
	r.report.Error = reason(ae)
	r.report.FinishedAt = e.now()
	e.progress = models.Progress{}
	e.running = false
	e.current = nil
	e.last = r.report
	e.mu.Unlock()
	e.metrics.RunFinished("failed")
	e.metrics.SetProgress(0)

	e.publishReport(ctx, r.report)
	return r.report, ae
}

// refresh 等待链上状态更新后刷新余额
func (e *Executor) refresh(ctx context.Context, report *models.RunReport) {
	if e.balance == nil {
		return
	}
	e.sleep(ctx, e.refreshDelay)
	e.balance.Refetch(ctx)

	c, ok := e.balance.(cachedBalance)
	if !ok {
		return
	}
	if b, _ := c.Cached(); b != nil {
		e.mu.Lock()
		report.BalanceAfter = b.Formatted.String()
		e.mu.Unlock()
		e.metrics.SetBalance(b.Formatted.InexactFloat64())
	}
}

func (e *Executor) publishReport(ctx context.Context, report *models.RunReport) {
	e.mu.Lock()
	snapshot := copyReport(report)
	e.mu.Unlock()

	if err := e.out.WriteReport(snapshot); err != nil {
		e.handle(ctx, apperrors.WrapError(err, apperrors.ErrorTypeOutput, apperrors.SeverityLow,
			"OUTPUT_FAILED", "写入运行报告失败").WithComponent("output"))
	}
	if e.archive != nil {
		if err := e.archive.Save(snapshot); err != nil {
			e.handle(ctx, apperrors.WrapError(err, apperrors.ErrorTypeStorage, apperrors.SeverityMedium,
				"ARCHIVE_FAILED", "归档运行报告失败").WithComponent("history"))
		}
	}
}

func (e *Executor) handle(ctx context.Context, err error) {
	if e.errHandler != nil {
		e.errHandler.HandleError(ctx, err)
	}
}

func (e *Executor) beginActivityLocked() {
	if e.active == 0 {
		e.idle = make(chan struct{})
	}
	e.active++
}

func (e *Executor) endActivity() {
	e.mu.Lock()
	e.active--
	if e.active == 0 {
		close(e.idle)
	}
	e.mu.Unlock()
}

func (e *Executor) logRunStart(r *run) {
	if e.slog != nil {
		logging.NewRunLogger(e.slog, r.report.ID, r.report.Total).
			Info("开始空投", "token", r.settings.TokenAddress, "symbol", r.settings.TokenSymbol)
		return
	}
	e.logger.WithFields(logrus.Fields{"run_id": r.report.ID, "total": r.report.Total}).
		Infof("开始空投 %s", r.settings.TokenSymbol)
}

func (e *Executor) logRunEnd(r *run) {
	rate, _ := r.report.SuccessRate()
	if e.slog != nil {
		logging.NewRunLogger(e.slog, r.report.ID, r.report.Total).
			Info("空投完成", "succeeded", r.report.Succeeded, "failed", r.report.Failed, "success_rate", rate)
		return
	}
	e.logger.WithFields(logrus.Fields{"run_id": r.report.ID, "total": r.report.Total}).
		Infof("空投完成: 成功 %d, 失败 %d", r.report.Succeeded, r.report.Failed)
}

func (e *Executor) logTransfer(r *run, result *models.TransferResult) {
	if e.slog != nil {
		l := logging.NewTransferLogger(e.slog, r.report.ID, result.Index, result.Address)
		if result.Succeeded() {
			l.Info("转账成功", "amount", result.Amount, "tx_hash", result.TxHash)
		} else {
			l.Warn("转账失败", "amount", result.Amount, "code", result.ErrorCode, "reason", result.Reason)
		}
		return
	}
	entry := e.logger.WithFields(logrus.Fields{
		"run_id":    r.report.ID,
		"index":     result.Index,
		"recipient": result.Address,
	})
	if result.Succeeded() {
		entry.Infof("转账成功 %s: %s", result.Amount, result.TxHash)
	} else {
		entry.Warnf("转账失败 %s: %s", result.Amount, result.Reason)
	}
}

func reason(ae *apperrors.AirdropError) string {
	if ae.Cause != nil {
		return fmt.Sprintf("%s: %v", ae.Message, ae.Cause)
	}
	return ae.Message
}

func prefix(addr string) string {
	if len(addr) < 6 {
		return addr
	}
	return addr[:6]
}

type nopNotifier struct{}

func (nopNotifier) Success(string, ...interface{}) {}
func (nopNotifier) Error(string, ...interface{})   {}
func (nopNotifier) Info(string, ...interface{})    {}
