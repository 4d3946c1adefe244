package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"airdrop/internal/app"
	"airdrop/internal/config"
	"airdrop/internal/history"
	"airdrop/internal/logging"
	"airdrop/internal/recipients"
	"airdrop/internal/shutdown"
	"airdrop/internal/stats"
)

var (
	// 通用参数
	configFile string
	envFile    string
	verbose    bool

	// 运行参数
	csvFile string
	yes     bool

	templateOut  string
	historyLimit int
	stopTimeout  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "airdrop",
		Short:        "ERC20代币空投工具",
		Long:         `从CSV读取接收方，逐个发送ERC20转账并汇总结果`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "环境变量文件")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "执行空投",
		RunE:  runAirdrop,
	}
	runCmd.Flags().StringVar(&csvFile, "csv", "", "接收方CSV文件 (address,amount)")
	runCmd.Flags().BoolVarP(&yes, "yes", "y", false, "跳过确认")
	runCmd.Flags().DurationVar(&stopTimeout, "shutdown-timeout", 2*time.Minute, "收到停机信号后等待运行结束的时间")
	_ = runCmd.MarkFlagRequired("csv")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "校验接收方并检查前置条件，不发送交易",
		RunE:  checkAirdrop,
	}
	checkCmd.Flags().StringVar(&csvFile, "csv", "", "接收方CSV文件 (address,amount)")
	_ = checkCmd.MarkFlagRequired("csv")

	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "输出CSV模板",
		RunE:  writeTemplate,
	}
	templateCmd.Flags().StringVarP(&templateOut, "output", "o", "", "输出文件，默认标准输出")

	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "查看签名账户的代币余额",
		RunE:  showBalance,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "查看归档的运行记录",
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "显示条数")

	rootCmd.AddCommand(runCmd, checkCmd, templateCmd, balanceCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// setup 加载环境变量和配置，并按配置设置日志
func setup() (*config.Config, *logrus.Logger, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	cfg, err := config.LoadConfig(configFile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := logging.ConfigureLogrus(logger, cfg.Logging); err != nil {
		return nil, nil, err
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return cfg, logger, nil
}

// openApp 组装应用并用配置中的私钥建立签名会话
func openApp(ctx context.Context) (*app.App, *logrus.Logger, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := a.ConnectFromConfig(ctx); err != nil {
		a.Close()
		return nil, nil, fmt.Errorf("连接钱包失败: %w", err)
	}
	return a, logger, nil
}

func importCSV(a *app.App, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取CSV失败: %w", err)
	}
	entries := a.List.Import(recipients.StripHeader(string(data)))
	a.Logger.Infof("已导入 %d 个接收方，有效 %d 个", len(entries), stats.ValidCount(entries))
	return nil
}

func printStats(ctx context.Context, a *app.App, logger *logrus.Logger) {
	s := a.Stats(ctx)
	symbol := a.Settings.Get().TokenSymbol
	logger.Info("接收方统计:")
	logger.Infof("  接收方总数: %d", s.TotalRecipients)
	logger.Infof("  有效地址数: %d", s.ValidRecipients)
	logger.Infof("  空投总量: %s %s", s.TotalAmount, symbol)
	logger.Infof("  估算gas: %s %s", s.EstimatedGas, a.Config.Chain.NativeSymbol)
	if s.InsufficientBalance {
		logger.Warnf("  余额不足: 当前余额 %s %s", a.Balance(ctx).String(), symbol)
	}
}

// reportListIssues 输出列表校验发现的问题，返回是否存在无效行
func reportListIssues(a *app.App, logger *logrus.Logger) bool {
	result := a.CheckList()
	for _, e := range result.Errors {
		logger.Warnf("  第%v行 %s，将被跳过: %q", e.Context["row"], e.Message, e.Context["address"])
	}
	for _, w := range result.Warnings {
		logger.Warn("  " + w)
	}
	return !result.Valid
}

func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func runAirdrop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, logger, err := openApp(ctx)
	if err != nil {
		return err
	}

	gs := shutdown.NewGracefulShutdown(stopTimeout, logger)
	a.RegisterShutdown(gs, nil)
	gs.Start()
	defer func() {
		gs.Shutdown()
		if err := gs.Wait(); err != nil {
			logger.Warn(err)
		}
	}()

	if err := importCSV(a, csvFile); err != nil {
		return err
	}
	printStats(ctx, a, logger)
	reportListIssues(a, logger)

	check, err := a.Executor.Preflight(ctx)
	if err != nil {
		return err
	}
	if !check.Ready {
		return fmt.Errorf("%s", check.Message)
	}

	if !yes && !confirm(fmt.Sprintf("向 %d 个地址发送共 %s %s?", check.ValidRecipients, check.TotalAmount, check.Symbol)) {
		logger.Info("已取消")
		return nil
	}

	// 运行开始后不响应取消，收到信号时停机流程会等待运行结束
	report, err := a.Executor.Run(ctx)
	if report == nil {
		return err
	}

	logger.Info("空投完成，统计信息:")
	logger.Infof("  运行ID: %s", report.ID)
	logger.Infof("  成功: %d", report.Succeeded)
	logger.Infof("  失败: %d", report.Failed)
	if rate, ok := report.SuccessRate(); ok {
		logger.Infof("  成功率: %.1f%%", rate*100)
	}
	logger.Infof("  耗时: %s", report.Duration().Round(time.Millisecond))
	if report.BalanceAfter != "" {
		logger.Infof("  剩余余额: %s %s", report.BalanceAfter, report.TokenSymbol)
	}
	for _, v := range a.Results() {
		if v.Error != "" {
			logger.Warnf("  %s %s: %s", v.Address, v.Amount, v.Error)
			continue
		}
		logger.Infof("  %s %s: %s", v.Address, v.Amount, v.ExplorerURL)
	}
	return err
}

func checkAirdrop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, logger, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := importCSV(a, csvFile); err != nil {
		return err
	}
	printStats(ctx, a, logger)
	if reportListIssues(a, logger) {
		logger.Warn("列表中存在无效地址，运行时会跳过这些行")
	}

	check, err := a.Executor.Preflight(ctx)
	if err != nil {
		return err
	}
	if !check.Ready {
		return fmt.Errorf("%s", check.Message)
	}
	logger.Infof("前置条件检查通过，余额 %s %s", check.Balance, check.Symbol)
	return nil
}

func writeTemplate(cmd *cobra.Command, args []string) error {
	if templateOut == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), recipients.Template())
		return err
	}
	return os.WriteFile(templateOut, []byte(recipients.Template()), 0o644)
}

func showBalance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, logger, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	session := a.Session(ctx)
	if !session.Connected {
		return fmt.Errorf("未配置私钥，请设置 %s", config.EnvPrivateKey)
	}

	balance, err := a.Reader.Balance(ctx)
	if err != nil {
		return fmt.Errorf("读取余额失败: %w", err)
	}
	logger.Infof("账户: %s", session.Address)
	logger.Infof("代币余额: %s %s", balance.Formatted.String(), balance.Symbol)
	if session.NativeBalance != "" {
		logger.Infof("原生代币余额: %s %s", session.NativeBalance, a.Config.Chain.NativeSymbol)
	}
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("历史记录未启用")
	}

	store, err := history.NewStore(cfg.History.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(historyLimit)
	if err != nil {
		return err
	}
	totals, err := store.Totals()
	if err != nil {
		return err
	}

	logger.Infof("共 %d 次运行，成功 %d 笔，失败 %d 笔", totals.Runs, totals.Succeeded, totals.Failed)
	for _, s := range summaries {
		line := fmt.Sprintf("%s  %s  %s  %d/%d 成功", s.StartedAt.Format(time.DateTime), s.ID, s.TokenSymbol, s.Succeeded, s.Total)
		if s.Error != "" {
			logger.Warnf("%s  错误: %s", line, s.Error)
			continue
		}
		logger.Info(line)
	}
	return nil
}
