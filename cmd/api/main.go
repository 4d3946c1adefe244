package main

import (
	"context"
	"flag"
	"time"

	"airdrop/internal/api"
	"airdrop/internal/app"
	"airdrop/internal/config"
	"airdrop/internal/logging"
	"airdrop/internal/shutdown"

	"github.com/sirupsen/logrus"
)

var (
	configPath  = flag.String("config", "configs/config.yaml", "配置文件路径")
	envFile     = flag.String("env", ".env", "环境变量文件")
	port        = flag.Int("port", 0, "API 服务端口，0表示使用配置")
	verbose     = flag.Bool("verbose", false, "详细输出")
	stopTimeout = flag.Duration("shutdown-timeout", 2*time.Minute, "停机时等待运行结束的时间")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := config.LoadEnv(*envFile); err != nil {
		logger.Fatalf("加载环境变量失败: %v", err)
	}

	cfg, err := config.LoadConfig(*configPath, logger)
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}
	if err := logging.ConfigureLogrus(logger, cfg.Logging); err != nil {
		logger.Fatalf("配置日志失败: %v", err)
	}
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	listenPort := cfg.API.Port
	if *port > 0 {
		listenPort = *port
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("初始化失败: %v", err)
	}

	// 私钥可以之后通过接口提供
	if err := a.ConnectFromConfig(context.Background()); err != nil {
		logger.Warnf("连接钱包失败: %v", err)
	}

	a.Pool.StartHealthChecker(time.Minute)

	server := api.NewServer(a, logger, listenPort)

	gs := shutdown.NewGracefulShutdown(*stopTimeout, logger)
	a.RegisterShutdown(gs, server.Stop)
	gs.Start()

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
			gs.Shutdown()
		}
	}()

	logger.Infof("API服务器已启动，监听端口: %d", listenPort)

	if err := gs.Wait(); err != nil {
		logger.Errorf("关闭服务器失败: %v", err)
	}
	logger.Info("服务器已关闭")
}
