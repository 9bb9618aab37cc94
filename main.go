package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/internal/mcp"
	"github.com/beewebpro/new-sumotech-sub000/internal/selfcheck"
	"github.com/beewebpro/new-sumotech-sub000/internal/web"
	"github.com/beewebpro/new-sumotech-sub000/pkg/broadcast"
	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/logger"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workflow"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，默认查找 ./config.yaml")
	mode := flag.String("mode", "all", "运行模式: all | mcp | web")
	skipCheck := flag.Bool("skip-check", false, "跳过启动自检")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	hub := broadcast.NewBroadcastService(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go hub.Start(&wg)

	// 标准输出留给 MCP 协议，日志只写 stderr、文件与广播
	log := logger.Must(cfg.Log, broadcast.NewLogCore(hub, "", nil))
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*skipCheck {
		results := selfcheck.New(log.Named("selfcheck"), cfg).Run(ctx)
		if failed := selfcheck.Failed(results); len(failed) > 0 {
			log.Error("以下依赖不可用，请修复后再运行", zap.Strings("checks", failed))
			os.Exit(1)
		}
	}

	store := progress.NewStore(time.Hour)
	processor, closer, err := workflow.NewProcessorFromConfig(log, cfg, progress.Multi{store, hub})
	if err != nil {
		log.Fatal("创建工作流处理器失败", zap.Error(err))
	}
	defer func() {
		if err := closer(); err != nil {
			log.Warn("关闭资源失败", zap.Error(err))
		}
	}()

	mcpServer, err := mcp.NewServer(processor, log.Named("mcp"))
	if err != nil {
		log.Fatal("创建MCP服务器失败", zap.Error(err))
	}

	go sweepProgress(ctx, store)

	errCh := make(chan error, 2)
	running := 0
	if *mode == "all" || *mode == "mcp" {
		running++
		go func() {
			log.Info("MCP 服务器已启动，等待连接...", zap.Strings("tools", mcpServer.GetToolNames()))
			errCh <- mcpServer.Start(ctx)
		}()
	}
	if *mode == "all" || *mode == "web" {
		running++
		srv := web.NewServer(processor, log.Named("web"), store, hub, mcpServer.GetHandler().Tools())
		go func() {
			errCh <- srv.Run(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
		}()
	}
	if running == 0 {
		log.Fatal("未知运行模式", zap.String("mode", *mode))
	}

	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil {
			log.Error("服务退出", zap.Error(err))
			stop()
		}
	}

	log.Info("正在关闭服务器...")
	hub.Close()
	wg.Wait()
}

func sweepProgress(ctx context.Context, store *progress.Store) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep()
		}
	}
}
