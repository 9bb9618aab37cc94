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
	"github.com/beewebpro/new-sumotech-sub000/internal/web"
	"github.com/beewebpro/new-sumotech-sub000/pkg/broadcast"
	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/logger"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workflow"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	port := flag.Int("port", 0, "监听端口，覆盖配置中的 server.port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	hub := broadcast.NewBroadcastService(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go hub.Start(&wg)

	log := logger.Must(cfg.Log, broadcast.NewLogCore(hub, "", nil))
	defer log.Sync()

	store := progress.NewStore(time.Hour)
	processor, closer, err := workflow.NewProcessorFromConfig(log, cfg, progress.Multi{store, hub})
	if err != nil {
		log.Fatal("创建工作流处理器失败", zap.Error(err))
	}
	defer closer()

	// 工具列表与 MCP 服务保持一致
	mcpServer, err := mcp.NewServer(processor, log.Named("mcp"))
	if err != nil {
		log.Fatal("创建MCP服务器失败", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := web.NewServer(processor, log.Named("web"), store, hub, mcpServer.GetHandler().Tools())
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("访问地址", zap.String("url", "http://localhost"+addr))
	if err := srv.Run(ctx, addr); err != nil {
		log.Error("Web 服务异常退出", zap.Error(err))
	}

	hub.Close()
	wg.Wait()
}
