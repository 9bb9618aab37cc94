package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/logger"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workflow"
	"github.com/beewebpro/new-sumotech-sub000/pkg/workspace"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "配置文件路径")
	manifestPath := flag.String("manifest", "", "批量任务清单 (YAML)")
	reportPath := flag.String("report", "", "同时把报告写入该 JSON 文件")
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "用法: batch_render -manifest jobs.yaml [-config config.yaml]")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}
	log := logger.Must(cfg.Log)
	defer log.Sync()

	manifest, err := workflow.LoadManifest(*manifestPath)
	if err != nil {
		log.Error("读取任务清单失败", zap.Error(err))
		return 1
	}
	if manifest.Empty() {
		log.Warn("任务清单为空", zap.String("manifest", *manifestPath))
		return 0
	}

	processor, closer, err := workflow.NewProcessorFromConfig(log, cfg, nil)
	if err != nil {
		log.Error("创建工作流处理器失败", zap.Error(err))
		return 1
	}
	defer closer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report := processor.RunManifest(ctx, manifest)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Error("输出报告失败", zap.Error(err))
	}
	if *reportPath != "" {
		if err := workspace.SaveJSON(*reportPath, report); err != nil {
			log.Error("保存报告失败", zap.String("path", *reportPath), zap.Error(err))
		}
	}

	if n := report.Failed(); n > 0 {
		log.Error("部分任务失败", zap.Int("failed", n))
		return 1
	}
	log.Info("批量任务完成")
	return 0
}
