package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/beewebpro/new-sumotech-sub000/internal/selfcheck"
	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	fmt.Println("🔍 开始执行自检程序...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ 加载配置失败: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.Log)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	results := selfcheck.New(log, cfg).Run(ctx)
	for _, r := range results {
		switch {
		case r.OK():
			fmt.Printf("  📋 检查%s... ✅\n", r.Name)
		case r.Required:
			fmt.Printf("  📋 检查%s... ❌ (%s)\n", r.Name, r.Error)
		default:
			fmt.Printf("  📋 检查%s... ⚠️  (%s，将使用回退)\n", r.Name, r.Error)
		}
	}

	if failed := selfcheck.Failed(results); len(failed) > 0 {
		fmt.Printf("❌ 自检失败，以下依赖不可用: %v\n", failed)
		os.Exit(1)
	}
	fmt.Println("✅ 所有必需依赖均正常，可以开始执行工作流")
}
