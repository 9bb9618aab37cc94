package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/beewebpro/new-sumotech-sub000/pkg/config"
	"github.com/beewebpro/new-sumotech-sub000/pkg/database"
	"github.com/beewebpro/new-sumotech-sub000/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	runID := flag.String("run", "", "查看指定运行的明细")
	retry := flag.String("retry", "", "把指定产物的失败状态重置为 pending（需同时指定 -run）")
	limit := flag.Int("n", 20, "列出最近的运行数量")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("无法加载配置: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(cfg.Log)
	defer log.Sync()

	db, err := database.NewGormManager(log, cfg.Database.Path)
	if err != nil {
		fmt.Printf("无法打开运行记录库: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch {
	case *retry != "" && *runID != "":
		ok, err := db.RetryItem(*runID, *retry)
		if err != nil {
			fmt.Printf("重置失败: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Printf("产物 %s 未失败，无需重试\n", *retry)
			return
		}
		fmt.Printf("产物 %s 已重置为 pending\n", *retry)
	case *runID != "":
		run, err := db.GetRun(*runID)
		if err != nil {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
		printRun(run)
	default:
		runs, err := db.ListRuns(*limit)
		if err != nil {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
		if len(runs) == 0 {
			fmt.Println("暂无运行记录")
			return
		}
		for _, r := range runs {
			fmt.Printf("%-40s %-18s %-10s 成功 %d / 失败 %d / 共 %d  %s\n",
				r.RunID, r.Kind, r.Status, r.Succeeded, r.Failed, r.Total, formatMs(r.DurationMs))
		}
	}
}

func printRun(run *database.Run) {
	fmt.Printf("运行 %s (%s) 处理进度:\n", run.RunID, run.Kind)
	fmt.Printf("- 状态: %s\n", run.Status)
	fmt.Printf("- 产物: 成功 %d 个, 失败 %d 个, 共 %d 个\n", run.Succeeded, run.Failed, run.Total)
	if run.ErrorMsg != "" {
		fmt.Printf("- 错误: %s\n", run.ErrorMsg)
	}
	for _, item := range run.Items {
		fmt.Printf("  - %s [%s] %s\n", item.ItemID, item.Status, formatMs(item.DurationMs))
		if item.OutputPath != "" {
			fmt.Printf("      输出: %s\n", item.OutputPath)
		}
		if item.ErrorMsg != "" {
			fmt.Printf("      错误: %s\n", item.ErrorMsg)
		}
		for _, step := range item.Steps {
			fmt.Printf("      · %-12s %-10s %s\n", step.StepName, step.Status, formatMs(step.DurationMs))
		}
	}
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}
