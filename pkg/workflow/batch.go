package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/beewebpro/new-sumotech-sub000/pkg/metrics"
	"github.com/beewebpro/new-sumotech-sub000/pkg/progress"
)

// ItemResult 批处理中一个条目的结果
type ItemResult struct {
	ID       string  `json:"id"`
	Success  bool    `json:"success"`
	Output   string  `json:"output,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Result   any     `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// BatchResult 批处理汇总，Results 与输入顺序一致
type BatchResult struct {
	RunID   string       `json:"run_id"`
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Results []ItemResult `json:"results"`
}

// FailedIDs 失败条目的 ID
func (b BatchResult) FailedIDs() []string {
	var ids []string
	for _, r := range b.Results {
		if !r.Success {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Job 一个独立条目
type Job struct {
	ID  string
	Run func(ctx context.Context) (ItemResult, error)
}

// RunBatch 逐个执行条目，单个条目失败只记录不中断。
// 并发度由 workflow.max_parallel 控制，默认 1 即顺序执行；同一条目内部始终是顺序的。
func (p *Processor) RunBatch(ctx context.Context, operation, jobID string, jobs []Job) BatchResult {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	result := BatchResult{RunID: jobID, Total: len(jobs), Results: make([]ItemResult, len(jobs))}
	tr := p.tracker(jobID, operation)
	tr.Start(fmt.Sprintf("开始批处理，共 %d 项", len(jobs)))
	p.ledgerCall("start_run", p.ledger.StartRun(jobID, operation, len(jobs)))

	parallel := p.cfg.Workflow.MaxParallel
	if parallel < 1 {
		parallel = 1
	}
	sem := semaphore.NewWeighted(parallel)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for i, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			result.Results[i] = ItemResult{ID: job.ID, Error: fmt.Sprintf("批处理已取消: %v", err)}
			continue
		}
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			defer sem.Release(1)

			item := p.runItem(ctx, operation, jobID, job)

			mu.Lock()
			result.Results[i] = item
			done++
			tr.Step(progress.Percent(done, len(jobs)), fmt.Sprintf("%s 完成 (%d/%d)", job.ID, done, len(jobs)))
			mu.Unlock()
		}(i, job)
	}
	wg.Wait()

	for _, r := range result.Results {
		if r.Success {
			result.Success++
		} else {
			result.Failed++
		}
	}
	p.ledgerCall("finish_run", p.ledger.FinishRun(jobID, result.Success, result.Failed, ""))
	p.logger.Info("批处理完成",
		zap.String("operation", operation),
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed))
	tr.Done(fmt.Sprintf("批处理完成: 成功 %d, 失败 %d", result.Success, result.Failed))
	return result
}

// runItem 执行单个条目，错误与 panic 都转成失败结果
func (p *Processor) runItem(ctx context.Context, operation, runID string, job Job) (item ItemResult) {
	p.ledgerCall("start_item", p.ledger.StartItem(runID, job.ID))
	ctx = withScope(ctx, scope{runID: runID, itemID: job.ID})

	defer func() {
		if r := recover(); r != nil {
			item = ItemResult{ID: job.ID, Error: fmt.Sprintf("panic: %v", r)}
		}
		item.ID = job.ID
		status := "success"
		if !item.Success {
			status = "failed"
			p.logger.Error("批处理条目失败",
				zap.String("operation", operation),
				zap.String("item", job.ID),
				zap.String("error", item.Error))
		}
		metrics.RecordBatchItem(operation, status)
		p.ledgerCall("finish_item", p.ledger.FinishItem(runID, job.ID, item.Success, item.Output, item.Error))
	}()

	res, err := job.Run(ctx)
	if err != nil {
		return ItemResult{ID: job.ID, Error: err.Error()}
	}
	res.Success = true
	return res
}
