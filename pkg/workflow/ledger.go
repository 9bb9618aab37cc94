package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger 持久化运行、条目与步骤的状态。database.GormManager 实现了它。
type Ledger interface {
	StartRun(runID, kind string, total int) error
	FinishRun(runID string, succeeded, failed int, errMsg string) error
	StartItem(runID, itemID string) error
	FinishItem(runID, itemID string, ok bool, output, errMsg string) error
	RecordStep(runID, itemID, step string, started time.Time, stepErr error, details string) error
}

type nopLedger struct{}

func (nopLedger) StartRun(string, string, int) error { return nil }
func (nopLedger) FinishRun(string, int, int, string) error { return nil }
func (nopLedger) StartItem(string, string) error { return nil }
func (nopLedger) FinishItem(string, string, bool, string, string) error { return nil }
func (nopLedger) RecordStep(string, string, string, time.Time, error, string) error { return nil }

type scopeKey struct{}

// scope 当前条目所属的运行
type scope struct {
	runID  string
	itemID string
}

func withScope(ctx context.Context, s scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) (scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(scope)
	return s, ok
}

// beginItem 单独调用的流水线也记为只有一个条目的运行；批处理中调用时沿用批处理的运行。
// 返回的 finish 写入条目与运行的结果。
func (p *Processor) beginItem(ctx context.Context, kind, itemID string) (context.Context, func(output string, err error)) {
	if _, ok := scopeFrom(ctx); ok {
		return ctx, func(string, error) {}
	}
	runID := uuid.NewString()
	p.ledgerCall("start_run", p.ledger.StartRun(runID, kind, 1))
	p.ledgerCall("start_item", p.ledger.StartItem(runID, itemID))
	ctx = withScope(ctx, scope{runID: runID, itemID: itemID})
	return ctx, func(output string, err error) {
		errMsg := ""
		succeeded, failed := 1, 0
		if err != nil {
			errMsg = err.Error()
			succeeded, failed = 0, 1
		}
		p.ledgerCall("finish_item", p.ledger.FinishItem(runID, itemID, err == nil, output, errMsg))
		p.ledgerCall("finish_run", p.ledger.FinishRun(runID, succeeded, failed, ""))
	}
}

// step 执行一个步骤并记录耗时与结果
func (p *Processor) step(ctx context.Context, name string, fn func() (string, error)) error {
	started := time.Now()
	details, err := fn()
	if s, ok := scopeFrom(ctx); ok {
		p.ledgerCall("record_step", p.ledger.RecordStep(s.runID, s.itemID, name, started, err, details))
	}
	return err
}

// ledgerCall 记录库故障不影响流水线
func (p *Processor) ledgerCall(op string, err error) {
	if err != nil {
		p.logger.Warn("运行记录写入失败", zap.String("op", op), zap.Error(err))
	}
}
