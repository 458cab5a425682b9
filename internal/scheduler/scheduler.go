package scheduler

import (
	"context"
	"time"

	"tradegate/internal/logger"
)

// AlignedScheduler 周期对齐的调度器：唤醒点 = 周期边界 + 偏移。
// 每次唤醒以独立的限时 context 运行 task，超时即放弃该次执行。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	Budget         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, name string, interval, offset, budget time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		Budget:   budget,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks, invoking task at each aligned wake-up until the context is
// done. Invocations are independent: a run that exhausts its budget is
// abandoned and the next boundary fires normally.
func (s *AlignedScheduler) Start(task func(ctx context.Context)) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("scheduler %s: task is nil, exit", s.Name)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler %s: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("scheduler %s: negative offset=%s, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("scheduler %s: started interval=%s offset=%s budget=%s run_immediately=%v at=%s",
		s.Name, s.Interval, s.Offset, s.Budget, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		s.runOnce(task)
	}

	for {
		now := s.nowFn().UTC()
		wakeAt, wait := s.nextWake(now)

		logger.Debugf("scheduler %s: next run at %s (in %s)",
			s.Name, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

		if wait <= 0 {
			s.runOnce(task)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("scheduler %s: ctx done, exit", s.Name)
			return
		case <-timer.C:
		}
		s.runOnce(task)
	}
}

func (s *AlignedScheduler) runOnce(task func(ctx context.Context)) {
	runCtx := s.ctx
	cancel := func() {}
	if s.Budget > 0 {
		runCtx, cancel = context.WithTimeout(s.ctx, s.Budget)
	}
	defer cancel()
	task(runCtx)
}

func (s *AlignedScheduler) nextWake(now time.Time) (wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	wakeAt = now.Truncate(s.Interval).Add(s.Interval).Add(s.Offset)
	wait = wakeAt.Sub(now)
	return wakeAt, wait
}
