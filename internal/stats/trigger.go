package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keypool/internal/models"
	"keypool/internal/storage"
)

const (
	triggerKey  = "trigger"
	passTimeout = 2 * time.Minute
	globalDim   = "all"
)

// RunSummary describes one snapshot pass. Skipped is set when another
// process held the pass lock.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Rows       int       `json:"rows"`
	Skipped    bool      `json:"skipped"`
}

// Trigger runs a snapshot pass now. A call made while a pass is in flight
// waits for that pass and returns its summary instead of starting another.
func (a *Aggregator) Trigger(ctx context.Context) (*RunSummary, error) {
	ch := a.group.DoChan(triggerKey, func() (interface{}, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), passTimeout)
		defer cancel()
		return a.runPass(passCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RunSummary), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Aggregator) runPass(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{RunID: uuid.NewString(), StartedAt: a.now()}

	if a.lock != nil {
		acquired, err := a.lock.acquire(ctx, summary.RunID)
		if err != nil {
			return nil, err
		}
		if !acquired {
			a.logger.Info("Stats pass already running elsewhere, skipping", "run_id", summary.RunID)
			summary.Skipped = true
			summary.FinishedAt = a.now()
			return summary, nil
		}
		defer func() {
			if err := a.lock.release(context.WithoutCancel(ctx), summary.RunID); err != nil {
				a.logger.Warn("Failed to release stats lock", "run_id", summary.RunID, "error", err)
			}
		}()
	}

	now := summary.StartedAt
	day := models.DayWindow(now, a.config.Location)
	windows := []models.TimeWindow{
		day,
		models.HourWindow(now, a.config.Location),
		models.HourWindow(now.Add(-time.Hour), a.config.Location),
	}

	slots := make([]storage.SnapshotSlot, 0, len(windows))
	var rows []*models.RequestStat
	for _, window := range windows {
		start := window.Start.In(a.config.Location)
		slot := storage.SnapshotSlot{Date: start.Format(time.DateOnly), Hour: start.Hour()}
		if window == day {
			slot.Hour = models.FullDayHour
		}
		slots = append(slots, slot)

		slotRows, err := a.snapshotRows(ctx, window, slot)
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats for %s/%d: %w", slot.Date, slot.Hour, err)
		}
		rows = append(rows, slotRows...)
	}

	if err := a.snapshots.ReplaceSnapshots(ctx, slots, rows); err != nil {
		return nil, err
	}
	a.cache.Clear()

	summary.Rows = len(rows)
	summary.FinishedAt = a.now()
	a.logger.Info("Stats pass finished", "run_id", summary.RunID, "rows", summary.Rows,
		"duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

// snapshotRows reduces one window into global, per-provider and per-model rows
func (a *Aggregator) snapshotRows(ctx context.Context, window models.TimeWindow, slot storage.SnapshotSlot) ([]*models.RequestStat, error) {
	totals, err := a.usage.AggregateTotals(ctx, window)
	if err != nil {
		return nil, err
	}
	rows := []*models.RequestStat{newStatRow(slot, models.StatTypeGlobal, globalDim, totals)}

	providers, err := a.usage.AggregateByProvider(ctx, window)
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		rows = append(rows, newStatRow(slot, models.StatTypeProvider, p.Provider, p))
	}

	byModel, err := a.usage.AggregateByModel(ctx, window, 0)
	if err != nil {
		return nil, err
	}
	for _, m := range byModel {
		// a model name can be served by more than one provider
		rows = append(rows, newStatRow(slot, models.StatTypeModel, m.Provider+"/"+m.Model, m))
	}
	return rows, nil
}

func newStatRow(slot storage.SnapshotSlot, statType, dimension string, t *storage.UsageTotals) *models.RequestStat {
	return &models.RequestStat{
		StatDate:     slot.Date,
		StatHour:     slot.Hour,
		StatType:     statType,
		Dimension:    dimension,
		RequestCount: t.RequestCount,
		SuccessCount: t.SuccessCount,
		ErrorCount:   t.ErrorCount,
		TotalTokens:  t.TotalTokens,
		TotalCost:    roundCost(t.TotalCost),
		AvgLatencyMs: t.AvgLatencyMs,
	}
}

// Start runs a pass every Interval until Stop is called or ctx ends
func (a *Aggregator) Start(ctx context.Context) {
	if a.started.Swap(true) {
		return
	}
	go a.loop(ctx)
}

// Stop stops the background loop and waits for it to exit
func (a *Aggregator) Stop() {
	if !a.started.Load() {
		return
	}
	a.stopOnce.Do(func() { close(a.stopChan) })
	<-a.stoppedChan
}

func (a *Aggregator) loop(ctx context.Context) {
	defer close(a.stoppedChan)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	a.logger.Info("Stats loop started", "interval", a.config.Interval)
	for {
		select {
		case <-ticker.C:
			if _, err := a.Trigger(ctx); err != nil {
				a.logger.Error("Scheduled stats pass failed", "error", err)
			}
		case <-a.stopChan:
			a.logger.Info("Stats loop stopped")
			return
		case <-ctx.Done():
			a.logger.Info("Stats loop stopped", "reason", ctx.Err())
			return
		}
	}
}
