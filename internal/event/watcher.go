package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// replayPage bounds each stream read during catch-up.
const replayPage = 200

// Update is one decoded bus message. Exactly one of Operation and Analysis is set.
type Update struct {
	Replayed  bool
	Operation *OperationUpdate
	Analysis  *AnalysisUpdate
}

// Watcher follows updates published by a running engine. It replays the
// retained operations stream, then delivers live operation and analysis
// updates. An operation published during the replay may be seen twice.
type Watcher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func NewWatcher(bus domain.SignalBus, logger *slog.Logger) *Watcher {
	return &Watcher{bus: bus, logger: logger.With(slog.String("component", "event_watcher"))}
}

// Run calls fn for every update until ctx is cancelled. Undecodable payloads
// are logged and skipped.
func (w *Watcher) Run(ctx context.Context, fn func(Update)) error {
	ops, err := w.bus.Subscribe(ctx, ChannelOperations)
	if err != nil {
		return fmt.Errorf("event: watch operations: %w", err)
	}
	analyses, err := w.bus.Subscribe(ctx, ChannelAnalysis)
	if err != nil {
		return fmt.Errorf("event: watch analysis: %w", err)
	}

	replayed, err := w.replay(ctx, fn)
	if err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "operations stream replayed, following live updates", slog.Int("entries", replayed))

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ops:
			if !ok {
				return nil
			}
			w.deliverOperation(ctx, raw, false, fn)
		case raw, ok := <-analyses:
			if !ok {
				return nil
			}
			var u AnalysisUpdate
			if err := json.Unmarshal(raw, &u); err != nil {
				w.logger.WarnContext(ctx, "skipping analysis update", slog.String("error", err.Error()))
				continue
			}
			fn(Update{Analysis: &u})
		}
	}
}

func (w *Watcher) replay(ctx context.Context, fn func(Update)) (int, error) {
	lastID, n := "0", 0
	for {
		msgs, err := w.bus.StreamRead(ctx, StreamOperations, lastID, replayPage)
		if err != nil {
			return n, fmt.Errorf("event: replay operations: %w", err)
		}
		for _, m := range msgs {
			w.deliverOperation(ctx, m.Payload, true, fn)
			lastID = m.ID
		}
		n += len(msgs)
		if len(msgs) < replayPage {
			return n, nil
		}
	}
}

func (w *Watcher) deliverOperation(ctx context.Context, raw []byte, replayed bool, fn func(Update)) {
	var u OperationUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		w.logger.WarnContext(ctx, "skipping operation update", slog.String("error", err.Error()))
		return
	}
	fn(Update{Replayed: replayed, Operation: &u})
}
