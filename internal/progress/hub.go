package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 100).
//   - MaxBatchWait: upper bound on how long the oldest buffered event waits (default 250ms).
//   - TerminalWait: how long Emit may block on a full buffer for TASK_DONE/TASK_ERROR before dropping.
//     Zero makes every Emit non-blocking.
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	TerminalWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub batches task events and fans each batch out to every sink. Emit is safe
// for concurrent use; only terminal events may wait, and never longer than
// Config.TerminalWait.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog rate.Sometimes

	pendingDrops atomic.Int64
	dropped      atomic.Int64
	closed       atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   live,
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit hands an event to the batcher. Invalid events are discarded. When the
// buffer is full the event is dropped, except that terminal events first wait
// up to Config.TerminalWait for room.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid task event", zap.String("task_id", evt.TaskID), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		return
	default:
	}
	if evt.Stage.Terminal() && h.cfg.TerminalWait > 0 {
		wait := time.NewTimer(h.cfg.TerminalWait)
		defer wait.Stop()
		select {
		case h.events <- evt:
			return
		case <-wait.C:
		}
	}
	h.drop(evt)
}

func (h *Hub) drop(evt Event) {
	h.dropped.Add(1)
	h.pendingDrops.Add(1)
	h.dropLog.Do(func() {
		h.logger.Warn("task events dropped due to backpressure",
			zap.Int64("dropped", h.pendingDrops.Swap(0)),
			zap.String("last_task_id", evt.TaskID),
			zap.String("last_stage", string(evt.Stage)),
		)
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops accepting events, flushes what is buffered, closes the sinks and
// waits for the batcher to exit or ctx to end. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	// deadline is armed by the first event of a batch so MaxBatchWait bounds
	// the age of the oldest event, not the gap between events.
	var deadline *time.Timer
	var expired <-chan time.Time
	flush := func() {
		if deadline != nil {
			deadline.Stop()
			deadline, expired = nil, nil
		}
		if len(batch) == 0 {
			return
		}
		h.fanOut(batch)
		batch = batch[:0]
	}

	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				flush()
				continue
			}
			if deadline == nil {
				deadline = time.NewTimer(h.cfg.MaxBatchWait)
				expired = deadline.C
			}
		case <-expired:
			flush()
		case <-h.stopCh:
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.fanOut(batch)
				batch = batch[:0]
			}
		default:
			h.fanOut(batch)
			h.closeSinks()
			return
		}
	}
}

// fanOut delivers one batch to all sinks concurrently so a slow broker or
// bucket only delays its own sink. It returns once every sink has finished.
func (h *Hub) fanOut(batch []Event) {
	if len(batch) == 0 || len(h.sinks) == 0 {
		return
	}
	snapshot := append([]Event(nil), batch...)
	var wg sync.WaitGroup
	for _, sink := range h.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, snapshot); err != nil {
				h.logger.Warn("task event sink consume failed",
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Int("batch", len(snapshot)),
					zap.Error(err),
				)
			}
		}(sink)
	}
	wg.Wait()
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("task event sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
