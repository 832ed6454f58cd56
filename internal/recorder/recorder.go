package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mfranklin/flowlink/internal/protocol"
	"github.com/mfranklin/flowlink/internal/realtime"
)

// Recorder consumes execution events from the realtime client and
// writes them to the execution_events table in batches.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	// Input from the realtime client
	input *EventBuffer[Entry]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Active subscriptions for Detach
	client *realtime.Client
	subs   []subscription

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

type subscription struct {
	msgType string
	id      realtime.HandlerID
}

// New creates a Recorder. The pool may be nil in tests that never
// flush a non-empty batch.
func New(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger,
		db:     db,
		input:  NewEventBuffer[Entry](cfg.BufferSize),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Attach subscribes the recorder to every execution event type on the
// client. Handlers only push into the intake buffer so dispatch never
// waits on the database.
func (r *Recorder) Attach(client *realtime.Client) {
	r.client = client
	for _, msgType := range protocol.ExecutionEventTypes() {
		id := client.On(msgType, func(f realtime.Frame) {
			r.input.Push(Entry{Frame: f, ReceivedAt: time.Now()})
		})
		r.subs = append(r.subs, subscription{msgType: msgType, id: id})
	}
	r.logger.Debug("recorder attached", "types", len(r.subs))
}

// Detach removes the recorder's subscriptions.
func (r *Recorder) Detach() {
	if r.client == nil {
		return
	}
	for _, sub := range r.subs {
		r.client.Off(sub.msgType, sub.id)
	}
	r.subs = nil
	r.client = nil
}

// Start begins consuming events and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the recorder.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.Detach()

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	r.input.Close()

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Final flush
	r.flush()

	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// BufferStats returns intake buffer statistics.
func (r *Recorder) BufferStats() BufferStats {
	return r.input.Stats()
}

// consumeLoop reads from the intake buffer and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			entry, ok := r.input.TryPop()
			if !ok {
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			r.handleEntry(entry)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

// handleEntry transforms and adds an entry to the batch.
func (r *Recorder) handleEntry(entry Entry) {
	row, ok := r.transform(entry)
	if !ok {
		r.batchMu.Lock()
		r.metrics.DecodeFails++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

// transform decodes an entry into an eventRow.
func (r *Recorder) transform(entry Entry) (eventRow, bool) {
	var ev protocol.ExecutionEvent
	if err := entry.Frame.Decode(&ev); err != nil {
		r.logger.Warn("undecodable execution event",
			"type", entry.Frame.Type,
			"error", err,
		)
		return eventRow{}, false
	}

	return eventRow{
		ID:          uuid.NewString(),
		ExecutionID: ev.ExecutionID,
		NodeID:      ev.NodeID,
		EventType:   entry.Frame.Type,
		Status:      ev.Status,
		ReceivedAt:  entry.ReceivedAt.UnixMicro(),
		Payload:     []byte(entry.Frame.Raw),
	}, true
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]eventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch) - conflicts)
	r.metrics.Conflicts += int64(conflicts)
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed execution events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO execution_events (id, execution_id, node_id, event_type, status, received_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.ExecutionID, row.NodeID, row.EventType, row.Status, row.ReceivedAt, row.Payload)
	}

	// Independent of the run context so the final flush during Stop
	// still reaches the database.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
