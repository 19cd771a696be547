// Package clickhouse persists the category-only decision audit trail.
package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gate-service/internal/models"
	"gate-service/internal/util"
)

const insertDecisionsQuery = `INSERT INTO gate_decisions (event_time, kind, action, outcome)`

// Inserter is the slice of the ClickHouse client the audit trail needs.
type Inserter interface {
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
	HealthCheck(ctx context.Context) error
}

// AuditRepository batches gate decisions into ClickHouse. Events carry only
// the decision category; the schema has no column for a caller address,
// client id, or content.
//
// Expected table:
//
//	CREATE TABLE gate_decisions (
//	    event_time DateTime,
//	    kind       LowCardinality(String),
//	    action     LowCardinality(String),
//	    outcome    LowCardinality(String)
//	) ENGINE = MergeTree ORDER BY (event_time, kind);
type AuditRepository struct {
	conn Inserter

	mu      sync.Mutex
	pending []models.GateAuditEvent

	flushSize  int
	flushEvery time.Duration
	kick       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

func NewAuditRepository(conn Inserter) *AuditRepository {
	return newAuditRepository(conn, 200, 5*time.Second)
}

func newAuditRepository(conn Inserter, flushSize int, flushEvery time.Duration) *AuditRepository {
	r := &AuditRepository{
		conn:       conn,
		flushSize:  flushSize,
		flushEvery: flushEvery,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	r.wg.Add(1)
	go r.flushLoop()
	return r
}

// Record queues one decision. Auditing is best-effort and never blocks or
// fails a caller request; a full batch is handed to the background loop
// rather than flushed on the caller's goroutine.
func (r *AuditRepository) Record(event models.GateAuditEvent) {
	r.mu.Lock()
	r.pending = append(r.pending, event)
	full := len(r.pending) >= r.flushSize
	r.mu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

func (r *AuditRepository) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.kick:
			r.flush()
		case <-r.done:
			r.flush()
			return
		}
	}
}

func (r *AuditRepository) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []interface{}{e.EventTime, e.Kind, e.Action, e.Outcome})
	}

	if err := r.conn.BatchInsert(ctx, insertDecisionsQuery, rows); err != nil {
		util.Error("Failed to flush audit batch",
			zap.Int("events", len(batch)),
			zap.Error(err))
		return
	}

	util.Debug("Audit batch flushed", zap.Int("events", len(batch)))
}

// Close stops the background loop and waits for it to flush what is
// pending, so the connection can be torn down afterwards.
func (r *AuditRepository) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
	return nil
}

// HealthCheck pings the underlying connection.
func (r *AuditRepository) HealthCheck(ctx context.Context) error {
	if r.conn == nil {
		return fmt.Errorf("clickhouse client not initialized")
	}
	return r.conn.HealthCheck(ctx)
}
