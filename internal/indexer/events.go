package indexer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Lifecycle event names published per file.
const (
	EventEnqueued = "enqueued"
	EventStarted  = "started"
	EventIndexed  = "indexed"
	EventError    = "error"
)

// Publisher emits indexing lifecycle events to NATS on subjects
// <prefix>.<file_id>. Events are best-effort: a nil Publisher or one
// built without a connection is a safe no-op, and publish failures are
// logged, never surfaced.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewPublisher wraps a NATS connection. A nil connection yields a
// publisher that drops every event.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = "ragd.index"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// indexEvent is the wire form of one lifecycle transition.
type indexEvent struct {
	FileID      int64     `json:"file_id"`
	Event       string    `json:"event"`
	TotalChunks int       `json:"total_chunks,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Enqueued reports that a file was accepted into the queue.
func (p *Publisher) Enqueued(fileID int64) {
	p.publish(indexEvent{FileID: fileID, Event: EventEnqueued})
}

// Started reports that a worker began indexing a file.
func (p *Publisher) Started(fileID int64) {
	p.publish(indexEvent{FileID: fileID, Event: EventStarted})
}

// Indexed reports a completed run and its chunk total.
func (p *Publisher) Indexed(fileID int64, totalChunks int) {
	p.publish(indexEvent{FileID: fileID, Event: EventIndexed, TotalChunks: totalChunks})
}

// Failed reports a run that ended in error status.
func (p *Publisher) Failed(fileID int64, reason string) {
	p.publish(indexEvent{FileID: fileID, Event: EventError, Error: reason})
}

func (p *Publisher) publish(ev indexEvent) {
	if p == nil || p.nc == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()

	subject := fmt.Sprintf("%s.%d", p.prefix, ev.FileID)
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("index event marshal failed",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("index event publish failed",
			zap.String("subject", subject),
			zap.String("event", ev.Event),
			zap.Error(err))
	}
}
