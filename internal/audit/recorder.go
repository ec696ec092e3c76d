package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"suvidha-auth-service/internal/bucketing"
	"suvidha-auth-service/internal/client"
	"suvidha-auth-service/internal/util"
)

// Event types emitted by the authentication flows.
const (
	EventOTPIssued       = "otp_issued"
	EventOTPVerified     = "otp_verified"
	EventOTPRejected     = "otp_rejected"
	EventLockout         = "lockout"
	EventSessionRefresh  = "session_refreshed"
	EventLogout          = "logout"
	EventSessionsRevoked = "sessions_revoked"
)

// Event is one security-relevant occurrence. Phone numbers are masked before
// the event leaves the process.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	RemoteIP  string    `json:"remoteIp,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Recorder ships security events to Kafka and ClickHouse off the request
// path. Recording never blocks a request: a full buffer drops the event with
// a warning. Either sink may be absent; a nil Recorder discards everything,
// so callers need no nil checks of their own.
type Recorder struct {
	producer   *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	buckets    *bucketing.Manager
	topic      string
	table      string

	events    chan Event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

const (
	bufferSize    = 1024
	flushBatch    = 64
	flushInterval = 2 * time.Second
)

func NewRecorder(producer *client.KafkaProducer, clickhouse *client.ClickHouseClient, buckets *bucketing.Manager, topic, table string) *Recorder {
	r := &Recorder{
		producer:   producer,
		clickhouse: clickhouse,
		buckets:    buckets,
		topic:      topic,
		table:      table,
		events:     make(chan Event, bufferSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go r.run()
	return r
}

// Record enqueues an event. Safe on a nil receiver.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	event.Phone = MaskPhone(event.Phone)

	// The events channel is never closed, so a request racing shutdown can
	// still send safely; anything the drain misses is simply dropped.
	select {
	case <-r.quit:
		return
	default:
	}

	select {
	case r.events <- event:
	default:
		util.Warn("audit buffer full, dropping event", util.String("type", event.Type))
	}
}

// Close drains buffered events and stops the flusher.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]Event, 0, flushBatch)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.quit:
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

// flush fans the batch out to both sinks concurrently. Failures are logged
// and the batch is dropped; the audit trail is best-effort by contract.
func (r *Recorder) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if r.producer != nil {
		events := batch
		g.Go(func() error {
			for _, event := range events {
				payload, err := json.Marshal(event)
				if err != nil {
					continue
				}
				key := []byte(event.UserID)
				if len(key) == 0 {
					key = []byte(event.Phone)
				}
				if err := r.producer.ProduceMessage(ctx, r.topic, key, payload, nil); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if r.clickhouse != nil {
		events := batch
		g.Go(func() error {
			rows := make([][]interface{}, 0, len(events))
			for _, event := range events {
				bucketKey := event.UserID
				if bucketKey == "" {
					bucketKey = event.Phone
				}
				rows = append(rows, []interface{}{
					r.buckets.DateBucket(),
					uint32(r.buckets.EventBucket(bucketKey)),
					event.Type,
					event.UserID,
					event.Phone,
					event.SessionID,
					event.RemoteIP,
					event.Detail,
					event.At,
				})
			}
			query := "INSERT INTO " + r.table +
				" (event_date, event_bucket, event_type, user_id, phone, session_id, remote_ip, detail, occurred_at)"
			return r.clickhouse.BatchInsert(ctx, query, rows)
		})
	}

	if err := g.Wait(); err != nil {
		util.Warn("audit flush failed",
			util.Int("events", len(batch)),
			util.ErrorField(err))
	}
}

// MaskPhone keeps only the last four digits of a phone number.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
