package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

// ClickHouseConfig locates a ClickHouse server.
type ClickHouseConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Table     string `toml:"table"`
	BatchSize int    `toml:"batch_size"`
}

// ClickHouseWriter stores events in a ClickHouse table.
type ClickHouseWriter struct {
	cfg  ClickHouseConfig
	conn clickhouse.Conn

	mu      sync.Mutex
	pending []MsgEvent
	lastErr error
}

// NewClickHouseWriter creates a writer. The connection is made in Init.
func NewClickHouseWriter(cfg ClickHouseConfig) *ClickHouseWriter {
	if cfg.Port == 0 {
		cfg.Port = 9000
	}

	if cfg.Table == "" {
		cfg.Table = "msg_event"
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10000
	}

	return &ClickHouseWriter{cfg: cfg}
}

// Init connects to the server and creates the event table.
func (w *ClickHouseWriter) Init() error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      time.Second * 30,
		MaxOpenConns:     2,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return fmt.Errorf("tracing: connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("tracing: ping ClickHouse: %w", err)
	}

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id String,
		time Int64,
		location String,
		what String,
		kind String,
		tag Int64,
		job_id Int32,
		src Int32,
		dest Int32,
		user_tag Int32,
		datatype String,
		count Int32,
		bytes Int64,
		detail String
	) ENGINE = MergeTree()
	ORDER BY (job_id, time)`, w.cfg.Table)

	if err := conn.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("tracing: create table %s: %w", w.cfg.Table, err)
	}

	w.conn = conn

	atexit.Register(func() {
		w.Flush()
		_ = w.conn.Close()
	})

	return nil
}

// Write buffers an event.
func (w *ClickHouseWriter) Write(e MsgEvent) {
	w.mu.Lock()
	w.pending = append(w.pending, e)
	full := len(w.pending) >= w.cfg.BatchSize
	w.mu.Unlock()

	if full {
		w.Flush()
	}
}

// Flush sends the buffered events as one batch. A failed batch is kept and
// retried on the next flush; Err reports the failure.
func (w *ClickHouseWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 || w.conn == nil {
		return
	}

	w.lastErr = w.send(context.Background())
	if w.lastErr == nil {
		w.pending = nil
	}
}

// Err returns the error of the last flush.
func (w *ClickHouseWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.lastErr
}

func (w *ClickHouseWriter) send(ctx context.Context) error {
	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.cfg.Table))
	if err != nil {
		return err
	}

	for _, e := range w.pending {
		err = batch.Append(
			e.ID,
			e.Time.UnixNano(),
			e.Where,
			e.What,
			e.Kind,
			e.Tag,
			e.JobID,
			e.Src,
			e.Dest,
			e.UserTag,
			e.Datatype,
			e.Count,
			int64(e.Bytes),
			e.Detail,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}
