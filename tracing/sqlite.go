package tracing

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

const createEventTable = `
CREATE TABLE msg_event (
	id        TEXT,
	time      INTEGER,
	location  TEXT,
	what      TEXT,
	kind      TEXT,
	tag       INTEGER,
	job_id    INTEGER,
	src       INTEGER,
	dest      INTEGER,
	user_tag  INTEGER,
	datatype  TEXT,
	count     INTEGER,
	bytes     INTEGER,
	detail    TEXT
);
CREATE INDEX msg_event_job ON msg_event (job_id);
CREATE INDEX msg_event_location ON msg_event (location);
`

const insertEvent = `INSERT INTO msg_event VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteWriter writes events to a SQLite database.
type SQLiteWriter struct {
	*sql.DB
	statement *sql.Stmt

	dbName    string
	pending   []MsgEvent
	batchSize int
}

// NewSQLiteWriter creates a writer that stores events in path + ".sqlite3".
// An empty path picks a unique name.
func NewSQLiteWriter(path string) *SQLiteWriter {
	w := &SQLiteWriter{
		dbName:    path,
		batchSize: 10000,
	}

	atexit.Register(func() { w.Flush() })

	return w
}

// WithBatchSize sets how many events are buffered before a flush.
func (w *SQLiteWriter) WithBatchSize(n int) *SQLiteWriter {
	w.batchSize = n
	return w
}

// FileName returns the database file name.
func (w *SQLiteWriter) FileName() string {
	return w.dbName + ".sqlite3"
}

// Init creates the database and the event table. It fails if the database
// file already exists.
func (w *SQLiteWriter) Init() error {
	if w.dbName == "" {
		w.dbName = "mpirelay_trace_" + xid.New().String()
	}

	filename := w.FileName()
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("tracing: file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return fmt.Errorf("tracing: open %s: %w", filename, err)
	}

	w.DB = db

	if _, err := w.Exec(createEventTable); err != nil {
		return fmt.Errorf("tracing: create table: %w", err)
	}

	stmt, err := w.Prepare(insertEvent)
	if err != nil {
		return fmt.Errorf("tracing: prepare insert: %w", err)
	}

	w.statement = stmt

	return nil
}

// Write buffers an event.
func (w *SQLiteWriter) Write(e MsgEvent) {
	w.pending = append(w.pending, e)
	if len(w.pending) >= w.batchSize {
		w.Flush()
	}
}

// Flush writes all the buffered events in one transaction.
func (w *SQLiteWriter) Flush() {
	if len(w.pending) == 0 || w.DB == nil {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for _, e := range w.pending {
		_, err := w.statement.Exec(
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
			e.Bytes,
			e.Detail,
		)
		if err != nil {
			panic(err)
		}
	}

	w.pending = nil
}

func (w *SQLiteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Printf("Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

// SQLiteReader reads events back from a trace database.
type SQLiteReader struct {
	*sql.DB
}

// NewSQLiteReader opens the database file at path.
func NewSQLiteReader(path string) (*SQLiteReader, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	return &SQLiteReader{DB: db}, nil
}

// ListEvents returns the events of a job in time order. A negative jobID
// returns every event.
func (r *SQLiteReader) ListEvents(jobID int32) ([]MsgEvent, error) {
	query := `SELECT id, time, location, what, kind, tag, job_id, src, dest,
		user_tag, datatype, count, bytes, detail FROM msg_event`

	var args []any
	if jobID >= 0 {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}

	query += " ORDER BY time, rowid"

	rows, err := r.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []MsgEvent

	for rows.Next() {
		var (
			e     MsgEvent
			nanos int64
		)

		err := rows.Scan(&e.ID, &nanos, &e.Where, &e.What, &e.Kind, &e.Tag,
			&e.JobID, &e.Src, &e.Dest, &e.UserTag, &e.Datatype, &e.Count,
			&e.Bytes, &e.Detail)
		if err != nil {
			return nil, err
		}

		e.Time = time.Unix(0, nanos)
		events = append(events, e)
	}

	return events, rows.Err()
}

// ListLocations returns the distinct places that produced events.
func (r *SQLiteReader) ListLocations() ([]string, error) {
	rows, err := r.Query("SELECT DISTINCT location FROM msg_event ORDER BY location")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []string

	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}

		locations = append(locations, l)
	}

	return locations, rows.Err()
}
