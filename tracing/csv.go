package tracing

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/tebeka/atexit"
)

var csvHeader = []string{
	"ID", "Time", "Where", "What", "Kind", "Tag", "JobID", "Src", "Dest",
	"UserTag", "Datatype", "Count", "Bytes", "Detail",
}

// CSVWriter stores events in a CSV file.
type CSVWriter struct {
	path string
	file *os.File
	out  *csv.Writer

	events     []MsgEvent
	bufferSize int
}

// NewCSVWriter creates a writer for the file at path.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Init creates the CSV file. An existing file is overwritten.
func (w *CSVWriter) Init() error {
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	w.file = file
	w.out = csv.NewWriter(file)

	if err := w.out.Write(csvHeader); err != nil {
		return err
	}

	atexit.Register(func() {
		w.Flush()
		_ = w.file.Close()
	})

	return nil
}

// initWriter lets tests write to memory.
func (w *CSVWriter) initWriter(out io.Writer) error {
	w.out = csv.NewWriter(out)
	return w.out.Write(csvHeader)
}

// Write buffers an event.
func (w *CSVWriter) Write(e MsgEvent) {
	w.events = append(w.events, e)
	if len(w.events) >= w.bufferSize {
		w.Flush()
	}
}

// Flush writes the buffered events.
func (w *CSVWriter) Flush() {
	if w.out == nil {
		return
	}

	for _, e := range w.events {
		_ = w.out.Write([]string{
			e.ID,
			e.Time.Format(time.RFC3339Nano),
			e.Where,
			e.What,
			e.Kind,
			strconv.FormatInt(e.Tag, 10),
			strconv.Itoa(int(e.JobID)),
			strconv.Itoa(int(e.Src)),
			strconv.Itoa(int(e.Dest)),
			strconv.Itoa(int(e.UserTag)),
			e.Datatype,
			strconv.Itoa(int(e.Count)),
			strconv.Itoa(e.Bytes),
			e.Detail,
		})
	}

	w.out.Flush()
	w.events = nil
}
