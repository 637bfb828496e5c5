package trace

import (
	"fmt"
	"os"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// CSVTraceWriter is a tracer that stores transaction records in a CSV file.
type CSVTraceWriter struct {
	path string
	file *os.File

	records    []Record
	bufferSize int
}

// NewCSVTraceWriter creates a new CSVTraceWriter.
func NewCSVTraceWriter(path string) *CSVTraceWriter {
	return &CSVTraceWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Init creates the trace CSV file.
func (t *CSVTraceWriter) Init() {
	if t.path == "" {
		t.path = "cosim_trace_" + xid.New().String()
	}

	filename := t.path + ".csv"
	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	file, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	t.file = file

	fmt.Fprintf(file, "ID, Kind, Addr, Size, Value, Resp, Beats, Start, End\n")

	atexit.Register(func() {
		t.Flush()
		err := t.file.Close()
		if err != nil {
			panic(err)
		}
	})
}

// Trace buffers one record, flushing to the file when the buffer is full.
func (t *CSVTraceWriter) Trace(r Record) {
	t.records = append(t.records, r)
	if len(t.records) >= t.bufferSize {
		t.Flush()
	}
}

// Flush writes the buffered records to the CSV file.
func (t *CSVTraceWriter) Flush() {
	for _, r := range t.records {
		fmt.Fprintf(t.file, "%s, %s, 0x%X, %d, 0x%X, %s, %d, %.10f, %.10f\n",
			r.ID,
			r.Kind,
			r.Addr,
			r.Size,
			r.Value,
			r.Resp,
			r.Beats,
			r.Start,
			r.End,
		)
	}

	t.records = nil
}
