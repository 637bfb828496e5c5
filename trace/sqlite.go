package trace

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteTraceWriter is a tracer that stores transaction records in a SQLite
// database.
type SQLiteTraceWriter struct {
	*sql.DB
	statement *sql.Stmt

	dbName         string
	recordsToWrite []Record
	batchSize      int
}

// NewSQLiteTraceWriter creates a new SQLiteTraceWriter. Init must be called
// before the writer is used.
func NewSQLiteTraceWriter(path string) *SQLiteTraceWriter {
	w := &SQLiteTraceWriter{
		dbName:    path,
		batchSize: 100000,
	}

	atexit.Register(func() { w.Flush() })

	return w
}

// Init establishes a connection to the database and prepares the schema.
func (t *SQLiteTraceWriter) Init() {
	if t.dbName == "" {
		t.dbName = "cosim_trace_" + xid.New().String()
	}

	filename := t.dbName + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Transaction trace database: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}
	t.DB = db

	t.mustExecute(`
		CREATE TABLE trace (
			id TEXT,
			kind TEXT,
			addr INTEGER,
			size INTEGER,
			value INTEGER,
			resp TEXT,
			beats INTEGER,
			start_time REAL,
			end_time REAL
		)
	`)

	t.statement, err = t.Prepare(`
		INSERT INTO trace (
			id, kind, addr, size, value, resp, beats, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		panic(err)
	}
}

// Trace buffers one record, flushing to the database when the batch is full.
func (t *SQLiteTraceWriter) Trace(r Record) {
	t.recordsToWrite = append(t.recordsToWrite, r)
	if len(t.recordsToWrite) >= t.batchSize {
		t.Flush()
	}
}

// Flush writes all the buffered records to the database.
func (t *SQLiteTraceWriter) Flush() {
	if len(t.recordsToWrite) == 0 {
		return
	}

	t.mustExecute("BEGIN TRANSACTION")
	defer t.mustExecute("COMMIT TRANSACTION")

	for _, r := range t.recordsToWrite {
		_, err := t.statement.Exec(
			r.ID,
			r.Kind,
			int64(r.Addr),
			r.Size,
			int64(r.Value),
			r.Resp,
			r.Beats,
			float64(r.Start),
			float64(r.End),
		)
		if err != nil {
			panic(err)
		}
	}

	t.recordsToWrite = nil
}

func (t *SQLiteTraceWriter) mustExecute(query string) sql.Result {
	res, err := t.Exec(query)
	if err != nil {
		panic(err)
	}
	return res
}
