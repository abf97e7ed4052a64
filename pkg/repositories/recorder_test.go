package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
)

// statement is one query the recorder saw.
type statement struct {
	Query string
	Args  []driver.Value
}

// response is what the recorder answers for a query.
type response struct {
	Columns      []string
	Rows         [][]driver.Value
	LastInsertID int64
	RowsAffected int64
	Err          error
}

// recorder is a database/sql backend that logs every statement and answers
// through a test-supplied function.
type recorder struct {
	mu         sync.Mutex
	statements []statement
	respond    func(query string, args []driver.Value) response
}

func (r *recorder) record(query string, args []driver.Value) response {
	r.mu.Lock()
	r.statements = append(r.statements, statement{Query: query, Args: args})
	respond := r.respond
	r.mu.Unlock()

	if respond == nil {
		return response{RowsAffected: 1}
	}
	return respond(query, args)
}

func (r *recorder) Statements() []statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statement, len(r.statements))
	copy(out, r.statements)
	return out
}

func (r *recorder) Last() statement {
	s := r.Statements()
	if len(s) == 0 {
		return statement{}
	}
	return s[len(s)-1]
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = nil
}

var (
	recordersMu sync.Mutex
	recorders   = map[string]*recorder{}
)

type recorderDriver struct{}

func init() {
	sql.Register("recorder", recorderDriver{})
}

func (recorderDriver) Open(name string) (driver.Conn, error) {
	recordersMu.Lock()
	defer recordersMu.Unlock()
	rec, ok := recorders[name]
	if !ok {
		return nil, fmt.Errorf("no recorder %q", name)
	}
	return &recorderConn{rec: rec}, nil
}

type recorderConn struct{ rec *recorder }

func (c *recorderConn) Prepare(query string) (driver.Stmt, error) {
	return &recorderStmt{rec: c.rec, query: query}, nil
}
func (c *recorderConn) Close() error { return nil }
func (c *recorderConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

type recorderStmt struct {
	rec   *recorder
	query string
}

func (s *recorderStmt) Close() error  { return nil }
func (s *recorderStmt) NumInput() int { return -1 }

func (s *recorderStmt) Exec(args []driver.Value) (driver.Result, error) {
	resp := s.rec.record(s.query, args)
	if resp.Err != nil {
		return nil, resp.Err
	}
	return recorderResult{lastID: resp.LastInsertID, affected: resp.RowsAffected}, nil
}

func (s *recorderStmt) Query(args []driver.Value) (driver.Rows, error) {
	resp := s.rec.record(s.query, args)
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &recorderRows{columns: resp.Columns, rows: resp.Rows}, nil
}

type recorderResult struct {
	lastID   int64
	affected int64
}

func (r recorderResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r recorderResult) RowsAffected() (int64, error) { return r.affected, nil }

type recorderRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *recorderRows) Columns() []string { return r.columns }
func (r *recorderRows) Close() error      { return nil }

func (r *recorderRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

type recorderConnector struct{ db *sqlx.DB }

func (c *recorderConnector) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }
func (c *recorderConnector) Close() error                   { return nil }
func (c *recorderConnector) GetType() string                { return "recorder" }
func (c *recorderConnector) DB() *sqlx.DB                   { return c.db }

// openRecorderPool opens a recorder-backed pool handle posing as dialect.
func openRecorderPool(t *testing.T, name string, dialect datasource.Dialect) (*datasource.PoolHandle, *recorder) {
	t.Helper()

	rec := &recorder{}
	recordersMu.Lock()
	recorders[name] = rec
	recordersMu.Unlock()
	t.Cleanup(func() {
		recordersMu.Lock()
		delete(recorders, name)
		recordersMu.Unlock()
	})

	db, err := sql.Open("recorder", name)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return datasource.NewPoolHandle(datasource.PoolSpec{Name: name, Dialect: dialect}, &recorderConnector{db: sqlx.NewDb(db, "recorder")}), rec
}

// newRecorderManager creates an unbound manager and an executor over it.
func newRecorderManager(t *testing.T) (*datasource.Manager, *datasource.Executor) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mgr := datasource.NewManager(datasource.DefaultManagerConfig(), logger, nil)
	t.Cleanup(func() { mgr.Close() })
	return mgr, datasource.NewExecutor(mgr, logger, nil)
}

// newRecordedExecutor binds an executor to a recorder pool posing as the
// given dialect.
func newRecordedExecutor(t *testing.T, dialect datasource.Dialect) (*datasource.Executor, *recorder) {
	t.Helper()

	mgr, exec := newRecorderManager(t)
	h, rec := openRecorderPool(t, fmt.Sprintf("%s/%s", t.Name(), dialect), dialect)
	require.True(t, mgr.SwitchPool(h))
	return exec, rec
}

// queryContains matches statements containing fragment.
func queryContains(fragment string) func(string) bool {
	return func(q string) bool { return strings.Contains(q, fragment) }
}
