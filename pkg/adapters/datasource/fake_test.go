package datasource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
)

// markerDriver is a database/sql driver whose connections answer every query
// with the DSN they were opened with, so tests can tell which pool served a
// statement.
type markerDriver struct{}

func init() {
	sql.Register("marker", markerDriver{})
}

func (markerDriver) Open(name string) (driver.Conn, error) {
	if strings.HasPrefix(name, "unreachable") {
		return nil, errors.New("dial tcp 10.0.0.1:5432: connection refused")
	}
	return &markerConn{marker: name}, nil
}

type markerConn struct {
	marker string
}

func (c *markerConn) Prepare(query string) (driver.Stmt, error) {
	return &markerStmt{conn: c, query: query}, nil
}

func (c *markerConn) Close() error { return nil }

func (c *markerConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

type markerStmt struct {
	conn  *markerConn
	query string
}

func (s *markerStmt) Close() error  { return nil }
func (s *markerStmt) NumInput() int { return -1 }

func (s *markerStmt) Exec(args []driver.Value) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}

func (s *markerStmt) Query(args []driver.Value) (driver.Rows, error) {
	if strings.Contains(s.query, "empty") {
		return &markerRows{}, nil
	}
	return &markerRows{values: []string{s.conn.marker}}, nil
}

type markerRows struct {
	values []string
	pos    int
}

func (r *markerRows) Columns() []string { return []string{"marker"} }
func (r *markerRows) Close() error      { return nil }

func (r *markerRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	dest[0] = r.values[r.pos]
	r.pos++
	return nil
}

// fakeConnector is a PoolConnector over the marker driver with switchable
// failure modes.
type fakeConnector struct {
	db         *sqlx.DB
	pingErr    error
	pingPanic  bool
	closeCount atomic.Int32

	// When pingGate is set, Ping signals pinged and blocks until the gate
	// is closed, then succeeds.
	pinged   chan struct{}
	pingGate chan struct{}
}

func newFakeConnector(t *testing.T, marker string) *fakeConnector {
	t.Helper()
	db, err := sql.Open("marker", marker)
	if err != nil {
		t.Fatalf("open marker db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &fakeConnector{db: sqlx.NewDb(db, "marker")}
}

func (c *fakeConnector) Ping(ctx context.Context) error {
	if c.pingPanic {
		panic("driver exploded")
	}
	if c.pingErr != nil {
		return c.pingErr
	}
	if c.pingGate != nil {
		close(c.pinged)
		<-c.pingGate
		return nil
	}
	return c.db.PingContext(ctx)
}

func (c *fakeConnector) Close() error {
	c.closeCount.Add(1)
	return nil
}

func (c *fakeConnector) GetType() string { return "fake" }

func (c *fakeConnector) DB() *sqlx.DB { return c.db }

func (c *fakeConnector) closed() bool { return c.closeCount.Load() > 0 }

func newFakeHandle(t *testing.T, marker string) (*PoolHandle, *fakeConnector) {
	t.Helper()
	conn := newFakeConnector(t, marker)
	return NewPoolHandle(PoolSpec{Name: marker, Dialect: DialectPostgreSQL, Host: "localhost", Port: 5432, Database: marker}, conn), conn
}

// currentMarker runs a query through the executor and returns which pool
// answered it.
func currentMarker(t *testing.T, e *Executor) string {
	t.Helper()
	var marker string
	if err := e.GetContext(context.Background(), &marker, "SELECT marker"); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	return marker
}
