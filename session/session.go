// Package session implements the per-connection state machine that
// correlates request messages with their completions and attaches SQL text
// to each one. It holds no sockets and performs no I/O: callers (the
// session pipe) feed it decoded protocol events and it emits Observations
// onto the telemetry bus.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mevdschee/pgxray/telemetry"
)

// pendingQuery is one in-flight statement awaiting its completion.
type pendingQuery struct {
	sql   string
	start time.Time
}

// Machine is a single session's state machine: PendingQuery FIFO,
// prepared-statement table, and portal→SQL mapping. It is driven by two
// directional pumps concurrently (C2S and S2C), guarded by a session-local mutex held
// only briefly during each transition, per the cooperative-task
// concurrency model this proxy runs under.
//
// It does not track the startup/SSL-negotiation phase: that decision is
// made once, before any bytes reach the parsers, by the session pipe that
// owns the sockets directly — by the time a Machine exists the connection
// is already in the Running phase.
type Machine struct {
	connID uint64
	bus    *telemetry.Bus

	mu        sync.Mutex
	pending   []pendingQuery
	prepared  map[string]string
	portalSQL map[string]string

	droppedCompletions atomic.Uint64
	closed             atomic.Bool
}

// New creates a Machine for connID, publishing observations onto bus.
func New(connID uint64, bus *telemetry.Bus) *Machine {
	return &Machine{
		connID:    connID,
		bus:       bus,
		prepared:  make(map[string]string),
		portalSQL: make(map[string]string),
	}
}

// Open emits ConnectionOpened for this session.
func (m *Machine) Open(now time.Time) {
	m.bus.Publish(telemetry.ConnectionOpened(m.connID, now))
}

// Query handles a Simple-query 'Q' message: enqueue one pending entry and
// emit QueryStart.
func (m *Machine) Query(sql string, now time.Time) {
	m.mu.Lock()
	m.pending = append(m.pending, pendingQuery{sql: sql, start: now})
	m.mu.Unlock()
	m.bus.Publish(telemetry.QueryStart(m.connID, now, sql))
}

// Parse records a prepared statement's SQL text under stmtName. A Parse("")
// overwrites any previous unnamed statement.
func (m *Machine) Parse(stmtName, sql string) {
	m.mu.Lock()
	m.prepared[stmtName] = sql
	m.mu.Unlock()
}

// Bind associates portal with the SQL text of the statement it targets, if
// that statement has been Parsed.
func (m *Machine) Bind(portal, stmtName string) {
	m.mu.Lock()
	if sql, ok := m.prepared[stmtName]; ok {
		m.portalSQL[portal] = sql
	}
	m.mu.Unlock()
}

// Execute handles an Execute 'E' message: enqueue one pending entry sourced
// from the portal's bound SQL (PostgreSQL emits exactly one CommandComplete
// per Execute, even when the same portal is executed repeatedly) and emit
// QueryStart.
func (m *Machine) Execute(portal string, now time.Time) {
	m.mu.Lock()
	sql, ok := m.portalSQL[portal]
	if !ok {
		sql = "<unknown>"
	}
	m.pending = append(m.pending, pendingQuery{sql: sql, start: now})
	m.mu.Unlock()
	m.bus.Publish(telemetry.QueryStart(m.connID, now, sql))
}

// popFront removes and returns the oldest pending entry, if any.
func (m *Machine) popFront() (pendingQuery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return pendingQuery{}, false
	}
	p := m.pending[0]
	m.pending = m.pending[1:]
	return p, true
}

// CommandComplete handles a CommandComplete 'C' message: pops the oldest
// pending entry and emits QueryComplete. rowCount is meaningful only when
// hasRows is true (the command tag carried a trailing row count). A
// CommandComplete with no pending entry is dropped and counted rather than
// panicking — it should not happen in a well-behaved upstream, but the
// proxy must never crash on a surprising byte stream.
func (m *Machine) CommandComplete(rowCount uint64, hasRows bool, now time.Time) {
	p, ok := m.popFront()
	if !ok {
		m.droppedCompletions.Add(1)
		return
	}
	m.bus.Publish(telemetry.QueryComplete(m.connID, p.start, now, p.sql, rowCount, hasRows))
}

// EmptyQueryResponse handles an EmptyQueryResponse 'I' message: pops the
// oldest pending entry and emits QueryComplete with no row count.
func (m *Machine) EmptyQueryResponse(now time.Time) {
	p, ok := m.popFront()
	if !ok {
		m.droppedCompletions.Add(1)
		return
	}
	m.bus.Publish(telemetry.QueryComplete(m.connID, p.start, now, p.sql, 0, false))
}

// ErrorResponse handles an ErrorResponse 'E' message: pops the oldest
// pending entry if any and emits QueryError. Unlike CommandComplete, an
// error with no pending query still produces an observation (it may be a
// post-startup authentication failure or similar with nothing queued).
func (m *Machine) ErrorResponse(sqlstate, message string, now time.Time) {
	sql := ""
	if p, ok := m.popFront(); ok {
		sql = p.sql
	}
	m.bus.Publish(telemetry.QueryError(m.connID, now, sql, sqlstate, message))
}

// ReadyForQuery handles a ReadyForQuery 'Z' message: emits the mapped
// TransactionState. It never pops a pending entry; completion happens via
// CommandComplete/ErrorResponse only.
func (m *Machine) ReadyForQuery(status byte, now time.Time) {
	m.bus.Publish(telemetry.TransactionState(m.connID, now, telemetry.TxStateFromByte(status)))
}

// Close drains any remaining pending queries as QueryError with the given
// sqlstate/message (connection-closed or protocol-violation drain) in FIFO
// order, then emits ConnectionClosed. It is idempotent: a Terminate message
// handled mid-pump and the eventual pump teardown both call Close, and only
// the first call has any effect.
func (m *Machine) Close(now time.Time, sqlstate, message string) {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	for {
		p, ok := m.popFront()
		if !ok {
			break
		}
		m.bus.Publish(telemetry.QueryError(m.connID, now, p.sql, sqlstate, message))
	}
	m.bus.Publish(telemetry.ConnectionClosed(m.connID, now))
}

// DroppedCompletions reports how many CommandComplete/EmptyQueryResponse
// messages arrived with no matching pending query.
func (m *Machine) DroppedCompletions() uint64 {
	return m.droppedCompletions.Load()
}
