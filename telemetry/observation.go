package telemetry

import "time"

// Kind tags the variant held by an Observation. Dispatch on Kind rather than
// on a polymorphic interface: observations are produced on the hot path by
// the session state machine and consumed serially by the aggregator, so a
// flat struct with a discriminant is cheaper and simpler to reason about
// than a small hierarchy of types.
type Kind int

const (
	KindQueryStart Kind = iota
	KindQueryComplete
	KindQueryError
	KindConnectionOpened
	KindConnectionClosed
	KindTransactionState
)

// TxState mirrors ReadyForQuery's one-byte transaction status.
type TxState int

const (
	TxIdle TxState = iota
	TxInTransaction
	TxFailed
)

// TxStateFromByte maps ReadyForQuery's status byte to a TxState.
func TxStateFromByte(b byte) TxState {
	switch b {
	case 'T':
		return TxInTransaction
	case 'E':
		return TxFailed
	default:
		return TxIdle
	}
}

// Observation is a single semantic event emitted by a session's state
// machine onto the bus. Only the fields relevant to Kind are populated.
type Observation struct {
	Kind   Kind
	ConnID uint64

	T      time.Time // event instant (QueryStart, QueryError, ConnectionOpened/Closed, TransactionState)
	TStart time.Time // QueryComplete only
	TEnd   time.Time // QueryComplete only

	SQL      string // QueryStart, QueryComplete, QueryError (may be empty for error with no pending)
	HasSQL   bool
	RowCount uint64
	HasRows  bool

	SQLState string // QueryError, 5-byte SQLSTATE code
	Message  string // QueryError

	TxState TxState

	Slow bool // QueryComplete only; latency >= the aggregator's configured threshold
}

// QueryStart builds a QueryStart observation.
func QueryStart(connID uint64, t time.Time, sql string) Observation {
	return Observation{Kind: KindQueryStart, ConnID: connID, T: t, SQL: sql, HasSQL: true}
}

// QueryComplete builds a QueryComplete observation. rowCount is ignored when
// hasRows is false (EmptyQueryResponse / unparseable command tag).
func QueryComplete(connID uint64, tStart, tEnd time.Time, sql string, rowCount uint64, hasRows bool) Observation {
	return Observation{
		Kind: KindQueryComplete, ConnID: connID,
		TStart: tStart, TEnd: tEnd,
		SQL: sql, HasSQL: sql != "",
		RowCount: rowCount, HasRows: hasRows,
	}
}

// QueryError builds a QueryError observation. sql is empty (HasSQL=false)
// when no pending query could be attributed to the error.
func QueryError(connID uint64, t time.Time, sql, sqlstate, message string) Observation {
	return Observation{
		Kind: KindQueryError, ConnID: connID, T: t,
		SQL: sql, HasSQL: sql != "",
		SQLState: sqlstate, Message: message,
	}
}

// ConnectionOpened builds a ConnectionOpened observation.
func ConnectionOpened(connID uint64, t time.Time) Observation {
	return Observation{Kind: KindConnectionOpened, ConnID: connID, T: t}
}

// ConnectionClosed builds a ConnectionClosed observation.
func ConnectionClosed(connID uint64, t time.Time) Observation {
	return Observation{Kind: KindConnectionClosed, ConnID: connID, T: t}
}

// TransactionState builds a TransactionState observation.
func TransactionState(connID uint64, t time.Time, state TxState) Observation {
	return Observation{Kind: KindTransactionState, ConnID: connID, T: t, TxState: state}
}

// Latency returns t_end - t_start for a QueryComplete observation.
func (o Observation) Latency() time.Duration {
	return o.TEnd.Sub(o.TStart)
}
