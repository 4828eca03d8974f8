package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mevdschee/pgxray/telemetry"
)

// shutdownGrace bounds how long Shutdown waits for in-flight sessions to
// drain after a signal is received.
const shutdownGrace = 5 * time.Second

// runRawWriter pulls observations from agg and writes one line per
// completion or error, following the raw-mode grammar:
//
//	HH:MM:SS.mmm [conn:<id>] <latency_ms>ms  <sql> [<rows> rows]
//	HH:MM:SS.mmm [conn:<id>]            ERR <SQLSTATE>: <message>
//
// It is the minimal collaborator against telemetry's pull interface; a
// richer TUI would consume the same Next/Snapshot pair. The raw line
// grammar itself carries no slow marker (spec.md §6 fixes it exactly); the
// --threshold flag instead marks Observation.Slow in the aggregator's event
// ring, which a richer collaborator reading Snapshot() can filter on.
func runRawWriter(ctx context.Context, agg *telemetry.Aggregator, w io.Writer) {
	for {
		obs, ok := agg.Next(ctx)
		if !ok {
			return
		}
		switch obs.Kind {
		case telemetry.KindQueryComplete:
			ts := obs.TEnd.Format("15:04:05.000")
			latencyMs := float64(obs.Latency().Microseconds()) / 1000.0
			rows := ""
			if obs.HasRows {
				rows = fmt.Sprintf(" %d rows", obs.RowCount)
			}
			fmt.Fprintf(w, "%s [conn:%d] %.1fms  %s%s\n", ts, obs.ConnID, latencyMs, obs.SQL, rows)

		case telemetry.KindQueryError:
			ts := obs.T.Format("15:04:05.000")
			fmt.Fprintf(w, "%s [conn:%d]            ERR %s: %s\n", ts, obs.ConnID, obs.SQLState, obs.Message)
		}
	}
}
