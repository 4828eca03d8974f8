package proxy

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/mevdschee/pgxray/session"
	"github.com/mevdschee/pgxray/telemetry"
	"github.com/mevdschee/pgxray/wire"
	"golang.org/x/sync/errgroup"
)

const startupReadChunk = 4096

// runSession owns one accepted client socket end to end: dials upstream,
// intercepts SSL negotiation, then runs the two directional pumps until
// either side closes or errors.
func runSession(ctx context.Context, client net.Conn, upstreamAddr string, connID uint64, bus *telemetry.Bus) {
	defer client.Close()

	upstream, err := net.Dial("tcp", upstreamAddr)
	if err != nil {
		log.Printf("[Session] conn %d: upstream dial failed: %v", connID, err)
		bus.Publish(telemetry.ConnectionClosed(connID, time.Now()))
		return
	}
	defer upstream.Close()

	m := session.New(connID, bus)
	m.Open(time.Now())

	c2sLeftover, err := interceptSSL(client, upstream)
	if err != nil {
		log.Printf("[Session] conn %d: startup negotiation failed: %v", connID, err)
		m.Close(time.Now(), "58000", "connection closed")
		return
	}

	closeBoth := func() {
		client.Close()
		upstream.Close()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeBoth()
		case <-stop:
		}
	}()

	g := new(errgroup.Group)
	g.Go(func() error {
		err := pump(client, upstream, c2sLeftover, dispatchC2S(m, closeBoth))
		closeBoth()
		return err
	})
	g.Go(func() error {
		err := pump(upstream, client, nil, dispatchS2C(m))
		closeBoth()
		return err
	})

	err = g.Wait()
	sqlstate, message := "58000", "connection closed"
	if err == wire.ErrMalformed {
		sqlstate, message = "08P01", "protocol violation"
	}
	m.Close(time.Now(), sqlstate, message)
}

// interceptSSL handles the first, unkinded client frame. If it is an
// SSLRequest, it replies with a bare 'N' and does not forward those bytes
// upstream, then waits for the real StartupMessage. The real StartupMessage,
// together with any bytes read past it, is forwarded upstream verbatim. Those
// trailing bytes are also returned so the C2S pump can decode them.
func interceptSSL(client, upstream net.Conn) ([]byte, error) {
	var buf []byte
	tmp := make([]byte, startupReadChunk)

	for {
		payload, total, ok, err := wire.DecodeStartup(buf)
		if err != nil {
			return nil, err
		}
		if ok {
			if wire.IsSSLRequest(payload) {
				if _, werr := client.Write([]byte{'N'}); werr != nil {
					return nil, werr
				}
				buf = buf[total:]
				continue
			}
			if _, werr := upstream.Write(buf); werr != nil {
				return nil, werr
			}
			return buf[total:], nil
		}

		n, rerr := client.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// dispatchC2S decodes client-to-server frames. A Terminate drives the same
// drain-and-close path an EOF would eventually trigger via pump's read
// error, but does so the instant the frame is seen rather than waiting on
// whatever happens to the socket afterwards (spec.md §4.C lists "X or EOF"
// as the trigger, not EOF alone). closeBoth also tears down both sockets so
// the peer pump unblocks immediately instead of idling on a lingering
// connection.
func dispatchC2S(m *session.Machine, closeBoth func()) dispatchFunc {
	return func(kind byte, payload []byte, now time.Time) {
		switch kind {
		case wire.C2SQuery:
			m.Query(wire.DecodeQuery(payload), now)
		case wire.C2SParse:
			if stmt, sql, ok := wire.DecodeParse(payload); ok {
				m.Parse(stmt, sql)
			}
		case wire.C2SBind:
			if portal, stmt, ok := wire.DecodeBind(payload); ok {
				m.Bind(portal, stmt)
			}
		case wire.C2SExecute:
			if portal, ok := wire.DecodeExecute(payload); ok {
				m.Execute(portal, now)
			}
		case wire.C2STerminate:
			m.Close(now, "58000", "connection closed")
			closeBoth()
		}
	}
}

func dispatchS2C(m *session.Machine) dispatchFunc {
	return func(kind byte, payload []byte, now time.Time) {
		switch kind {
		case wire.S2CCommandComplete:
			tag := wire.DecodeCommandTag(payload)
			rows, ok := wire.ParseCommandTag(tag)
			m.CommandComplete(rows, ok, now)
		case wire.S2CEmptyQueryResponse:
			m.EmptyQueryResponse(now)
		case wire.S2CErrorResponse:
			fields := wire.DecodeErrorFields(payload)
			m.ErrorResponse(fields['C'], fields['M'], now)
		case wire.S2CReadyForQuery:
			if status, ok := wire.DecodeReadyForQuery(payload); ok {
				m.ReadyForQuery(status, now)
			}
		}
	}
}
