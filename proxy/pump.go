package proxy

import (
	"io"
	"time"

	"github.com/mevdschee/pgxray/wire"
)

// pumpChunkSize is the read buffer size for each directional pump; spec.md
// calls for at least 16 KiB per read.
const pumpChunkSize = 32 * 1024

// dispatchFunc handles one decoded frame. now is the instant its bytes were
// written to the peer, not the instant it was parsed — pinning observation
// timestamps to the forward, per the forward-first rule.
type dispatchFunc func(kind byte, payload []byte, now time.Time)

// pump runs one direction's forward-first loop: read from src, write
// everything read to dst before any of it is handed to the decoder, then
// drain complete frames into dispatch. leftover is fed to the decoder
// before the first read (bytes already forwarded by a caller that needed
// to peek ahead, e.g. the startup handshake).
func pump(src io.Reader, dst io.Writer, leftover []byte, dispatch dispatchFunc) error {
	dec := wire.NewDecoder()
	if len(leftover) > 0 {
		dec.Feed(leftover)
		if err := drain(dec, dispatch, time.Now()); err != nil {
			return err
		}
	}

	buf := make([]byte, pumpChunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := dst.Write(chunk); werr != nil {
				return werr
			}
			now := time.Now()
			dec.Feed(chunk)
			if derr := drain(dec, dispatch, now); derr != nil {
				return derr
			}
		}
		if rerr != nil {
			return rerr
		}
	}
}

func drain(dec *wire.Decoder, dispatch dispatchFunc, now time.Time) error {
	for {
		f, ok, err := dec.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		dispatch(f.Kind, f.Payload, now)
	}
}
