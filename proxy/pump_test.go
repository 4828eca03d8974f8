package proxy

import (
	"bytes"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mevdschee/pgxray/wire"
)

// syncBuffer is a concurrency-safe io.Writer wrapping bytes.Buffer, since
// the pump goroutine writes while the test goroutine reads Bytes().
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out
}

func splitRandom(rng *rand.Rand, full []byte) [][]byte {
	var chunks [][]byte
	i := 0
	for i < len(full) {
		n := 1 + rng.Intn(5)
		if i+n > len(full) {
			n = len(full) - i
		}
		chunks = append(chunks, full[i:i+n])
		i += n
	}
	return chunks
}

// TestPump_BytewiseTransparency is property P1: the bytes the pump forwards
// to dst equal, byte for byte, the bytes read from src, regardless of how
// the source chunks its writes, and dispatch still sees every frame.
func TestPump_BytewiseTransparency(t *testing.T) {
	msg1 := wire.EncodeMessage(wire.C2SQuery, []byte("SELECT 1;\x00"))
	msg2 := wire.EncodeMessage(wire.C2SQuery, []byte("SELECT 2;\x00"))
	full := append(append([]byte{}, msg1...), msg2...)

	rng := rand.New(rand.NewSource(1))
	chunks := splitRandom(rng, full)

	srcR, srcW := io.Pipe()
	dstW := &syncBuffer{}

	var mu sync.Mutex
	var dispatched []string
	dispatch := func(kind byte, payload []byte, now time.Time) {
		if kind == wire.C2SQuery {
			mu.Lock()
			dispatched = append(dispatched, wire.DecodeQuery(payload))
			mu.Unlock()
		}
	}

	done := make(chan error, 1)
	go func() { done <- pump(srcR, dstW, nil, dispatch) }()

	go func() {
		for _, c := range chunks {
			srcW.Write(c)
		}
		srcW.Close()
	}()

	err := <-done
	if err != io.EOF && err != io.ErrClosedPipe {
		t.Fatalf("pump() error = %v", err)
	}

	if !bytes.Equal(dstW.Bytes(), full) {
		t.Errorf("forwarded bytes differ from source bytes")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 2 || dispatched[0] != "SELECT 1;" || dispatched[1] != "SELECT 2;" {
		t.Errorf("dispatched = %v, want [SELECT 1; SELECT 2;]", dispatched)
	}
}

func TestPump_LeftoverFedBeforeFirstRead(t *testing.T) {
	msg := wire.EncodeMessage(wire.C2SQuery, []byte("SELECT 1;\x00"))

	srcR, srcW := io.Pipe()
	dstW := &syncBuffer{}

	var dispatched []string
	dispatch := func(kind byte, payload []byte, now time.Time) {
		if kind == wire.C2SQuery {
			dispatched = append(dispatched, wire.DecodeQuery(payload))
		}
	}

	done := make(chan error, 1)
	go func() { done <- pump(srcR, dstW, msg, dispatch) }()
	go func() { srcW.Close() }()

	<-done
	if len(dispatched) != 1 || dispatched[0] != "SELECT 1;" {
		t.Errorf("dispatched = %v, want [SELECT 1;] from leftover alone", dispatched)
	}
}
