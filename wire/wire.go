// Package wire decodes the PostgreSQL v3.0 frontend/backend wire protocol
// just far enough to recover the message kinds the proxy's state machine
// needs. It never copies payload bytes out of the driver's buffer and never
// writes to a connection; framing, decoding, and forwarding are kept
// strictly separate so a malformed frame can never stop already-read bytes
// from reaching their peer.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a frame's declared length is impossible
// (too small to contain its own header, or larger than maxFrameSize).
var ErrMalformed = errors.New("wire: malformed frame")

// maxFrameSize caps a single frame's payload so a corrupt or hostile
// length field can't make the decoder try to buffer gigabytes of "pending"
// data before giving up.
const maxFrameSize = 1 << 30 // 1 GiB

const headerSize = 5 // 1 byte kind + 4 byte big-endian length (length includes itself)

// Client-to-server message kinds. Describe, Close and Sync are named here but,
// like any other kind (e.g. Flush), are forwarded untouched and ignored by
// the dispatcher.
const (
	C2SQuery     = byte('Q')
	C2SParse     = byte('P')
	C2SBind      = byte('B')
	C2SExecute   = byte('E')
	C2SDescribe  = byte('D')
	C2SClose     = byte('C')
	C2SSync      = byte('S')
	C2STerminate = byte('X')
)

// Server-to-client message kinds the core cares about.
const (
	S2CCommandComplete    = byte('C')
	S2CEmptyQueryResponse = byte('I')
	S2CErrorResponse      = byte('E')
	S2CReadyForQuery      = byte('Z')
	S2CRowDescription     = byte('T')
	S2CDataRow            = byte('D')
)

// Frame is a decoded post-startup protocol message: a kind tag plus a
// borrowed view into the decoder's internal buffer. The view is only valid
// until the next call to Decoder.Next or Decoder.Feed.
type Frame struct {
	Kind    byte
	Payload []byte
}

// Decoder incrementally frames an append-only byte stream into Frames. It
// owns no sockets and performs no I/O; callers Feed it bytes already
// forwarded to the peer and drain Next until it reports no complete frame
// remains.
type Decoder struct {
	buf   []byte
	start int
}

// NewDecoder returns a Decoder ready to frame a fresh directional stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly read bytes to the decoder's buffer. Bytes passed here
// must already have been written to the peer connection: the decoder must
// never be the reason an observation is produced before its bytes crossed
// the proxy boundary.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next returns the next complete frame buffered so far. ok is false when
// fewer than a full frame's worth of bytes are available yet; callers
// should stop draining and wait for more Feed calls. The buffer is
// compacted automatically once it has been drained of complete frames, so
// long-lived sessions don't retain unbounded backing arrays.
func (d *Decoder) Next() (Frame, bool, error) {
	avail := d.buf[d.start:]
	if len(avail) < headerSize {
		d.compact()
		return Frame{}, false, nil
	}
	length := binary.BigEndian.Uint32(avail[1:5])
	if length < 4 || int64(length) > maxFrameSize {
		return Frame{}, false, ErrMalformed
	}
	total := 1 + int(length)
	if len(avail) < total {
		d.compact()
		return Frame{}, false, nil
	}
	f := Frame{Kind: avail[0], Payload: avail[headerSize:total]}
	d.start += total
	return f, true, nil
}

func (d *Decoder) compact() {
	if d.start == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.start:])
	d.buf = d.buf[:n]
	d.start = 0
}

// SSLRequestCode is the sentinel protocol-version value that marks an
// SSLRequest as the first message on a connection.
const SSLRequestCode = 0x04D2162F

// StartupProtocolVersion is PostgreSQL v3.0's protocol version field.
const StartupProtocolVersion = 0x00030000

// DecodeStartup peels the length-prefixed, unkinded frame that is always
// the first message a client sends (either an SSLRequest or a
// StartupMessage). It returns the frame's payload, the total number of
// bytes the frame occupies (so the caller can forward them and slice past
// them), and ok=false if buf does not yet hold a complete frame.
func DecodeStartup(buf []byte) (payload []byte, n int, ok bool, err error) {
	if len(buf) < 4 {
		return nil, 0, false, nil
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < 4 || int64(length) > maxFrameSize {
		return nil, 0, false, ErrMalformed
	}
	total := int(length)
	if len(buf) < total {
		return nil, 0, false, nil
	}
	return buf[4:total], total, true, nil
}

// IsSSLRequest reports whether a decoded startup payload is the SSLRequest
// sentinel rather than a real StartupMessage.
func IsSSLRequest(payload []byte) bool {
	return len(payload) == 4 && binary.BigEndian.Uint32(payload) == SSLRequestCode
}

func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// DecodeQuery extracts the NUL-terminated SQL text from a Simple-query
// ('Q') payload.
func DecodeQuery(payload []byte) string {
	return trimNUL(payload)
}

// DecodeParse extracts the statement name and SQL text from a Parse ('P')
// payload. Parameter type OIDs that follow are irrelevant to telemetry and
// are ignored.
func DecodeParse(payload []byte) (stmtName, sql string, ok bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return "", "", false
	}
	rest := payload[i+1:]
	j := bytes.IndexByte(rest, 0)
	if j < 0 {
		return "", "", false
	}
	return string(payload[:i]), string(rest[:j]), true
}

// DecodeBind extracts the destination portal name and source statement
// name from a Bind ('B') payload. Parameter format codes and values follow
// and are irrelevant to telemetry.
func DecodeBind(payload []byte) (portal, stmt string, ok bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return "", "", false
	}
	rest := payload[i+1:]
	j := bytes.IndexByte(rest, 0)
	if j < 0 {
		return "", "", false
	}
	return string(payload[:i]), string(rest[:j]), true
}

// DecodeExecute extracts the target portal name from an Execute ('E')
// payload. The max-rows field that follows is not needed by the state
// machine (see DESIGN.md, Open Questions resolved, item 1: PortalSuspended
// is not modeled).
func DecodeExecute(payload []byte) (portal string, ok bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return "", false
	}
	return string(payload[:i]), true
}

// DecodeCommandTag extracts the NUL-terminated command tag string from a
// CommandComplete ('C') payload, e.g. "SELECT 42" or "INSERT 0 3".
func DecodeCommandTag(payload []byte) string {
	return trimNUL(payload)
}

// ParseCommandTag extracts the trailing row count from a CommandComplete
// tag. It handles SELECT/UPDATE/DELETE/COPY/MOVE/FETCH N and INSERT oid N
// uniformly by taking the tag's last whitespace-separated field; tags with
// no trailing integer (e.g. "BEGIN") report ok=false.
func ParseCommandTag(tag string) (rows uint64, ok bool) {
	fields := strings.Fields(tag)
	if len(fields) < 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DecodeReadyForQuery extracts the single transaction-status byte from a
// ReadyForQuery ('Z') payload.
func DecodeReadyForQuery(payload []byte) (status byte, ok bool) {
	if len(payload) < 1 {
		return 0, false
	}
	return payload[0], true
}

// DecodeErrorFields parses the tagged field list of an ErrorResponse ('E')
// payload: a sequence of one-byte field codes each followed by a
// NUL-terminated string, terminated by a final NUL byte. Only the fields
// the core needs (C = SQLSTATE, M = message) are consumed by callers, but
// all fields are returned for completeness.
func DecodeErrorFields(payload []byte) map[byte]string {
	fields := make(map[byte]string)
	i := 0
	for i < len(payload) {
		tag := payload[i]
		if tag == 0 {
			break
		}
		i++
		end := bytes.IndexByte(payload[i:], 0)
		if end < 0 {
			break
		}
		fields[tag] = string(payload[i : i+end])
		i += end + 1
	}
	return fields
}

// EncodeMessage frames a single post-startup message the way the proxy
// would if it ever needed to synthesize one itself (it does not, on the
// data path — see the forward-first rule in SPEC_FULL.md §4.D — but the
// state machine's own drain-on-close synthetic errors are observations,
// not wire bytes, so this helper exists for tests and for any future
// collaborator that needs to speak the protocol directly).
func EncodeMessage(kind byte, payload []byte) []byte {
	msg := make([]byte, 1+4+len(payload))
	msg[0] = kind
	binary.BigEndian.PutUint32(msg[1:5], uint32(4+len(payload)))
	copy(msg[5:], payload)
	return msg
}
