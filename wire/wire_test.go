package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildQuery(sql string) []byte {
	payload := append([]byte(sql), 0)
	return EncodeMessage(C2SQuery, payload)
}

func TestDecoder_SingleFrame(t *testing.T) {
	d := NewDecoder()
	d.Feed(buildQuery("SELECT 1;"))

	f, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, %v", f, ok, err)
	}
	if f.Kind != C2SQuery {
		t.Errorf("Kind = %c, want Q", f.Kind)
	}
	if got := DecodeQuery(f.Payload); got != "SELECT 1;" {
		t.Errorf("DecodeQuery = %q, want %q", got, "SELECT 1;")
	}

	if _, ok, _ := d.Next(); ok {
		t.Errorf("Next() after drain reported ok=true")
	}
}

func TestDecoder_SplitAcrossReads(t *testing.T) {
	full := buildQuery("SELECT 1;")

	for split := 1; split < len(full); split++ {
		d := NewDecoder()
		d.Feed(full[:split])
		if _, ok, err := d.Next(); ok || err != nil {
			t.Fatalf("split=%d: premature frame, ok=%v err=%v", split, ok, err)
		}
		d.Feed(full[split:])
		f, ok, err := d.Next()
		if err != nil || !ok {
			t.Fatalf("split=%d: Next() = %v, %v, %v", split, f, ok, err)
		}
		if got := DecodeQuery(f.Payload); got != "SELECT 1;" {
			t.Errorf("split=%d: DecodeQuery = %q", split, got)
		}
	}
}

func TestDecoder_MultipleFramesOneFeed(t *testing.T) {
	d := NewDecoder()
	d.Feed(append(buildQuery("SELECT 1;"), buildQuery("SELECT 2;")...))

	var got []string
	for {
		f, ok, err := d.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, DecodeQuery(f.Payload))
	}
	want := []string{"SELECT 1;", "SELECT 2;"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDecoder_MalformedLength(t *testing.T) {
	msg := EncodeMessage(C2SQuery, []byte("x"))
	// Corrupt the length field to something absurd.
	binary.BigEndian.PutUint32(msg[1:5], 1<<31)

	d := NewDecoder()
	d.Feed(msg)
	if _, _, err := d.Next(); err == nil {
		t.Errorf("expected ErrMalformed, got nil")
	}
}

func TestDecodeStartup_SSLRequest(t *testing.T) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], 8)
	binary.BigEndian.PutUint32(buf[4:8], SSLRequestCode)

	payload, n, ok, err := DecodeStartup(buf)
	if err != nil || !ok {
		t.Fatalf("DecodeStartup = %v, %v, %v", n, ok, err)
	}
	if n != 8 {
		t.Errorf("n = %d, want 8", n)
	}
	if !IsSSLRequest(payload) {
		t.Errorf("IsSSLRequest = false, want true")
	}
}

func TestDecodeStartup_RealStartup(t *testing.T) {
	kv := []byte("user\x00alice\x00database\x00app\x00\x00")
	payload := make([]byte, 4+len(kv))
	binary.BigEndian.PutUint32(payload[0:4], StartupProtocolVersion)
	copy(payload[4:], kv)

	total := 4 + len(payload)
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	copy(buf[4:], payload)

	got, n, ok, err := DecodeStartup(buf)
	if err != nil || !ok {
		t.Fatalf("DecodeStartup = %v, %v, %v", n, ok, err)
	}
	if n != total {
		t.Errorf("n = %d, want %d", n, total)
	}
	if IsSSLRequest(got) {
		t.Errorf("IsSSLRequest = true, want false")
	}
}

func TestDecodeStartup_Partial(t *testing.T) {
	buf := []byte{0, 0, 0, 20, 1, 2, 3}
	_, _, ok, err := DecodeStartup(buf)
	if err != nil || ok {
		t.Errorf("DecodeStartup(partial) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestDecodeParseBindExecute(t *testing.T) {
	parsePayload := append(append([]byte("stmt1\x00"), []byte("SELECT $1\x00")...), 0, 0)
	stmt, sql, ok := DecodeParse(parsePayload)
	if !ok || stmt != "stmt1" || sql != "SELECT $1" {
		t.Errorf("DecodeParse = %q, %q, %v", stmt, sql, ok)
	}

	bindPayload := append([]byte("portal1\x00"), []byte("stmt1\x00")...)
	portal, stmtName, ok := DecodeBind(bindPayload)
	if !ok || portal != "portal1" || stmtName != "stmt1" {
		t.Errorf("DecodeBind = %q, %q, %v", portal, stmtName, ok)
	}

	execPayload := append([]byte("portal1\x00"), 0, 0, 0, 0)
	p, ok := DecodeExecute(execPayload)
	if !ok || p != "portal1" {
		t.Errorf("DecodeExecute = %q, %v", p, ok)
	}
}

func TestParseCommandTag(t *testing.T) {
	tests := []struct {
		tag      string
		wantRows uint64
		wantOK   bool
	}{
		{"SELECT 1", 1, true},
		{"SELECT 0", 0, true},
		{"INSERT 0 3", 3, true},
		{"UPDATE 7", 7, true},
		{"DELETE 2", 2, true},
		{"COPY 10", 10, true},
		{"MOVE 3", 3, true},
		{"FETCH 5", 5, true},
		{"BEGIN", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		rows, ok := ParseCommandTag(tt.tag)
		if rows != tt.wantRows || ok != tt.wantOK {
			t.Errorf("ParseCommandTag(%q) = %d, %v, want %d, %v", tt.tag, rows, ok, tt.wantRows, tt.wantOK)
		}
	}
}

func TestDecodeErrorFields(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte('S')
	buf.WriteString("ERROR")
	buf.WriteByte(0)
	buf.WriteByte('C')
	buf.WriteString("42P01")
	buf.WriteByte(0)
	buf.WriteByte('M')
	buf.WriteString(`relation "nope" does not exist`)
	buf.WriteByte(0)
	buf.WriteByte(0)

	fields := DecodeErrorFields(buf.Bytes())
	if fields['C'] != "42P01" {
		t.Errorf("fields['C'] = %q, want 42P01", fields['C'])
	}
	if fields['M'] != `relation "nope" does not exist` {
		t.Errorf("fields['M'] = %q", fields['M'])
	}
}

func TestDecodeReadyForQuery(t *testing.T) {
	status, ok := DecodeReadyForQuery([]byte{'I'})
	if !ok || status != 'I' {
		t.Errorf("DecodeReadyForQuery = %c, %v", status, ok)
	}
	if _, ok := DecodeReadyForQuery(nil); ok {
		t.Errorf("DecodeReadyForQuery(nil) ok = true, want false")
	}
}
