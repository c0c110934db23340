package mavlink

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/uavbus/internal/dtype"
	"github.com/danmuck/uavbus/internal/protocol/transfer"
	"github.com/danmuck/uavbus/internal/testutil/testlog"
)

func decodeBytes(t *testing.T, raw []byte) (Message, error) {
	t.Helper()
	tr := transfer.NewSingleFrame(transfer.Meta{}, raw)
	r := transfer.NewReader(&tr)
	var m Message
	err := Codec{}.Decode(&r, &m)
	return m, err
}

func TestDecodeTailArrayPayload(t *testing.T) {
	testlog.Start(t)
	m, err := decodeBytes(t, []byte{0x42, 0x72, 0x08, 0xa5, 'M', 's', 'g'})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var want Message
	want.Seq, want.SysID, want.CompID, want.MsgID = 0x42, 0x72, 0x08, 0xa5
	want.SetPayload([]byte("Msg"))
	if m != want {
		t.Fatalf("got %s want %s", &m, &want)
	}
}

func TestDecodeEmptyTransferFails(t *testing.T) {
	testlog.Start(t)
	if _, err := decodeBytes(t, nil); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("expected ErrShortMessage, got %v", err)
	}
}

func TestEncodeLayout(t *testing.T) {
	testlog.Start(t)
	var m Message
	m.Seq, m.SysID, m.CompID, m.MsgID = 1, 2, 3, 4
	m.SetPayload([]byte("hello"))
	buf := make([]byte, 16)
	n, err := Codec{}.Encode(&m, buf)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{1, 2, 3, 4, 'h', 'e', 'l', 'l', 'o'}) {
		t.Fatalf("layout got % x", buf[:n])
	}
	if _, err := (Codec{}).Encode(&m, buf[:5]); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestRegisterDescriptor(t *testing.T) {
	testlog.Start(t)
	r := dtype.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	if d, ok := r.LookupByName(FullName); !ok || d.ID != DefaultDataTypeID {
		t.Fatalf("lookup got=%v ok=%v", d, ok)
	}
}
