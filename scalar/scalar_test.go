package scalar_test

import (
	"testing"

	"github.com/m-lab/gnl/scalar"
)

func packUnpack(t *testing.T, c scalar.Codec, v any) any {
	t.Helper()
	b, err := c.Pack(v)
	if err != nil {
		t.Fatalf("Pack(%v) = %v", v, err)
	}
	out, err := c.Unpack(b)
	if err != nil {
		t.Fatalf("Unpack(%v) = %v", b, err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		c    scalar.Codec
		in   any
		want any
	}{
		{"U8", scalar.U8, uint8(200), uint8(200)},
		{"U16", scalar.U16, uint16(40000), uint16(40000)},
		{"U32", scalar.U32, uint32(1 << 30), uint32(1 << 30)},
		{"U64", scalar.U64, uint64(1) << 40, uint64(1) << 40},
		{"I32", scalar.I32, int32(-5), int32(-5)},
		{"Net16", scalar.Net16, uint16(80), uint16(80)},
		{"Net32", scalar.Net32, uint32(1), uint32(1)},
		{"Binary", scalar.Binary, []byte("ABCD"), []byte("ABCD")},
		{"NulString", scalar.NulString, "abcd", "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := packUnpack(t, tt.c, tt.in)
			gb, ok1 := got.([]byte)
			wb, ok2 := tt.want.([]byte)
			if ok1 && ok2 {
				if string(gb) != string(wb) {
					t.Errorf("got %v, want %v", gb, wb)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNet16BigEndianWire(t *testing.T) {
	b, err := scalar.Net16.Pack(uint16(0x0050)) // port 80
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2 || b[0] != 0x00 || b[1] != 0x50 {
		t.Errorf("Net16 wire bytes = %v, want [0x00 0x50]", b)
	}
}

func TestNulStringUnterminated(t *testing.T) {
	if _, err := scalar.NulString.Unpack([]byte("abcd")); err != scalar.ErrUnterminated {
		t.Errorf("Unpack of unterminated string = %v, want ErrUnterminated", err)
	}
}

func TestIgnorePackFails(t *testing.T) {
	if _, err := scalar.Ignore.Pack(nil); err == nil {
		t.Error("Ignore.Pack should fail")
	}
}

func TestIgnoreUnpackIsSentinel(t *testing.T) {
	v, err := scalar.Ignore.Unpack([]byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(scalar.Ignored); !ok {
		t.Errorf("Ignore.Unpack = %T, want scalar.Ignored", v)
	}
}

func TestU8WrongLength(t *testing.T) {
	if _, err := scalar.U8.Unpack([]byte{1, 2}); err == nil {
		t.Error("U8.Unpack of 2 bytes should fail")
	}
}
