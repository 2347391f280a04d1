package genl_test

import (
	"testing"

	"github.com/m-lab/gnl/attr"
	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/scalar"
)

var testAttrs = attr.NewSchema("GenlTestAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("VALUE", scalar.U32),
	}
})

var testSchema = genl.NewMessageSchema("GenlTest", genl.ByID(100), []genl.Command{
	genl.Cmd("PING", testAttrs),
	genl.Cmd("PONG", nil),
})

func TestMsgByNameAndByID(t *testing.T) {
	byName := testSchema.NewMsg("ping", testAttrs.New(map[string]any{"value": uint32(7)}))
	if byName.Cmd != 1 || byName.CommandName() != "PING" {
		t.Errorf("NewMsg(%q) = cmd %d %q, want 1 PING", "ping", byName.Cmd, byName.CommandName())
	}
	byID := testSchema.NewMsg(1, testAttrs.New(map[string]any{"value": uint32(7)}))
	if byID.Cmd != byName.Cmd {
		t.Errorf("NewMsg(1).Cmd = %d, want %d", byID.Cmd, byName.Cmd)
	}
}

func TestMsgUnknownCommandPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewMsg(\"BOGUS\") should panic")
		}
	}()
	testSchema.NewMsg("BOGUS", nil)
}

func TestRegistryDuplicateIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("registering a duplicate family id should panic")
		}
	}()
	genl.NewMessageSchema("GenlTestDup", genl.ByID(100), []genl.Command{genl.Cmd("X", nil)})
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	m := testSchema.NewMsg("PING", testAttrs.New(map[string]any{"value": uint32(42)}))
	m.SetFlags(genl.FlagRequest)

	raw, err := genl.EncodeFrame(m, 1234, 1)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(raw)%4 != 0 {
		t.Errorf("frame length %d not 4-byte aligned", len(raw))
	}

	decoded, rest, err := genl.DecodeFrame(genl.DefaultRegistry, raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("leftover bytes after single frame: %d", len(rest))
	}
	got, ok := decoded.(*genl.Msg)
	if !ok {
		t.Fatalf("decoded type = %T, want *genl.Msg", decoded)
	}
	if got.CommandName() != "PING" {
		t.Errorf("decoded command = %q, want PING", got.CommandName())
	}
	if v := got.Attrs.Get("value"); v != uint32(42) {
		t.Errorf("decoded value = %v, want 42", v)
	}
	if got.Flags() != genl.FlagRequest {
		t.Errorf("decoded flags = %d, want %d", got.Flags(), genl.FlagRequest)
	}
}

func TestDecodeErrorFrame(t *testing.T) {
	m := testSchema.NewMsg("PONG", nil)
	m.SetFlags(genl.FlagRequest)
	reqFrame, err := genl.EncodeFrame(m, 1, 7)
	if err != nil {
		t.Fatal(err)
	}

	payload := make([]byte, 4)
	// errno 0: a success ACK.
	payload = append(payload, reqFrame...)

	hdr := make([]byte, 16)
	hdr[0] = byte(len(hdr) + len(payload))
	hdr[4] = genl.TypeError
	hdr[5] = 0
	full := append(hdr, payload...)

	decoded, _, err := genl.DecodeFrame(genl.DefaultRegistry, full)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	em, ok := decoded.(*genl.ErrorMsg)
	if !ok {
		t.Fatalf("decoded type = %T, want *genl.ErrorMsg", decoded)
	}
	if em.Errno != 0 {
		t.Errorf("Errno = %d, want 0", em.Errno)
	}
	if em.Request == nil || em.Request.CommandName() != "PONG" {
		t.Errorf("Request = %+v, want echoed PONG", em.Request)
	}
}

func TestDecodeDoneFrame(t *testing.T) {
	hdr := make([]byte, 16)
	hdr[0] = 16
	hdr[4] = genl.TypeDone
	decoded, _, err := genl.DecodeFrame(genl.DefaultRegistry, hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded.(*genl.DoneMsg); !ok {
		t.Errorf("decoded type = %T, want *genl.DoneMsg", decoded)
	}
}

func TestCtrlFamilyPreregistered(t *testing.T) {
	if genl.Ctrl.Name() != "Ctrl" {
		t.Fatalf("genl.Ctrl.Name() = %q", genl.Ctrl.Name())
	}
	id, err := genl.Ctrl.FamilyID()
	if err != nil || id != genl.TypeControl {
		t.Errorf("Ctrl.FamilyID() = (%d, %v), want (%d, nil)", id, err, genl.TypeControl)
	}
	m := genl.Ctrl.NewMsg("GETFAMILY", genl.CtrlAttrList.New(map[string]any{"family_name": "IPVS"}))
	if m.CommandName() != "GETFAMILY" {
		t.Errorf("CommandName() = %q", m.CommandName())
	}
}

func TestPendingFamilyResolve(t *testing.T) {
	s := genl.NewMessageSchema("GenlTestPending", genl.ByName("genltestpending"), []genl.Command{
		genl.Cmd("ONE", nil),
	})
	if _, err := s.FamilyID(); err == nil {
		t.Fatal("FamilyID() on an unresolved family should error")
	}
	found := false
	for _, p := range genl.DefaultRegistry.Pending() {
		if p.Name == "genltestpending" {
			found = true
		}
	}
	if !found {
		t.Fatal("pending family not listed by Registry.Pending")
	}
	if err := genl.DefaultRegistry.Resolve("genltestpending", 101); err != nil {
		t.Fatal(err)
	}
	id, err := s.FamilyID()
	if err != nil || id != 101 {
		t.Errorf("FamilyID() after resolve = (%d, %v), want (101, nil)", id, err)
	}
}
