package ipvs

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/m-lab/gnl/attr"
)

func TestServiceValidate(t *testing.T) {
	tests := []struct {
		name    string
		svc     Service
		wantErr bool
	}{
		{"valid tcp", Service{Proto: "tcp", VIP: "10.0.0.1", Port: 80, Sched: "rr"}, false},
		{"valid fwmark", Service{Fwmark: 42}, false},
		{"bad proto", Service{Proto: "sctp", VIP: "10.0.0.1", Port: 80}, true},
		{"bad vip", Service{Proto: "tcp", VIP: "not-an-ip", Port: 80}, true},
		{"zero port", Service{Proto: "tcp", VIP: "10.0.0.1", Port: 0}, true},
		{"fwmark with vip set", Service{Fwmark: 1, VIP: "10.0.0.1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.svc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDestValidate(t *testing.T) {
	tunnel := Tunnel
	masq := Masquerade
	bogus := uint32(99)
	tests := []struct {
		name    string
		dest    Dest
		wantErr bool
	}{
		{"valid default method", Dest{IP: "10.0.0.2", Weight: 1}, false},
		{"valid explicit tunnel", Dest{IP: "10.0.0.2", Weight: 1, FwdMethod: &tunnel}, false},
		{"valid masquerade", Dest{IP: "10.0.0.2", Weight: 1, FwdMethod: &masq}, false},
		{"bad ip", Dest{IP: "nope", Weight: 1}, true},
		{"bad weight", Dest{IP: "10.0.0.2", Weight: -2}, true},
		{"bad method", Dest{IP: "10.0.0.2", Weight: 1, FwdMethod: &bogus}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dest.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDestDefaultsToTunnel(t *testing.T) {
	d := Dest{IP: "10.0.0.2", Weight: 1}
	if got := d.fwdMethod(); got != Tunnel {
		t.Errorf("fwdMethod() = %d, want Tunnel(%d)", got, Tunnel)
	}
}

func TestDestPortOverride(t *testing.T) {
	svc := Service{Proto: "tcp", VIP: "10.0.0.1", Port: 80}
	withoutOverride := Dest{IP: "10.0.0.2"}
	if got := withoutOverride.port(svc); got != 80 {
		t.Errorf("port() = %d, want 80 (inherited from service)", got)
	}
	withOverride := Dest{IP: "10.0.0.2", Port: 8080}
	if got := withOverride.port(svc); got != 8080 {
		t.Errorf("port() = %d, want 8080 (explicit rport)", got)
	}
}

func TestAFUnionRoundTrip(t *testing.T) {
	af, addr, err := toAFUnion("192.0.2.1")
	if err != nil {
		t.Fatal(err)
	}
	if af != unix.AF_INET {
		t.Errorf("af = %d, want AF_INET", af)
	}
	if got := fromAFUnion(af, addr); got != "192.0.2.1" {
		t.Errorf("fromAFUnion = %q, want 192.0.2.1", got)
	}

	af6, addr6, err := toAFUnion("2001:db8::1")
	if err != nil {
		t.Fatal(err)
	}
	if af6 != unix.AF_INET6 {
		t.Errorf("af = %d, want AF_INET6", af6)
	}
	if got := fromAFUnion(af6, addr6); got != "2001:db8::1" {
		t.Errorf("fromAFUnion = %q, want 2001:db8::1", got)
	}
}

func TestServiceAttrListRoundTrip(t *testing.T) {
	af, addr, err := toAFUnion("10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	proto, err := protoNum("tcp")
	if err != nil {
		t.Fatal(err)
	}
	inst := IpvsServiceAttrList.New(map[string]any{
		"af": af, "protocol": proto, "addr": addr, "port": uint16(80),
		"sched_name": "rr", "flags": flagsBytes(), "timeout": uint32(0),
		"netmask": uint32(0xFFFFFFFF),
	})
	b, err := IpvsServiceAttrList.Pack(inst)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	v, err := IpvsServiceAttrList.Unpack(b)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	got, err := serviceFromAttrs(v.(*attr.Instance))
	if err != nil {
		t.Fatalf("serviceFromAttrs: %v", err)
	}
	if got.Proto != "tcp" || got.VIP != "10.0.0.1" || got.Port != 80 || got.Sched != "rr" {
		t.Errorf("round trip = %+v, want proto=tcp vip=10.0.0.1 port=80 sched=rr", got)
	}
}

func TestCommandTableHasAllSeventeenCommands(t *testing.T) {
	names := []string{
		"NEW_SERVICE", "SET_SERVICE", "DEL_SERVICE", "GET_SERVICE",
		"NEW_DEST", "SET_DEST", "DEL_DEST", "GET_DEST",
		"NEW_DAEMON", "DEL_DAEMON", "GET_DAEMON",
		"SET_CONFIG", "GET_CONFIG", "SET_INFO", "GET_INFO",
		"ZERO", "FLUSH",
	}
	for _, n := range names {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("command %q should be registered, panicked: %v", n, r)
				}
			}()
			Ipvs.NewMsg(n, nil)
		}()
	}
}

func TestRequiredModules(t *testing.T) {
	mods := Ipvs.RequiredModules()
	if len(mods) != 1 || mods[0] != "ip_vs" {
		t.Errorf("RequiredModules() = %v, want [ip_vs]", mods)
	}
}
