package ipvs

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/m-lab/gnl/attr"
)

// ValidationError reports a Service or Dest that fails the library's own
// sanity checks before it is ever sent to the kernel.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ipvs: invalid %s: %s", e.Field, e.Reason)
}

// Service describes a load-balanced virtual service. It is keyed either by
// (Proto, VIP, Port) or, when Fwmark is non-zero, by (Fwmark, AF) — the two
// forms are mutually exclusive, matching the kernel's own two lookup paths.
type Service struct {
	Proto string // "tcp" or "udp"; unused for a fwmark-keyed service
	VIP   string
	Port  uint16
	Sched string // scheduler name, e.g. "rr", "wlc"; defaults to "rr" on Add

	Fwmark uint32 // non-zero selects the fwmark-keyed form
	AF     uint16 // address family for a fwmark-keyed service; defaults to AF_INET
}

func (s *Service) isFwmark() bool { return s.Fwmark != 0 }

// Validate reports whether s is well-formed, without contacting the kernel.
func (s *Service) Validate() error {
	if s.isFwmark() {
		if s.Proto != "" || s.VIP != "" || s.Port != 0 {
			return &ValidationError{Field: "service", Reason: "a fwmark-keyed service must not set proto, vip, or port"}
		}
		return nil
	}
	if s.Proto != "tcp" && s.Proto != "udp" {
		return &ValidationError{Field: "proto", Reason: fmt.Sprintf("%q must be tcp or udp", s.Proto)}
	}
	if net.ParseIP(s.VIP) == nil {
		return &ValidationError{Field: "vip", Reason: fmt.Sprintf("%q is not a valid IP address", s.VIP)}
	}
	if s.Port == 0 {
		return &ValidationError{Field: "port", Reason: "must be non-zero"}
	}
	return nil
}

// Dest describes one real server backing a Service.
type Dest struct {
	IP     string
	Weight int32
	// Port overrides the service's port for this dest (the "rport"
	// concept). Zero means reuse the owning service's port.
	Port uint16
	// FwdMethod selects MASQ/LOCAL/TUNNEL/ROUTE. nil defaults to Tunnel,
	// the same default ipvsadm and this package's predecessor use.
	FwdMethod *uint32
}

func (d Dest) fwdMethod() uint32 {
	if d.FwdMethod != nil {
		return *d.FwdMethod
	}
	return Tunnel
}

func (d Dest) port(svc Service) uint16 {
	if d.Port != 0 {
		return d.Port
	}
	return svc.Port
}

// Validate reports whether d is well-formed, without contacting the kernel.
func (d *Dest) Validate() error {
	if net.ParseIP(d.IP) == nil {
		return &ValidationError{Field: "ip", Reason: fmt.Sprintf("%q is not a valid IP address", d.IP)}
	}
	if d.Weight < -1 {
		return &ValidationError{Field: "weight", Reason: "must be >= -1"}
	}
	if !validForwardingMethod(d.fwdMethod()) {
		return &ValidationError{Field: "fwd_method", Reason: fmt.Sprintf("%d is not a known forwarding method", d.fwdMethod())}
	}
	return nil
}

// Pool is a Service together with the Dests currently backing it.
type Pool struct {
	Service Service
	Dests   []Dest
}

func toAFUnion(ip string) (uint16, []byte, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, nil, &ValidationError{Field: "ip", Reason: fmt.Sprintf("%q is not a valid IP address", ip)}
	}
	buf := make([]byte, 16)
	if v4 := parsed.To4(); v4 != nil {
		copy(buf, v4)
		return unix.AF_INET, buf, nil
	}
	copy(buf, parsed.To16())
	return unix.AF_INET6, buf, nil
}

func fromAFUnion(af uint16, addr []byte) string {
	n := 4
	if af == unix.AF_INET6 {
		n = 16
	}
	if n > len(addr) {
		n = len(addr)
	}
	return net.IP(addr[:n]).String()
}

func protoNum(name string) (uint16, error) {
	switch name {
	case "tcp":
		return unix.IPPROTO_TCP, nil
	case "udp":
		return unix.IPPROTO_UDP, nil
	default:
		return 0, &ValidationError{Field: "proto", Reason: fmt.Sprintf("%q must be tcp or udp", name)}
	}
}

func protoName(n uint16) (string, error) {
	switch n {
	case unix.IPPROTO_TCP:
		return "tcp", nil
	case unix.IPPROTO_UDP:
		return "udp", nil
	default:
		return "", fmt.Errorf("ipvs: unknown protocol number %d", n)
	}
}

// flagsBytes builds the on-wire FLAGS attribute: a (value, mask) pair of
// native-endian uint32s. The mask is fixed at 0xFFFFFFFF (see DESIGN.md);
// the value is always 0, since this client never requests a specific flag
// bit be set.
func flagsBytes() []byte {
	b := make([]byte, 8)
	// value = 0
	b[4], b[5], b[6], b[7] = 0xFF, 0xFF, 0xFF, 0xFF
	return b
}

func serviceFromAttrs(a *attr.Instance) (Service, error) {
	if a.Has("addr") {
		af, _ := a.Get("af").(uint16)
		addr, _ := a.Get("addr").([]byte)
		protoNumVal, _ := a.Get("protocol").(uint16)
		proto, err := protoName(protoNumVal)
		if err != nil {
			return Service{}, err
		}
		port, _ := a.Get("port").(uint16)
		sched := ""
		if a.Has("sched_name") {
			sched, _ = a.Get("sched_name").(string)
		}
		return Service{Proto: proto, VIP: fromAFUnion(af, addr), Port: port, Sched: sched, AF: af}, nil
	}
	fwmark, _ := a.Get("fwmark").(uint32)
	af := uint16(unix.AF_INET)
	if a.Has("af") {
		af, _ = a.Get("af").(uint16)
	}
	sched := ""
	if a.Has("sched_name") {
		sched, _ = a.Get("sched_name").(string)
	}
	return Service{Fwmark: fwmark, Sched: sched, AF: af}, nil
}

func destFromAttrs(a *attr.Instance, defaultAF uint16) (Dest, error) {
	af := defaultAF
	if a.Has("addr_family") {
		af, _ = a.Get("addr_family").(uint16)
	}
	addr, _ := a.Get("addr").([]byte)
	ip := fromAFUnion(af, addr)
	var weight int32
	if a.Has("weight") {
		weight, _ = a.Get("weight").(int32)
	}
	var port uint16
	if a.Has("port") {
		port, _ = a.Get("port").(uint16)
	}
	var fwd *uint32
	if a.Has("fwd_method") {
		m, _ := a.Get("fwd_method").(uint32)
		fwd = &m
	}
	return Dest{IP: ip, Weight: weight, Port: port, FwdMethod: fwd}, nil
}
