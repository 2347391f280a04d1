package ipvs

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/m-lab/gnl/attr"
	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/nlsock"
)

// Client is a netlink-backed IPVS client, a drop-in replacement for
// shelling out to ipvsadm.
type Client struct {
	sock *nlsock.Socket
}

// NewClient opens a netlink socket and returns a Client ready to use.
func NewClient(opts ...nlsock.Option) (*Client, error) {
	s, err := nlsock.Open(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{sock: s}, nil
}

// Close releases the underlying netlink socket.
func (c *Client) Close() error { return c.sock.Close() }

// notFound reports whether err is a kernel-reported error (*nlsock.KernelError,
// whatever its errno: ESRCH, ENOENT, ...). The lookups treat every such error
// as "the service/dest does not exist" and swallow it into a (nil, nil)
// result; transport errors are not swallowed.
func notFound(err error) bool {
	var kerr *nlsock.KernelError
	return errors.As(err, &kerr)
}

func serviceAttrsFor(svc Service, forWrite bool) (*attr.Instance, uint16, error) {
	if svc.isFwmark() {
		af := svc.AF
		if af == 0 {
			af = unix.AF_INET
		}
		fields := map[string]any{"fwmark": svc.Fwmark, "af": af}
		if forWrite {
			netmask := uint32(0xFFFFFFFF)
			if af == unix.AF_INET6 {
				netmask = 128
			}
			fields["sched_name"] = svc.Sched
			fields["flags"] = flagsBytes()
			fields["timeout"] = uint32(0)
			fields["netmask"] = netmask
		}
		return IpvsServiceAttrList.New(fields), af, nil
	}
	af, addr, err := toAFUnion(svc.VIP)
	if err != nil {
		return nil, 0, err
	}
	proto, err := protoNum(svc.Proto)
	if err != nil {
		return nil, 0, err
	}
	fields := map[string]any{"af": af, "port": svc.Port, "protocol": proto, "addr": addr}
	if forWrite {
		netmask := uint32(0xFFFFFFFF)
		if af == unix.AF_INET6 {
			netmask = 128
		}
		fields["sched_name"] = svc.Sched
		fields["flags"] = flagsBytes()
		fields["timeout"] = uint32(0)
		fields["netmask"] = netmask
	}
	return IpvsServiceAttrList.New(fields), af, nil
}

func (c *Client) modifyService(cmd string, svc Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	svcAttrs, _, err := serviceAttrsFor(svc, true)
	if err != nil {
		return err
	}
	cmdAttrs := IpvsCmdAttrList.New(map[string]any{"service": svcAttrs})
	return c.sock.Execute(Ipvs.NewMsg(cmd, cmdAttrs))
}

// AddService creates svc. Sched defaults to "rr" if unset.
func (c *Client) AddService(svc Service) error {
	if svc.Sched == "" {
		svc.Sched = "rr"
	}
	return c.modifyService("NEW_SERVICE", svc)
}

// DelService removes svc.
func (c *Client) DelService(svc Service) error {
	return c.modifyService("DEL_SERVICE", svc)
}

// AddFwmService creates a fwmark-keyed svc. AF defaults to AF_INET, Sched
// to "rr", if unset.
func (c *Client) AddFwmService(svc Service) error {
	if svc.AF == 0 {
		svc.AF = unix.AF_INET
	}
	if svc.Sched == "" {
		svc.Sched = "rr"
	}
	return c.modifyService("NEW_SERVICE", svc)
}

// DelFwmService removes a fwmark-keyed svc. AF defaults to AF_INET if
// unset.
func (c *Client) DelFwmService(svc Service) error {
	if svc.AF == 0 {
		svc.AF = unix.AF_INET
	}
	return c.modifyService("DEL_SERVICE", svc)
}

func (c *Client) modifyDest(cmd string, svc Service, dest Dest, full bool) error {
	if svc.isFwmark() {
		return &ValidationError{Field: "service", Reason: "use the Fwm* methods for a fwmark-keyed service"}
	}
	if err := svc.Validate(); err != nil {
		return err
	}
	if err := dest.Validate(); err != nil {
		return err
	}
	svcAttrs, _, err := serviceAttrsFor(svc, false)
	if err != nil {
		return err
	}
	raf, raddr, err := toAFUnion(dest.IP)
	if err != nil {
		return err
	}
	destFields := map[string]any{"addr_family": raf, "addr": raddr, "port": dest.port(svc)}
	if full {
		destFields["weight"] = dest.Weight
		destFields["fwd_method"] = dest.fwdMethod()
		destFields["l_thresh"] = uint32(0)
		destFields["u_thresh"] = uint32(0)
	}
	cmdAttrs := IpvsCmdAttrList.New(map[string]any{
		"service": svcAttrs,
		"dest":    IpvsDestAttrList.New(destFields),
	})
	return c.sock.Execute(Ipvs.NewMsg(cmd, cmdAttrs))
}

// AddDest adds dest as a real server behind svc. dest.FwdMethod defaults to
// Tunnel, and dest.Port to svc.Port, if unset.
func (c *Client) AddDest(svc Service, dest Dest) error {
	return c.modifyDest("NEW_DEST", svc, dest, true)
}

// UpdateDest updates an existing dest's weight/forwarding-method/port.
func (c *Client) UpdateDest(svc Service, dest Dest) error {
	return c.modifyDest("SET_DEST", svc, dest, true)
}

// DelDest removes dest from svc.
func (c *Client) DelDest(svc Service, dest Dest) error {
	return c.modifyDest("DEL_DEST", svc, dest, false)
}

func (c *Client) modifyFwmDest(cmd string, svc Service, dest Dest, full bool) error {
	if !svc.isFwmark() {
		return &ValidationError{Field: "service", Reason: "use AddDest/UpdateDest/DelDest for a non-fwmark service"}
	}
	if err := dest.Validate(); err != nil {
		return err
	}
	af := svc.AF
	if af == 0 {
		af = unix.AF_INET
	}
	raf, raddr, err := toAFUnion(dest.IP)
	if err != nil {
		return err
	}
	svcAttrs := IpvsServiceAttrList.New(map[string]any{"fwmark": svc.Fwmark, "af": af})
	destFields := map[string]any{"addr_family": raf, "addr": raddr, "port": dest.Port}
	if full {
		destFields["weight"] = dest.Weight
		destFields["fwd_method"] = dest.fwdMethod()
		destFields["l_thresh"] = uint32(0)
		destFields["u_thresh"] = uint32(0)
	}
	cmdAttrs := IpvsCmdAttrList.New(map[string]any{
		"service": svcAttrs,
		"dest":    IpvsDestAttrList.New(destFields),
	})
	return c.sock.Execute(Ipvs.NewMsg(cmd, cmdAttrs))
}

// AddFwmDest adds dest as a real server behind a fwmark-keyed svc.
func (c *Client) AddFwmDest(svc Service, dest Dest) error {
	return c.modifyFwmDest("NEW_DEST", svc, dest, true)
}

// UpdateFwmDest updates an existing fwmark-keyed dest.
func (c *Client) UpdateFwmDest(svc Service, dest Dest) error {
	return c.modifyFwmDest("SET_DEST", svc, dest, true)
}

// DelFwmDest removes dest from a fwmark-keyed svc.
func (c *Client) DelFwmDest(svc Service, dest Dest) error {
	return c.modifyFwmDest("DEL_DEST", svc, dest, false)
}

// Flush removes every service and dest.
func (c *Client) Flush() error {
	return c.sock.Execute(Ipvs.NewMsg("FLUSH", nil))
}

func (c *Client) getDestsForAttrs(serviceAttrs *attr.Instance, af uint16) ([]Dest, error) {
	req := Ipvs.NewMsg("GET_DEST", IpvsCmdAttrList.New(map[string]any{"service": serviceAttrs}))
	req.SetFlags(genl.FlagDumpRequest)
	replies, err := c.sock.Query(req)
	if err != nil {
		return nil, err
	}
	var dests []Dest
	for _, r := range replies {
		msg, ok := r.(*genl.Msg)
		if !ok || msg.Attrs == nil || !msg.Attrs.Has("dest") {
			continue
		}
		destAttrs := msg.Attrs.Get("dest").(*attr.Instance)
		d, err := destFromAttrs(destAttrs, af)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, nil
}

// GetDests returns the dests currently backing svc. A svc the kernel has no
// record of yields (nil, nil), not an error.
func (c *Client) GetDests(svc Service) ([]Dest, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	svcAttrs, af, err := serviceAttrsFor(svc, false)
	if err != nil {
		return nil, err
	}
	dests, err := c.getDestsForAttrs(svcAttrs, af)
	if notFound(err) {
		return nil, nil
	}
	return dests, err
}

// GetPool looks up svc and its dests in one call. A svc the kernel has no
// record of yields (nil, nil), not an error.
func (c *Client) GetPool(svc Service) (*Pool, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	svcAttrs, af, err := serviceAttrsFor(svc, false)
	if err != nil {
		return nil, err
	}
	req := Ipvs.NewMsg("GET_SERVICE", IpvsCmdAttrList.New(map[string]any{"service": svcAttrs}))
	req.SetFlags(genl.FlagRequest)
	replies, err := c.sock.Query(req)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, r := range replies {
		msg, ok := r.(*genl.Msg)
		if !ok || msg.Attrs == nil || !msg.Attrs.Has("service") {
			continue
		}
		gotAttrs := msg.Attrs.Get("service").(*attr.Instance)
		got, err := serviceFromAttrs(gotAttrs)
		if err != nil {
			return nil, err
		}
		dests, err := c.getDestsForAttrs(gotAttrs, af)
		if notFound(err) {
			return &Pool{Service: got}, nil
		}
		if err != nil {
			return nil, err
		}
		return &Pool{Service: got, Dests: dests}, nil
	}
	return nil, nil
}

// GetService returns just svc, without its dests: it is GetPool with the
// dests dropped (the dests are still fetched). A svc the kernel has no
// record of yields (nil, nil), not an error.
func (c *Client) GetService(svc Service) (*Service, error) {
	p, err := c.GetPool(svc)
	if err != nil || p == nil {
		return nil, err
	}
	return &p.Service, nil
}

// GetPools enumerates every service currently configured, each with its
// dests.
func (c *Client) GetPools() ([]Pool, error) {
	req := Ipvs.NewMsg("GET_SERVICE", nil)
	req.SetFlags(genl.FlagDumpRequest)
	replies, err := c.sock.Query(req)
	if err != nil {
		return nil, err
	}
	var pools []Pool
	for _, r := range replies {
		msg, ok := r.(*genl.Msg)
		if !ok || msg.Attrs == nil || !msg.Attrs.Has("service") {
			continue
		}
		svcAttrs := msg.Attrs.Get("service").(*attr.Instance)
		svc, err := serviceFromAttrs(svcAttrs)
		if err != nil {
			return nil, err
		}
		af, _ := svcAttrs.Get("af", uint16(0)).(uint16)
		dests, err := c.getDestsForAttrs(svcAttrs, af)
		if err != nil {
			return nil, err
		}
		pools = append(pools, Pool{Service: svc, Dests: dests})
	}
	return pools, nil
}
