package ipvs_test

import (
	"testing"

	"github.com/m-lab/gnl/ipvs"
)

// These tests talk to the real kernel IPVS family and so need CAP_NET_ADMIN
// and the ip_vs module; they skip cleanly wherever that's unavailable
// (unprivileged sandboxes, kernels without IPVS support).
func newClientOrSkip(t *testing.T) *ipvs.Client {
	t.Helper()
	c, err := ipvs.NewClient()
	if err != nil {
		t.Skipf("opening an IPVS client in this environment: %v", err)
	}
	return c
}

func TestAddServiceGetPools(t *testing.T) {
	c := newClientOrSkip(t)
	defer c.Close()

	svc := ipvs.Service{Proto: "tcp", VIP: "198.51.100.1", Port: 8080, Sched: "rr"}
	if err := c.AddService(svc); err != nil {
		t.Skipf("AddService: %v (likely unprivileged)", err)
	}
	defer c.DelService(svc)

	pools, err := c.GetPools()
	if err != nil {
		t.Fatalf("GetPools: %v", err)
	}
	found := false
	for _, p := range pools {
		if p.Service.VIP == svc.VIP && p.Service.Port == svc.Port {
			found = true
		}
	}
	if !found {
		t.Errorf("GetPools() did not include the service just added: %+v", pools)
	}
}

func TestAddDestDefaultsToTunnel(t *testing.T) {
	c := newClientOrSkip(t)
	defer c.Close()

	svc := ipvs.Service{Proto: "tcp", VIP: "198.51.100.2", Port: 8081, Sched: "rr"}
	if err := c.AddService(svc); err != nil {
		t.Skipf("AddService: %v", err)
	}
	defer c.DelService(svc)

	dest := ipvs.Dest{IP: "198.51.100.3", Weight: 1}
	if err := c.AddDest(svc, dest); err != nil {
		t.Fatalf("AddDest: %v", err)
	}
	defer c.DelDest(svc, dest)

	dests, err := c.GetDests(svc)
	if err != nil {
		t.Fatalf("GetDests: %v", err)
	}
	if len(dests) != 1 || dests[0].FwdMethod == nil || *dests[0].FwdMethod != ipvs.Tunnel {
		t.Errorf("GetDests() = %+v, want one dest with FwdMethod=Tunnel", dests)
	}
}

func TestAddDestAlternatePort(t *testing.T) {
	c := newClientOrSkip(t)
	defer c.Close()

	svc := ipvs.Service{Proto: "tcp", VIP: "198.51.100.4", Port: 8082, Sched: "rr"}
	if err := c.AddService(svc); err != nil {
		t.Skipf("AddService: %v", err)
	}
	defer c.DelService(svc)

	dest := ipvs.Dest{IP: "198.51.100.5", Weight: 1, Port: 9090}
	if err := c.AddDest(svc, dest); err != nil {
		t.Fatalf("AddDest: %v", err)
	}
	defer c.DelDest(svc, dest)

	dests, err := c.GetDests(svc)
	if err != nil {
		t.Fatalf("GetDests: %v", err)
	}
	if len(dests) != 1 || dests[0].Port != 9090 {
		t.Errorf("GetDests() = %+v, want one dest on port 9090", dests)
	}
}

func TestFwmarkServiceAFHandling(t *testing.T) {
	c := newClientOrSkip(t)
	defer c.Close()

	const fwmark = uint32(4242)
	svc4 := ipvs.Service{Fwmark: fwmark}
	if err := c.AddFwmService(svc4); err != nil {
		t.Skipf("AddFwmService: %v", err)
	}
	defer c.DelFwmService(svc4)

	if err := c.AddFwmService(svc4); err == nil {
		t.Error("adding the same fwmark/AF twice should fail")
	}

	// Only the AF_INET service exists at this point, so an AF_INET6 delete
	// of the same fwmark matches nothing.
	mismatched := svc4
	mismatched.AF = 10
	if err := c.DelFwmService(mismatched); err == nil {
		t.Error("deleting with a non-matching AF should fail")
	}

	svc6 := svc4
	svc6.AF = 10 // AF_INET6
	if err := c.AddFwmService(svc6); err != nil {
		t.Errorf("adding the same fwmark under a different AF should succeed: %v", err)
	}
	defer c.DelFwmService(svc6)
}
