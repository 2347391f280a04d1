// Command ipvsctl dumps the kernel's current IPVS configuration, the same
// information `ipvsadm -L -n` shows, over generic netlink rather than by
// shelling out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/gnl/ipvs"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	serviceArg = flag.String("service", "", "only dump the service matching this vip[:port]; fwmark services never match")
	destArg    = flag.String("dest", "", "only dump pools with a dest matching this ip[:port]")
	promPort   = flag.String("prom", ":9090", "Prometheus metrics export address and port")
)

var (
	reBracketedWithPort = regexp.MustCompile(`^\[([a-fA-F0-9:]+)\]:(\d+)$`)
	rePlainWithPort     = regexp.MustCompile(`^([\d.]+):(\d+)$`)
	reBracketedBare     = regexp.MustCompile(`^\[?([a-fA-F0-9:]+)\]?$`)
	rePlainBare         = regexp.MustCompile(`^([\d.]+)$`)
)

func ipEqual(a, b string) bool {
	pa, pb := net.ParseIP(a), net.ParseIP(b)
	return pa != nil && pb != nil && pa.Equal(pb)
}

// matchArg reports whether s (an "ip", "ip:port", or "[ipv6]:port" spec)
// matches the given ip/port pair.
func matchArg(s, ip string, port uint16) (bool, error) {
	if m := reBracketedWithPort.FindStringSubmatch(s); m != nil {
		p, _ := strconv.Atoi(m[2])
		return ipEqual(m[1], ip) && uint16(p) == port, nil
	}
	if m := rePlainWithPort.FindStringSubmatch(s); m != nil {
		p, _ := strconv.Atoi(m[2])
		return ipEqual(m[1], ip) && uint16(p) == port, nil
	}
	if m := reBracketedBare.FindStringSubmatch(s); m != nil {
		return ipEqual(m[1], ip), nil
	}
	if m := rePlainBare.FindStringSubmatch(s); m != nil {
		return ipEqual(m[1], ip), nil
	}
	return false, fmt.Errorf("malformed address: %s", s)
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(context.Background())

	c, err := ipvs.NewClient()
	rtx.Must(err, "could not open an IPVS client")
	defer c.Close()

	pools, err := c.GetPools()
	rtx.Must(err, "could not list IPVS pools")

	for _, p := range pools {
		if *serviceArg != "" {
			ok, err := matchArg(*serviceArg, p.Service.VIP, p.Service.Port)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if !ok {
				continue
			}
		}
		if *destArg != "" {
			matched := false
			for _, d := range p.Dests {
				dport := d.Port
				if dport == 0 {
					dport = p.Service.Port
				}
				ok, err := matchArg(*destArg, d.IP, dport)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				if ok {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		fmt.Printf("%s %s:%d sched=%s\n", strings.ToUpper(p.Service.Proto), p.Service.VIP, p.Service.Port, p.Service.Sched)
		for _, d := range p.Dests {
			port := d.Port
			if port == 0 {
				port = p.Service.Port
			}
			if *destArg != "" {
				if ok, _ := matchArg(*destArg, d.IP, port); !ok {
					continue
				}
			}
			fmt.Printf("  -> %s:%d weight=%d\n", d.IP, port, d.Weight)
		}
	}
}
