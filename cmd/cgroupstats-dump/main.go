// Command cgroupstats-dump prints the kernel's process-state counters for
// a single cgroup, given its directory path on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/gnl/cgroupstats"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var promPort = flag.String("prom", ":9090", "Prometheus metrics export address and port")

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	if flag.NArg() != 1 {
		fmt.Println("usage: cgroupstats-dump <cgroup-path>")
		return
	}

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(context.Background())

	c, err := cgroupstats.NewClient()
	rtx.Must(err, "could not open a cgroupstats client")
	defer c.Close()

	stats, err := c.GetCgroupStats(flag.Arg(0))
	rtx.Must(err, "could not fetch cgroup stats for %s", flag.Arg(0))

	fmt.Printf("%+v\n", *stats)
}
