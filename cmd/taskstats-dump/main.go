// Command taskstats-dump prints the kernel's per-pid accounting statistics
// for a single process, given its pid on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/gnl/taskstats"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var promPort = flag.String("prom", ":9090", "Prometheus metrics export address and port")

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	if flag.NArg() != 1 {
		fmt.Println("usage: taskstats-dump <pid>")
		return
	}
	pid, err := strconv.Atoi(flag.Arg(0))
	rtx.Must(err, "invalid pid %q", flag.Arg(0))

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(context.Background())

	c, err := taskstats.NewClient()
	rtx.Must(err, "could not open a taskstats client")
	defer c.Close()

	stats, err := c.GetPidStats(pid)
	rtx.Must(err, "could not fetch stats for pid %d", pid)

	fmt.Printf("%+v\n", *stats)
}
