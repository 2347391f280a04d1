// Package cgroupstats is a Go client for the kernel's per-cgroup process
// state counters (sleeping/running/stopped/uninterruptible/iowait),
// delivered over the same TASKSTATS generic-netlink family taskstats uses.
//
// The kernel's combined command enum starts TASKSTATS_CMD_GET/NEW at 1/2,
// reserves 3 for __TASKSTATS_CMD_MAX, then places CGROUPSTATS_CMD_GET/NEW
// at 4/5 — so this package extends taskstats.TaskstatsMessage's command
// table rather than declaring a second, conflicting family registration.
package cgroupstats

import (
	"encoding/binary"
	"fmt"

	"github.com/m-lab/gnl/attr"
	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/scalar"
	"github.com/m-lab/gnl/taskstats"
)

// Stats is the kernel's struct cgroupstats: five process-state counters.
type Stats struct {
	NrSleeping        uint64
	NrRunning         uint64
	NrStopped         uint64
	NrUninterruptible uint64
	NrIOWait          uint64
}

const recordSize = 5 * 8

type statsCodec struct{}

var statsCodecInstance scalar.Codec = statsCodec{}

func (statsCodec) Pack(v any) ([]byte, error) {
	s, ok := v.(Stats)
	if !ok {
		if p, ok := v.(*Stats); ok {
			s = *p
		} else {
			return nil, fmt.Errorf("cgroupstats: Stats codec wants cgroupstats.Stats, got %T", v)
		}
	}
	b := make([]byte, recordSize)
	e := binary.NativeEndian
	e.PutUint64(b[0:], s.NrSleeping)
	e.PutUint64(b[8:], s.NrRunning)
	e.PutUint64(b[16:], s.NrStopped)
	e.PutUint64(b[24:], s.NrUninterruptible)
	e.PutUint64(b[32:], s.NrIOWait)
	return b, nil
}

func (statsCodec) Unpack(b []byte) (any, error) {
	if len(b) != recordSize {
		return nil, fmt.Errorf("cgroupstats: Stats record wants %d bytes, got %d", recordSize, len(b))
	}
	e := binary.NativeEndian
	return Stats{
		NrSleeping:        e.Uint64(b[0:]),
		NrRunning:         e.Uint64(b[8:]),
		NrStopped:         e.Uint64(b[16:]),
		NrUninterruptible: e.Uint64(b[24:]),
		NrIOWait:          e.Uint64(b[32:]),
	}, nil
}

// CgroupstatsType is the reply attribute list: a single CGROUP_STATS
// record.
var CgroupstatsType = attr.NewSchema("CgroupstatsType", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("CGROUP_STATS", statsCodecInstance),
	}
})

// CgroupstatsCmdAttrList is the request attribute list: the open file
// descriptor of the cgroup directory to query.
var CgroupstatsCmdAttrList = attr.NewSchema("CgroupstatsCmdAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("CGROUPSTATS_CMD_ATTR_FD", scalar.U32),
	}
})

func init() {
	taskstats.TaskstatsMessage.Extend(
		genl.Cmd("_CGROUPSTATS_CMD_MAX", nil),
		genl.Cmd("CGROUPSTATS_GET", CgroupstatsCmdAttrList),
		genl.Cmd("CGROUPSTATS_NEW", CgroupstatsType),
	)
}
