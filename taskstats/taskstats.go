// Package taskstats is a Go client for the kernel's per-task and
// per-thread-group accounting statistics, delivered over the TASKSTATS
// generic-netlink family.
package taskstats

import (
	"encoding/binary"
	"fmt"

	"github.com/m-lab/gnl/attr"
	"github.com/m-lab/gnl/genl"
	"github.com/m-lab/gnl/scalar"
)

// Stats is the kernel's struct taskstats, decoded field-for-field. Field
// order and width here must match the kernel's layout exactly: this is a
// fixed packed record, not a TLV list.
type Stats struct {
	Version  uint16
	ExitCode uint32
	Flag     uint8
	Nice     uint8

	CPUCount           uint64
	CPUDelayTotal      uint64
	BlkIOCount         uint64
	BlkIODelayTotal    uint64
	SwapinCount        uint64
	SwapinDelayTotal   uint64
	CPURunRealTotal    uint64
	CPURunVirtualTotal uint64

	Comm  string
	Sched uint64

	UID   uint32
	GID   uint32
	PID   uint32
	PPID  uint32
	BTime uint32
	ETime uint64
	UTime uint64
	STime uint64

	MinFlt  uint64
	MajFlt  uint64
	CoreMem uint64
	VirtMem uint64

	HiwaterRSS uint64
	HiwaterVM  uint64

	ReadChar     uint64
	WriteChar    uint64
	ReadSyscalls uint64
	WriteSyscalls uint64

	ReadBytes           uint64
	WriteBytes          uint64
	CancelledWriteBytes uint64

	NVCSW uint64
	NIVCSW uint64

	UTimeScaled           uint64
	STimeScaled           uint64
	CPUScaledRunRealTotal uint64

	FreepagesCount      uint64
	FreepagesDelayTotal uint64
}

// recordSize is the exact packed length of struct taskstats version 8: 8
// bytes of scalar header fields, 8 u64 delay-accounting counters, a 32-byte
// comm, a u64 sched field, 3 bytes of kernel padding, 5 u32 identity
// fields, and 23 trailing u64 counters.
const recordSize = 8 + 8*8 + 32 + 8 + 3 + 5*4 + 23*8

type statsCodec struct{}

// statsCodecInstance is the codec for the fixed-layout taskstats record. It is used as
// the payload codec of the STATS field in TaskstatsType.
var statsCodecInstance scalar.Codec = statsCodec{}

func (statsCodec) Pack(v any) ([]byte, error) {
	s, ok := v.(Stats)
	if !ok {
		if p, ok := v.(*Stats); ok {
			s = *p
		} else {
			return nil, fmt.Errorf("taskstats: Stats codec wants taskstats.Stats, got %T", v)
		}
	}
	b := make([]byte, recordSize)
	e := binary.NativeEndian
	o := 0
	e.PutUint16(b[o:], s.Version)
	o += 2
	e.PutUint32(b[o:], s.ExitCode)
	o += 4
	b[o] = s.Flag
	o++
	b[o] = s.Nice
	o++
	for _, f := range []uint64{
		s.CPUCount, s.CPUDelayTotal, s.BlkIOCount, s.BlkIODelayTotal,
		s.SwapinCount, s.SwapinDelayTotal, s.CPURunRealTotal, s.CPURunVirtualTotal,
	} {
		e.PutUint64(b[o:], f)
		o += 8
	}
	comm := make([]byte, 32)
	copy(comm, s.Comm)
	copy(b[o:], comm)
	o += 32
	e.PutUint64(b[o:], s.Sched)
	o += 8
	o += 3 // kernel padding
	for _, f := range []uint32{s.UID, s.GID, s.PID, s.PPID, s.BTime} {
		e.PutUint32(b[o:], f)
		o += 4
	}
	for _, f := range []uint64{
		s.ETime, s.UTime, s.STime, s.MinFlt, s.MajFlt, s.CoreMem, s.VirtMem,
		s.HiwaterRSS, s.HiwaterVM, s.ReadChar, s.WriteChar, s.ReadSyscalls,
		s.WriteSyscalls, s.ReadBytes, s.WriteBytes, s.CancelledWriteBytes,
		s.NVCSW, s.NIVCSW, s.UTimeScaled, s.STimeScaled,
		s.CPUScaledRunRealTotal, s.FreepagesCount, s.FreepagesDelayTotal,
	} {
		e.PutUint64(b[o:], f)
		o += 8
	}
	return b, nil
}

func (statsCodec) Unpack(b []byte) (any, error) {
	if len(b) != recordSize {
		return nil, fmt.Errorf("taskstats: Stats record wants %d bytes, got %d", recordSize, len(b))
	}
	e := binary.NativeEndian
	var s Stats
	o := 0
	s.Version = e.Uint16(b[o:])
	o += 2
	if s.Version != 8 {
		return nil, fmt.Errorf("taskstats: unsupported record version %d (want 8)", s.Version)
	}
	s.ExitCode = e.Uint32(b[o:])
	o += 4
	s.Flag = b[o]
	o++
	s.Nice = b[o]
	o++
	u64s := []*uint64{
		&s.CPUCount, &s.CPUDelayTotal, &s.BlkIOCount, &s.BlkIODelayTotal,
		&s.SwapinCount, &s.SwapinDelayTotal, &s.CPURunRealTotal, &s.CPURunVirtualTotal,
	}
	for _, p := range u64s {
		*p = e.Uint64(b[o:])
		o += 8
	}
	comm := b[o : o+32]
	o += 32
	n := 0
	for n < len(comm) && comm[n] != 0 {
		n++
	}
	s.Comm = string(comm[:n])
	s.Sched = e.Uint64(b[o:])
	o += 8
	o += 3 // kernel padding
	u32s := []*uint32{&s.UID, &s.GID, &s.PID, &s.PPID, &s.BTime}
	for _, p := range u32s {
		*p = e.Uint32(b[o:])
		o += 4
	}
	rest := []*uint64{
		&s.ETime, &s.UTime, &s.STime, &s.MinFlt, &s.MajFlt, &s.CoreMem, &s.VirtMem,
		&s.HiwaterRSS, &s.HiwaterVM, &s.ReadChar, &s.WriteChar, &s.ReadSyscalls,
		&s.WriteSyscalls, &s.ReadBytes, &s.WriteBytes, &s.CancelledWriteBytes,
		&s.NVCSW, &s.NIVCSW, &s.UTimeScaled, &s.STimeScaled,
		&s.CPUScaledRunRealTotal, &s.FreepagesCount, &s.FreepagesDelayTotal,
	}
	for _, p := range rest {
		*p = e.Uint64(b[o:])
		o += 8
	}
	return s, nil
}

// TaskstatsType is the attribute list the kernel replies with: the pid/tgid
// that was asked about, the raw Stats record, and (redundantly, but
// matching the kernel's own wire format) that same pid/tgid re-aggregated
// under AGGR_PID/AGGR_TGID, a nested instance of this very schema.
var TaskstatsType = attr.NewSchema("TaskstatsType", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("PID", scalar.U32),
		attr.F("TGID", scalar.U32),
		attr.F("STATS", statsCodecInstance),
		attr.F("AGGR_PID", self),
		attr.F("AGGR_TGID", self),
		attr.F("NULL", scalar.Ignore),
	}
})

// TaskstatsAttrList is the request attribute list: ask by pid or tgid.
var TaskstatsAttrList = attr.NewSchema("TaskstatsAttrList", func(self *attr.Schema) []attr.Field {
	return []attr.Field{
		attr.F("PID", scalar.U32),
		attr.F("TGID", scalar.U32),
		attr.F("REGISTER_CPUMASK", scalar.Ignore),
		attr.F("DEREGISTER_CPUMASK", scalar.Ignore),
	}
})

// TaskstatsMessage is the TASKSTATS generic-netlink family schema.
var TaskstatsMessage = genl.NewMessageSchema("TaskstatsMessage", genl.ByName("TASKSTATS"), []genl.Command{
	genl.Cmd("GET", TaskstatsAttrList),
	genl.Cmd("NEW", TaskstatsType),
})
