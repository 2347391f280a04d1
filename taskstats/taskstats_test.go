package taskstats

import (
	"testing"

	"github.com/m-lab/gnl/attr"
)

func sampleStats() Stats {
	return Stats{
		Version:  8,
		ExitCode: 0,
		Flag:     1,
		Nice:     20,

		CPUCount:           10,
		CPUDelayTotal:      20,
		BlkIOCount:         30,
		BlkIODelayTotal:    40,
		SwapinCount:        50,
		SwapinDelayTotal:   60,
		CPURunRealTotal:    70,
		CPURunVirtualTotal: 80,

		Comm:  "gnl-test",
		Sched: 7,

		UID:   1000,
		GID:   1000,
		PID:   4242,
		PPID:  1,
		BTime: 1600000000,
		ETime: 99,
		UTime: 100,
		STime: 200,

		MinFlt:  1,
		MajFlt:  2,
		CoreMem: 3,
		VirtMem: 4,

		HiwaterRSS: 5,
		HiwaterVM:  6,

		ReadChar:      7,
		WriteChar:     8,
		ReadSyscalls:  9,
		WriteSyscalls: 10,

		ReadBytes:           11,
		WriteBytes:          12,
		CancelledWriteBytes: 13,

		NVCSW:  14,
		NIVCSW: 15,

		UTimeScaled:           16,
		STimeScaled:           17,
		CPUScaledRunRealTotal: 18,

		FreepagesCount:      19,
		FreepagesDelayTotal: 20,
	}
}

func TestStatsRoundTrip(t *testing.T) {
	want := sampleStats()
	packed, err := statsCodecInstance.Pack(want)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(packed) != recordSize {
		t.Fatalf("Pack produced %d bytes, want %d", len(packed), recordSize)
	}
	got, err := statsCodecInstance.Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got.(Stats) != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestStatsUnpackRejectsWrongVersion(t *testing.T) {
	bad := sampleStats()
	bad.Version = 7
	packed, err := statsCodecInstance.Pack(bad)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := statsCodecInstance.Unpack(packed); err == nil {
		t.Error("Unpack should reject a non-8 version")
	}
}

func TestStatsUnpackRejectsWrongLength(t *testing.T) {
	if _, err := statsCodecInstance.Unpack(make([]byte, recordSize-1)); err == nil {
		t.Error("Unpack should reject a truncated record")
	}
}

func TestStatsCommStripsNulPadding(t *testing.T) {
	s := sampleStats()
	s.Comm = "short"
	packed, err := statsCodecInstance.Pack(s)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := statsCodecInstance.Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got.(Stats).Comm != "short" {
		t.Errorf("Comm = %q, want %q", got.(Stats).Comm, "short")
	}
}

func TestTaskstatsTypeAggrPidNesting(t *testing.T) {
	stats := sampleStats()
	aggr := TaskstatsType.New(map[string]any{
		"pid": uint32(4242), "stats": stats,
	})
	top := TaskstatsType.New(map[string]any{
		"pid": uint32(4242), "aggr_pid": aggr,
	})
	packed, err := TaskstatsType.Pack(top)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	v, err := TaskstatsType.Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	inst := v.(*attr.Instance)
	nested, ok := inst.Get("aggr_pid").(*attr.Instance)
	if !ok {
		t.Fatalf("aggr_pid did not round-trip as *attr.Instance")
	}
	got, ok := nested.Get("stats").(Stats)
	if !ok || got != stats {
		t.Errorf("nested stats = %+v, want %+v", got, stats)
	}
}

func TestRequiredModulesEmpty(t *testing.T) {
	if mods := TaskstatsMessage.RequiredModules(); len(mods) != 0 {
		t.Errorf("RequiredModules() = %v, want none", mods)
	}
}
