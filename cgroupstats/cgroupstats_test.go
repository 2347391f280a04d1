package cgroupstats

import (
	"testing"

	"github.com/m-lab/gnl/attr"
	"github.com/m-lab/gnl/taskstats"
)

func TestStatsRoundTrip(t *testing.T) {
	want := Stats{NrSleeping: 1, NrRunning: 2, NrStopped: 3, NrUninterruptible: 4, NrIOWait: 5}
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

func TestStatsUnpackRejectsWrongLength(t *testing.T) {
	if _, err := statsCodecInstance.Unpack(make([]byte, recordSize-1)); err == nil {
		t.Error("Unpack should reject a truncated record")
	}
}

func TestCgroupstatsTypeRoundTrip(t *testing.T) {
	want := Stats{NrSleeping: 10, NrRunning: 0, NrStopped: 0, NrUninterruptible: 2, NrIOWait: 1}
	inst := CgroupstatsType.New(map[string]any{"cgroup_stats": want})
	packed, err := CgroupstatsType.Pack(inst)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	v, err := CgroupstatsType.Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	got := v.(*attr.Instance).Get("cgroup_stats").(Stats)
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

// TestSharesTaskstatsFamily confirms the command table is laid out so that
// CGROUPSTATS_GET/CGROUPSTATS_NEW land on kernel command ids 4/5 behind
// taskstats' own GET(1)/NEW(2) plus one reserved slot(3).
func TestSharesTaskstatsFamily(t *testing.T) {
	get := taskstats.TaskstatsMessage.NewMsg("CGROUPSTATS_GET", CgroupstatsCmdAttrList.New(nil))
	if get.Cmd != 4 {
		t.Errorf("CGROUPSTATS_GET command id = %d, want 4", get.Cmd)
	}
	newMsg := taskstats.TaskstatsMessage.NewMsg("CGROUPSTATS_NEW", CgroupstatsType.New(nil))
	if newMsg.Cmd != 5 {
		t.Errorf("CGROUPSTATS_NEW command id = %d, want 5", newMsg.Cmd)
	}
}
