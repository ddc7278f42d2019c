package arm

import (
	"errors"
	"testing"

	"github.com/danmuck/armctl/internal/actuation/mock"
	"github.com/danmuck/armctl/internal/testutil/testlog"
)

func TestNewStoreRejectsDuplicates(t *testing.T) {
	testlog.Start(t)

	specs := []ChannelSpec{
		{ID: "base", Output: 0, MinAngle: 0, MaxAngle: 180, MaxSpeed: 100},
		{ID: "base", Output: 1, MinAngle: 0, MaxAngle: 180, MaxSpeed: 100},
	}
	if _, err := NewStore(specs, mock.New()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for duplicate id, got %v", err)
	}

	specs[1] = ChannelSpec{ID: "tilt", Output: 1, MinAngle: 90, MaxAngle: 10}
	if _, err := NewStore(specs, mock.New()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for bad spec, got %v", err)
	}
}

func TestStoreOrderAndCounts(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, DefaultSafetyPolicy())

	ids := r.store.IDs()
	if len(ids) != 2 || ids[0] != "base" || ids[1] != "gripper" {
		t.Fatalf("expected sorted ids, got %v", ids)
	}
	if n := r.store.RunningCount(); n != 0 {
		t.Fatalf("expected 0 running, got %d", n)
	}

	if _, err := r.start(t, "base", DirectionForward, 50); err != nil {
		t.Fatalf("start: %v", err)
	}
	if n := r.store.RunningCount(); n != 1 {
		t.Fatalf("expected 1 running, got %d", n)
	}
	t.Logf("ids=%v running=%d", ids, r.store.RunningCount())
}
