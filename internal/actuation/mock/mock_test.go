package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/armctl/internal/actuation"
)

func TestOutputRecordsCommands(t *testing.T) {
	d := New()
	out, err := d.Output(actuation.OutputSpec{Index: 2, MinAngle: 0, MaxAngle: 180})
	if err != nil {
		t.Fatalf("open output: %v", err)
	}

	ctx := context.Background()
	if err := out.Drive(ctx, actuation.Command{Positional: true, Angle: 90, Speed: 50}); err != nil {
		t.Fatalf("drive: %v", err)
	}

	rec, ok := d.Lookup(2)
	if !ok {
		t.Fatalf("expected recorded output for index 2")
	}
	if !rec.Driving() || rec.LastCommand().Angle != 90 {
		t.Fatalf("expected driving at angle 90, got driving=%v cmd=%+v", rec.Driving(), rec.LastCommand())
	}

	pos, known, err := out.Feedback(ctx)
	if err != nil || !known || pos != 90 {
		t.Fatalf("expected feedback 90, got pos=%v known=%v err=%v", pos, known, err)
	}

	if err := out.Halt(ctx); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if rec.Driving() {
		t.Fatalf("expected idle after halt")
	}
	t.Logf("mock/output: drives=%d halts=%d", rec.Drives(), rec.Halts())
}

func TestDirectionalDriveDropsFeedback(t *testing.T) {
	d := New()
	out, _ := d.Output(actuation.OutputSpec{Index: 0})
	ctx := context.Background()

	if err := out.Drive(ctx, actuation.Command{Positional: true, Angle: 45}); err != nil {
		t.Fatalf("positional drive: %v", err)
	}
	if err := out.Drive(ctx, actuation.Command{Forward: true, Speed: 30}); err != nil {
		t.Fatalf("directional drive: %v", err)
	}
	if _, known, _ := out.Feedback(ctx); known {
		t.Fatalf("expected unknown position after directional drive")
	}
}

func TestInjectedFailuresWrapHardwareFault(t *testing.T) {
	d := New()
	out, _ := d.Output(actuation.OutputSpec{Index: 1})
	rec, _ := d.Lookup(1)
	rec.SetDriveErr(errors.New("bus offline"))

	err := out.Drive(context.Background(), actuation.Command{Forward: true, Speed: 10})
	if !errors.Is(err, actuation.ErrHardwareFault) {
		t.Fatalf("expected hardware fault, got %v", err)
	}

	rec.SetHaltErr(errors.New("bus offline"))
	if err := out.Halt(context.Background()); !errors.Is(err, actuation.ErrHardwareFault) {
		t.Fatalf("expected hardware fault on halt, got %v", err)
	}

	rec.SetDriveErr(nil)
	if err := out.Drive(context.Background(), actuation.Command{Forward: true, Speed: 10}); err != nil {
		t.Fatalf("expected recovery after clearing injected error, got %v", err)
	}
}
