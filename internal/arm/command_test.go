package arm

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/armctl/internal/testutil/testlog"
)

func TestParseDirection(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		raw  string
		want Direction
		ok   bool
	}{
		{raw: "forward", want: DirectionForward, ok: true},
		{raw: " Backward ", want: DirectionBackward, ok: true},
		{raw: "FORWARD", want: DirectionForward, ok: true},
		{raw: "none", ok: false},
		{raw: "", ok: false},
		{raw: "up", ok: false},
	}
	for _, tc := range cases {
		got, err := ParseDirection(tc.raw)
		if tc.ok {
			if err != nil {
				t.Fatalf("parse %q: expected success, got %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("parse %q: expected %q, got %q", tc.raw, tc.want, got)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidDirection) {
			t.Fatalf("parse %q: expected ErrInvalidDirection, got %v", tc.raw, err)
		}
	}
	t.Logf("direction parsing covered %d cases", len(cases))
}

func TestNewCommandRequestFillsEnvelope(t *testing.T) {
	testlog.Start(t)

	req := NewCommandRequest("base", ActionStop)
	if req.CommandID == "" {
		t.Fatalf("expected generated command id")
	}
	if req.ChannelID != "base" || req.Action != ActionStop {
		t.Fatalf("unexpected envelope: %+v", req)
	}
	if req.SubmittedAt.IsZero() {
		t.Fatalf("expected submitted timestamp")
	}

	other := NewCommandRequest("base", ActionStop)
	if other.CommandID == req.CommandID {
		t.Fatalf("expected unique command ids, both %q", req.CommandID)
	}
}

func TestCommandRequestValidate(t *testing.T) {
	testlog.Start(t)

	valid := func(action Action) CommandRequest {
		req := NewCommandRequest("base", action)
		req.Direction = DirectionForward
		req.Speed = 50
		req.Angle = 90
		return req
	}

	cases := []struct {
		name    string
		mutate  func(*CommandRequest)
		wantErr error
	}{
		{
			name:   "start ok",
			mutate: func(r *CommandRequest) {},
		},
		{
			name:    "missing command id",
			mutate:  func(r *CommandRequest) { r.CommandID = " " },
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "missing channel id",
			mutate:  func(r *CommandRequest) { r.ChannelID = "" },
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "negative speed",
			mutate:  func(r *CommandRequest) { r.Speed = -1 },
			wantErr: ErrSpeedExceeded,
		},
		{
			name:    "speed above full",
			mutate:  func(r *CommandRequest) { r.Speed = 100.5 },
			wantErr: ErrSpeedExceeded,
		},
		{
			name:    "start without direction",
			mutate:  func(r *CommandRequest) { r.Direction = DirectionNone },
			wantErr: ErrInvalidDirection,
		},
		{
			name: "set_position non-finite angle",
			mutate: func(r *CommandRequest) {
				r.Action = ActionSetPosition
				r.Angle = math.NaN()
			},
			wantErr: ErrInvalidCommand,
		},
		{
			name: "set_speed needs explicit speed",
			mutate: func(r *CommandRequest) {
				r.Action = ActionSetSpeed
				r.Speed = 0
			},
			wantErr: ErrSpeedExceeded,
		},
		{
			name:    "unknown action",
			mutate:  func(r *CommandRequest) { r.Action = Action("wiggle") },
			wantErr: ErrInvalidCommand,
		},
		{
			name: "stop ignores direction",
			mutate: func(r *CommandRequest) {
				r.Action = ActionStop
				r.Direction = DirectionNone
				r.Speed = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid(ActionStart)
			tc.mutate(&req)
			err := req.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("expected valid request, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			t.Logf("rejected: %v", err)
		})
	}
}

func TestChannelSpecValidate(t *testing.T) {
	testlog.Start(t)

	good := ChannelSpec{ID: "base", Output: 0, MinAngle: 0, MaxAngle: 180, MaxSpeed: 100}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid spec, got %v", err)
	}

	cases := []struct {
		name string
		spec ChannelSpec
	}{
		{name: "blank id", spec: ChannelSpec{ID: " ", MaxAngle: 180}},
		{name: "negative output", spec: ChannelSpec{ID: "base", Output: -1, MaxAngle: 180}},
		{name: "inverted bounds", spec: ChannelSpec{ID: "base", MinAngle: 90, MaxAngle: 10}},
		{name: "speed above full", spec: ChannelSpec{ID: "base", MaxAngle: 180, MaxSpeed: 120}},
	}
	for _, tc := range cases {
		err := tc.spec.Validate()
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: expected ErrConfiguration, got %v", tc.name, err)
		}
		t.Logf("%s: %v", tc.name, err)
	}
}
