package armclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/danmuck/armctl/internal/actuation/mock"
	"github.com/danmuck/armctl/internal/arm"
	"github.com/danmuck/armctl/internal/testutil/testlog"
)

func newTestService(t *testing.T, apiKey string) (*httptest.Server, *mock.Driver) {
	t.Helper()
	testlog.Start(t)

	driver := mock.New()
	specs := []arm.ChannelSpec{
		{ID: "base", Output: 0, MinAngle: 0, MaxAngle: 180, MaxSpeed: 60},
		{ID: "gripper", Output: 1, MinAngle: 0, MaxAngle: 90, MaxSpeed: 100},
	}
	store, err := arm.NewStore(specs, driver)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	sup := arm.NewSupervisor(arm.DefaultSafetyPolicy(), store, zerolog.Nop(), nil)
	ctrl := arm.NewController(store, sup, zerolog.Nop())
	srv := arm.NewServer("arm-test", ctrl, sup, nil, apiKey)
	srv.RegisterRoutes()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, driver
}

func TestClientServoLifecycle(t *testing.T) {
	ts, _ := newTestService(t, "")
	client := New(ts.URL, "")
	ctx := context.Background()

	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" || health.Node != "arm-test" {
		t.Fatalf("unexpected health payload: %+v", health)
	}

	snap, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(snap.Servos) != 2 {
		t.Fatalf("expected 2 servos in snapshot, got %d", len(snap.Servos))
	}
	t.Logf("initial snapshot servos=%d estop=%v", len(snap.Servos), snap.EmergencyStop.Active)

	res, err := client.Start(ctx, "base", "forward", 90)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.AppliedSpeed != 60 {
		t.Fatalf("expected channel cap 60 applied, got %v", res.AppliedSpeed)
	}
	if res.Channel.RunState != arm.StateRunning {
		t.Fatalf("expected running channel, got %s", res.Channel.RunState)
	}

	status, err := client.Servo(ctx, "base")
	if err != nil {
		t.Fatalf("servo: %v", err)
	}
	if status.RunState != arm.StateRunning || status.Direction != arm.DirectionForward {
		t.Fatalf("unexpected servo status: %+v", status)
	}

	if _, err := client.SetSpeed(ctx, "base", 30); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	stopRes, err := client.Stop(ctx, "base")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopRes.Channel.RunState != arm.StateIdle {
		t.Fatalf("expected idle after stop, got %s", stopRes.Channel.RunState)
	}

	posRes, err := client.SetPosition(ctx, "base", 90, 0)
	if err != nil {
		t.Fatalf("set position: %v", err)
	}
	if posRes.Channel.Position == nil || *posRes.Channel.Position != 90 {
		t.Fatalf("expected position estimate 90, got %+v", posRes.Channel.Position)
	}

	servos, err := client.Servos(ctx)
	if err != nil {
		t.Fatalf("servos: %v", err)
	}
	if len(servos) != 2 {
		t.Fatalf("expected 2 servos, got %d", len(servos))
	}
}

func TestClientErrorsCarryStatus(t *testing.T) {
	ts, _ := newTestService(t, "")
	client := New(ts.URL, "")
	ctx := context.Background()

	_, err := client.Servo(ctx, "elbow")
	if err == nil {
		t.Fatalf("expected unknown channel error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != 404 {
		t.Fatalf("expected 404, got %d", apiErr.Status)
	}
	if apiErr.Message == "" {
		t.Fatalf("expected error message from service")
	}
	t.Logf("unknown channel maps to %v", apiErr)

	_, err = client.Start(ctx, "base", "sideways", 10)
	if !errors.As(err, &apiErr) || apiErr.Status != 400 {
		t.Fatalf("expected 400 for bad direction, got %v", err)
	}
}

func TestClientEmergencyStopFlow(t *testing.T) {
	ts, driver := newTestService(t, "")
	client := New(ts.URL, "")
	ctx := context.Background()

	if _, err := client.Start(ctx, "base", "forward", 0); err != nil {
		t.Fatalf("start: %v", err)
	}

	estop, err := client.EmergencyStop(ctx)
	if err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	if !estop.Active {
		t.Fatalf("expected active latch")
	}
	out, ok := driver.Lookup(0)
	if !ok || out.Driving() {
		t.Fatalf("expected base output halted after emergency stop")
	}

	var apiErr *APIError
	_, err = client.Start(ctx, "base", "forward", 0)
	if !errors.As(err, &apiErr) || apiErr.Status != 409 {
		t.Fatalf("expected 409 while stopped, got %v", err)
	}

	cleared, err := client.ClearEmergencyStop(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Active {
		t.Fatalf("expected inactive latch after clear")
	}
}

func TestClientSendsAPIKey(t *testing.T) {
	ts, _ := newTestService(t, "bench-key")
	ctx := context.Background()

	anon := New(ts.URL, "")
	var apiErr *APIError
	_, err := anon.Start(ctx, "base", "forward", 0)
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("expected 401 without key, got %v", err)
	}
	if _, err := anon.EmergencyStop(ctx); err != nil {
		t.Fatalf("emergency stop must not be auth-gated: %v", err)
	}

	keyed := New(ts.URL, "bench-key")
	if _, err := keyed.ClearEmergencyStop(ctx); err != nil {
		t.Fatalf("clear with key: %v", err)
	}
	if _, err := keyed.Start(ctx, "base", "forward", 0); err != nil {
		t.Fatalf("start with key: %v", err)
	}

	results, err := keyed.Initialize(ctx)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 init results, got %d", len(results))
	}
}
