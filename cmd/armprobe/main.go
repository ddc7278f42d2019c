// armprobe drives a running arm control service through a scripted safety
// drill over HTTP and reports each step. It exercises the same API surface
// an operator console uses, so a green run means the service is commandable
// and its guards refuse what they should refuse.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/armctl/internal/arm"
	"github.com/danmuck/armctl/internal/armclient"
)

type options struct {
	addr      string
	key       string
	channel   string
	skipEstop bool
	center    bool
	timeout   time.Duration
}

type probeState struct {
	channel arm.ChannelStatus
}

type probeStep struct {
	name string
	skip bool
	fn   func(ctx context.Context, client *armclient.Client, st *probeState) error
}

type probeSummary struct {
	total    int
	pass     int
	fail     int
	skipped  int
	failures []string
}

func main() {
	opts := parseFlags()
	client := armclient.New(opts.addr, opts.key)

	steps := buildSteps(opts)
	summary := runSteps(client, steps, opts.timeout)
	printSummary(summary)
	if summary.fail > 0 {
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.addr, "addr", "http://localhost:8080", "base URL of the arm control service")
	flag.StringVar(&opts.key, "key", "", "API key for mutating endpoints")
	flag.StringVar(&opts.channel, "channel", "", "channel id to exercise (defaults to first)")
	flag.BoolVar(&opts.skipEstop, "skip-estop", false, "skip the emergency stop drill")
	flag.BoolVar(&opts.center, "center", false, "center every channel at the end")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-step timeout")
	flag.Parse()
	return opts
}

func buildSteps(opts options) []probeStep {
	return []probeStep{
		{name: "health", fn: probeHealth},
		{name: "snapshot", fn: probeSnapshot(opts.channel)},
		{name: "start_stop", fn: probeStartStop},
		{name: "position", fn: probePosition},
		{name: "speed_guard", fn: probeSpeedGuard},
		{name: "bounds_guard", fn: probeBoundsGuard},
		{name: "estop_drill", skip: opts.skipEstop, fn: probeEstopDrill},
		{name: "center_all", skip: !opts.center, fn: probeCenterAll},
	}
}

func runSteps(client *armclient.Client, steps []probeStep, timeout time.Duration) probeSummary {
	summary := probeSummary{total: len(steps)}
	st := &probeState{}

	for _, step := range steps {
		if step.skip {
			summary.skipped++
			fmt.Printf("[SKIP] %s\n", step.name)
			continue
		}
		fmt.Printf("[RUN ] %s\n", step.name)
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := step.fn(ctx, client, st)
		cancel()
		elapsed := time.Since(start)
		if err != nil {
			summary.fail++
			summary.failures = append(summary.failures, fmt.Sprintf("%s: %v", step.name, err))
			fmt.Printf("[FAIL] %s (%.2fs): %v\n", step.name, elapsed.Seconds(), err)
			continue
		}
		summary.pass++
		fmt.Printf("[PASS] %s (%.2fs)\n", step.name, elapsed.Seconds())
	}
	return summary
}

func printSummary(summary probeSummary) {
	fmt.Println()
	fmt.Println("Summary")
	fmt.Printf("  Steps: total=%d pass=%d fail=%d skip=%d\n",
		summary.total, summary.pass, summary.fail, summary.skipped)
	if len(summary.failures) > 0 {
		fmt.Println("  Failed Steps:")
		for _, name := range summary.failures {
			fmt.Printf("    - %s\n", name)
		}
	}
}

func probeHealth(ctx context.Context, client *armclient.Client, _ *probeState) error {
	health, err := client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", health.Status)
	}
	fmt.Printf("  | node=%s version=%s uptime=%s\n", health.Node, health.Version, health.Uptime)
	return nil
}

func probeSnapshot(preferred string) func(ctx context.Context, client *armclient.Client, st *probeState) error {
	return func(ctx context.Context, client *armclient.Client, st *probeState) error {
		snap, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if snap.EmergencyStop.Active {
			return fmt.Errorf("emergency stop already engaged by %q, clear it before probing", snap.EmergencyStop.TriggeredBy)
		}
		chosen, err := pickChannel(snap.Servos, preferred)
		if err != nil {
			return err
		}
		st.channel = chosen
		fmt.Printf("  | channels=%d probing=%s bounds=[%.1f,%.1f]\n",
			len(snap.Servos), chosen.ID, chosen.MinAngle, chosen.MaxAngle)
		return nil
	}
}

func probeStartStop(ctx context.Context, client *armclient.Client, st *probeState) error {
	res, err := client.Start(ctx, st.channel.ID, string(arm.DirectionForward), 20)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if res.Channel.RunState != arm.StateRunning {
		return fmt.Errorf("expected running after start, got %s", res.Channel.RunState)
	}
	fmt.Printf("  | started at %.1f%% speed\n", res.AppliedSpeed)

	stopRes, err := client.Stop(ctx, st.channel.ID)
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if stopRes.Channel.RunState != arm.StateIdle {
		return fmt.Errorf("expected idle after stop, got %s", stopRes.Channel.RunState)
	}
	return nil
}

func probePosition(ctx context.Context, client *armclient.Client, st *probeState) error {
	target := midpoint(st.channel.MinAngle, st.channel.MaxAngle)
	res, err := client.SetPosition(ctx, st.channel.ID, target, 30)
	if err != nil {
		return err
	}
	if res.Channel.Position == nil {
		return fmt.Errorf("expected a position estimate after set_position")
	}
	fmt.Printf("  | moved toward %.1f, estimate %.1f\n", target, *res.Channel.Position)
	if _, err := client.Stop(ctx, st.channel.ID); err != nil {
		return fmt.Errorf("stop after move: %w", err)
	}
	return nil
}

func probeSpeedGuard(ctx context.Context, client *armclient.Client, st *probeState) error {
	_, err := client.SetSpeed(ctx, st.channel.ID, 40)
	return expectStatus(err, 409, "set_speed on an idle channel")
}

func probeBoundsGuard(ctx context.Context, client *armclient.Client, st *probeState) error {
	_, err := client.SetPosition(ctx, st.channel.ID, st.channel.MaxAngle+15, 20)
	return expectStatus(err, 400, "set_position beyond the channel bound")
}

func probeEstopDrill(ctx context.Context, client *armclient.Client, st *probeState) error {
	estop, err := client.EmergencyStop(ctx)
	if err != nil {
		return fmt.Errorf("engage: %w", err)
	}
	if !estop.Active {
		return fmt.Errorf("latch did not engage")
	}

	_, err = client.Start(ctx, st.channel.ID, string(arm.DirectionForward), 10)
	if err := expectStatus(err, 409, "start while stopped"); err != nil {
		return err
	}

	cleared, err := client.ClearEmergencyStop(ctx)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if cleared.Active {
		return fmt.Errorf("latch still engaged after clear")
	}
	return nil
}

func probeCenterAll(ctx context.Context, client *armclient.Client, _ *probeState) error {
	results, err := client.Initialize(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		if !res.Centered {
			return fmt.Errorf("channel %q failed to center: %s", res.ChannelID, res.Error)
		}
		fmt.Printf("  | %s centered at %.1f\n", res.ChannelID, res.Angle)
	}
	return nil
}

// expectStatus confirms a guard refused the request with the given HTTP status.
func expectStatus(err error, status int, what string) error {
	if err == nil {
		return fmt.Errorf("%s was accepted, expected %d", what, status)
	}
	var apiErr *armclient.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", what, err)
	}
	if apiErr.Status != status {
		return fmt.Errorf("%s refused with %d, expected %d", what, apiErr.Status, status)
	}
	fmt.Printf("  | refused as expected: %s\n", apiErr.Message)
	return nil
}

func pickChannel(servos map[string]arm.ChannelStatus, preferred string) (arm.ChannelStatus, error) {
	if len(servos) == 0 {
		return arm.ChannelStatus{}, fmt.Errorf("service reports no channels")
	}
	if preferred != "" {
		status, ok := servos[strings.TrimSpace(preferred)]
		if !ok {
			return arm.ChannelStatus{}, fmt.Errorf("channel %q not present", preferred)
		}
		return status, nil
	}
	ids := make([]string, 0, len(servos))
	for id := range servos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return servos[ids[0]], nil
}

func midpoint(min, max float64) float64 {
	return (min + max) / 2
}
