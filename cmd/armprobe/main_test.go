package main

import (
	"testing"

	"github.com/danmuck/armctl/internal/arm"
)

func TestPickChannelPrefersRequestedID(t *testing.T) {
	servos := map[string]arm.ChannelStatus{
		"base":    {ID: "base"},
		"gripper": {ID: "gripper"},
	}

	chosen, err := pickChannel(servos, "gripper")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if chosen.ID != "gripper" {
		t.Fatalf("expected gripper, got %q", chosen.ID)
	}

	if _, err := pickChannel(servos, "elbow"); err == nil {
		t.Fatalf("expected error for missing channel")
	}
}

func TestPickChannelDefaultsToFirstSorted(t *testing.T) {
	servos := map[string]arm.ChannelStatus{
		"wrist": {ID: "wrist"},
		"base":  {ID: "base"},
	}
	chosen, err := pickChannel(servos, "")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if chosen.ID != "base" {
		t.Fatalf("expected first sorted channel, got %q", chosen.ID)
	}

	if _, err := pickChannel(nil, ""); err == nil {
		t.Fatalf("expected error for empty channel set")
	}
}

func TestBuildStepsHonorsFlags(t *testing.T) {
	steps := buildSteps(options{skipEstop: true})
	byName := map[string]probeStep{}
	for _, s := range steps {
		byName[s.name] = s
	}
	if !byName["estop_drill"].skip {
		t.Fatalf("expected estop drill skipped")
	}
	if !byName["center_all"].skip {
		t.Fatalf("expected centering opt-in")
	}

	steps = buildSteps(options{center: true})
	byName = map[string]probeStep{}
	for _, s := range steps {
		byName[s.name] = s
	}
	if byName["estop_drill"].skip {
		t.Fatalf("expected estop drill active by default")
	}
	if byName["center_all"].skip {
		t.Fatalf("expected centering enabled")
	}
}

func TestMidpoint(t *testing.T) {
	if got := midpoint(0, 180); got != 90 {
		t.Fatalf("expected 90, got %v", got)
	}
	if got := midpoint(-45, 45); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
