package arm

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/armctl/internal/testutil/testlog"
)

func TestSafetyPolicyValidate(t *testing.T) {
	testlog.Start(t)

	if err := DefaultSafetyPolicy().Validate(); err != nil {
		t.Fatalf("default policy must validate, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*SafetyPolicy)
	}{
		{name: "zero speed", mutate: func(p *SafetyPolicy) { p.GlobalMaxSpeed = 0 }},
		{name: "speed above full", mutate: func(p *SafetyPolicy) { p.GlobalMaxSpeed = 101 }},
		{name: "zero acceleration", mutate: func(p *SafetyPolicy) { p.GlobalMaxAcceleration = 0 }},
		{name: "command timeout floor", mutate: func(p *SafetyPolicy) { p.CommandTimeout = 50 * time.Millisecond }},
		{name: "command timeout ceiling", mutate: func(p *SafetyPolicy) { p.CommandTimeout = 31 * time.Second }},
		{name: "movement timeout floor", mutate: func(p *SafetyPolicy) { p.MovementTimeout = 500 * time.Millisecond }},
		{name: "movement timeout ceiling", mutate: func(p *SafetyPolicy) { p.MovementTimeout = 90 * time.Second }},
	}
	for _, tc := range cases {
		p := DefaultSafetyPolicy()
		tc.mutate(&p)
		err := p.Validate()
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: expected ErrConfiguration, got %v", tc.name, err)
		}
		t.Logf("%s: %v", tc.name, err)
	}
}
