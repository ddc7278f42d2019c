package arm

import (
	"fmt"
	"sort"

	"github.com/danmuck/armctl/internal/actuation"
)

// Store holds the channel set. Membership is fixed at construction;
// only channel state mutates afterward.
type Store struct {
	channels map[string]*channel
	order    []string
}

// NewStore validates the specs and opens one output per channel.
func NewStore(specs []ChannelSpec, driver actuation.Driver) (*Store, error) {
	s := &Store{channels: make(map[string]*channel, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.channels[spec.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate channel id %q", ErrConfiguration, spec.ID)
		}
		pulses := spec.Pulses
		if pulses.Min == 0 && pulses.Center == 0 && pulses.Max == 0 {
			pulses = actuation.DefaultPulses()
		}
		out, err := driver.Output(actuation.OutputSpec{
			Index:    spec.Output,
			MinAngle: spec.MinAngle,
			MaxAngle: spec.MaxAngle,
			Pulses:   pulses,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: open output for channel %q: %v", ErrConfiguration, spec.ID, err)
		}
		s.channels[spec.ID] = &channel{
			spec:      spec,
			out:       out,
			state:     StateIdle,
			direction: DirectionNone,
		}
		s.order = append(s.order, spec.ID)
	}
	sort.Strings(s.order)
	return s, nil
}

func (s *Store) get(id string) (*channel, error) {
	ch, ok := s.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, id)
	}
	return ch, nil
}

// all returns channels in stable id order.
func (s *Store) all() []*channel {
	list := make([]*channel, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, s.channels[id])
	}
	return list
}

func (s *Store) IDs() []string {
	return append([]string(nil), s.order...)
}

func (s *Store) RunningCount() int {
	n := 0
	for _, ch := range s.all() {
		ch.mu.Lock()
		if ch.state == StateRunning {
			n++
		}
		ch.mu.Unlock()
	}
	return n
}
