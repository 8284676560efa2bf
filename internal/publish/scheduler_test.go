package publish

import (
	"errors"
	"io"
	"testing"
	"time"

	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/logger"
)

type message struct {
	topic   string
	payload string
}

// fakeBroker records publishes and fails for topics listed in failTopics.
type fakeBroker struct {
	messages   []message
	failTopics map[string]bool
}

func (b *fakeBroker) Publish(topic, payload string) error {
	b.messages = append(b.messages, message{topic, payload})
	if b.failTopics[topic] {
		return errors.New("broker unavailable")
	}
	return nil
}

var (
	epoch  = time.Unix(0, 0)
	topics = Topics{Vehicles: "test/vehicles", Ambulance: "test/ambulance"}
)

func at(seconds float64) time.Time {
	return epoch.Add(time.Duration(seconds * float64(time.Second)))
}

func newTestScheduler(b *fakeBroker) *Scheduler {
	return NewScheduler(NewState(5*time.Second, epoch), b, topics, logger.New(io.Discard, io.Discard))
}

func TestMaybePublish_BeforeInterval(t *testing.T) {
	b := &fakeBroker{}
	s := newTestScheduler(b)

	out := s.MaybePublish(detection.FrameSummary{VehicleCount: 3}, at(4.9))

	if out.Attempted {
		t.Error("Expected no publish before interval elapsed")
	}
	if len(b.messages) != 0 {
		t.Errorf("Expected no messages, got %v", b.messages)
	}
	if !s.State().LastSendTime.Equal(epoch) {
		t.Errorf("LastSendTime changed to %v", s.State().LastSendTime)
	}
}

func TestMaybePublish_InclusiveBoundary(t *testing.T) {
	b := &fakeBroker{}
	s := newTestScheduler(b)

	s.MaybePublish(detection.FrameSummary{VehicleCount: 3}, at(4.9))
	out := s.MaybePublish(detection.FrameSummary{VehicleCount: 3}, at(5.0))

	if !out.Attempted {
		t.Fatal("Expected publish exactly at the interval boundary")
	}
	if out.Err() != nil {
		t.Errorf("Unexpected error: %v", out.Err())
	}
	if !s.State().LastSendTime.Equal(at(5.0)) {
		t.Errorf("Expected LastSendTime=5s, got %v", s.State().LastSendTime.Sub(epoch))
	}
}

func TestMaybePublish_Payloads(t *testing.T) {
	tests := []struct {
		name     string
		summary  detection.FrameSummary
		expected []message
	}{
		{
			name:    "vehicles without ambulance",
			summary: detection.FrameSummary{VehicleCount: 12},
			expected: []message{
				{"test/vehicles", "12"},
				{"test/ambulance", "0"},
			},
		},
		{
			name:    "ambulance present",
			summary: detection.FrameSummary{VehicleCount: 2, AmbulancePresent: true},
			expected: []message{
				{"test/vehicles", "2"},
				{"test/ambulance", "1"},
			},
		},
		{
			name:    "empty frame",
			summary: detection.FrameSummary{},
			expected: []message{
				{"test/vehicles", "0"},
				{"test/ambulance", "0"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroker{}
			s := newTestScheduler(b)

			s.MaybePublish(tt.summary, at(6))

			if len(b.messages) != len(tt.expected) {
				t.Fatalf("Expected %d messages, got %v", len(tt.expected), b.messages)
			}
			for i, m := range tt.expected {
				if b.messages[i] != m {
					t.Errorf("message %d = %+v, expected %+v", i, b.messages[i], m)
				}
			}
		})
	}
}

func TestMaybePublish_RateLimiting(t *testing.T) {
	b := &fakeBroker{}
	s := newTestScheduler(b)

	// 100 calls spread evenly over 20 seconds.
	attempts := 0
	for i := 1; i <= 100; i++ {
		now := epoch.Add(time.Duration(i) * 200 * time.Millisecond)
		if s.MaybePublish(detection.FrameSummary{VehicleCount: i}, now).Attempted {
			attempts++
		}
	}

	if attempts != 4 {
		t.Errorf("Expected 4 publishes over 20s with a 5s interval, got %d", attempts)
	}
	if len(b.messages) != 8 {
		t.Errorf("Expected 8 broker messages, got %d", len(b.messages))
	}
	if st := s.Stats(); st.Attempts != 4 || st.Failures != 0 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestMaybePublish_FailureStillAdvances(t *testing.T) {
	b := &fakeBroker{failTopics: map[string]bool{"test/vehicles": true}}
	s := newTestScheduler(b)

	out := s.MaybePublish(detection.FrameSummary{VehicleCount: 1, AmbulancePresent: true}, at(5))

	if !out.Attempted {
		t.Fatal("Expected an attempt")
	}
	if out.VehicleErr == nil {
		t.Error("Expected vehicle publish error")
	}
	if out.AmbulanceErr != nil {
		t.Errorf("Ambulance publish should still succeed, got %v", out.AmbulanceErr)
	}
	if len(b.messages) != 2 {
		t.Errorf("Expected both topics attempted, got %v", b.messages)
	}
	if !s.State().LastSendTime.Equal(at(5)) {
		t.Errorf("LastSendTime must advance on failure, got %v", s.State().LastSendTime.Sub(epoch))
	}

	// No retry before the next boundary.
	if s.MaybePublish(detection.FrameSummary{}, at(9.9)).Attempted {
		t.Error("Expected no retry before the next interval")
	}
	if st := s.Stats(); st.Failures != 1 {
		t.Errorf("Expected 1 failure, got %+v", st)
	}
}

func TestMaybePublish_AllTopicsFail(t *testing.T) {
	b := &fakeBroker{failTopics: map[string]bool{"test/vehicles": true, "test/ambulance": true}}
	s := newTestScheduler(b)

	out := s.MaybePublish(detection.FrameSummary{}, at(7))

	if out.VehicleErr == nil || out.AmbulanceErr == nil {
		t.Fatalf("Expected both errors, got %+v", out)
	}
	if !errors.Is(out.Err(), out.VehicleErr) {
		t.Error("Joined error should wrap the vehicle error")
	}
}

func TestMaybePublish_ClockGoesBackwards(t *testing.T) {
	b := &fakeBroker{}
	s := newTestScheduler(b)

	s.MaybePublish(detection.FrameSummary{}, at(10))
	out := s.MaybePublish(detection.FrameSummary{}, at(3))

	if out.Attempted {
		t.Error("A time before LastSendTime must not publish")
	}
	if !s.State().LastSendTime.Equal(at(10)) {
		t.Errorf("LastSendTime moved backwards to %v", s.State().LastSendTime.Sub(epoch))
	}
}

func TestMaybePublish_RepeatedEmptyFrames(t *testing.T) {
	b := &fakeBroker{}
	s := newTestScheduler(b)

	for i := 0; i < 50; i++ {
		s.MaybePublish(detection.FrameSummary{}, epoch.Add(time.Duration(i)*90*time.Millisecond))
	}

	if len(b.messages) != 0 {
		t.Errorf("Expected no publish before the first interval, got %v", b.messages)
	}
}

func TestState_Due(t *testing.T) {
	st := NewState(time.Second, epoch)

	tests := []struct {
		now      time.Time
		expected bool
	}{
		{at(0), false},
		{at(0.999), false},
		{at(1), true},
		{at(30), true},
		{at(-1), false},
	}

	for _, tt := range tests {
		if got := st.Due(tt.now); got != tt.expected {
			t.Errorf("Due(%v) = %v, expected %v", tt.now.Sub(epoch), got, tt.expected)
		}
	}
}
