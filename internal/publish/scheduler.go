package publish

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"trafficmonitor/internal/detection"
	"trafficmonitor/internal/logger"
)

// Publisher is the broker client capability used by the scheduler.
type Publisher interface {
	Publish(topic, payload string) error
}

// Topics names the two broker topics the scheduler writes to.
type Topics struct {
	Vehicles  string
	Ambulance string
}

// State is the publish state owned by a Scheduler.
// LastSendTime never moves backwards; it is written only by MaybePublish.
type State struct {
	LastSendTime time.Time
	SendInterval time.Duration
}

// NewState creates the publish state for a loop starting at start.
func NewState(interval time.Duration, start time.Time) *State {
	return &State{
		LastSendTime: start,
		SendInterval: interval,
	}
}

// Due reports whether a publish is allowed at now.
func (s *State) Due(now time.Time) bool {
	return now.Sub(s.LastSendTime) >= s.SendInterval
}

// Outcome describes what a MaybePublish call did.
type Outcome struct {
	Attempted    bool
	VehicleErr   error
	AmbulanceErr error
}

// Err joins the per-topic errors, nil when both publishes succeeded or none was attempted.
func (o Outcome) Err() error {
	return errors.Join(o.VehicleErr, o.AmbulanceErr)
}

// Stats are counters exposed on the status endpoint.
type Stats struct {
	Attempts      uint64    `json:"attempts"`
	Failures      uint64    `json:"failures"`
	LastSendTime  time.Time `json:"last_send_time"`
	LastVehicles  int       `json:"last_vehicles"`
	LastAmbulance bool      `json:"last_ambulance"`
}

// Scheduler rate-limits publishing of frame summaries to the broker.
//
// MaybePublish must be called from a single goroutine. Stats may be read
// concurrently.
type Scheduler struct {
	state  *State
	client Publisher
	topics Topics
	logger *logger.Logger

	mu    sync.Mutex
	stats Stats
}

// NewScheduler creates a scheduler publishing through client.
func NewScheduler(state *State, client Publisher, topics Topics, logger *logger.Logger) *Scheduler {
	return &Scheduler{
		state:  state,
		client: client,
		topics: topics,
		logger: logger,
	}
}

// State returns the scheduler's publish state.
func (s *Scheduler) State() *State {
	return s.state
}

// MaybePublish publishes summary if at least SendInterval has elapsed since the
// last attempt. The vehicle count and the ambulance flag are published to their
// topics; a failure on one topic does not prevent the other. LastSendTime is set
// to now whenever a publish is attempted, whatever the result.
func (s *Scheduler) MaybePublish(summary detection.FrameSummary, now time.Time) Outcome {
	if !s.state.Due(now) {
		return Outcome{}
	}

	outcome := Outcome{Attempted: true}

	count := strconv.Itoa(summary.VehicleCount)
	if err := s.client.Publish(s.topics.Vehicles, count); err != nil {
		outcome.VehicleErr = fmt.Errorf("publish to %s: %w", s.topics.Vehicles, err)
		s.logger.Warning("Failed to publish vehicle count: %v", err)
	} else {
		s.logger.Info("📤 Sent: %s vehicles to topic '%s'", count, s.topics.Vehicles)
	}

	flag := "0"
	if summary.AmbulancePresent {
		flag = "1"
	}
	if err := s.client.Publish(s.topics.Ambulance, flag); err != nil {
		outcome.AmbulanceErr = fmt.Errorf("publish to %s: %w", s.topics.Ambulance, err)
		s.logger.Warning("Failed to publish ambulance flag: %v", err)
	} else if summary.AmbulancePresent {
		s.logger.Info("🚑 Sent: ambulance detected to topic '%s'", s.topics.Ambulance)
	}

	s.state.LastSendTime = now

	s.mu.Lock()
	s.stats.Attempts++
	if outcome.Err() != nil {
		s.stats.Failures++
	}
	s.stats.LastSendTime = now
	s.stats.LastVehicles = summary.VehicleCount
	s.stats.LastAmbulance = summary.AmbulancePresent
	s.mu.Unlock()

	return outcome
}

// Stats returns a copy of the publish counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
