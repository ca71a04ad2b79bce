// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package events is the in-process event fabric. Each job owns a topic
// with a bounded replay ring and a monotonically increasing sequence, so
// a reconnecting SSE client can resume from its Last-Event-ID. A global
// lane multiplexes the lifecycle signals and overall progress of every
// job for task-list views.
package events

import (
	"sync"
	"time"

	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/metrics"
)

// Event type names not owned by another package.
const (
	TypeHeartbeat = "heartbeat"
	TypeReplayGap = "signal.replay_gap"

	signalPrefix        = "signal."
	typeProgressOverall = "progress.overall"
)

// Event is one bus message. Seq is per-job, starts at 1, and is 0 only
// for out-of-band events (heartbeats, replay-gap notices) which carry
// no replay position.
type Event struct {
	Seq     uint64      `json:"seq"`
	Type    string      `json:"type"`
	JobID   string      `json:"job_id"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload,omitempty"`
}

// GlobalLane is the pseudo job id of the cross-job lane.
const GlobalLane = "_global"

// Bus routes events to per-job topics and the global lane.
type Bus struct {
	mu       sync.Mutex
	ringSize int
	bufSize  int
	topics   map[string]*topic
}

type topic struct {
	seq  uint64
	ring []Event // oldest first, len <= ringSize
	subs map[*Subscription]struct{}
}

// New builds a bus. ringSize bounds per-job replay history; bufSize is
// the per-subscriber channel depth before drop-oldest kicks in.
func New(ringSize, bufSize int) *Bus {
	if ringSize <= 0 {
		ringSize = 256
	}
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		ringSize: ringSize,
		bufSize:  bufSize,
		topics:   map[string]*topic{GlobalLane: newTopic()},
	}
}

func newTopic() *topic {
	return &topic{subs: make(map[*Subscription]struct{})}
}

// Publish appends an event to the job's topic and fans it out. Events
// whose type is a lifecycle signal or the overall progress are mirrored
// onto the global lane. Publishers are serialized per job by the single
// runner invariant; the bus itself is safe for any caller.
func (b *Bus) Publish(jobID, eventType string, payload interface{}) Event {
	b.mu.Lock()
	t := b.topic(jobID)
	t.seq++
	ev := Event{
		Seq:     t.seq,
		Type:    eventType,
		JobID:   jobID,
		At:      time.Now().UTC(),
		Payload: payload,
	}
	t.append(ev, b.ringSize)
	t.fanout(ev)

	if isGlobal(eventType) {
		g := b.topics[GlobalLane]
		g.seq++
		gev := ev
		gev.Seq = g.seq
		g.append(gev, b.ringSize)
		g.fanout(gev)
	}
	b.mu.Unlock()
	return ev
}

// Seed raises a job topic's sequence to at least seq. Called during
// startup restore with the checkpointed last sequence so post-restart
// events continue the old numbering and a reconnecting client's
// Last-Event-ID cursor keeps its meaning.
func (b *Bus) Seed(jobID string, seq uint64) {
	b.mu.Lock()
	t := b.topic(jobID)
	if seq > t.seq {
		t.seq = seq
	}
	b.mu.Unlock()
}

// Heartbeat delivers an out-of-band heartbeat to every subscriber of
// the job's topic. It is not retained in the ring.
func (b *Bus) Heartbeat(jobID string) {
	b.mu.Lock()
	if t, ok := b.topics[jobID]; ok {
		t.fanout(Event{Type: TypeHeartbeat, JobID: jobID, At: time.Now().UTC()})
	}
	b.mu.Unlock()
}

// Subscription is one attached consumer.
type Subscription struct {
	bus   *Bus
	jobID string
	ch    chan Event
	once  sync.Once
}

// C is the subscriber's event channel. It is closed by Cancel and by
// CloseTopic.
func (s *Subscription) C() <-chan Event { return s.ch }

// Cancel detaches the subscriber and closes its channel.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	s.detachLocked()
	s.bus.mu.Unlock()
}

func (s *Subscription) detachLocked() {
	if t, ok := s.bus.topics[s.jobID]; ok {
		delete(t.subs, s)
	}
	s.once.Do(func() { close(s.ch) })
}

// Subscribe attaches to a job's topic. Ring events with sequence above
// lastEventID are replayed into the subscriber's channel first. When
// lastEventID falls before the ring's oldest retained event, a
// signal.replay_gap notice precedes the replay so the client knows to
// refetch authoritative state.
func (b *Bus) Subscribe(jobID string, lastEventID uint64) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(jobID)
	// Size the channel so the replay backlog never triggers drop-oldest
	// before the client has read a single event.
	pending := 0
	for _, ev := range t.ring {
		if ev.Seq > lastEventID {
			pending++
		}
	}
	sub := &Subscription{bus: b, jobID: jobID, ch: make(chan Event, b.bufSize+pending+1)}

	// A seeded topic may have an empty ring with a high sequence: the
	// events before the restart are gone, which is a gap too.
	oldest := t.seq + 1
	if len(t.ring) > 0 {
		oldest = t.ring[0].Seq
	}
	if lastEventID > 0 && oldest > lastEventID+1 {
		sub.ch <- Event{Type: TypeReplayGap, JobID: jobID, At: time.Now().UTC(),
			Payload: map[string]uint64{"oldest_available": oldest}}
	}
	for _, ev := range t.ring {
		if ev.Seq > lastEventID {
			sub.deliver(ev)
		}
	}

	t.subs[sub] = struct{}{}
	return sub
}

// SubscribeGlobal attaches to the cross-job lane.
func (b *Bus) SubscribeGlobal(lastEventID uint64) *Subscription {
	return b.Subscribe(GlobalLane, lastEventID)
}

// CloseTopic drops a job's topic, detaching all its subscribers. Called
// when a job is purged.
func (b *Bus) CloseTopic(jobID string) {
	if jobID == GlobalLane {
		return
	}
	b.mu.Lock()
	if t, ok := b.topics[jobID]; ok {
		for sub := range t.subs {
			sub.detachLocked()
		}
		delete(b.topics, jobID)
	}
	b.mu.Unlock()
}

// LastSeq reports the job's newest assigned sequence.
func (b *Bus) LastSeq(jobID string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[jobID]; ok {
		return t.seq
	}
	return 0
}

func (b *Bus) topic(jobID string) *topic {
	t, ok := b.topics[jobID]
	if !ok {
		t = newTopic()
		b.topics[jobID] = t
	}
	return t
}

func (t *topic) append(ev Event, ringSize int) {
	if len(t.ring) == ringSize {
		copy(t.ring, t.ring[1:])
		t.ring = t.ring[:ringSize-1]
	}
	t.ring = append(t.ring, ev)
}

func (t *topic) fanout(ev Event) {
	for sub := range t.subs {
		sub.deliver(ev)
	}
}

// deliver never blocks: a full subscriber loses its oldest pending
// event, on the theory that a slow SSE client prefers fresh progress
// over stale progress.
func (s *Subscription) deliver(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case dropped := <-s.ch:
			metrics.IncBusDrop("slow_subscriber")
			logger := log.WithComponent("events")
			logger.Debug().
				Str(log.FieldJobID, ev.JobID).
				Uint64("dropped_seq", dropped.Seq).
				Msg("slow subscriber, dropping oldest pending event")
		default:
		}
	}
}

func isGlobal(eventType string) bool {
	return eventType == typeProgressOverall ||
		(len(eventType) > len(signalPrefix) && eventType[:len(signalPrefix)] == signalPrefix)
}
