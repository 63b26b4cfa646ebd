// Package notify fans batch progress events out to live subscribers. Each
// batch gets its own stream with a short replay buffer so a subscriber that
// connects mid-run still sees recent history.
package notify

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/fx"
)

const (
	EventStarted   = "started"
	EventRow       = "row"
	EventCompleted = "completed"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

type ProgressEvent struct {
	BatchID      string `json:"batch_id"`
	Event        string `json:"event"`
	RefID        string `json:"ref_id,omitempty"`
	RowStatus    string `json:"row_status,omitempty"`
	ValidCount   int    `json:"valid_count"`
	InvalidCount int    `json:"invalid_count"`
	TotalRows    int    `json:"total_rows"`
	BatchStatus  string `json:"batch_status,omitempty"`
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []ProgressEvent
	subs   map[uint64]chan ProgressEvent
	nextID uint64
}

type Subscription struct {
	hub     *Hub
	batchID string
	id      uint64
	ch      chan ProgressEvent
	once    sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

var Module = fx.Provide(NewHub)

// Publish never blocks the pipeline: a subscriber that cannot keep up loses
// events rather than stalling the batch.
func (h *Hub) Publish(batchID string, event ProgressEvent) {
	if h == nil {
		return
	}
	id := strings.TrimSpace(batchID)
	if id == "" {
		return
	}
	event.BatchID = id

	stream := h.ensureStream(id)
	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan ProgressEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *Hub) Subscribe(batchID string) (*Subscription, []ProgressEvent, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	id := strings.TrimSpace(batchID)
	if id == "" {
		return nil, nil, errors.New("invalid_batch_id")
	}

	stream := h.ensureStream(id)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan ProgressEvent)
	}
	subID := stream.nextID
	stream.nextID++
	ch := make(chan ProgressEvent, h.subscriberBuffer)
	stream.subs[subID] = ch
	buffer := append([]ProgressEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:     h,
		batchID: id,
		id:      subID,
		ch:      ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(batchID string) *stream {
	h.mu.RLock()
	current := h.streams[batchID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[batchID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan ProgressEvent)}
		h.streams[batchID] = current
	}
	return current
}

func (h *Hub) unsubscribe(batchID string, id uint64) {
	if h == nil {
		return
	}

	h.mu.RLock()
	stream := h.streams[batchID]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[batchID]
	if current != stream {
		h.mu.Unlock()
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, batchID)
	}
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan ProgressEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.batchID, s.id)
	})
}
