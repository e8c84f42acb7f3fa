// Package gateway keeps the process's open live-event connections and fans
// bus messages out to them over Server-Sent Events.
//
// The Hub owns the audience -> connection-set map. Delivery to a connection is
// a non-blocking send into its buffer: when a client falls behind and the
// buffer is full the message is dropped for that client only. Publish never
// waits on a slow reader.
//
// Audience entries are removed as soon as their last connection leaves, so the
// map only grows with live clients.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campus-fulfillment-service/internal/events"
)

const (
	DefaultBuffer    = 32
	DefaultHeartbeat = 25 * time.Second
)

// Conn is one open client stream.
type Conn struct {
	id   string
	aud  events.Audience
	send chan []byte
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) Audience() events.Audience { return c.aud }

// Messages yields serialized payloads in delivery order.
func (c *Conn) Messages() <-chan []byte { return c.send }

type Options struct {
	Buffer    int
	Heartbeat time.Duration
}

type Hub struct {
	mu        sync.RWMutex
	audiences map[events.Audience]map[string]*Conn

	buffer    int
	heartbeat time.Duration
	log       logrus.FieldLogger

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewHub(opts Options, log logrus.FieldLogger) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	return &Hub{
		audiences: make(map[events.Audience]map[string]*Conn),
		buffer:    opts.Buffer,
		heartbeat: opts.Heartbeat,
		log:       log.WithField("component", "gateway"),
	}
}

func (h *Hub) Register(aud events.Audience) *Conn {
	c := &Conn{id: uuid.NewString(), aud: aud, send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	set, ok := h.audiences[aud]
	if !ok {
		set = make(map[string]*Conn)
		h.audiences[aud] = set
	}
	set[c.id] = c
	n := len(set)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"audience": aud.Channel(), "conn": c.id, "open": n}).Debug("connection registered")
	return c
}

// Unregister removes c and drops the audience entry once it is empty. It
// reports whether c was still registered.
func (h *Hub) Unregister(c *Conn) bool {
	h.mu.Lock()
	set, ok := h.audiences[c.aud]
	if ok {
		_, ok = set[c.id]
		delete(set, c.id)
		if len(set) == 0 {
			delete(h.audiences, c.aud)
		}
	}
	h.mu.Unlock()

	if ok {
		h.log.WithFields(logrus.Fields{"audience": c.aud.Channel(), "conn": c.id}).Debug("connection closed")
	}
	return ok
}

// Deliver implements events.Sink.
func (h *Hub) Deliver(aud events.Audience, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.audiences[aud] {
		h.offer(c, data)
	}
}

// Broadcast sends data to every connection of every audience.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.audiences {
		for _, c := range set {
			h.offer(c, data)
		}
	}
}

func (h *Hub) offer(c *Conn, data []byte) {
	select {
	case c.send <- data:
		h.sent.Add(1)
	default:
		h.dropped.Add(1)
	}
}

// Run writes a ping to every connection each heartbeat interval until ctx is
// done. Intermediary proxies close streams that stay idle too long.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.heartbeat)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			ping, err := json.Marshal(events.Payload{"type": events.TypePing, "ts": now.Unix()})
			if err != nil {
				continue
			}
			h.Broadcast(ping)
		}
	}
}

func (h *Hub) Connections(aud events.Audience) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.audiences[aud])
}

type Stats struct {
	Audiences   int            `json:"audiences"`
	Connections int            `json:"connections"`
	PerAudience map[string]int `json:"perAudience"`
	Sent        uint64         `json:"sent"`
	Dropped     uint64         `json:"dropped"`
}

// Stats is a snapshot; counters may move on right after it returns.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{
		Audiences:   len(h.audiences),
		PerAudience: make(map[string]int, len(h.audiences)),
		Sent:        h.sent.Load(),
		Dropped:     h.dropped.Load(),
	}
	for aud, set := range h.audiences {
		s.PerAudience[aud.Channel()] = len(set)
		s.Connections += len(set)
	}
	return s
}
