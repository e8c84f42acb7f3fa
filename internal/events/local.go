package events

import (
	"context"
	"errors"
	"sync"
)

var ErrNoSink = errors.New("events: no sink attached")

// LocalBroker hands payloads straight to the in-process sink.
type LocalBroker struct {
	mu   sync.RWMutex
	sink Sink
}

func NewLocalBroker() *LocalBroker { return &LocalBroker{} }

func (b *LocalBroker) Name() string { return "local" }

func (b *LocalBroker) SubscribeAll(_ context.Context, sink Sink) error {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
	return nil
}

// Publish delivers synchronously, so messages for one audience reach the sink
// in publish order.
func (b *LocalBroker) Publish(_ context.Context, aud Audience, payload Payload) error {
	data, err := encode(aud, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()

	if sink == nil {
		return ErrNoSink
	}
	sink.Deliver(aud, data)
	return nil
}

func (b *LocalBroker) Close() error { return nil }
