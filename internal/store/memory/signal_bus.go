package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const subscriberBuffer = 64

// SignalBus is an in-process domain.SignalBus. Slow subscribers drop
// messages instead of blocking publishers.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
	maxLen  int
}

// NewSignalBus creates a bus whose streams keep at most maxLen entries.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.streams[stream]
	var seq uint64 = 1
	if n := len(msgs); n > 0 {
		last, _ := strconv.ParseUint(msgs[n-1].ID, 10, 64)
		seq = last + 1
	}
	msgs = append(msgs, domain.StreamMessage{ID: strconv.FormatUint(seq, 10), Payload: payload})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages after lastID. "0" or "" reads
// from the start.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	after, _ := strconv.ParseUint(lastID, 10, 64)
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
