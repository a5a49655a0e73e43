package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"termlend/core/types"
)

const streamHistoryLimit = 2048

// Update is the wire form of a committed ledger event delivered to stream
// subscribers. The cursor lets clients resume after a disconnect.
type Update struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  uint64            `json:"timestamp"`
}

func cloneUpdate(update Update) Update {
	cloned := update
	if len(update.Attributes) > 0 {
		attrs := make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

// Stream fans committed events out to live subscribers and keeps a bounded
// replay history. It implements Emitter so it can sit directly behind the
// ledger's event pipeline. Slow subscribers miss updates rather than block
// the committing operation.
type Stream struct {
	clock func() uint64

	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan Update
	history []Update
}

// NewStream builds a stream. The clock callback stamps each update with the
// ledger time at emission; nil leaves timestamps at zero.
func NewStream(clock func() uint64) *Stream {
	return &Stream{clock: clock, subs: make(map[uint64]chan Update)}
}

// Emit renders the event and broadcasts it to all subscribers.
func (s *Stream) Emit(event Event) {
	if s == nil || event == nil {
		return
	}
	rendered, ok := event.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := rendered.Event()
	if payload == nil {
		return
	}
	update := Update{Type: payload.Type, Attributes: payload.Attributes}
	if s.clock != nil {
		update.Timestamp = s.clock()
	}

	s.mu.Lock()
	s.seq++
	update.Sequence = s.seq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	s.history = append(s.history, cloneUpdate(update))
	if len(s.history) > streamHistoryLimit {
		excess := len(s.history) - streamHistoryLimit
		trimmed := make([]Update, streamHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	subscribers := make([]chan Update, 0, len(s.subs))
	for _, ch := range s.subs {
		subscribers = append(subscribers, ch)
	}
	s.mu.Unlock()

	broadcast := cloneUpdate(update)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
		}
	}
}

// Subscribe registers a subscriber for ledger events starting after the
// supplied cursor. The returned backlog replays retained history newer than
// the cursor; the cancel function must be called when the subscriber is done.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan Update, func(), []Update, error) {
	if s == nil {
		return nil, nil, nil, fmt.Errorf("stream not initialised")
	}
	updates := make(chan Update, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]chan Update)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	history := make([]Update, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	backlog := make([]Update, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			sub, ok := s.subs[id]
			if ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
