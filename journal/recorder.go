package journal

import (
	"log/slog"

	"termlend/core/events"
	"termlend/observability"
)

// Recorder adapts a Store to the event pipeline. Journal failures are
// logged and counted but never abort the operation that emitted the event;
// the ledger state commit has already happened by the time events flow.
type Recorder struct {
	store  *Store
	clock  func() uint64
	logger *slog.Logger
}

// NewRecorder wires a store into the emitter pipeline. The clock callback
// supplies the ledger time stored with each entry.
func NewRecorder(store *Store, clock func() uint64, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, clock: clock, logger: logger}
}

// Emit implements events.Emitter.
func (r *Recorder) Emit(event events.Event) {
	if r == nil || r.store == nil || event == nil {
		return
	}
	var clock uint64
	if r.clock != nil {
		clock = r.clock()
	}
	if err := r.store.Append(event, clock); err != nil {
		observability.JournalMetrics().RecordFailure("append")
		r.logger.Error("journal append failed", "type", event.EventType(), "error", err)
		return
	}
	observability.JournalMetrics().RecordAppend()
}
