package ir

import (
	"context"
	"fmt"
	"strings"
)

// RecordKind names a lifecycle occurrence written to the journal.
type RecordKind string

const (
	RecordScriptLoaded      RecordKind = "script_loaded"
	RecordScriptRun         RecordKind = "script_run"
	RecordRunFailed         RecordKind = "run_failed"
	RecordSubscribed        RecordKind = "subscribed"
	RecordSubscribeRejected RecordKind = "subscribe_rejected"
	RecordScriptDiscarded   RecordKind = "script_discarded"
	RecordFanout            RecordKind = "fanout"
	RecordListenerFailed    RecordKind = "listener_failed"
	RecordTaskScheduled     RecordKind = "task_scheduled"
	RecordTaskFired         RecordKind = "task_fired"
	RecordTaskFailed        RecordKind = "task_failed"
	RecordTaskCancelled     RecordKind = "task_cancelled"
	RecordOutput            RecordKind = "output"
)

// Record is one journal entry. Seq and Tick are stamped by the journal;
// producers leave them zero.
type Record struct {
	Seq      int64      `json:"seq"`
	Tick     int64      `json:"tick"`
	Kind     RecordKind `json:"kind"`
	ScriptID string     `json:"script_id,omitempty"`
	Category string     `json:"category,omitempty"`
	Fanout   string     `json:"fanout,omitempty"`
	Task     uint64     `json:"task,omitempty"`
	Detail   IRObject   `json:"detail,omitempty"`
}

// String renders the record on one line for logs and the trace command:
//
//	[seq] tick=T kind script=… category=… fanout=… task=… {detail}
func (r Record) String() string {
	parts := []string{fmt.Sprintf("[%d] tick=%d %s", r.Seq, r.Tick, r.Kind)}
	if r.ScriptID != "" {
		parts = append(parts, "script="+r.ScriptID)
	}
	if r.Category != "" {
		parts = append(parts, "category="+r.Category)
	}
	if r.Fanout != "" {
		parts = append(parts, "fanout="+r.Fanout)
	}
	if r.Task != 0 {
		parts = append(parts, fmt.Sprintf("task=%d", r.Task))
	}
	if len(r.Detail) > 0 {
		if data, err := MarshalCanonical(r.Detail); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, " ")
}

// Recorder receives lifecycle records. Implementations must be safe for
// concurrent use and must not block on script execution.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// NopRecorder drops every record.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Record) {}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, rec Record)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, rec Record) {
	f(ctx, rec)
}
