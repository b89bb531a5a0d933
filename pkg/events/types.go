package events

import "encoding/json"

// Event name constants
const (
	SessionPhase       = "session.phase"
	ExperimentAppended = "experiment.appended"
	ExperimentsChanged = "experiments.changed"
	OffsetRecorded     = "offset.recorded"
	ConsoleLine        = "console.line"
	LinkState          = "link.state"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// SessionPhaseEvent is the typed payload for session.phase.
type SessionPhaseEvent struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// ExperimentAppendedEvent is the typed payload for experiment.appended.
type ExperimentAppendedEvent struct {
	Index     int     `json:"index"`
	Reference float64 `json:"reference"`
	Samples   int     `json:"samples"`
	Ts        int64   `json:"ts"`
}

// ExperimentsChangedEvent is published after a remove or clear.
type ExperimentsChangedEvent struct {
	Count int   `json:"count"`
	Ts    int64 `json:"ts"`
}

// OffsetRecordedEvent is the typed payload for offset.recorded.
type OffsetRecordedEvent struct {
	Offset  float64   `json:"offset"`
	Offsets []float64 `json:"offsets"`
	Ts      int64     `json:"ts"`
}

// ConsoleLineEvent is the typed payload for console.line. Outbound lines
// written by a client have Sent set.
type ConsoleLineEvent struct {
	Line string `json:"line"`
	Sent bool   `json:"sent,omitempty"`
	Ts   int64  `json:"ts"`
}

// LinkStateEvent is published when the link opens or closes.
type LinkStateEvent struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	Ts        int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.SessionPhaseEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
