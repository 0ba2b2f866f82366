package pipeline

import "time"

// Event types published during a run.
const (
	EventRunStart  = "run_start"
	EventStage     = "stage"
	EventRunFinish = "run_finish"
	EventRunFailed = "run_failed"
)

// Event is a progress notification, fanned out to dashboard clients.
type Event struct {
	Type   string    `json:"type"`
	RunID  string    `json:"run_id"`
	Mode   string    `json:"mode"`
	Input  string    `json:"input"`
	Stage  string    `json:"stage,omitempty"`
	Output string    `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Publisher receives run events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
