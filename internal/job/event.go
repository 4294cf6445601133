package job

// EventType is the discriminator inlined into every SSE frame (spec.md §9,
// "Dynamic shape of SSEEvent").
type EventType string

const (
	EventJobCreated  EventType = "job_created"
	EventGenerating  EventType = "generating"
	EventGenerated   EventType = "generated"
	EventScaffolding EventType = "scaffolding"
	EventWriting     EventType = "writing"
	EventInstalling  EventType = "installing"
	EventBuilding    EventType = "building"
	EventLog         EventType = "log"
	EventDeploying   EventType = "deploying"
	EventDeployed    EventType = "deployed"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
)

// Event is a tagged variant keyed by "type", matching the map-based shape
// (gin.H) the teacher codebase already uses for every JSON response.
type Event map[string]any

// NewEvent builds an Event with the discriminator set, merging in fields.
func NewEvent(t EventType, fields map[string]any) Event {
	e := make(Event, len(fields)+1)
	e["type"] = string(t)
	for k, v := range fields {
		e[k] = v
	}
	return e
}

// IsTerminal reports whether an event type ends an SSE session (spec.md §8:
// "the stream ends with exactly one of complete or error; no events follow
// it").
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}
