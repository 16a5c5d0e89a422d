package realtime

// Agent is the assistant persona shared read-only by every call
type Agent struct {
	Name         string
	Instructions string
}

// NewAgent returns an Agent. The value is never modified after construction.
func NewAgent(name, instructions string) *Agent {
	return &Agent{Name: name, Instructions: instructions}
}
