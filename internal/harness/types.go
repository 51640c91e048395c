package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Replica string `json:"replica,omitempty"`
	Op      string `json:"op"`
	Path    string `json:"path,omitempty"`
	Peer    string `json:"peer,omitempty"`    // clone source, send receiver
	Version string `json:"version,omitempty"` // document version after the step
	Merged  int    `json:"merged,omitempty"`  // parts merged by a fan-out round
	Error   string `json:"error,omitempty"`   // expected error that occurred
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expected error occurred and
	// every assertion held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final maps each replica name to its final document data.
	Final map[string]interface{} `json:"final,omitempty"`

	// Clients maps each replica name to its client id.
	Clients map[string]string `json:"clients,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Final:   make(map[string]interface{}),
		Clients: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
