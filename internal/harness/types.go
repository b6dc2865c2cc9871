package harness

// TraceEvent records one flow decision.
type TraceEvent struct {
	Step       int            `json:"step"`
	SensorType string         `json:"sensor_type"`
	SensorID   string         `json:"sensor_id"`
	Nonce      string         `json:"nonce"`
	Code       string         `json:"code"`
	Reason     string         `json:"reason,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains the flow decisions in order. Setup steps are not traced.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations and assertions.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// LedgerEntries is the number of claimed nonces after the run.
	LedgerEntries int `json:"ledger_entries"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a flow decision to the trace.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}

// Codes returns the decision codes of the trace in order.
func (r *Result) Codes() []string {
	codes := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		codes[i] = e.Code
	}
	return codes
}
