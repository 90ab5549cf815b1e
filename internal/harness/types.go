package harness

// TraceEvent is one stage transition of the run under test.
type TraceEvent struct {
	Seq    int64             `json:"seq"`
	Stage  string            `json:"stage"`
	Detail map[string]string `json:"detail,omitempty"`
}

// Failure summarizes a failed run.
type Failure struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when the expectation and every assertion held.
	Pass bool `json:"pass"`

	RunID string `json:"run_id"`

	// Stage is the terminal stage of the run.
	Stage string `json:"stage"`

	// Failure is set when the run ended in Failed.
	Failure *Failure `json:"failure,omitempty"`

	Result        string `json:"result,omitempty"`
	ConfidenceBps int    `json:"confidence_bps,omitempty"`

	// Trace contains the run's steps in seq order.
	Trace []TraceEvent `json:"trace"`

	// Calls counts emulator invocations by method across all hosts.
	Calls map[string]int `json:"calls"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Calls:  map[string]int{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
