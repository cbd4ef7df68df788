package harness

import "github.com/roach88/scripthost/internal/ir"

// StepResult is what one scenario step produced.
type StepResult struct {
	Index     int      `json:"index"`
	Do        string   `json:"do"`
	Actor     string   `json:"actor,omitempty"`
	Status    string   `json:"status,omitempty"`
	Message   string   `json:"message,omitempty"`
	Delivered []string `json:"delivered,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Fired     int      `json:"fired,omitempty"`
}

// OutputLine is one console line a script wrote.
type OutputLine struct {
	Script string `json:"script"`
	Level  string `json:"level"`
	Line   string `json:"line"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Trace is the journal of the run, in seq order.
	Trace []ir.Record `json:"trace"`

	Output []OutputLine `json:"output"`

	// Errors is empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Live, Subscribers and Selections capture registry state after the
	// last step.
	Live        []string            `json:"live"`
	Subscribers map[string][]string `json:"subscribers"`
	Selections  map[string]string   `json:"selections"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Steps:       []StepResult{},
		Trace:       []ir.Record{},
		Output:      []OutputLine{},
		Errors:      []string{},
		Live:        []string{},
		Subscribers: make(map[string][]string),
		Selections:  make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// OutputLines returns just the text of every output line.
func (r *Result) OutputLines() []string {
	lines := make([]string, len(r.Output))
	for i, o := range r.Output {
		lines[i] = o.Line
	}
	return lines
}
