package harness

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/scripthost/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []ir.Record // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, rec := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", rec)
		}
	}
	return buf.String()
}

// recordMatches reports whether rec satisfies the non-empty fields of the
// assertion. Detail is a subset match.
func recordMatches(rec ir.Record, a Assertion) bool {
	if a.Kind != "" && string(rec.Kind) != a.Kind {
		return false
	}
	if a.Script != "" && rec.ScriptID != a.Script {
		return false
	}
	if a.Category != "" && rec.Category != a.Category {
		return false
	}
	return matchDetail(rec.Detail, a.Detail)
}

// assertTraceContains checks that some record matches the assertion.
func assertTraceContains(trace []ir.Record, a Assertion) error {
	for _, rec := range trace {
		if recordMatches(rec, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s record (script %q, category %q, detail %v)", a.Kind, a.Script, a.Category, a.Detail),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrence of each kind appears in
// the given order. Other records may come between them.
func assertTraceOrder(trace []ir.Record, a Assertion) error {
	positions := make(map[string]int)
	for i, rec := range trace {
		kind := string(rec.Kind)
		if slices.Contains(a.Kinds, kind) && positions[kind] == 0 {
			positions[kind] = i + 1 // 1-indexed for readability
		}
	}

	for _, kind := range a.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all kinds present: %v", a.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Kinds); i++ {
		prev, curr := a.Kinds[i-1], a.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count records match.
func assertTraceCount(trace []ir.Record, a Assertion) error {
	count := 0
	for _, rec := range trace {
		if recordMatches(rec, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s records", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d records", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertOutput(result *Result, a Assertion) error {
	lines := []string{}
	for _, o := range result.Output {
		if a.Script == "" || o.Script == a.Script {
			lines = append(lines, o.Line)
		}
	}
	want := a.Lines
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(lines, want) {
		return &AssertionError{
			Type:     AssertOutput,
			Expected: fmt.Sprintf("%q", want),
			Actual:   fmt.Sprintf("%q", lines),
		}
	}
	return nil
}

func assertScripts(kind string, got, want []string) error {
	if got == nil {
		got = []string{}
	}
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertSelection(result *Result, a Assertion) error {
	got, ok := result.Selections[actorKey(a.Actor)]
	if !ok {
		return fmt.Errorf("selection: actor %q issued no commands", actorKey(a.Actor))
	}
	if got != a.Script {
		return &AssertionError{
			Type:     AssertSelection,
			Expected: fmt.Sprintf("%s selects %q", actorKey(a.Actor), a.Script),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

// matchDetail checks if actual contains all expected keys (subset match).
func matchDetail(actual ir.IRObject, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	want, err := convertArgsToIRObject(expected)
	if err != nil {
		return false
	}
	for key, expectedVal := range want {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !reflect.DeepEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertOutput:
			err = assertOutput(result, a)
		case AssertLiveScripts:
			err = assertScripts(AssertLiveScripts, result.Live, a.Scripts)
		case AssertSubscribers:
			err = assertScripts(AssertSubscribers, result.Subscribers[a.Category], a.Scripts)
		case AssertSelection:
			err = assertSelection(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
