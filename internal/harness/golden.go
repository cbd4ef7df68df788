package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/scripthost/internal/ir"
)

// Snapshot renders a result as canonical JSON for golden comparison: step
// outcomes, the journal trace and console output.
func Snapshot(name string, result *Result) ([]byte, error) {
	steps := make(ir.IRArray, len(result.Steps))
	for i, s := range result.Steps {
		obj := ir.IRObject{
			"index": ir.IRInt(s.Index),
			"do":    ir.IRString(s.Do),
		}
		if s.Actor != "" {
			obj["actor"] = ir.IRString(s.Actor)
		}
		if s.Status != "" {
			obj["status"] = ir.IRString(s.Status)
			obj["message"] = ir.IRString(s.Message)
		}
		if s.Do == StepFire {
			obj["delivered"] = stringArray(s.Delivered)
			obj["failed"] = stringArray(s.Failed)
		}
		if s.Do == StepTick {
			obj["fired"] = ir.IRInt(s.Fired)
		}
		steps[i] = obj
	}

	trace := make(ir.IRArray, len(result.Trace))
	for i, rec := range result.Trace {
		trace[i] = recordValue(rec)
	}

	output := make(ir.IRArray, len(result.Output))
	for i, o := range result.Output {
		output[i] = ir.IRObject{
			"script": ir.IRString(o.Script),
			"level":  ir.IRString(o.Level),
			"line":   ir.IRString(o.Line),
		}
	}

	return ir.MarshalCanonical(ir.IRObject{
		"scenario_name": ir.IRString(name),
		"steps":         steps,
		"trace":         trace,
		"output":        output,
	})
}

func recordValue(rec ir.Record) ir.IRObject {
	obj := ir.IRObject{
		"seq":  ir.IRInt(rec.Seq),
		"tick": ir.IRInt(rec.Tick),
		"kind": ir.IRString(rec.Kind),
	}
	if rec.ScriptID != "" {
		obj["script"] = ir.IRString(rec.ScriptID)
	}
	if rec.Category != "" {
		obj["category"] = ir.IRString(rec.Category)
	}
	if rec.Fanout != "" {
		obj["fanout"] = ir.IRString(rec.Fanout)
	}
	if rec.Task != 0 {
		obj["task"] = ir.IRInt(rec.Task)
	}
	if len(rec.Detail) > 0 {
		obj["detail"] = rec.Detail
	}
	return obj
}

func stringArray(ss []string) ir.IRArray {
	arr := make(ir.IRArray, len(ss))
	for i, s := range ss {
		arr[i] = ir.IRString(s)
	}
	return arr
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
