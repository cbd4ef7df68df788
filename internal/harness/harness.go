package harness

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/roach88/scripthost/internal/config"
	"github.com/roach88/scripthost/internal/host"
	"github.com/roach88/scripthost/internal/ir"
	"github.com/roach88/scripthost/internal/journal"
	"github.com/roach88/scripthost/internal/session"
	"github.com/roach88/scripthost/internal/testutil"
)

// RunID is the journal run id of every scenario.
const RunID = "scenario"

// Harness executes one scenario against a fresh host.
type Harness struct {
	host      *host.Host
	scriptDir string
	logger    *slog.Logger

	mu     sync.Mutex
	output []OutputLine
	actors []string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in fresh temporary directories with an in-memory
// journal. A returned error means the scenario could not be executed at
// all; failed expectations are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	root, err := os.MkdirTemp("", "scripthost-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(root)

	scriptDir := filepath.Join(root, "scripts")
	if err := prepareScripts(scenario, scriptDir); err != nil {
		return nil, err
	}
	assets, err := prepareAssets(scenario, filepath.Join(root, "assets"))
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	cfg.ScriptDir = scriptDir
	if len(scenario.Categories) > 0 {
		cfg.Categories = scenario.Categories
	}
	if len(scenario.Worlds) > 0 {
		cfg.Worlds = scenario.Worlds
	}
	if scenario.Namespace != "" {
		cfg.DefaultNamespace = scenario.Namespace
	}

	h := &Harness{
		scriptDir: scriptDir,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	hst, err := host.New(cfg,
		host.WithLogger(h.logger),
		host.WithInstances(testutil.NewSequentialInstances()),
		host.WithFanoutIDs(&testutil.CountingFanoutIDs{}),
		host.WithAssets(assets),
		host.WithRunID(RunID),
		host.WithOutput(h.collect),
	)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}
	h.host = hst
	defer hst.Close(context.WithoutCancel(ctx))

	result := NewResult()
	for i, step := range scenario.Steps {
		sr, err := h.execute(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
		result.Steps = append(result.Steps, sr)
		if step.Expect != nil {
			for _, msg := range checkExpect(sr, *step.Expect) {
				result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Do, msg))
			}
		}
	}

	trace, err := hst.Journal().List(ctx, journal.Filter{RunID: RunID})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	result.Trace = trace
	h.snapshot(result)

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) collect(out host.Output) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.output = append(h.output, OutputLine{Script: out.ScriptID, Level: out.Level, Line: out.Line})
}

// execute runs one step.
func (h *Harness) execute(ctx context.Context, index int, step Step) (StepResult, error) {
	sr := StepResult{Index: index, Do: step.Do, Actor: step.Actor}
	p := principal(step.Actor)
	switch step.Do {
	case StepSelect, StepRun, StepDiscard, StepCurrent:
		h.noteActor(step.Actor)
		var res host.Result
		switch step.Do {
		case StepSelect:
			res = h.host.SelectScript(ctx, p, step.File, step.Fallback)
		case StepRun:
			res = h.host.RunSelected(ctx, p)
		case StepDiscard:
			res = h.host.DiscardSelected(ctx, p)
		default:
			res = h.host.CurrentSelection(p)
		}
		sr.Status = string(res.Status)
		sr.Message = res.Message

	case StepFire:
		ev, err := buildEvent(step)
		if err != nil {
			return sr, err
		}
		fan := h.host.Fire(ctx, ev)
		sr.Delivered = fan.Delivered
		sr.Failed = fan.Failed

	case StepTick:
		sr.Fired = h.host.Advance(ctx, step.Ticks)

	case StepWrite:
		path := filepath.Join(h.scriptDir, step.File)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return sr, err
		}
		if err := os.WriteFile(path, []byte(step.Source), 0o644); err != nil {
			return sr, err
		}

	case StepDelete:
		if err := os.Remove(filepath.Join(h.scriptDir, step.File)); err != nil {
			return sr, err
		}

	default:
		return sr, fmt.Errorf("unknown step %q", step.Do)
	}

	h.logger.Info("scenario step completed", "step", index, "do", step.Do, "status", sr.Status)
	return sr, nil
}

func (h *Harness) noteActor(actor string) {
	if !slices.Contains(h.actors, actor) {
		h.actors = append(h.actors, actor)
	}
}

// snapshot copies output and registry state into result.
func (h *Harness) snapshot(result *Result) {
	h.mu.Lock()
	result.Output = append(result.Output, h.output...)
	h.mu.Unlock()

	for _, info := range h.host.Scripts() {
		result.Live = append(result.Live, info.ID)
	}
	reg := h.host.Registry()
	for _, category := range reg.Categories() {
		result.Subscribers[category] = reg.Subscribers(category)
	}
	for _, actor := range h.actors {
		id := ""
		if s, ok := h.host.Selection(principal(actor)); ok {
			id = s.ID()
		}
		result.Selections[actorKey(actor)] = id
	}
}

func principal(actor string) session.Principal {
	switch actor {
	case "", session.ConsoleActor:
		return session.Console()
	case ActorNobody:
		return session.Principal{}
	default:
		return session.User(actor)
	}
}

func actorKey(actor string) string {
	if actor == "" {
		return session.ConsoleActor
	}
	return actor
}

func buildEvent(step Step) (ir.Event, error) {
	data, err := convertArgsToIRObject(step.Data)
	if err != nil {
		return ir.Event{}, fmt.Errorf("data: %w", err)
	}
	var shapes map[string]ir.IRObject
	if len(step.Shapes) > 0 {
		shapes = make(map[string]ir.IRObject, len(step.Shapes))
		for name, fields := range step.Shapes {
			obj, err := convertArgsToIRObject(fields)
			if err != nil {
				return ir.Event{}, fmt.Errorf("shapes.%s: %w", name, err)
			}
			shapes[name] = obj
		}
	}
	return ir.Event{
		Category: step.Category,
		Data:     data,
		Shapes:   shapes,
		Location: step.Location,
	}, nil
}

func prepareScripts(scenario *Scenario, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	if scenario.ScriptDir != "" {
		if err := os.CopyFS(dir, os.DirFS(scenario.ScriptDir)); err != nil {
			return fmt.Errorf("copy script_dir: %w", err)
		}
	}
	return writeFiles(dir, scenario.Scripts)
}

// prepareAssets returns nil when the scenario has no assets, which disables
// the fallback copy.
func prepareAssets(scenario *Scenario, dir string) (fs.FS, error) {
	if len(scenario.Assets) == 0 {
		return nil, nil
	}
	if err := writeFiles(dir, scenario.Assets); err != nil {
		return nil, err
	}
	return os.DirFS(dir), nil
}

func writeFiles(dir string, files map[string]string) error {
	for name, src := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// checkExpect compares a step result against its expectation.
func checkExpect(sr StepResult, exp Expect) []string {
	var errs []string
	if exp.Status != "" && exp.Status != sr.Status {
		errs = append(errs, fmt.Sprintf("status = %q, want %q (message %q)", sr.Status, exp.Status, sr.Message))
	}
	if exp.Message != "" && exp.Message != sr.Message {
		errs = append(errs, fmt.Sprintf("message = %q, want %q", sr.Message, exp.Message))
	}
	if exp.Delivered != nil && !slices.Equal(exp.Delivered, sr.Delivered) {
		errs = append(errs, fmt.Sprintf("delivered = %v, want %v", sr.Delivered, exp.Delivered))
	}
	if exp.Failed != nil && !slices.Equal(exp.Failed, sr.Failed) {
		errs = append(errs, fmt.Sprintf("failed = %v, want %v", sr.Failed, exp.Failed))
	}
	if exp.Fired != nil && *exp.Fired != sr.Fired {
		errs = append(errs, fmt.Sprintf("fired = %d, want %d", sr.Fired, *exp.Fired))
	}
	return errs
}

// convertArgsToIRObject converts a YAML map to ir.IRObject.
func convertArgsToIRObject(args map[string]any) (ir.IRObject, error) {
	if args == nil {
		return ir.IRObject{}, nil
	}

	result := make(ir.IRObject, len(args))
	for key, val := range args {
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToIRValue converts a YAML-parsed value to an IRValue.
func convertToIRValue(val any) (ir.IRValue, error) {
	switch v := val.(type) {
	case nil:
		return ir.IRNull{}, nil
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		// Whole numbers written as 1.0 stay integers.
		if v == float64(int64(v)) {
			return ir.IRInt(int64(v)), nil
		}
		return ir.IRFloat(v), nil
	case bool:
		return ir.IRBool(v), nil
	case []any:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		return convertArgsToIRObject(v)
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
