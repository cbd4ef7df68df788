package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: basic
description: "Select and run one script"
scripts:
  x.js: |
    registerListener(TargetUserEvent, "onUser");
steps:
  - do: select
    actor: steve
    file: x
  - do: run
    actor: steve
    expect:
      status: success
  - do: fire
    category: user-target
    data:
      name: ann
      count: 2
    location: { world: overworld, x: 1.5, y: 64, z: -3 }
  - do: tick
    ticks: 5
    expect: { fired: 0 }
assertions:
  - type: trace_contains
    kind: script_run
    script: x.js#1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "basic", scenario.Name)
	assert.Contains(t, scenario.Scripts, "x.js")
	require.Len(t, scenario.Steps, 4)

	assert.Equal(t, StepSelect, scenario.Steps[0].Do)
	assert.Equal(t, "steve", scenario.Steps[0].Actor)
	assert.Equal(t, "x", scenario.Steps[0].File)

	require.NotNil(t, scenario.Steps[1].Expect)
	assert.Equal(t, "success", scenario.Steps[1].Expect.Status)

	fire := scenario.Steps[2]
	assert.Equal(t, "user-target", fire.Category)
	assert.Equal(t, "ann", fire.Data["name"])
	assert.Equal(t, 2, fire.Data["count"])
	require.NotNil(t, fire.Location)
	assert.Equal(t, "overworld", fire.Location.World)
	assert.Equal(t, 1.5, fire.Location.X)

	tick := scenario.Steps[3]
	assert.Equal(t, int64(5), tick.Ticks)
	require.NotNil(t, tick.Expect.Fired)
	assert.Equal(t, 0, *tick.Expect.Fired)

	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertTraceContains, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_ScriptDirRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	path := writeScenario(t, dir, `
name: dir
description: "Scripts come from a directory"
script_dir: scripts
steps:
  - { do: run }
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scripts"), scenario.ScriptDir)
}

func TestLoadScenario_ScriptDirMissing(t *testing.T) {
	path := writeScenario(t, t.TempDir(), `
name: dir
description: "Scripts come from a directory"
script_dir: missing
steps:
  - { do: run }
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script_dir not found")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{do: run}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps: [{do: run}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\nflow: []\nsteps: [{do: run}]\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown step",
			yaml:    "name: n\ndescription: d\nsteps: [{do: jump}]\n",
			wantErr: `unknown step "jump"`,
		},
		{
			name:    "step without do",
			yaml:    "name: n\ndescription: d\nsteps: [{actor: a}]\n",
			wantErr: "do is required",
		},
		{
			name:    "select without file",
			yaml:    "name: n\ndescription: d\nsteps: [{do: select}]\n",
			wantErr: "file is required for select",
		},
		{
			name:    "fire without category",
			yaml:    "name: n\ndescription: d\nsteps: [{do: fire}]\n",
			wantErr: "category is required for fire",
		},
		{
			name:    "tick without ticks",
			yaml:    "name: n\ndescription: d\nsteps: [{do: tick}]\n",
			wantErr: "ticks must be positive",
		},
		{
			name:    "escaping script name",
			yaml:    "name: n\ndescription: d\nscripts: {../x.js: ''}\nsteps: [{do: run}]\n",
			wantErr: "is not a local file name",
		},
		{
			name:    "assertion without type",
			yaml:    "name: n\ndescription: d\nsteps: [{do: run}]\nassertions: [{kind: fanout}]\n",
			wantErr: "type is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nsteps: [{do: run}]\nassertions: [{type: vibes}]\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "trace_order without kinds",
			yaml:    "name: n\ndescription: d\nsteps: [{do: run}]\nassertions: [{type: trace_order}]\n",
			wantErr: "kinds list is required",
		},
		{
			name:    "subscribers without category",
			yaml:    "name: n\ndescription: d\nsteps: [{do: run}]\nassertions: [{type: subscribers}]\n",
			wantErr: "category is required for subscribers",
		},
		{
			name:    "negative count",
			yaml:    "name: n\ndescription: d\nsteps: [{do: run}]\nassertions: [{type: trace_count, kind: fanout, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	files, err := Discover("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			assert.NoError(t, err)
		})
	}
}
