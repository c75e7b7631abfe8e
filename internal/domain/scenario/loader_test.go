package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenarios(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeScenarios(t, `
scenarios:
  - id: journey
    name: Order journey
    steps:
      - id: trigger
        stimulus:
          kind: text
          text: hi
        expect:
          kind: interactive
          text: "hello world!"
          extract:
            button_id: message.buttons.0.id
        timeout: 5s
        max_retries: 2
        redispatch: true
      - id: pick
        stimulus:
          kind: button
          button_ref: button_id
        expect:
          kind: text
          text: done
`)

	scns, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, scns, 1)

	s := scns[0]
	assert.Equal(t, "journey", s.ID)
	require.Len(t, s.Steps, 2)

	first := s.Steps[0]
	assert.Equal(t, StimulusText, first.Stimulus.Kind)
	assert.Equal(t, "hi", first.Stimulus.Text)
	assert.Equal(t, ExpectInteractive, first.Expect.Kind)
	assert.Equal(t, "message.buttons.0.id", first.Expect.Extract["button_id"])
	assert.Equal(t, 5*time.Second, first.Timeout)
	assert.Equal(t, 2, first.MaxRetries)
	assert.True(t, first.Redispatch)

	second := s.Steps[1]
	assert.Equal(t, StimulusButton, second.Stimulus.Kind)
	assert.Equal(t, "button_id", second.Stimulus.ButtonRef)
	assert.Equal(t, defaultStepTimeout, second.Timeout)
	assert.False(t, second.Redispatch)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("empty scenario list", func(t *testing.T) {
		path := writeScenarios(t, "scenarios: []\n")
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no scenarios")
	})

	t.Run("duplicate scenario id", func(t *testing.T) {
		path := writeScenarios(t, `
scenarios:
  - id: dup
    steps:
      - id: s1
        stimulus: {kind: text, text: hi}
        expect: {kind: text}
  - id: dup
    steps:
      - id: s1
        stimulus: {kind: text, text: hi}
        expect: {kind: text}
`)
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate scenario id")
	})

	t.Run("invalid scenario surfaces validate error", func(t *testing.T) {
		path := writeScenarios(t, `
scenarios:
  - id: bad
    steps:
      - id: s1
        stimulus: {kind: button, button_ref: x}
        expect: {kind: text}
`)
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot open a scenario")
	})
}
