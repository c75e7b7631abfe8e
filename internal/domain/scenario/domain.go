package scenario

import (
	"fmt"
	"time"
)

type StimulusKind string

const (
	StimulusText   StimulusKind = "text"
	StimulusButton StimulusKind = "button"
)

type ExpectKind string

const (
	ExpectText        ExpectKind = "text"
	ExpectInteractive ExpectKind = "interactive"
)

// StimulusSpec describes the outbound action a step performs. A button
// stimulus does not carry a literal identifier: ButtonRef names a field
// extracted from an earlier step's reply.
type StimulusSpec struct {
	Kind      StimulusKind `mapstructure:"kind" json:"kind"`
	Text      string       `mapstructure:"text" json:"text,omitempty"`
	ButtonRef string       `mapstructure:"button_ref" json:"button_ref,omitempty"`
}

// ExpectationSpec describes the inbound payload required to advance a step.
// Extract maps a field name to a gjson path evaluated against the matched
// payload; extracted values are available to later steps via ButtonRef.
type ExpectationSpec struct {
	Kind      ExpectKind        `mapstructure:"kind" json:"kind"`
	Text      string            `mapstructure:"text" json:"text,omitempty"`
	ButtonIDs []string          `mapstructure:"button_ids" json:"button_ids,omitempty"`
	Extract   map[string]string `mapstructure:"extract" json:"extract,omitempty"`
}

type Step struct {
	ID         string          `mapstructure:"id" json:"id"`
	Stimulus   StimulusSpec    `mapstructure:"stimulus" json:"stimulus"`
	Expect     ExpectationSpec `mapstructure:"expect" json:"expect"`
	Timeout    time.Duration   `mapstructure:"timeout" json:"timeout"`
	MaxRetries int             `mapstructure:"max_retries" json:"max_retries"`
	// Redispatch controls whether a timed-out step may resend its stimulus.
	Redispatch bool `mapstructure:"redispatch" json:"redispatch"`
}

// Scenario is an ordered conversational test case. Immutable after Validate.
type Scenario struct {
	ID    string `mapstructure:"id" json:"id"`
	Name  string `mapstructure:"name" json:"name"`
	Steps []Step `mapstructure:"steps" json:"steps"`
}

const defaultStepTimeout = 5 * time.Second

func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario: missing id")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q: no steps", s.ID)
	}
	seen := make(map[string]struct{}, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.ID == "" {
			return fmt.Errorf("scenario %q: step %d: missing id", s.ID, i)
		}
		if _, dup := seen[st.ID]; dup {
			return fmt.Errorf("scenario %q: duplicate step id %q", s.ID, st.ID)
		}
		seen[st.ID] = struct{}{}

		switch st.Stimulus.Kind {
		case StimulusText:
			if st.Stimulus.Text == "" {
				return fmt.Errorf("scenario %q: step %q: text stimulus without text", s.ID, st.ID)
			}
		case StimulusButton:
			if st.Stimulus.ButtonRef == "" {
				return fmt.Errorf("scenario %q: step %q: button stimulus without button_ref", s.ID, st.ID)
			}
			if i == 0 {
				return fmt.Errorf("scenario %q: step %q: button stimulus cannot open a scenario", s.ID, st.ID)
			}
		default:
			return fmt.Errorf("scenario %q: step %q: unknown stimulus kind %q", s.ID, st.ID, st.Stimulus.Kind)
		}

		switch st.Expect.Kind {
		case ExpectText, ExpectInteractive:
		default:
			return fmt.Errorf("scenario %q: step %q: unknown expectation kind %q", s.ID, st.ID, st.Expect.Kind)
		}

		if st.Timeout <= 0 {
			st.Timeout = defaultStepTimeout
		}
		if st.MaxRetries < 0 {
			return fmt.Errorf("scenario %q: step %q: negative max_retries", s.ID, st.ID)
		}
	}
	return nil
}
