package verify

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/softmech/journeyprobe/internal/domain/probe"
	"github.com/softmech/journeyprobe/internal/domain/scenario"
)

type Reason string

const (
	ReasonNone           Reason = ""
	ReasonMissingField   Reason = "missing_field"
	ReasonWrongKind      Reason = "wrong_kind"
	ReasonTextMismatch   Reason = "text_mismatch"
	ReasonButtonMismatch Reason = "button_mismatch"
	ReasonExtractMissing Reason = "extract_missing"
)

// Verdict is the outcome of matching one inbound payload against a step's
// expectation. Fields holds the values extracted for later steps.
type Verdict struct {
	Pass   bool
	Reason Reason
	Detail string
	Fields map[string]string
}

func pass(fields map[string]string) Verdict {
	return Verdict{Pass: true, Fields: fields}
}

func mismatch(r Reason, format string, args ...any) Verdict {
	return Verdict{Reason: r, Detail: fmt.Sprintf(format, args...)}
}

// Verify checks the payload structurally and by content against spec.
// Matching is strict about declared requirements and silent about anything
// the spec does not mention.
func Verify(spec scenario.ExpectationSpec, ev *probe.InboundEvent) Verdict {
	body := ev.Body

	kind := gjson.GetBytes(body, "message.type")
	if !kind.Exists() {
		return mismatch(ReasonMissingField, "message.type absent")
	}

	switch spec.Kind {
	case scenario.ExpectText:
		if kind.String() != "text" {
			return mismatch(ReasonWrongKind, "want text, got %q", kind.String())
		}
	case scenario.ExpectInteractive:
		if kind.String() != "interactive" {
			return mismatch(ReasonWrongKind, "want interactive, got %q", kind.String())
		}
	default:
		return mismatch(ReasonWrongKind, "unknown expectation kind %q", spec.Kind)
	}

	text := gjson.GetBytes(body, "message.text.body")
	if spec.Text != "" {
		if !text.Exists() {
			return mismatch(ReasonMissingField, "message.text.body absent")
		}
		if text.String() != spec.Text {
			return mismatch(ReasonTextMismatch, "want %q, got %q", spec.Text, text.String())
		}
	}

	if spec.Kind == scenario.ExpectInteractive {
		buttons := gjson.GetBytes(body, "message.buttons")
		if !buttons.Exists() || !buttons.IsArray() || len(buttons.Array()) == 0 {
			return mismatch(ReasonMissingField, "message.buttons absent or empty")
		}
		if len(spec.ButtonIDs) > 0 && !anyButtonMatches(buttons, spec.ButtonIDs) {
			return mismatch(ReasonButtonMismatch, "no button id among %v", spec.ButtonIDs)
		}
	}

	var fields map[string]string
	if len(spec.Extract) > 0 {
		fields = make(map[string]string, len(spec.Extract))
		for name, path := range spec.Extract {
			v := gjson.GetBytes(body, path)
			if !v.Exists() {
				return mismatch(ReasonExtractMissing, "field %q: path %q absent", name, path)
			}
			fields[name] = v.String()
		}
	}
	return pass(fields)
}

func anyButtonMatches(buttons gjson.Result, ids []string) bool {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	found := false
	buttons.ForEach(func(_, b gjson.Result) bool {
		if _, ok := want[b.Get("id").String()]; ok {
			found = true
			return false
		}
		return true
	})
	return found
}
