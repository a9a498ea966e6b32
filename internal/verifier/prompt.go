package verifier

import (
	"fmt"
	"strings"

	"specforge/internal/dsl"
	"specforge/internal/specreg"
	"specforge/internal/store"
	"specforge/internal/textgen"
)

const systemPrompt = `You decide whether a content idea can be expressed in a declarative animation specification language.
Break the idea into the concrete visual and behavioral features it needs and judge each one separately.
A feature is representable only when the listed primitives, timeline actions, and asset kinds can express it directly.
Never invent capabilities that are not listed.`

const responseSchema = `{
  "features": [
    {"feature": "short name of the capability", "representable": true, "reason": "why it can or cannot be expressed", "impact": "low|medium|high"}
  ],
  "confidence": 0.0,
  "summary": "one sentence"
}`

const maxKnownGaps = 40

// judgement is the backend's structured verdict.
type judgement struct {
	Features   []featureJudgement `json:"features"`
	Confidence *float64           `json:"confidence"`
	Summary    string             `json:"summary"`
}

type featureJudgement struct {
	Feature       string `json:"feature"`
	Representable *bool  `json:"representable"`
	Reason        string `json:"reason"`
	Impact        string `json:"impact"`
}

// checkJudgement rejects anything that is not a complete verdict. An empty
// feature list is malformed: every idea needs at least one feature.
func checkJudgement(j *judgement) []dsl.Violation {
	var out []dsl.Violation
	if len(j.Features) == 0 {
		out = append(out, dsl.Violation{Path: "features", Expected: "non-empty list", Got: "empty"})
	}
	for i, f := range j.Features {
		path := fmt.Sprintf("features[%d]", i)
		if strings.TrimSpace(f.Feature) == "" {
			out = append(out, dsl.Violation{Path: path + ".feature", Expected: "non-empty string", Got: "empty"})
		}
		if f.Representable == nil {
			out = append(out, dsl.Violation{Path: path + ".representable", Expected: "boolean", Got: "missing"})
			continue
		}
		if !*f.Representable && strings.TrimSpace(f.Reason) == "" {
			out = append(out, dsl.Violation{Path: path + ".reason", Expected: "non-empty string for unrepresentable feature", Got: "empty"})
		}
	}
	switch {
	case j.Confidence == nil:
		out = append(out, dsl.Violation{Path: "confidence", Expected: "number in [0,1]", Got: "missing"})
	case *j.Confidence < 0 || *j.Confidence > 1:
		out = append(out, dsl.Violation{Path: "confidence", Expected: "number in [0,1]", Got: fmt.Sprintf("%g", *j.Confidence)})
	}
	return out
}

func buildRequest(c *store.Candidate, g *specreg.Grammar, known []*store.Gap) textgen.Request {
	sections := []string{"Specification language capabilities:\n" + g.Allowlist()}
	if len(known) > 0 {
		var b strings.Builder
		b.WriteString("Known capability gaps. When the idea needs one of these, reuse its feature and reason text exactly:\n")
		for _, gap := range known {
			fmt.Fprintf(&b, "- feature: %s | reason: %s\n", gap.Feature, gap.Reason)
		}
		sections = append(sections, strings.TrimSpace(b.String()))
	}
	instruction := fmt.Sprintf("Idea title: %s\nSummary: %s\nExpected outcome: %s\n\nJudge every feature this idea requires.",
		strings.TrimSpace(c.Title), strings.TrimSpace(c.Summary), strings.TrimSpace(c.ExpectedOutcome))
	return textgen.Request{
		Purpose:     textgen.PurposeVerify,
		System:      systemPrompt,
		Context:     sections,
		Instruction: instruction,
		Schema:      responseSchema,
		JSON:        true,
	}
}
