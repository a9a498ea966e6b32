package compiler

import (
	"fmt"
	"strings"

	"specforge/internal/dsl"
	"specforge/internal/specreg"
	"specforge/internal/store"
	"specforge/internal/textgen"
)

const generateSystem = `You write animation specifications in a strict YAML dialect.
Output only the YAML document. Do not wrap it in code fences or add commentary.
Use only the primitives, actions, and asset kinds you are given, and keep every number inside the stated limits.`

const repairSystem = `You fix animation specifications written in a strict YAML dialect.
You receive a document and the violations a validator reported. Return the complete corrected YAML document only.
Change what the violations require and keep everything else.`

const documentShape = `meta:
  title: <string>
canvas:
  width: <int>
  height: <int>
  fps: <int>
  duration: <seconds>
  background: <color, optional>
assets:
  - id: <string>
    kind: <asset kind>
    source: <path or url>
entities:
  - id: <string>
    primitive: <primitive>
    asset: <asset id, optional>
    props: {<key>: <value>}
timeline:
  - at: <seconds>
    duration: <seconds>
    target: <entity id>
    action: <action>
    params: {<key>: <value>}`

func generateRequest(c *store.Candidate, g *specreg.Grammar, base string) textgen.Request {
	sections := []string{"Specification language:\n" + g.Allowlist()}
	if strings.TrimSpace(base) != "" {
		sections = append(sections, "Start from this base template and adapt it:\n"+base)
	}
	return textgen.Request{
		Purpose: textgen.PurposeGenerate,
		System:  generateSystem,
		Context: sections,
		Instruction: fmt.Sprintf("Write a specification for this idea.\nTitle: %s\nSummary: %s\nExpected outcome: %s",
			strings.TrimSpace(c.Title), strings.TrimSpace(c.Summary), strings.TrimSpace(c.ExpectedOutcome)),
		Schema:      documentShape,
		Temperature: 0.4,
	}
}

func repairRequest(g *specreg.Grammar, previous string, report dsl.Report) textgen.Request {
	var b strings.Builder
	for _, v := range report.Violations {
		fmt.Fprintf(&b, "- path: %s\n  expected: %s\n  got: %s\n", v.Path, v.Expected, v.Got)
	}
	return textgen.Request{
		Purpose: textgen.PurposeRepair,
		System:  repairSystem,
		Context: []string{
			"Specification language:\n" + g.Allowlist(),
			"Previous document:\n" + previous,
			fmt.Sprintf("Violations (%s validation):\n%s", report.Phase, strings.TrimRight(b.String(), "\n")),
		},
		Instruction: "Return the corrected document.",
		Schema:      documentShape,
	}
}

// stripFences removes a surrounding markdown code fence if the model added one.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
