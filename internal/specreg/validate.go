package specreg

import (
	"fmt"
	"strings"

	"specforge/internal/dsl"
)

// Validation phases.
const (
	PhaseSyntax   = "syntax"
	PhaseSemantic = "semantic"
)

// fieldKind is the structural type expected for a field.
type fieldKind int

const (
	kindString fieldKind = iota
	kindInteger
	kindNumber
	kindMapping
	kindList
)

func (k fieldKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindInteger:
		return "integer"
	case kindNumber:
		return "number"
	case kindMapping:
		return "mapping"
	case kindList:
		return "list"
	default:
		return "value"
	}
}

type fieldRule struct {
	name     string
	kind     fieldKind
	required bool
}

var sectionKinds = map[string]fieldKind{
	dsl.SectionMeta:     kindMapping,
	dsl.SectionCanvas:   kindMapping,
	dsl.SectionAssets:   kindList,
	dsl.SectionEntities: kindList,
	dsl.SectionTimeline: kindList,
}

var (
	metaRules = []fieldRule{
		{"title", kindString, true},
		{"idea_id", kindInteger, false},
		{"spec_version", kindString, false},
		{"seed", kindInteger, false},
	}
	canvasRules = []fieldRule{
		{"width", kindInteger, true},
		{"height", kindInteger, true},
		{"fps", kindInteger, true},
		{"duration", kindNumber, true},
		{"background", kindString, false},
	}
	assetRules = []fieldRule{
		{"id", kindString, true},
		{"kind", kindString, true},
		{"source", kindString, false},
	}
	entityRules = []fieldRule{
		{"id", kindString, true},
		{"primitive", kindString, true},
		{"asset", kindString, false},
		{"props", kindMapping, false},
	}
	eventRules = []fieldRule{
		{"at", kindNumber, true},
		{"duration", kindNumber, true},
		{"target", kindString, true},
		{"action", kindString, true},
		{"params", kindMapping, false},
	}
	listItemRules = map[string][]fieldRule{
		dsl.SectionAssets:   assetRules,
		dsl.SectionEntities: entityRules,
		dsl.SectionTimeline: eventRules,
	}
)

// SyntaxValidate checks text against the structural schema: it must parse,
// carry every required top-level section, and use the expected field types.
// The typed document is returned only when the report is clean.
func (g *Grammar) SyntaxValidate(text string) (*dsl.Document, dsl.Report) {
	report := dsl.Report{Phase: PhaseSyntax}
	tree, err := dsl.Decode(text)
	if err != nil {
		report.Violations = append(report.Violations, dsl.Violation{
			Path: "$", Expected: "YAML or JSON mapping", Got: err.Error(),
		})
		return nil, report
	}

	for _, section := range g.Sections {
		value, ok := tree[section]
		if !ok {
			report.Violations = append(report.Violations, dsl.Violation{
				Path: section, Expected: "required section", Got: "missing",
			})
			continue
		}
		kind, known := sectionKinds[section]
		if !known {
			continue
		}
		if !matches(kind, value) {
			report.Violations = append(report.Violations, dsl.Violation{
				Path: section, Expected: kind.String(), Got: dsl.Describe(value),
			})
			continue
		}
		switch section {
		case dsl.SectionMeta:
			report.Violations = append(report.Violations, checkFields(section, value.(map[string]any), metaRules)...)
		case dsl.SectionCanvas:
			report.Violations = append(report.Violations, checkFields(section, value.(map[string]any), canvasRules)...)
		default:
			rules := listItemRules[section]
			for i, item := range value.([]any) {
				path := fmt.Sprintf("%s[%d]", section, i)
				m, ok := item.(map[string]any)
				if !ok {
					report.Violations = append(report.Violations, dsl.Violation{
						Path: path, Expected: "mapping", Got: dsl.Describe(item),
					})
					continue
				}
				report.Violations = append(report.Violations, checkFields(path, m, rules)...)
			}
		}
	}
	if !report.OK() {
		return nil, report
	}

	doc, err := dsl.Parse(text)
	if err != nil {
		report.Violations = append(report.Violations, dsl.Violation{
			Path: "$", Expected: "document matching the schema", Got: err.Error(),
		})
		return nil, report
	}
	return doc, report
}

func checkFields(prefix string, m map[string]any, rules []fieldRule) []dsl.Violation {
	var out []dsl.Violation
	for _, rule := range rules {
		path := prefix + "." + rule.name
		value, ok := m[rule.name]
		if !ok || value == nil {
			if rule.required {
				out = append(out, dsl.Violation{Path: path, Expected: rule.kind.String(), Got: "missing"})
			}
			continue
		}
		if !matches(rule.kind, value) {
			out = append(out, dsl.Violation{Path: path, Expected: rule.kind.String(), Got: dsl.Describe(value)})
		}
	}
	return out
}

func matches(kind fieldKind, value any) bool {
	switch kind {
	case kindString:
		_, ok := value.(string)
		return ok
	case kindInteger:
		switch value.(type) {
		case int, int64, uint64:
			return true
		}
		return false
	case kindNumber:
		switch value.(type) {
		case int, int64, uint64, float64:
			return true
		}
		return false
	case kindMapping:
		_, ok := value.(map[string]any)
		return ok
	case kindList:
		_, ok := value.([]any)
		return ok
	default:
		return false
	}
}

// SemanticValidate cross-checks a structurally valid document: references
// resolve, identifiers are unique, output is not trivial, numbers are in
// range, and primitives and actions are in the allowlist.
func (g *Grammar) SemanticValidate(doc *dsl.Document) dsl.Report {
	report := dsl.Report{Phase: PhaseSemantic}
	add := func(path, expected, got string) {
		report.Violations = append(report.Violations, dsl.Violation{Path: path, Expected: expected, Got: got})
	}
	if doc == nil {
		add("$", "document", "null")
		return report
	}
	l := g.Limits

	if strings.TrimSpace(doc.Meta.Title) == "" {
		add("meta.title", "non-empty title", "empty string")
	}
	if doc.Meta.SpecVersion != "" && doc.Meta.SpecVersion != g.Version {
		add("meta.spec_version", g.Version, doc.Meta.SpecVersion)
	}

	c := doc.Canvas
	if c.Width < l.MinSize || c.Width > l.MaxWidth {
		add("canvas.width", fmt.Sprintf("integer in [%d, %d]", l.MinSize, l.MaxWidth), fmt.Sprint(c.Width))
	}
	if c.Height < l.MinSize || c.Height > l.MaxHeight {
		add("canvas.height", fmt.Sprintf("integer in [%d, %d]", l.MinSize, l.MaxHeight), fmt.Sprint(c.Height))
	}
	if c.FPS < 1 || c.FPS > l.MaxFPS {
		add("canvas.fps", fmt.Sprintf("integer in [1, %d]", l.MaxFPS), fmt.Sprint(c.FPS))
	}
	if c.Duration <= 0 || c.Duration > l.MaxDuration {
		add("canvas.duration", fmt.Sprintf("seconds in (0, %g]", l.MaxDuration), fmt.Sprint(c.Duration))
	}

	assets := make(map[string]bool, len(doc.Assets))
	for i, a := range doc.Assets {
		path := fmt.Sprintf("assets[%d]", i)
		switch {
		case strings.TrimSpace(a.ID) == "":
			add(path+".id", "non-empty id", "empty string")
		case assets[a.ID]:
			add(path+".id", "unique asset id", a.ID)
		}
		assets[a.ID] = true
		if !g.HasAssetKind(a.Kind) {
			add(path+".kind", "one of "+strings.Join(g.AssetKinds, "|"), a.Kind)
		}
	}

	if len(doc.Entities) == 0 {
		add("entities", "at least one entity", "empty list")
	}
	if len(doc.Entities) > l.MaxEntities {
		add("entities", fmt.Sprintf("at most %d entities", l.MaxEntities), fmt.Sprint(len(doc.Entities)))
	}
	entities := make(map[string]bool, len(doc.Entities))
	for i, e := range doc.Entities {
		path := fmt.Sprintf("entities[%d]", i)
		switch {
		case strings.TrimSpace(e.ID) == "":
			add(path+".id", "non-empty id", "empty string")
		case entities[e.ID]:
			add(path+".id", "unique entity id", e.ID)
		}
		entities[e.ID] = true
		if !g.HasPrimitive(e.Primitive) {
			add(path+".primitive", "one of "+strings.Join(g.Primitives, "|"), e.Primitive)
		}
		if e.Asset != "" && !assets[e.Asset] {
			add(path+".asset", "declared asset id", e.Asset)
		}
	}

	if len(doc.Timeline) == 0 {
		add("timeline", "at least one event", "empty list")
	}
	if len(doc.Timeline) > l.MaxEvents {
		add("timeline", fmt.Sprintf("at most %d events", l.MaxEvents), fmt.Sprint(len(doc.Timeline)))
	}
	for i, ev := range doc.Timeline {
		path := fmt.Sprintf("timeline[%d]", i)
		if !entities[ev.Target] || strings.TrimSpace(ev.Target) == "" {
			add(path+".target", "declared entity id", ev.Target)
		}
		if !g.HasAction(ev.Action) {
			add(path+".action", "one of "+strings.Join(g.Actions, "|"), ev.Action)
		}
		if ev.At < 0 {
			add(path+".at", "non-negative seconds", fmt.Sprint(ev.At))
		}
		if ev.Duration <= 0 {
			add(path+".duration", "positive seconds", fmt.Sprint(ev.Duration))
		}
		if c.Duration > 0 && ev.At+ev.Duration > c.Duration {
			add(path, fmt.Sprintf("event ending within canvas.duration %g", c.Duration), fmt.Sprint(ev.At+ev.Duration))
		}
	}
	return report
}

// Validate runs syntax then semantic validation and returns the reports
// produced. The document is nil unless syntax validation passed.
func (g *Grammar) Validate(text string) (*dsl.Document, []dsl.Report) {
	doc, syntax := g.SyntaxValidate(text)
	if !syntax.OK() {
		return nil, []dsl.Report{syntax}
	}
	return doc, []dsl.Report{syntax, g.SemanticValidate(doc)}
}
