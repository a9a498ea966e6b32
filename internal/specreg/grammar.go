package specreg

import (
	"embed"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed grammars/*.yaml
var builtinFS embed.FS

// Limits bounds numeric values in a document.
type Limits struct {
	MinSize     int     `yaml:"min_size" json:"min_size"`
	MaxWidth    int     `yaml:"max_width" json:"max_width"`
	MaxHeight   int     `yaml:"max_height" json:"max_height"`
	MaxFPS      int     `yaml:"max_fps" json:"max_fps"`
	MaxDuration float64 `yaml:"max_duration" json:"max_duration"`
	MaxEntities int     `yaml:"max_entities" json:"max_entities"`
	MaxEvents   int     `yaml:"max_events" json:"max_events"`
}

// Grammar is one immutable version of the DSL schema plus the renderer's
// primitive allowlist.
type Grammar struct {
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description" json:"description"`
	Sections    []string `yaml:"sections" json:"sections"`
	Primitives  []string `yaml:"primitives" json:"primitives"`
	Actions     []string `yaml:"actions" json:"actions"`
	AssetKinds  []string `yaml:"asset_kinds" json:"asset_kinds"`
	Limits      Limits   `yaml:"limits" json:"limits"`
	Source      string   `yaml:"-" json:"source"`
	raw         []byte
}

// ParseGrammar decodes and checks a grammar definition.
func ParseGrammar(data []byte, source string) (*Grammar, error) {
	var g Grammar
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse grammar %s: %w", source, err)
	}
	g.Version = strings.TrimSpace(g.Version)
	g.Source = source
	g.raw = data
	if err := g.check(); err != nil {
		return nil, fmt.Errorf("grammar %s: %w", source, err)
	}
	return &g, nil
}

func (g *Grammar) check() error {
	if g.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, ok := parseVersion(g.Version); !ok {
		return fmt.Errorf("version %q must be dotted numeric", g.Version)
	}
	if len(g.Sections) == 0 {
		return fmt.Errorf("sections must not be empty")
	}
	if len(g.Primitives) == 0 {
		return fmt.Errorf("primitives must not be empty")
	}
	if len(g.Actions) == 0 {
		return fmt.Errorf("actions must not be empty")
	}
	l := g.Limits
	if l.MinSize <= 0 || l.MaxWidth < l.MinSize || l.MaxHeight < l.MinSize {
		return fmt.Errorf("limits: invalid size bounds")
	}
	if l.MaxFPS <= 0 || l.MaxDuration <= 0 || l.MaxEntities <= 0 || l.MaxEvents <= 0 {
		return fmt.Errorf("limits: fps, duration, entities, and events must be positive")
	}
	return nil
}

// HasPrimitive reports whether name is in the primitive allowlist.
func (g *Grammar) HasPrimitive(name string) bool { return slices.Contains(g.Primitives, name) }

// HasAction reports whether name is in the action allowlist.
func (g *Grammar) HasAction(name string) bool { return slices.Contains(g.Actions, name) }

// HasAssetKind reports whether kind is an accepted asset kind.
func (g *Grammar) HasAssetKind(kind string) bool { return slices.Contains(g.AssetKinds, kind) }

// Allowlist renders the capability allowlist as prompt context.
func (g *Grammar) Allowlist() string {
	var b strings.Builder
	fmt.Fprintf(&b, "DSL version %s", g.Version)
	if g.Description != "" {
		fmt.Fprintf(&b, " (%s)", g.Description)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Required sections: %s\n", strings.Join(g.Sections, ", "))
	fmt.Fprintf(&b, "Primitives: %s\n", strings.Join(g.Primitives, ", "))
	fmt.Fprintf(&b, "Timeline actions: %s\n", strings.Join(g.Actions, ", "))
	fmt.Fprintf(&b, "Asset kinds: %s\n", strings.Join(g.AssetKinds, ", "))
	fmt.Fprintf(&b, "Canvas: %d-%dx%d-%d px, up to %d fps, up to %gs\n",
		g.Limits.MinSize, g.Limits.MaxWidth, g.Limits.MinSize, g.Limits.MaxHeight,
		g.Limits.MaxFPS, g.Limits.MaxDuration)
	fmt.Fprintf(&b, "At most %d entities and %d timeline events.", g.Limits.MaxEntities, g.Limits.MaxEvents)
	return b.String()
}

func loadBuiltins() ([]*Grammar, error) {
	entries, err := builtinFS.ReadDir("grammars")
	if err != nil {
		return nil, err
	}
	out := make([]*Grammar, 0, len(entries))
	for _, entry := range entries {
		name := path.Join("grammars", entry.Name())
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		g, err := ParseGrammar(data, "builtin:"+entry.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func parseVersion(v string) ([]int, bool) {
	parts := strings.Split(v, ".")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false
		}
		nums[i] = n
	}
	return nums, true
}

// CompareVersions orders dotted numeric versions. Missing components count as zero.
func CompareVersions(a, b string) int {
	av, _ := parseVersion(a)
	bv, _ := parseVersion(b)
	for i := 0; i < max(len(av), len(bv)); i++ {
		var x, y int
		if i < len(av) {
			x = av[i]
		}
		if i < len(bv) {
			y = bv[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
