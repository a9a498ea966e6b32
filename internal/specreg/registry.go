package specreg

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"specforge/internal/logging"
	"specforge/internal/services"
)

// Registry holds registered grammars and the active version.
type Registry struct {
	mu       sync.RWMutex
	grammars map[string]*Grammar
	active   string
	logger   *slog.Logger
}

// New returns a registry seeded with the built-in grammars. The newest
// built-in version starts active.
func New(logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		grammars: make(map[string]*Grammar),
		logger:   logging.NewComponentLogger(logger, "specreg"),
	}
	builtins, err := loadBuiltins()
	if err != nil {
		return nil, fmt.Errorf("load builtin grammars: %w", err)
	}
	for _, g := range builtins {
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	versions := r.Versions()
	if len(versions) > 0 {
		r.active = versions[len(versions)-1]
	}
	return r, nil
}

// Register adds a grammar. Re-registering identical content is a no-op;
// changing a registered version is rejected.
func (r *Registry) Register(g *Grammar) error {
	if g == nil {
		return services.Fail(services.ErrValidation, services.CodeInvalidArgument, "register grammar", "grammar is nil", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.grammars[g.Version]; ok {
		if bytes.Equal(existing.raw, g.raw) {
			return nil
		}
		return services.Fail(services.ErrValidation, services.CodeInvalidArgument, "register grammar",
			fmt.Sprintf("version %s already registered from %s", g.Version, existing.Source), nil).
			WithHint("grammar versions are immutable; publish the change under a new version")
	}
	r.grammars[g.Version] = g
	return nil
}

// LoadDir registers every *.yaml and *.yml grammar in dir. Files that fail to
// parse or conflict are logged and skipped; the count of newly usable
// grammars is returned.
func (r *Registry) LoadDir(dir string) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read grammar dir: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isGrammarFile(entry.Name()) {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			logging.WarnWithContext(r.logger, "grammar file skipped", "grammar_load_failed",
				logging.String("path", entry.Name()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix or remove the grammar file"),
			)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// LoadFile parses and registers one grammar file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read grammar: %w", err)
	}
	g, err := ParseGrammar(data, path)
	if err != nil {
		return services.Fail(services.ErrValidation, services.CodeInvalidArgument, "load grammar", err.Error(), nil)
	}
	if err := r.Register(g); err != nil {
		return err
	}
	r.logger.Debug("grammar registered", logging.String(logging.FieldSpecVersion, g.Version), logging.String("path", path))
	return nil
}

func isGrammarFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Get returns a registered grammar.
func (r *Registry) Get(version string) (*Grammar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grammars[strings.TrimSpace(version)]
	if !ok {
		return nil, unknownVersion(version)
	}
	return g, nil
}

// Has reports whether version is registered.
func (r *Registry) Has(version string) bool {
	_, err := r.Get(version)
	return err == nil
}

// Versions lists registered versions in ascending order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.grammars))
	for v := range r.grammars {
		out = append(out, v)
	}
	slices.SortFunc(out, CompareVersions)
	return out
}

// Active returns the active grammar. Callers read it once at stage start and
// stamp its version into everything they persist.
func (r *Registry) Active() *Grammar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grammars[r.active]
}

// ActiveVersion returns the active version string.
func (r *Registry) ActiveVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Activate switches the active version. In-flight work keeps the version it
// stamped at start.
func (r *Registry) Activate(version string) error {
	version = strings.TrimSpace(version)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grammars[version]; !ok {
		return unknownVersion(version)
	}
	if r.active != version {
		r.logger.Info("spec version activated",
			logging.String(logging.FieldSpecVersion, version),
			logging.String("previous", r.active),
		)
	}
	r.active = version
	return nil
}

func unknownVersion(version string) error {
	return services.Fail(services.ErrPrecondition, services.CodeUnknownSpecVersion, "spec registry",
		fmt.Sprintf("spec version %q is not registered", version), nil).
		WithHint("run 'specforge spec list' to see registered versions")
}
