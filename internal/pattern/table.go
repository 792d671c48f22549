package pattern

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/figuro/voice/pkg/types"
)

//go:embed patterns.yaml
var defaultTableYAML []byte

// TableSpec is the YAML form of a pattern table. It is only used to build a
// [Table]; matching never reads it.
type TableSpec struct {
	// Priority is the total order over intents used when several could match.
	Priority []types.Intent `yaml:"priority"`

	// Intents maps each intent to the patterns that select it.
	Intents map[types.Intent][]string `yaml:"intents"`

	// Entities lists the entity families in extraction order.
	Entities []EntitySpec `yaml:"entities"`

	// Heuristics is the keyword backstop, tried in order.
	Heuristics []HeuristicSpec `yaml:"heuristics"`
}

// EntitySpec is one entity family.
type EntitySpec struct {
	Type     string   `yaml:"type"`
	Patterns []string `yaml:"patterns"`
}

// HeuristicSpec maps diacritic-free keywords to an intent.
type HeuristicSpec struct {
	Intent   types.Intent `yaml:"intent"`
	Keywords []string     `yaml:"keywords"`
}

// rule is a compiled pattern in both its raw and folded form.
type rule struct {
	raw    *regexp.Regexp
	folded *regexp.Regexp
}

type intentRules struct {
	intent types.Intent
	rules  []rule
}

type entityRules struct {
	typ   string
	rules []rule
}

type heuristic struct {
	intent types.Intent
	re     *regexp.Regexp
}

// Table is a compiled, immutable pattern table. It is safe to share between
// goroutines and matchers.
type Table struct {
	intents    []intentRules
	entities   []entityRules
	heuristics []heuristic
}

// DefaultTable compiles the built-in storefront tables.
func DefaultTable() (*Table, error) {
	spec, err := DecodeSpec(bytes.NewReader(defaultTableYAML))
	if err != nil {
		return nil, err
	}
	return Compile(spec)
}

// MustDefaultTable is like [DefaultTable] but panics on error. The built-in
// table is covered by tests, so a failure here is a programming error.
func MustDefaultTable() *Table {
	t, err := DefaultTable()
	if err != nil {
		panic("pattern: default table: " + err.Error())
	}
	return t
}

// LoadTableFile reads and compiles a table from a YAML file.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pattern: open %q: %w", path, err)
	}
	defer f.Close()

	spec, err := DecodeSpec(f)
	if err != nil {
		return nil, fmt.Errorf("pattern: %q: %w", path, err)
	}
	return Compile(spec)
}

// DecodeSpec decodes a YAML table spec from r. Unknown fields are rejected.
func DecodeSpec(r io.Reader) (TableSpec, error) {
	var spec TableSpec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return TableSpec{}, fmt.Errorf("pattern: decode yaml: %w", err)
	}
	return spec, nil
}

// Compile validates spec and compiles every pattern. All problems are
// reported at once.
func Compile(spec TableSpec) (*Table, error) {
	var errs []error
	t := &Table{}

	seen := make(map[types.Intent]bool, len(spec.Priority))
	for _, in := range spec.Priority {
		switch {
		case !in.Valid() || in == types.IntentUnknown:
			errs = append(errs, fmt.Errorf("priority: %q is not a classifiable intent", in))
			continue
		case seen[in]:
			errs = append(errs, fmt.Errorf("priority: %q listed twice", in))
			continue
		}
		seen[in] = true

		ir := intentRules{intent: in}
		for i, src := range spec.Intents[in] {
			r, err := compileRule(src)
			if err != nil {
				errs = append(errs, fmt.Errorf("intents.%s[%d]: %w", in, i, err))
				continue
			}
			ir.rules = append(ir.rules, r)
		}
		t.intents = append(t.intents, ir)
	}

	// Every intent with patterns must have a place in the order.
	keys := make([]types.Intent, 0, len(spec.Intents))
	for in := range spec.Intents {
		keys = append(keys, in)
	}
	slices.Sort(keys)
	for _, in := range keys {
		if !seen[in] {
			errs = append(errs, fmt.Errorf("intents.%s: missing from priority", in))
		}
	}

	for i, es := range spec.Entities {
		if es.Type == "" {
			errs = append(errs, fmt.Errorf("entities[%d]: type is required", i))
			continue
		}
		er := entityRules{typ: es.Type}
		for j, src := range es.Patterns {
			r, err := compileRule(src)
			if err != nil {
				errs = append(errs, fmt.Errorf("entities[%d].patterns[%d]: %w", i, j, err))
				continue
			}
			er.rules = append(er.rules, r)
		}
		t.entities = append(t.entities, er)
	}

	for i, hs := range spec.Heuristics {
		if !hs.Intent.Valid() || hs.Intent == types.IntentUnknown {
			errs = append(errs, fmt.Errorf("heuristics[%d]: %q is not a classifiable intent", i, hs.Intent))
			continue
		}
		if len(hs.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("heuristics[%d]: keywords are required", i))
			continue
		}
		words := make([]string, len(hs.Keywords))
		for j, kw := range hs.Keywords {
			words[j] = regexp.QuoteMeta(Fold(kw))
		}
		re, err := regexp.Compile(`\b(?:` + strings.Join(words, "|") + `)\b`)
		if err != nil {
			errs = append(errs, fmt.Errorf("heuristics[%d]: %w", i, err))
			continue
		}
		t.heuristics = append(t.heuristics, heuristic{intent: hs.Intent, re: re})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pattern: compile table: %w", err)
	}
	return t, nil
}

func compileRule(src string) (rule, error) {
	raw, err := regexp.Compile("(?i)" + src)
	if err != nil {
		return rule{}, err
	}
	folded, err := regexp.Compile("(?i)" + StripMarks(src))
	if err != nil {
		return rule{}, fmt.Errorf("folded form: %w", err)
	}
	return rule{raw: raw, folded: folded}, nil
}

// Priority returns the intent precedence order of the table.
func (t *Table) Priority() []types.Intent {
	out := make([]types.Intent, len(t.intents))
	for i, ir := range t.intents {
		out[i] = ir.intent
	}
	return out
}
