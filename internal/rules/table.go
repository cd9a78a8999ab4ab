// Package rules holds the versioned rule table that decides which listed
// report variant is kept for a quarter, and the classifier that applies it.
package rules

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mops-cli/internal/model"
)

// DefaultVersion identifies the built-in rule table.
const DefaultVersion = "2024.1"

// Spec is the configuration form of a rule table.
type Spec struct {
	Version          string   `yaml:"version" mapstructure:"version"`
	ExcludeKeywords  []string `yaml:"exclude_keywords" mapstructure:"exclude_keywords"`
	ExcludePatterns  []string `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
	PrimaryKeywords  []string `yaml:"primary_keywords" mapstructure:"primary_keywords"`
	FilenamePatterns []string `yaml:"filename_patterns" mapstructure:"filename_patterns"`
	FlexibleKeywords []string `yaml:"flexible_keywords" mapstructure:"flexible_keywords"`
}

// DefaultSpec returns the built-in rule table.
func DefaultSpec() Spec {
	return Spec{
		Version:          DefaultVersion,
		ExcludeKeywords:  []string{"英文版"},
		ExcludePatterns:  []string{`AIA\.pdf$`, `AE2\.pdf$`},
		PrimaryKeywords:  []string{"IFRSs個別財報", "IFRSs個體財報"},
		FilenamePatterns: []string{`A12\.pdf$`, `A13\.pdf$`, `A1[0-9]\.pdf$`},
		FlexibleKeywords: []string{"IFRSs合併財報", "財務報告書"},
	}
}

// LoadFile reads a YAML rule file.
func LoadFile(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, model.NewError(model.ErrConfiguration, eris.Wrapf(err, "rules: read %s", path))
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, model.NewError(model.ErrConfiguration, eris.Wrapf(err, "rules: parse %s", path))
	}
	if spec.Version == "" {
		spec.Version = "custom"
	}
	return spec, nil
}

// rule is one compiled entry. Keyword rules match by substring, pattern
// rules by regular expression.
type rule struct {
	label   string
	keyword string
	re      *regexp.Regexp
}

func (r rule) match(text string) bool {
	if text == "" {
		return false
	}
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.keyword)
}

// Table is an immutable, compiled rule table. Evaluation order is
// exclusions, primary keywords, filename patterns, then flexible keywords.
type Table struct {
	spec       Spec
	exclusions []rule
	primary    []rule
	filenames  []rule
	flexible   []rule
}

// New compiles spec into a Table. Invalid patterns or a table with no
// primary-tier rules are configuration errors.
func New(spec Spec) (*Table, error) {
	t := &Table{spec: cloneSpec(spec)}
	if t.spec.Version == "" {
		t.spec.Version = "custom"
	}

	var err error
	if t.exclusions, err = keywords(spec.ExcludeKeywords); err != nil {
		return nil, err
	}
	pats, err := patterns(spec.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	t.exclusions = append(t.exclusions, pats...)
	if t.primary, err = keywords(spec.PrimaryKeywords); err != nil {
		return nil, err
	}
	if t.filenames, err = patterns(spec.FilenamePatterns); err != nil {
		return nil, err
	}
	if t.flexible, err = keywords(spec.FlexibleKeywords); err != nil {
		return nil, err
	}

	if len(t.primary) == 0 && len(t.filenames) == 0 {
		return nil, model.Errorf(model.ErrConfiguration, "rules: table %s has no primary keywords or filename patterns", t.spec.Version)
	}
	return t, nil
}

// Default compiles DefaultSpec. It panics only if the built-in table is broken.
func Default() *Table {
	t, err := New(DefaultSpec())
	if err != nil {
		panic(err)
	}
	return t
}

// Version returns the table's version label.
func (t *Table) Version() string { return t.spec.Version }

// Spec returns a copy of the table's configuration form.
func (t *Table) Spec() Spec { return cloneSpec(t.spec) }

func keywords(in []string) ([]rule, error) {
	out := make([]rule, 0, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, model.Errorf(model.ErrConfiguration, "rules: empty keyword")
		}
		out = append(out, rule{label: k, keyword: k})
	}
	return out, nil
}

func patterns(in []string) ([]rule, error) {
	out := make([]rule, 0, len(in))
	for _, p := range in {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, model.NewError(model.ErrConfiguration, eris.Wrapf(err, "rules: compile pattern %q", p))
		}
		out = append(out, rule{label: p, re: re})
	}
	return out, nil
}

func cloneSpec(s Spec) Spec {
	cp := func(in []string) []string {
		if in == nil {
			return nil
		}
		return append([]string(nil), in...)
	}
	return Spec{
		Version:          s.Version,
		ExcludeKeywords:  cp(s.ExcludeKeywords),
		ExcludePatterns:  cp(s.ExcludePatterns),
		PrimaryKeywords:  cp(s.PrimaryKeywords),
		FilenamePatterns: cp(s.FilenamePatterns),
		FlexibleKeywords: cp(s.FlexibleKeywords),
	}
}
