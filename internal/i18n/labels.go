// Package i18n provides the static label tables used by the report exports
// and the form front-end.
//
// Label tables are YAML files embedded from locales/, one per language code.
// Lookups are exact: an unknown code is an error, never a silent fallback to
// another language.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/DukeRupert/eightd/internal/domain"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

// Labels holds every user-visible label of one language.
type Labels struct {
	Language         string            `yaml:"-" json:"language"`
	ReportTitle      string            `yaml:"report_title" json:"report_title"`
	ReportDate       string            `yaml:"report_date" json:"report_date"`
	PreparedBy       string            `yaml:"prepared_by" json:"prepared_by"`
	HeaderStep       string            `yaml:"header_step" json:"header_step"`
	HeaderAnswer     string            `yaml:"header_answer" json:"header_answer"`
	HeaderExtra      string            `yaml:"header_extra" json:"header_extra"`
	Steps            map[string]string `yaml:"steps" json:"steps"`
	Occurrence       string            `yaml:"occurrence" json:"occurrence"`
	Detection        string            `yaml:"detection" json:"detection"`
	Why              string            `yaml:"why" json:"why"`
	RootCause        string            `yaml:"root_cause" json:"root_cause"`
	SystemicAnalysis string            `yaml:"systemic_analysis" json:"systemic_analysis"`
	GeneratedOn      string            `yaml:"generated_on" json:"generated_on"`
	Page             string            `yaml:"page" json:"page"`
}

// Step returns the label of a step, e.g. "D2: Problem Description".
func (l *Labels) Step(s domain.Step) string {
	return l.Steps[s.String()]
}

// Category returns the label of a why chain.
func (l *Labels) Category(c domain.WhyCategory) string {
	if c == domain.WhyDetection {
		return l.Detection
	}
	return l.Occurrence
}

// WhyLabel returns the label of the n-th why entry (1-based), e.g. "Why 2".
func (l *Labels) WhyLabel(n int) string {
	return fmt.Sprintf("%s %d", l.Why, n)
}

// Table maps canonical language codes to label sets.
type Table struct {
	labels map[string]*Labels
}

// Load parses every *.yaml file in fsys. The file name without extension is
// the language code.
func Load(fsys fs.FS) (*Table, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locales: %w", err)
	}

	t := &Table{labels: make(map[string]*Labels, len(files))}
	for _, file := range files {
		code, err := canonical(strings.TrimSuffix(path.Base(file), path.Ext(file)))
		if err != nil {
			return nil, fmt.Errorf("locale file %s: %w", file, err)
		}

		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}

		var l Labels
		if err := yaml.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		l.Language = code

		if err := l.validate(); err != nil {
			return nil, fmt.Errorf("locale %s: %w", code, err)
		}
		t.labels[code] = &l
	}

	if len(t.labels) == 0 {
		return nil, fmt.Errorf("no locale files found")
	}
	return t, nil
}

// Lookup returns the labels of a language code. Codes are canonicalized
// ("EN" resolves to "en") but never matched to a different language.
func (t *Table) Lookup(code string) (*Labels, error) {
	c, err := canonical(code)
	if err != nil {
		return nil, unknownLocale(code)
	}
	l, ok := t.labels[c]
	if !ok {
		return nil, unknownLocale(code)
	}
	return l, nil
}

// Supported returns the available language codes, sorted.
func (t *Table) Supported() []string {
	codes := make([]string, 0, len(t.labels))
	for code := range t.labels {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the table built from the embedded locale files.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		sub, err := fs.Sub(locales, "locales")
		if err != nil {
			defaultErr = err
			return
		}
		defaultTable, defaultErr = Load(sub)
	})
	return defaultTable, defaultErr
}

// Lookup resolves a language code against the embedded locale files.
func Lookup(code string) (*Labels, error) {
	t, err := Default()
	if err != nil {
		return nil, err
	}
	return t.Lookup(code)
}

func (l *Labels) validate() error {
	required := map[string]string{
		"report_title":  l.ReportTitle,
		"report_date":   l.ReportDate,
		"prepared_by":   l.PreparedBy,
		"header_step":   l.HeaderStep,
		"header_answer": l.HeaderAnswer,
		"header_extra":  l.HeaderExtra,
		"why":           l.Why,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("missing label %q", key)
		}
	}
	for _, s := range domain.AllSteps {
		if l.Steps[s.String()] == "" {
			return fmt.Errorf("missing label for step %s", s)
		}
	}
	return nil
}

func canonical(code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", err
	}
	return tag.String(), nil
}

func unknownLocale(code string) error {
	return domain.Wrap(domain.ErrUnknownLocale, domain.EINVALID, "i18n.lookup",
		fmt.Sprintf("unsupported language %q", code))
}
