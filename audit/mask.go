package audit

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/omni-agent/omnicore/internal/strutil"
)

// maxFieldBytes bounds the masked target/detail fields so a single event
// cannot bloat the log.
const maxFieldBytes = 4 * 1024

// Rule is a single pattern -> redaction mapping. Rules are evaluated in
// order at log-write time; matches are replaced with a fixed-width marker
// that names the rule but reveals nothing about the matched content, not
// even its length class.
type Rule struct {
	Name string `yaml:"name"`
	Re   string `yaml:"re"`
}

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

func (r compiledRule) marker() string {
	return "[masked:" + r.name + "]"
}

// Masker applies the configured rule set to free-text fields before an
// event is persisted. The original value is never retained alongside the
// masked one.
type Masker struct {
	mu            sync.RWMutex
	rules         []compiledRule
	sensitiveDirs []string
	secretNames   map[string]bool
}

func NewMasker(rules []Rule, sensitiveDirs []string) (*Masker, error) {
	m := &Masker{
		secretNames: make(map[string]bool),
	}

	for _, r := range builtinRules() {
		m.rules = append(m.rules, r)
	}
	for _, r := range rules {
		if strings.TrimSpace(r.Re) == "" {
			continue
		}
		re, err := regexp.Compile(r.Re)
		if err != nil {
			return nil, fmt.Errorf("masking rule %q: %w", r.Name, err)
		}
		name := strings.TrimSpace(r.Name)
		if name == "" {
			name = "custom"
		}
		m.rules = append(m.rules, compiledRule{name: name, re: re})
	}

	for _, d := range sensitiveDirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		m.sensitiveDirs = append(m.sensitiveDirs, strings.TrimRight(d, "/"))
	}
	return m, nil
}

// builtinRules are high-signal patterns that apply regardless of operator
// configuration.
func builtinRules() []compiledRule {
	return []compiledRule{
		{name: "private_key", re: regexp.MustCompile(`(?s)-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----.*?-----END [A-Z0-9 ]*PRIVATE KEY-----`)},
		{name: "jwt", re: regexp.MustCompile(`(?m)\b[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`)},
		{name: "bearer", re: regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._-]{10,}\b`)},
		{name: "email", re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
		{name: "kv_secret", re: regexp.MustCompile(`(?i)\b(api[_-]?key|authorization|token|secret|password|passwd|pin)(\s*[:=]\s*)(\S{4,})`)},
	}
}

// RegisterSecretName adds a vault entry name as a literal masking rule so
// the name's value, if it ever leaks into a detail string, is redacted.
// Names themselves are safe to log; values never are.
func (m *Masker) RegisterSecretName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secretNames[name] {
		return
	}
	m.secretNames[name] = true
	m.rules = append(m.rules, compiledRule{
		name: "vault_value",
		re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `(\s*[:=]\s*)\S+`),
	})
}

// MaskString runs all rules over s, in order, and reports whether anything
// was replaced.
func (m *Masker) MaskString(s string) (string, bool) {
	if m == nil || strings.TrimSpace(s) == "" {
		return s, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	orig := s
	for _, r := range m.rules {
		switch r.name {
		case "kv_secret":
			s = r.re.ReplaceAllStringFunc(s, func(match string) string {
				sub := r.re.FindStringSubmatch(match)
				if len(sub) != 4 {
					return r.marker()
				}
				return sub[1] + sub[2] + r.marker()
			})
		case "vault_value":
			s = r.re.ReplaceAllStringFunc(s, func(match string) string {
				sub := r.re.FindStringSubmatch(match)
				if len(sub) != 2 {
					return r.marker()
				}
				idx := r.re.FindStringSubmatchIndex(match)
				if len(idx) < 4 {
					return r.marker()
				}
				return match[:idx[2]] + sub[1] + r.marker()
			})
		default:
			s = r.re.ReplaceAllString(s, r.marker())
		}
	}
	s = m.maskSensitivePaths(s)
	return strutil.TruncateUTF8(s, maxFieldBytes), s != orig
}

// maskSensitivePaths replaces any path under a configured sensitive
// directory with a marker that keeps the directory but hides the rest.
func (m *Masker) maskSensitivePaths(s string) string {
	for _, dir := range m.sensitiveDirs {
		if !strings.Contains(s, dir) {
			continue
		}
		re, err := regexp.Compile(regexp.QuoteMeta(dir) + `/\S+`)
		if err != nil {
			continue
		}
		s = re.ReplaceAllString(s, dir+"/[masked:path]")
	}
	return s
}

// maskEvent masks every free-text field of e in place before persistence.
func (m *Masker) maskEvent(e *Event) {
	if m == nil || e == nil {
		return
	}
	e.Target, _ = m.MaskString(e.Target)
	e.Detail, _ = m.MaskString(e.Detail)
}

// LoadRuleFile reads an operator-supplied YAML rule file:
//
//	rules:
//	  - name: employee_id
//	    re: 'EMP-[0-9]{6}'
func LoadRuleFile(path string) ([]Rule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse masking rule file %s: %w", path, err)
	}
	return doc.Rules, nil
}
