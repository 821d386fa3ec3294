// Package knowledge is the read-only script store: per-step phrasing templates,
// the job plan table, plan benefits and the leader roster.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDocument []byte

const (
	MinPlanLevel = 1
	MaxPlanLevel = 12
)

var (
	ErrScriptMissing   = errors.New("script missing")
	ErrRender          = errors.New("script render failed")
	ErrPlanMissing     = errors.New("job plan missing")
	ErrLeaderMissing   = errors.New("leader missing")
	ErrBenefitsMissing = errors.New("plan benefits missing")
)

// JobPlan is one tier of the offer table.
type JobPlan struct {
	Level            int    `yaml:"level"`
	Name             string `yaml:"name"`
	PricePKR         int    `yaml:"price_pkr"`
	MonthlySalaryPKR int    `yaml:"monthly_salary_pkr"`
	MonthlyTarget    int    `yaml:"monthly_target"`
}

// Leader is a roster entry users can be referred by.
type Leader struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	ReferralLink    string `yaml:"referral_link"`
	MotivationStory string `yaml:"motivation_story"`
}

// ReferralToken extracts the identifier embedded in the referral link: the
// "ref" query parameter when present, otherwise the last path segment.
func (l Leader) ReferralToken() string {
	u, err := url.Parse(l.ReferralLink)
	if err != nil {
		return ""
	}
	if ref := u.Query().Get("ref"); ref != "" {
		return ref
	}
	seg := path.Base(strings.TrimSuffix(u.Path, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}

type document struct {
	Persona         string              `yaml:"persona"`
	GreetingMarkers []string            `yaml:"greeting_markers"`
	DefaultLeader   string              `yaml:"default_leader"`
	Scripts         map[string]string   `yaml:"scripts"`
	Plans           []JobPlan           `yaml:"plans"`
	Benefits        map[string][]string `yaml:"benefits"`
	Leaders         []Leader            `yaml:"leaders"`
}

// Base is an immutable, validated knowledge base. It is safe for concurrent use.
type Base struct {
	persona         string
	markers         []string
	scripts         map[string]*template.Template
	plans           []JobPlan
	leaders         []Leader
	defaultLeader   string
	benefits        map[int][]*template.Template
	defaultBenefits []*template.Template
}

// Load reads a knowledge base from path, or the embedded default when path is empty.
func Load(path string) (*Base, error) {
	if path == "" {
		return Parse(defaultDocument)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}
	return Parse(raw)
}

// Default returns the embedded knowledge base.
func Default() (*Base, error) {
	return Parse(defaultDocument)
}

// Parse decodes and validates a YAML knowledge document.
func Parse(raw []byte) (*Base, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid knowledge base format: %w", err)
	}

	b := &Base{
		persona:       strings.TrimSpace(doc.Persona),
		scripts:       make(map[string]*template.Template, len(doc.Scripts)),
		benefits:      make(map[int][]*template.Template),
		defaultLeader: doc.DefaultLeader,
	}
	if b.persona == "" {
		return nil, errors.New("knowledge base has no persona")
	}

	for _, m := range doc.GreetingMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			b.markers = append(b.markers, m)
		}
	}

	for key, body := range doc.Scripts {
		tmpl, err := parseTemplate(key, body)
		if err != nil {
			return nil, err
		}
		b.scripts[key] = tmpl
	}

	if err := b.loadPlans(doc.Plans); err != nil {
		return nil, err
	}
	if err := b.loadBenefits(doc.Benefits); err != nil {
		return nil, err
	}
	if err := b.loadLeaders(doc.Leaders); err != nil {
		return nil, err
	}
	return b, nil
}

func parseTemplate(name, body string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(strings.TrimSpace(body))
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", name, err)
	}
	return tmpl, nil
}

func (b *Base) loadPlans(plans []JobPlan) error {
	if len(plans) != MaxPlanLevel {
		return fmt.Errorf("knowledge base must define %d plans, found %d", MaxPlanLevel, len(plans))
	}
	seen := make(map[int]bool, len(plans))
	for _, p := range plans {
		if p.Level < MinPlanLevel || p.Level > MaxPlanLevel {
			return fmt.Errorf("plan %q has level %d outside [%d,%d]", p.Name, p.Level, MinPlanLevel, MaxPlanLevel)
		}
		if seen[p.Level] {
			return fmt.Errorf("duplicate plan level %d", p.Level)
		}
		seen[p.Level] = true
	}
	b.plans = append([]JobPlan(nil), plans...)
	sort.Slice(b.plans, func(i, j int) bool { return b.plans[i].Level < b.plans[j].Level })
	return nil
}

func (b *Base) loadBenefits(raw map[string][]string) error {
	for key, items := range raw {
		tmpls := make([]*template.Template, 0, len(items))
		for i, item := range items {
			tmpl, err := parseTemplate(fmt.Sprintf("benefit_%s_%d", key, i), item)
			if err != nil {
				return err
			}
			tmpls = append(tmpls, tmpl)
		}
		if key == "default" {
			b.defaultBenefits = tmpls
			continue
		}
		level, err := strconv.Atoi(key)
		if err != nil || level < MinPlanLevel || level > MaxPlanLevel {
			return fmt.Errorf("benefits key %q is neither \"default\" nor a plan level", key)
		}
		b.benefits[level] = tmpls
	}
	return nil
}

func (b *Base) loadLeaders(leaders []Leader) error {
	ids := make(map[string]bool, len(leaders))
	for _, l := range leaders {
		if l.ID == "" || l.Name == "" {
			return errors.New("every leader needs an id and a name")
		}
		if ids[l.ID] {
			return fmt.Errorf("duplicate leader id %q", l.ID)
		}
		if l.ReferralToken() == "" {
			return fmt.Errorf("leader %q has no referral token in %q", l.ID, l.ReferralLink)
		}
		ids[l.ID] = true
	}
	if !ids[b.defaultLeader] {
		return fmt.Errorf("default leader %q is not in the roster", b.defaultLeader)
	}
	b.leaders = append([]Leader(nil), leaders...)
	return nil
}

// Persona is the fixed system preamble every reply is phrased under.
func (b *Base) Persona() string {
	return b.persona
}

// GreetingMarkers returns the lower-cased markers of an Islamic greeting.
func (b *Base) GreetingMarkers() []string {
	return append([]string(nil), b.markers...)
}

// Has reports whether a script key exists.
func (b *Base) Has(key string) bool {
	_, ok := b.scripts[key]
	return ok
}

// Script renders the template stored under key. Unknown keys fail with
// ErrScriptMissing; placeholders absent from the bindings fail with ErrRender.
func (b *Base) Script(key string, placeholders map[string]string) (string, error) {
	tmpl, ok := b.scripts[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrScriptMissing, key)
	}
	return execute(tmpl, placeholders)
}

func execute(tmpl *template.Template, placeholders map[string]string) (string, error) {
	if placeholders == nil {
		placeholders = map[string]string{}
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, placeholders); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrRender, tmpl.Name(), err)
	}
	return sb.String(), nil
}

// Plans returns the plan table ordered by level.
func (b *Base) Plans() []JobPlan {
	return append([]JobPlan(nil), b.plans...)
}

// Plan looks up a plan by level.
func (b *Base) Plan(level int) (JobPlan, error) {
	for _, p := range b.plans {
		if p.Level == level {
			return p, nil
		}
	}
	return JobPlan{}, fmt.Errorf("%w: level %d", ErrPlanMissing, level)
}

// Benefits returns the rendered benefit texts for a plan level, in order.
// Levels without their own list use the default list.
func (b *Base) Benefits(level int) ([]string, error) {
	plan, err := b.Plan(level)
	if err != nil {
		return nil, err
	}
	tmpls, ok := b.benefits[level]
	if !ok {
		tmpls = b.defaultBenefits
	}
	if len(tmpls) == 0 {
		return nil, fmt.Errorf("%w: level %d", ErrBenefitsMissing, level)
	}
	bindings := PlanBindings(plan)
	out := make([]string, 0, len(tmpls))
	for _, tmpl := range tmpls {
		text, err := execute(tmpl, bindings)
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

// Leaders returns the roster in its configured order.
func (b *Base) Leaders() []Leader {
	return append([]Leader(nil), b.leaders...)
}

// Leader looks up a roster entry by id.
func (b *Base) Leader(id string) (Leader, error) {
	for _, l := range b.leaders {
		if l.ID == id {
			return l, nil
		}
	}
	return Leader{}, fmt.Errorf("%w: %q", ErrLeaderMissing, id)
}

// DefaultLeader is the roster entry used when a referral cannot be matched.
func (b *Base) DefaultLeader() (Leader, error) {
	return b.Leader(b.defaultLeader)
}

// PlanBindings exposes a plan's fields as template placeholders.
func PlanBindings(p JobPlan) map[string]string {
	return map[string]string{
		"level":     strconv.Itoa(p.Level),
		"plan_name": p.Name,
		"price":     formatAmount(p.PricePKR),
		"salary":    formatAmount(p.MonthlySalaryPKR),
		"target":    strconv.Itoa(p.MonthlyTarget),
	}
}

// formatAmount groups thousands with commas: 1400000 -> "1,400,000".
func formatAmount(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var sb strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	if neg {
		return "-" + sb.String()
	}
	return sb.String()
}
