package rules

import (
	"errors"
	"fmt"
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"gopkg.in/yaml.v3"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
)

var ErrDuplicateRuleSet = errors.New("duplicate ruleset")

type Engine struct {
	RuleSets map[string]RuleSet
	Rules    []CompiledRule
}

// Actions are applied to the output when a rule's filter matches, unset fields leave the output as is.
type Actions struct {
	KnownBadSecurity *bool   `yaml:"known_bad_security"`
	WakeUpInterval   *uint32 `yaml:"wake_up_interval"`
}

type Rule struct {
	Description string  `yaml:"description"`
	Filter      string  `yaml:"filter"`
	Actions     Actions `yaml:"actions"`
	Children    []Rule  `yaml:"children"`
}

type CompiledRule struct {
	Description string
	Filter      *vm.Program
	Actions     Actions
	Children    []CompiledRule
}

type RuleSet struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"depends_on"`
	Rules     []Rule   `yaml:"rules"`
}

type InputProduct struct {
	ManufacturerID int
	ProductType    int
	ProductID      int
}

type InputNode struct {
	ID        int
	Basic     int
	Generic   int
	Specific  int
	Listening bool
	Classes   []int
}

type Input struct {
	Product InputProduct
	Node    InputNode
}

type Output struct {
	KnownBadSecurity bool
	WakeUpInterval   uint32
}

func New() *Engine {
	return &Engine{RuleSets: map[string]RuleSet{}}
}

func (e *Engine) LoadString(s string) error {
	return e.LoadReader(strings.NewReader(s))
}

func (e *Engine) LoadReader(r io.Reader) error {
	var rs RuleSet

	if err := yaml.NewDecoder(r).Decode(&rs); err != nil {
		return fmt.Errorf("ruleset decode: %w", err)
	}

	if _, found := e.RuleSets[rs.Name]; found {
		return fmt.Errorf("%w: %s", ErrDuplicateRuleSet, rs.Name)
	}

	if e.RuleSets == nil {
		e.RuleSets = map[string]RuleSet{}
	}

	e.RuleSets[rs.Name] = rs
	return nil
}

// LoadFS loads every yaml file found in the file system as a ruleset.
func (e *Engine) LoadFS(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if ext := path.Ext(p); ext != ".yaml" && ext != ".yml" {
			return nil
		}

		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := e.LoadReader(f); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}

		return nil
	})
}

func (e *Engine) CompileRules() error {
	e.Rules = nil
	alreadyLoaded := map[string]bool{}

	for k := range e.RuleSets {
		alreadyLoaded[k] = false
	}

	for _, k := range sortedKeys(e.RuleSets) {
		if !alreadyLoaded[k] {
			if err := e.compileRuleSet(alreadyLoaded, []string{}, k); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) compileRuleSet(alreadyLoaded map[string]bool, trail []string, name string) error {
	rs, ok := e.RuleSets[name]
	if !ok {
		return fmt.Errorf("ruleset missing dependency: %s->%s", strings.Join(trail, "->"), name)
	}

	trail = append(trail, rs.Name)

	for _, k := range rs.DependsOn {
		for _, t := range trail {
			if k == t {
				return fmt.Errorf("ruleset circular dependency: %s->%s", strings.Join(trail, "->"), k)
			}
		}

		if !alreadyLoaded[k] {
			if err := e.compileRuleSet(alreadyLoaded, trail, k); err != nil {
				return err
			}
		}
	}

	if cr, err := compileRules(rs.Rules); err != nil {
		return fmt.Errorf("ruleset compilation: %s: %w", strings.Join(trail, "->"), err)
	} else {
		e.Rules = append(e.Rules, cr...)
	}

	alreadyLoaded[name] = true

	return nil
}

func compileRules(rules []Rule) ([]CompiledRule, error) {
	var compiledRules []CompiledRule

	for _, rule := range rules {
		var cf *vm.Program

		if rule.Filter != "" {
			var err error
			if cf, err = expr.Compile(rule.Filter, expr.Env(Input{}), expr.AsBool()); err != nil {
				return nil, fmt.Errorf("filter compilation: %w", err)
			}
		}

		if childCompiledRules, err := compileRules(rule.Children); err != nil {
			return nil, fmt.Errorf("%s: %w", rule.Description, err)
		} else {
			compiledRules = append(compiledRules, CompiledRule{
				Description: rule.Description,
				Filter:      cf,
				Actions:     rule.Actions,
				Children:    childCompiledRules,
			})
		}
	}

	return compiledRules, nil
}

// Execute runs every compiled rule against the input in order, descending into the children of matching
// rules. Later matches override earlier ones.
func (e *Engine) Execute(i Input) (Output, error) {
	var o Output

	if err := executeRules(e.Rules, i, &o); err != nil {
		return Output{}, err
	}

	return o, nil
}

func executeRules(rules []CompiledRule, i Input, o *Output) error {
	for _, r := range rules {
		if r.Filter != nil {
			v, err := expr.Run(r.Filter, i)
			if err != nil {
				return fmt.Errorf("rule execution: %s: %w", r.Description, err)
			}

			if matched, ok := v.(bool); !ok || !matched {
				continue
			}
		}

		if r.Actions.KnownBadSecurity != nil {
			o.KnownBadSecurity = *r.Actions.KnownBadSecurity
		}

		if r.Actions.WakeUpInterval != nil {
			o.WakeUpInterval = *r.Actions.WakeUpInterval
		}

		if err := executeRules(r.Children, i, o); err != nil {
			return err
		}
	}

	return nil
}

func sortedKeys(m map[string]RuleSet) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}
