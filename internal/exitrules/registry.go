package exitrules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"flowgate/internal/logger"
)

// evaluationOrder fixes rule priority. The hard rules come first and cannot
// be reordered or disabled by the rules file.
var evaluationOrder = []string{
	RuleHardStopLoss,
	RuleHardProfitTarget,
	RuleDTEClose,
	RuleThesisInvalid,
	RuleConvictionFade,
	RuleDTEUrgency,
}

var hardRules = map[string]bool{
	RuleHardStopLoss:     true,
	RuleHardProfitTarget: true,
}

var handlersByID = map[string]Handler{
	RuleHardStopLoss:     hardStopLoss{},
	RuleHardProfitTarget: hardProfitTarget{},
	RuleDTEClose:         dteClose{},
	RuleThesisInvalid:    thesisInvalidation{},
	RuleConvictionFade:   convictionCollapse{},
	RuleDTEUrgency:       dteUrgency{},
}

// ruleFile maps the exit_rules.yaml document.
type ruleFile struct {
	Rules map[string]ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Enabled *bool          `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
}

// ActiveRule is one rule ready to evaluate, with its validated params.
type ActiveRule struct {
	Handler Handler
	Params  map[string]any
}

// Snapshot is an immutable, ordered view of the active rules.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Rules    []ActiveRule
}

// Registry loads the rules file, validates every rule's params against its
// handler schema, and hot-reloads on file change. A reload that fails
// validation is rejected wholesale; the previous snapshot stays active.
type Registry struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("exit rules registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read exit rules file failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("exit rules reload rejected, keeping previous set: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the active ordered rule set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Registry) reload() error {
	cfg, err := readRulesFile(r.path)
	if err != nil {
		return err
	}
	for id := range cfg.Rules {
		if _, ok := handlersByID[id]; !ok {
			return fmt.Errorf("unknown exit rule %q", id)
		}
	}

	rules := make([]ActiveRule, 0, len(evaluationOrder))
	for _, id := range evaluationOrder {
		handler := handlersByID[id]
		entry := cfg.Rules[id]

		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		if !enabled {
			if hardRules[id] {
				logger.Warnf("exit rules: %s cannot be disabled, ignoring", id)
			} else {
				continue
			}
		}
		if len(entry.Params) > 0 {
			if err := validateParams(handler, entry.Params); err != nil {
				return fmt.Errorf("rule %s params invalid: %w", id, err)
			}
		}
		rules = append(rules, ActiveRule{Handler: handler, Params: entry.Params})
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Rules:    rules,
	}
	r.mu.Unlock()
	logger.Infof("exit rules: loaded %d active rules from %s", len(rules), filepath.Base(r.path))
	return nil
}

func readRulesFile(path string) (ruleFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ruleFile{}, err
	}
	var cfg ruleFile
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return ruleFile{}, fmt.Errorf("parsing %s failed: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func validateParams(h Handler, params map[string]any) error {
	schema, err := compileSchema(h.Schema())
	if err != nil {
		return err
	}
	// Round-trip through JSON so yaml types (e.g. int) normalize to what the
	// validator expects.
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("params.json")
}
