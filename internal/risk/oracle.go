package risk

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"custody-wallet-core/internal/models"

	"gopkg.in/yaml.v2"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Oracle looks up the risk of an address. Implementations may block and must
// honour ctx.
type Oracle interface {
	Assess(ctx context.Context, address string) (models.Assessment, error)
}

type ruleEntry struct {
	Score     string   `yaml:"score"`
	Reason    string   `yaml:"reason"`
	Addresses []string `yaml:"addresses"`
	Prefixes  []string `yaml:"prefixes"`
}

type rulesFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type rule struct {
	score     models.RiskScore
	reason    string
	addresses map[string]struct{}
	prefixes  []string
}

// RuleOracle scores addresses against static red and yellow lists
type RuleOracle struct {
	rules []rule
	now   func() time.Time
}

// LoadRuleOracle reads rules from rulesFile, or the embedded default when it is empty
func LoadRuleOracle(rulesFile string) (*RuleOracle, error) {
	data := defaultRulesYAML
	if rulesFile != "" {
		path := rulesFile
		if !filepath.IsAbs(path) {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get working directory: %w", err)
			}
			path = filepath.Join(wd, rulesFile)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read %s: %w", rulesFile, err)
		}
		data = raw
	}
	return ParseRules(data)
}

// ParseRules builds an oracle from YAML bytes
func ParseRules(data []byte) (*RuleOracle, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse risk rules: %w", err)
	}

	oracle := &RuleOracle{now: time.Now}
	for i, entry := range file.Rules {
		score := models.RiskScore(strings.ToLower(entry.Score))
		if !score.Flagged() {
			return nil, fmt.Errorf("rule at index %d: score must be red or yellow, got %q", i, entry.Score)
		}
		if entry.Reason == "" {
			return nil, fmt.Errorf("rule at index %d: missing reason", i)
		}
		r := rule{
			score:     score,
			reason:    entry.Reason,
			addresses: make(map[string]struct{}, len(entry.Addresses)),
		}
		for _, addr := range entry.Addresses {
			r.addresses[normalize(addr)] = struct{}{}
		}
		for _, prefix := range entry.Prefixes {
			r.prefixes = append(r.prefixes, normalize(prefix))
		}
		oracle.rules = append(oracle.rules, r)
	}
	return oracle, nil
}

// WithClock replaces the clock used to stamp assessments
func (o *RuleOracle) WithClock(now func() time.Time) *RuleOracle {
	o.now = now
	return o
}

func (o *RuleOracle) Assess(ctx context.Context, address string) (models.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return models.Assessment{}, err
	}
	key := normalize(address)
	assessment := models.Assessment{
		Address:   address,
		Score:     models.RiskGreen,
		ScannedAt: o.now(),
	}
	for _, r := range o.rules {
		if !r.matches(key) {
			continue
		}
		assessment.Reasons = append(assessment.Reasons, r.reason)
		if severity(r.score) > severity(assessment.Score) {
			assessment.Score = r.score
		}
	}
	return assessment, nil
}

func (r rule) matches(key string) bool {
	if _, ok := r.addresses[key]; ok {
		return true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func severity(s models.RiskScore) int {
	switch s {
	case models.RiskRed:
		return 2
	case models.RiskYellow:
		return 1
	}
	return 0
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
