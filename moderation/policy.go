package moderation

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

// Policy is the moderation configuration: a term list with a high-severity subset.
type Policy struct {
	Terms         []string `mapstructure:"terms"`
	HighSeverity  []string `mapstructure:"high_severity"`
	NormalizeLeet bool     `mapstructure:"normalize_leet"`
}

// DefaultPolicy returns the embedded policy shipped with the binary.
func DefaultPolicy() (Policy, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultPolicy)); err != nil {
		return Policy{}, fmt.Errorf("read embedded policy: %w", err)
	}
	return decodePolicy(v)
}

// LoadPolicy reads a policy file. The format follows the file extension (yaml, json, toml).
func LoadPolicy(path string) (Policy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return decodePolicy(v)
}

// WatchPolicy loads the policy file and calls onChange with every valid new version.
// Invalid edits are logged and ignored so the running policy stays in place.
func WatchPolicy(path string, log *slog.Logger, onChange func(Policy)) (Policy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	policy, err := decodePolicy(v)
	if err != nil {
		return Policy{}, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("Ignoring invalid moderation policy", "file", e.Name, "error", err)
			return
		}
		log.Info("Moderation policy changed", "file", e.Name, "op", e.Op.String())
		onChange(updated)
	})
	v.WatchConfig()
	return policy, nil
}

func decodePolicy(v *viper.Viper) (Policy, error) {
	var p Policy
	if err := v.Unmarshal(&p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	p.Terms = cleanTerms(p.Terms)
	p.HighSeverity = cleanTerms(p.HighSeverity)
	return p, nil
}

func cleanTerms(terms []string) []string {
	trimmed := lo.Map(terms, func(t string, _ int) string { return strings.TrimSpace(t) })
	return lo.Uniq(lo.Compact(trimmed))
}
