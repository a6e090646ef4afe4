// Package masking redacts secrets from tool output before it reaches the
// event log. Patterns are plain regexes organized into named groups; the
// active group is chosen in the defaults section of the configuration.
package masking

import (
	"log/slog"
	"regexp"
	"sort"

	"github.com/weftlab/loom/pkg/config"
)

// Redacted replaces the whole output when masking itself breaks. Losing a
// tool result beats leaking a credential into the append-only log.
const Redacted = "[REDACTED: masking failure, tool output withheld]"

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// Masker applies a fixed set of compiled patterns to tool output. Created
// once at startup; safe for concurrent use.
type Masker struct {
	enabled  bool
	group    string
	patterns []*CompiledPattern
}

// New compiles the masker from the configured defaults. Patterns that fail
// to compile are logged and skipped. When masking is disabled (or the
// defaults carry no masking section) text passes through unchanged.
func New(cfg *config.Config) *Masker {
	m := &Masker{}
	if cfg == nil || cfg.Defaults == nil || cfg.Defaults.Masking == nil {
		return m
	}
	m.enabled = cfg.Defaults.Masking.Enabled
	m.group = cfg.Defaults.Masking.PatternGroup
	if !m.enabled {
		return m
	}

	names := cfg.PatternGroups[m.group]
	for _, name := range names {
		pattern, ok := cfg.MaskingPatterns[name]
		if !ok {
			slog.Warn("Masking group references unknown pattern, skipping",
				"group", m.group, "pattern", name)
			continue
		}
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		m.patterns = append(m.patterns, &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		})
	}

	// Deterministic application order regardless of group declaration order.
	sort.Slice(m.patterns, func(i, j int) bool {
		return m.patterns[i].Name < m.patterns[j].Name
	})

	if len(m.patterns) == 0 {
		slog.Warn("Masking enabled but no pattern compiled, output passes through unmasked",
			"group", m.group)
	}
	slog.Info("Masker initialized",
		"enabled", m.enabled, "group", m.group, "patterns", len(m.patterns))
	return m
}

// Enabled reports whether the masker does any work.
func (m *Masker) Enabled() bool {
	return m.enabled && len(m.patterns) > 0
}

// PatternCount returns the number of compiled patterns.
func (m *Masker) PatternCount() int {
	return len(m.patterns)
}

// Mask applies every pattern in order. A panic inside the regexp engine
// redacts the whole output rather than letting unmasked text escape.
func (m *Masker) Mask(text string) (out string) {
	if !m.Enabled() || text == "" {
		return text
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Masking failed, redacting tool output", "group", m.group, "panic", r)
			out = Redacted
		}
	}()

	out = text
	for _, p := range m.patterns {
		out = p.Regex.ReplaceAllString(out, p.Replacement)
	}
	return out
}
