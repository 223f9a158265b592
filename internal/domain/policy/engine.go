package policy

import (
	"log/slog"
	"net/url"
)

// Engine matches visits against host rules and applies masking.
type Engine struct {
	evaluator ConditionEvaluator
	logger    *slog.Logger
}

// NewEngine creates a policy engine. The evaluator may be nil, in
// which case rules carrying a condition never match.
func NewEngine(evaluator ConditionEvaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{evaluator: evaluator, logger: logger}
}

// Match returns the first rule that applies to the visited URL, or nil
// when no rule matches. A rule applies when its hostname equals the
// URL's host and its condition (if any) evaluates to true. A condition
// that fails to evaluate is treated as not matching, never as a match.
func (e *Engine) Match(rules []HostRule, rawURL string, private bool) *HostRule {
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}

	for i := range rules {
		rule := &rules[i]
		if rule.Hostname != host {
			continue
		}
		if rule.Condition == "" {
			return rule
		}
		if e.evaluator == nil {
			continue
		}
		ok, err := e.evaluator.Evaluate(rule.Condition, ConditionInput{
			Host:    host,
			URL:     rawURL,
			Private: private,
		})
		if err != nil {
			e.logger.Warn("host rule condition failed, rule skipped",
				"hostname", rule.Hostname,
				"error", err)
			continue
		}
		if ok {
			return rule
		}
	}
	return nil
}

// Apply masks the reportable fields per the matched rule and the
// private mode flag. Private mode wins over any rule.
func Apply(fields DomainFields, rule *HostRule, private bool) DomainFields {
	if private {
		return DomainFields{
			Title:   MaskPrivateMode,
			URL:     MaskPrivateMode,
			FavIcon: MaskPrivateMode,
		}
	}

	out := fields
	if out.Title == "" {
		out.Title = DefaultTitle
	}
	if out.FavIcon == "" {
		out.FavIcon = DefaultFavIcon
	}

	if rule == nil {
		return out
	}

	switch rule.Classification {
	case ClassificationFullDeny:
		mask := string(ClassificationFullDeny)
		return DomainFields{Title: mask, URL: mask, FavIcon: mask}
	case ClassificationOnlyHost:
		return DomainFields{
			Title:   string(ClassificationOnlyHost),
			URL:     rule.Hostname,
			FavIcon: string(ClassificationOnlyHost),
		}
	default:
		// full_allow and unknown classifications pass through.
		return out
	}
}

// hostOf extracts the hostname from a raw URL, empty on parse failure.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
