package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"auditai/internal/catalog"
	"auditai/internal/domain"
)

const genericNotEvaluatedSuffix = " (generic rule not evaluated automatically)"

type RuleEngine struct {
	scanner  *SensitiveScanner
	temporal *TemporalPolicy
	defaults catalog.ConditionDefaults
	logger   *slog.Logger
	now      func() time.Time
}

type RuleEngineOption func(*RuleEngine)

// WithClock replaces time.Now as the reference for stale-pending checks.
func WithClock(now func() time.Time) RuleEngineOption {
	return func(e *RuleEngine) {
		e.now = now
	}
}

// WithConditionDefaults sets the parameters used to compile rules that reach
// the engine without having been through a catalog loader.
func WithConditionDefaults(defaults catalog.ConditionDefaults) RuleEngineOption {
	return func(e *RuleEngine) {
		e.defaults = defaults
	}
}

func NewRuleEngine(scanner *SensitiveScanner, temporal *TemporalPolicy, logger *slog.Logger, opts ...RuleEngineOption) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if scanner == nil {
		scanner = NewSensitiveScanner(nil, logger)
	}
	if temporal == nil {
		temporal = NewTemporalPolicy(DefaultBusinessStartHour, DefaultBusinessEndHour, nil)
	}

	e := &RuleEngine{
		scanner:  scanner,
		temporal: temporal,
		defaults: catalog.DefaultConditionDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every rule against tx, then the temporal policy, using the
// engine clock as "now".
func (e *RuleEngine) Evaluate(ctx context.Context, tx *domain.Transaction, rules []domain.RuleDefinition) []domain.Violation {
	return e.EvaluateAt(ctx, tx, rules, e.now())
}

// EvaluateAt returns the triggered violations in catalog order followed by the
// temporal findings. A rule that fails is logged and skipped.
func (e *RuleEngine) EvaluateAt(ctx context.Context, tx *domain.Transaction, rules []domain.RuleDefinition, now time.Time) []domain.Violation {
	violations := make([]domain.Violation, 0)

	for i := range rules {
		rule := &rules[i]

		v, triggered, err := e.evaluateRule(rule, tx, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to evaluate rule",
				slog.String("code", rule.Code),
				slog.Int64("transaction_id", tx.ID),
				slog.String("error", err.Error()))
			continue
		}
		if triggered {
			violations = append(violations, v)
		}
	}

	return append(violations, e.temporal.Check(tx.Timestamp)...)
}

func (e *RuleEngine) evaluateRule(rule *domain.RuleDefinition, tx *domain.Transaction, now time.Time) (v domain.Violation, triggered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in rule %s: %v", rule.Code, r)
			triggered = false
		}
	}()

	cond := rule.Parsed
	if cond.Kind == domain.ConditionUnparsed {
		cond, err = catalog.ParseCondition(rule.Field(), rule.Condition, e.defaults)
		if err != nil {
			return v, false, err
		}
	}

	switch cond.Kind {
	case domain.ConditionThreshold:
		if tx.Amount.GreaterThan(cond.Threshold) && tx.JustificationText() == "" {
			return domain.NewViolation(rule), true, nil
		}

	case domain.ConditionPersonalData:
		categories := e.scanner.Scan(tx.JustificationText())
		if len(categories) > 0 {
			v = domain.NewViolation(rule)
			v.Description = fmt.Sprintf("%s (sensitive data detected: %s)", rule.Description, strings.Join(categories, ", "))
			v.Categories = categories
			return v, true, nil
		}

	case domain.ConditionForeignClient:
		if hasMarkerToken(tx.Client, cond.Markers) {
			return domain.NewViolation(rule), true, nil
		}

	case domain.ConditionStalePending:
		if tx.IsPending() && now.Sub(tx.Timestamp) > cond.StaleAfter {
			return domain.NewViolation(rule), true, nil
		}

	case domain.ConditionGeneric:
		v = domain.NewViolation(rule)
		v.Description += genericNotEvaluatedSuffix
		v.Advisory = true
		return v, true, nil
	}

	return v, false, nil
}

// hasMarkerToken reports whether any word of the client name equals a marker,
// ignoring case and punctuation, so "Acme Ltd." matches but "Lincoln" does not.
func hasMarkerToken(client string, markers []string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(client), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		for _, m := range markers {
			if tok == strings.ToLower(m) {
				return true
			}
		}
	}
	return false
}
