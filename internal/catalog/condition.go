package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"auditai/internal/domain"
)

var ErrInvalidCondition = errors.New("invalid rule condition")

const DefaultStaleAfter = 7 * 24 * time.Hour

var DefaultForeignMarkers = []string{"ltd", "inc"}

var (
	personalDataKeywords  = []string{"dado pessoal", "dados pessoais", "personal data"}
	foreignClientKeywords = []string{"estrangeiro", "foreign"}
	pendingKeywords       = []string{"pendente", "pending"}
	genericPrefixes       = []string{"condicao_", "condition_"}

	thresholdRe  = regexp.MustCompile(`>\s*(\S+)`)
	staleAfterRe = regexp.MustCompile(`>\s*(\d+)\s*([a-z]*)`)
)

// ConditionDefaults carries the parameters a condition falls back to when its
// text does not spell them out.
type ConditionDefaults struct {
	StaleAfter     time.Duration
	ForeignMarkers []string
}

func DefaultConditionDefaults() ConditionDefaults {
	return ConditionDefaults{
		StaleAfter:     DefaultStaleAfter,
		ForeignMarkers: DefaultForeignMarkers,
	}
}

// ParseCondition turns a rule's free-text condition into its typed form. The
// checks run in a fixed order, so a generic placeholder only applies when the
// field-specific forms do not.
func ParseCondition(field domain.RelevantField, raw string, defaults ConditionDefaults) (domain.Condition, error) {
	cond := strings.ToLower(strings.TrimSpace(raw))

	switch {
	case field == domain.FieldAmount && strings.Contains(cond, ">"):
		threshold, err := parseThreshold(cond)
		if err != nil {
			return domain.Condition{}, err
		}
		return domain.Condition{Kind: domain.ConditionThreshold, Threshold: threshold}, nil

	case field == domain.FieldJustification && containsAny(cond, personalDataKeywords):
		return domain.Condition{Kind: domain.ConditionPersonalData}, nil

	case field == domain.FieldClient && containsAny(cond, foreignClientKeywords):
		markers := defaults.ForeignMarkers
		if len(markers) == 0 {
			markers = DefaultForeignMarkers
		}
		return domain.Condition{Kind: domain.ConditionForeignClient, Markers: markers}, nil

	case field == domain.FieldStatusDate && containsAny(cond, pendingKeywords):
		after, err := parseStaleAfter(cond, defaults.StaleAfter)
		if err != nil {
			return domain.Condition{}, err
		}
		return domain.Condition{Kind: domain.ConditionStalePending, StaleAfter: after}, nil

	case hasAnyPrefix(cond, genericPrefixes):
		return domain.Condition{Kind: domain.ConditionGeneric}, nil
	}

	return domain.Condition{Kind: domain.ConditionIgnored}, nil
}

func parseThreshold(cond string) (decimal.Decimal, error) {
	m := thresholdRe.FindStringSubmatch(cond)
	if m == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: no threshold after '>' in %q", ErrInvalidCondition, cond)
	}
	threshold, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: threshold %q: %v", ErrInvalidCondition, m[1], err)
	}
	return threshold, nil
}

func parseStaleAfter(cond string, fallback time.Duration) (time.Duration, error) {
	if fallback <= 0 {
		fallback = DefaultStaleAfter
	}
	if !strings.Contains(cond, ">") {
		return fallback, nil
	}

	m := staleAfterRe.FindStringSubmatch(cond)
	if m == nil {
		return 0, fmt.Errorf("%w: no duration after '>' in %q", ErrInvalidCondition, cond)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q: %v", ErrInvalidCondition, m[1], err)
	}

	switch m[2] {
	case "", "d", "day", "days", "dia", "dias":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h", "hour", "hours", "hora", "horas":
		return time.Duration(n) * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown duration unit %q", ErrInvalidCondition, m[2])
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
