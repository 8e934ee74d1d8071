package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RelevantField names the transaction attribute a rule inspects.
type RelevantField string

const (
	FieldAmount        RelevantField = "amount"
	FieldJustification RelevantField = "justification"
	FieldClient        RelevantField = "client"
	FieldStatusDate    RelevantField = "status/date"
	FieldGeneric       RelevantField = "generic"
)

var fieldAliases = map[string]RelevantField{
	"amount":          FieldAmount,
	"valor_transacao": FieldAmount,
	"valor":           FieldAmount,
	"justification":   FieldJustification,
	"justificativa":   FieldJustification,
	"client":          FieldClient,
	"cliente":         FieldClient,
	"status/date":     FieldStatusDate,
	"status/data":     FieldStatusDate,
	"generic":         FieldGeneric,
	"generico":        FieldGeneric,
}

// NormalizeField maps the spellings used by rule catalogs onto a RelevantField.
// Unknown names are returned lower-cased so they never match a handler.
func NormalizeField(raw string) RelevantField {
	key := strings.ToLower(strings.TrimSpace(raw))
	if field, ok := fieldAliases[key]; ok {
		return field
	}
	return RelevantField(key)
}

type ConditionKind int

const (
	// ConditionUnparsed marks a rule that has not been through the catalog parser.
	ConditionUnparsed ConditionKind = iota
	ConditionIgnored
	ConditionThreshold
	ConditionPersonalData
	ConditionForeignClient
	ConditionStalePending
	ConditionGeneric
)

func (k ConditionKind) String() string {
	switch k {
	case ConditionIgnored:
		return "ignored"
	case ConditionThreshold:
		return "threshold"
	case ConditionPersonalData:
		return "personal_data"
	case ConditionForeignClient:
		return "foreign_client"
	case ConditionStalePending:
		return "stale_pending"
	case ConditionGeneric:
		return "generic"
	default:
		return "unparsed"
	}
}

// Condition is the typed form of a rule's condition text. Only the parameters
// that belong to Kind are set.
type Condition struct {
	Kind       ConditionKind
	Threshold  decimal.Decimal
	StaleAfter time.Duration
	Markers    []string
}

type RuleDefinition struct {
	Code              string `json:"code" yaml:"code"`
	Description       string `json:"description" yaml:"description"`
	RelevantField     string `json:"relevant_field" yaml:"relevant_field"`
	Condition         string `json:"condition" yaml:"condition"`
	Origin            string `json:"origin" yaml:"origin"`
	RecommendedAction string `json:"recommended_action" yaml:"recommended_action"`
	LegalBasis        string `json:"legal_basis" yaml:"legal_basis"`

	Source string    `json:"-" yaml:"-"`
	Parsed Condition `json:"-" yaml:"-"`
}

func (r *RuleDefinition) Field() RelevantField {
	return NormalizeField(r.RelevantField)
}
