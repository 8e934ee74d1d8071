package domain

type Violation struct {
	Code              string   `json:"code"`
	Description       string   `json:"description"`
	RelevantField     string   `json:"relevant_field,omitempty"`
	Condition         string   `json:"condition,omitempty"`
	Origin            string   `json:"origin"`
	RecommendedAction string   `json:"recommended_action"`
	LegalBasis        string   `json:"legal_basis"`
	Categories        []string `json:"sensitive_categories,omitempty"`
	// Advisory is set when the rule could not be judged automatically.
	Advisory bool `json:"advisory,omitempty"`
}

func NewViolation(rule *RuleDefinition) Violation {
	return Violation{
		Code:              rule.Code,
		Description:       rule.Description,
		RelevantField:     rule.RelevantField,
		Condition:         rule.Condition,
		Origin:            rule.Origin,
		RecommendedAction: rule.RecommendedAction,
		LegalBasis:        rule.LegalBasis,
	}
}
