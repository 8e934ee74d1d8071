package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"auditai/internal/domain"
)

// ruleDocument is one entry of a catalog file. Catalogs exported by the legacy
// service use Portuguese keys, so both spellings are accepted.
type ruleDocument struct {
	Code              string `json:"code" yaml:"code"`
	Description       string `json:"description" yaml:"description"`
	RelevantField     string `json:"relevant_field" yaml:"relevant_field"`
	Condition         string `json:"condition" yaml:"condition"`
	Origin            string `json:"origin" yaml:"origin"`
	RecommendedAction string `json:"recommended_action" yaml:"recommended_action"`
	LegalBasis        string `json:"legal_basis" yaml:"legal_basis"`

	Codigo          string `json:"codigo" yaml:"codigo"`
	Descricao       string `json:"descricao" yaml:"descricao"`
	CampoRelevante  string `json:"campo_relevante" yaml:"campo_relevante"`
	Condicao        string `json:"condicao" yaml:"condicao"`
	Origem          string `json:"origem" yaml:"origem"`
	AcaoRecomendada string `json:"acao_recomendada" yaml:"acao_recomendada"`
	BaseLegal       string `json:"base_legal" yaml:"base_legal"`
}

func (d ruleDocument) definition(source string) domain.RuleDefinition {
	return domain.RuleDefinition{
		Code:              firstNonEmpty(d.Code, d.Codigo),
		Description:       firstNonEmpty(d.Description, d.Descricao),
		RelevantField:     firstNonEmpty(d.RelevantField, d.CampoRelevante),
		Condition:         firstNonEmpty(d.Condition, d.Condicao),
		Origin:            firstNonEmpty(d.Origin, d.Origem),
		RecommendedAction: firstNonEmpty(d.RecommendedAction, d.AcaoRecomendada),
		LegalBasis:        firstNonEmpty(d.LegalBasis, d.BaseLegal),
		Source:            source,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type documentParser interface {
	Parse(r io.Reader) ([]ruleDocument, error)
}

type jsonParser struct{}

func (jsonParser) Parse(r io.Reader) ([]ruleDocument, error) {
	var docs []ruleDocument
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return docs, nil
}

type yamlParser struct{}

func (yamlParser) Parse(r io.Reader) ([]ruleDocument, error) {
	var docs []ruleDocument
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		// An empty YAML document is an empty catalog.
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return docs, nil
}

// parserFor picks the document format from the file extension. JSON is the
// default because the legacy catalogs were all JSON.
func parserFor(path string) documentParser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlParser{}
	default:
		return jsonParser{}
	}
}
