// Package catalog loads compliance rule catalogs and compiles their conditions.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"auditai/internal/domain"
)

var (
	ErrCatalogParse = errors.New("rule catalog parse failed")
	ErrRuleRejected = errors.New("rule rejected")
)

// DefaultPaths are the base and extended catalogs shipped with the service.
var DefaultPaths = []string{
	"rules/compliance_rules.json",
	"rules/compliance_rules_extended.json",
}

// Source yields the rule catalog for one audit pass.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

type Catalog struct {
	Rules    []domain.RuleDefinition
	Rejected []RejectedRule
	// Sources lists the files that existed and were read, in load order.
	Sources []string
}

type RejectedRule struct {
	Source string
	Index  int
	Code   string
	Err    error
}

func (r RejectedRule) Error() string {
	return fmt.Sprintf("%s[%d] %s: %v", r.Source, r.Index, r.Code, r.Err)
}

type LoaderConfig struct {
	Paths []string
	// Strict turns a rejected rule into a catalog error.
	Strict   bool
	Defaults ConditionDefaults
}

type Loader struct {
	cfg    LoaderConfig
	logger *slog.Logger
}

var _ Source = (*Loader)(nil)

func NewLoader(cfg LoaderConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Paths == nil {
		cfg.Paths = DefaultPaths
	}
	if cfg.Defaults.StaleAfter <= 0 && len(cfg.Defaults.ForeignMarkers) == 0 {
		cfg.Defaults = DefaultConditionDefaults()
	}

	return &Loader{
		cfg:    cfg,
		logger: logger,
	}
}

func (l *Loader) Paths() []string {
	return l.cfg.Paths
}

// Load reads every configured path that exists and concatenates their rules in
// path order. Rules are not deduplicated: two catalogs defining the same code
// both stay in the result.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	cat := &Catalog{}

	for _, path := range l.cfg.Paths {
		docs, err := l.readDocument(path)
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.DebugContext(ctx, "Rule catalog not found, skipping",
				slog.String("path", path))
			continue
		}
		if err != nil {
			return nil, err
		}
		cat.Sources = append(cat.Sources, path)

		for i, doc := range docs {
			rule := doc.definition(path)
			if err := Compile(&rule, l.cfg.Defaults); err != nil {
				rejected := RejectedRule{Source: path, Index: i, Code: rule.Code, Err: err}
				if l.cfg.Strict {
					return nil, fmt.Errorf("%w: %v", ErrRuleRejected, rejected)
				}
				l.logger.WarnContext(ctx, "Rule rejected",
					slog.String("source", path),
					slog.Int("index", i),
					slog.String("code", rule.Code),
					slog.String("error", err.Error()))
				cat.Rejected = append(cat.Rejected, rejected)
				continue
			}
			cat.Rules = append(cat.Rules, rule)
		}
	}

	l.logger.DebugContext(ctx, "Rule catalog loaded",
		slog.Int("rules", len(cat.Rules)),
		slog.Int("rejected", len(cat.Rejected)),
		slog.Int("sources", len(cat.Sources)))

	return cat, nil
}

func (l *Loader) readDocument(path string) ([]ruleDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("opening rule catalog %s: %w", path, err)
	}
	defer f.Close()

	docs, err := parserFor(path).Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCatalogParse, path, err)
	}
	return docs, nil
}

// Compile parses the rule's condition text into rule.Parsed.
func Compile(rule *domain.RuleDefinition, defaults ConditionDefaults) error {
	parsed, err := ParseCondition(rule.Field(), rule.Condition, defaults)
	if err != nil {
		return err
	}
	rule.Parsed = parsed
	return nil
}
