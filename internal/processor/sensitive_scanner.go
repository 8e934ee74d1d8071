package processor

import (
	"fmt"
	"log/slog"
	"regexp"
)

type SensitivePattern struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

// DefaultSensitivePatterns is the fixed category battery, in reporting order.
var DefaultSensitivePatterns = []SensitivePattern{
	{Name: "CPF", Expression: `\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`},
	{Name: "E-mail", Expression: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[a-z]{2,}\b`},
	{Name: "PIX", Expression: `\bpix\b`},
	{Name: "RG", Expression: `\b\d{7,10}\b`},
	{Name: "Phone", Expression: `\(?\d{2}\)?\s?\d{4,5}-\d{4}`},
	{Name: "Full name", Expression: `\b(?:nome\s+completo|full\s+name)\b`},
	{Name: "Address", Expression: `\b(?:endere[cç]o|address)`},
	{Name: "CNPJ", Expression: `\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`},
}

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// SensitiveScanner looks for personal data embedded in free text.
type SensitiveScanner struct {
	patterns []compiledPattern
	skipped  []string
	logger   *slog.Logger
}

// NewSensitiveScanner compiles the default battery followed by extra. A
// pattern that does not compile is logged and left out; the others still run.
func NewSensitiveScanner(extra []SensitivePattern, logger *slog.Logger) *SensitiveScanner {
	if logger == nil {
		logger = slog.Default()
	}

	s := &SensitiveScanner{logger: logger}

	all := make([]SensitivePattern, 0, len(DefaultSensitivePatterns)+len(extra))
	all = append(all, DefaultSensitivePatterns...)
	all = append(all, extra...)

	for _, p := range all {
		re, err := regexp.Compile("(?i)" + p.Expression)
		if err != nil {
			logger.Warn("Sensitive pattern disabled",
				slog.String("category", p.Name),
				slog.String("error", err.Error()))
			s.skipped = append(s.skipped, p.Name)
			continue
		}
		s.patterns = append(s.patterns, compiledPattern{name: p.Name, re: re})
	}

	return s
}

// Scan returns the names of the categories found in text, in battery order.
func (s *SensitiveScanner) Scan(text string) []string {
	if text == "" {
		return nil
	}

	var found []string
	for _, p := range s.patterns {
		matched, err := s.match(p, text)
		if err != nil {
			s.logger.Error("Sensitive pattern failed",
				slog.String("category", p.name),
				slog.String("error", err.Error()))
			continue
		}
		if matched {
			found = append(found, p.name)
		}
	}
	return found
}

// Skipped lists categories whose expressions did not compile.
func (s *SensitiveScanner) Skipped() []string {
	return s.skipped
}

func (s *SensitiveScanner) match(p compiledPattern, text string) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while matching: %v", r)
		}
	}()
	return p.re.MatchString(text), nil
}
