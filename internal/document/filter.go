package document

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"
)

// Pair is an (attribute, pattern) filter rule.
type Pair struct {
	Attribute string
	Pattern   string
}

// ParsePair splits "attribute=pattern".
func ParsePair(text string) (Pair, error) {
	attribute, pattern, ok := strings.Cut(text, "=")
	if !ok || attribute == "" {
		return Pair{}, fmt.Errorf("filter %q: expected <attribute>=<pattern>", text)
	}
	return Pair{Attribute: attribute, Pattern: pattern}, nil
}

// Filter carries the three predicate families applied to a document. Every
// family is an AND over its rules, an empty family always matches.
type Filter struct {
	// Substrings match when the pattern is contained in the attribute.
	Substrings []Pair
	// Regexes match when the pattern matches at the start of the attribute.
	Regexes []Pair
	// Queries are jq expressions run against the JSON attributes, each must
	// produce at least one truthy value.
	Queries []string
}

// Empty reports whether the filter has no rules at all.
func (f Filter) Empty() bool {
	return len(f.Substrings) == 0 && len(f.Regexes) == 0 && len(f.Queries) == 0
}

type compiledRegex struct {
	attribute string
	re        *regexp.Regexp
}

type compiledQuery struct {
	source string
	code   *gojq.Code
}

// Matcher is a compiled Filter.
type Matcher struct {
	substrings []Pair
	regexes    []compiledRegex
	queries    []compiledQuery
}

// Compile validates and compiles regexes and jq expressions once so they
// can be applied to every document of a run.
func (f Filter) Compile() (*Matcher, error) {
	m := &Matcher{substrings: f.Substrings}

	for _, pair := range f.Regexes {
		re, err := regexp.Compile(`^(?:` + pair.Pattern + `)`)
		if err != nil {
			return nil, fmt.Errorf("compile regex for %q: %w", pair.Attribute, err)
		}
		m.regexes = append(m.regexes, compiledRegex{attribute: pair.Attribute, re: re})
	}

	for _, source := range f.Queries {
		// an empty expression matches everything
		if strings.TrimSpace(source) == "" {
			continue
		}
		query, err := gojq.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("parse jq expression %q: %w", source, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("compile jq expression %q: %w", source, err)
		}
		m.queries = append(m.queries, compiledQuery{source: source, code: code})
	}

	return m, nil
}

// Match compiles f and applies it to doc.
func (f Filter) Match(doc *Document) (bool, error) {
	m, err := f.Compile()
	if err != nil {
		return false, err
	}
	return m.Match(doc)
}

// Match reports whether doc satisfies every rule. A rule referencing an
// attribute the document lacks yields a *MissingAttributeError.
func (m *Matcher) Match(doc *Document) (bool, error) {
	for _, pair := range m.substrings {
		value, err := doc.Attributes.Get(pair.Attribute)
		if err != nil {
			return false, err
		}
		if !strings.Contains(value, pair.Pattern) {
			return false, nil
		}
	}

	for _, rule := range m.regexes {
		value, err := doc.Attributes.Get(rule.attribute)
		if err != nil {
			return false, err
		}
		if !rule.re.MatchString(value) {
			return false, nil
		}
	}

	if len(m.queries) == 0 {
		return true, nil
	}
	input, err := doc.Attributes.queryInput()
	if err != nil {
		return false, fmt.Errorf("serialize attributes: %w", err)
	}
	for _, query := range m.queries {
		ok, err := query.any(input)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// any runs the expression to completion and reports whether any produced
// value is truthy in jq's sense (anything except null and false).
func (q compiledQuery) any(input any) (bool, error) {
	found := false
	iter := q.code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return false, fmt.Errorf("jq expression %q: %w", q.source, err)
		}
		if v != nil && v != false {
			found = true
		}
	}
	return found, nil
}
