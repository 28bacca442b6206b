package domain

import "strings"

// Category is the simplified fund-style tag derived from the provider's free-text scheme category
type Category string

const (
	CategoryLargeCap      Category = "Large Cap"
	CategoryMidCap        Category = "Mid Cap"
	CategorySmallCap      Category = "Small Cap"
	CategoryFlexiCap      Category = "Flexi Cap"
	CategoryELSS          Category = "ELSS"
	CategoryDebt          Category = "Debt"
	CategoryHybrid        Category = "Hybrid"
	CategoryIndex         Category = "Index"
	CategoryThematic      Category = "Thematic"
	CategoryInternational Category = "International"
	CategoryOther         Category = "Other"
)

// DefaultFallbackReturn is the expected annual return (percent) used when a category has no entry
const DefaultFallbackReturn = 12.0

// CategoryRule maps a lowercase keyword to a category
// A rule matches when the keyword occurs anywhere in the lowercased provider category string
type CategoryRule struct {
	Keyword  string   `yaml:"keyword"`
	Category Category `yaml:"category"`
}

// DefaultCategoryRules returns the built-in rule list, in priority order
func DefaultCategoryRules() []CategoryRule {
	return []CategoryRule{
		{Keyword: "large cap", Category: CategoryLargeCap},
		{Keyword: "mid cap", Category: CategoryMidCap},
		{Keyword: "small cap", Category: CategorySmallCap},
		{Keyword: "flexi cap", Category: CategoryFlexiCap},
		{Keyword: "multi cap", Category: CategoryFlexiCap},
		{Keyword: "elss", Category: CategoryELSS},
		{Keyword: "debt", Category: CategoryDebt},
		{Keyword: "hybrid", Category: CategoryHybrid},
		{Keyword: "index", Category: CategoryIndex},
		{Keyword: "sectoral", Category: CategoryThematic},
		{Keyword: "thematic", Category: CategoryThematic},
	}
}

// DefaultExpectedReturns returns long-run expected annual returns (percent) per category
func DefaultExpectedReturns() map[Category]float64 {
	return map[Category]float64{
		CategoryLargeCap:      12.0,
		CategoryMidCap:        15.0,
		CategorySmallCap:      18.0,
		CategoryFlexiCap:      13.0,
		CategoryELSS:          13.0,
		CategoryDebt:          7.0,
		CategoryHybrid:        10.0,
		CategoryIndex:         11.0,
		CategoryThematic:      14.0,
		CategoryInternational: 12.0,
		CategoryOther:         12.0,
	}
}

// CategoryClassifier evaluates an ordered rule list against provider category text
type CategoryClassifier struct {
	rules []CategoryRule
}

// NewCategoryClassifier creates a classifier; an empty rule list falls back to DefaultCategoryRules
func NewCategoryClassifier(rules []CategoryRule) *CategoryClassifier {
	if len(rules) == 0 {
		rules = DefaultCategoryRules()
	}
	normalized := make([]CategoryRule, 0, len(rules))
	for _, r := range rules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" {
			continue
		}
		normalized = append(normalized, CategoryRule{Keyword: kw, Category: r.Category})
	}
	return &CategoryClassifier{rules: normalized}
}

// Classify returns the category of the first matching rule, or CategoryOther
func (c *CategoryClassifier) Classify(schemeCategory string) Category {
	lower := strings.ToLower(schemeCategory)
	for _, r := range c.rules {
		if strings.Contains(lower, r.Keyword) {
			return r.Category
		}
	}
	return CategoryOther
}

// ExpectedReturns is a category to expected annual return (percent) table with a fallback
type ExpectedReturns struct {
	Table    map[Category]float64
	Fallback float64
}

// DefaultExpectedReturnTable returns the built-in table with DefaultFallbackReturn
func DefaultExpectedReturnTable() ExpectedReturns {
	return ExpectedReturns{Table: DefaultExpectedReturns(), Fallback: DefaultFallbackReturn}
}

// For returns the expected return for a category, falling back for unknown ones
func (e ExpectedReturns) For(c Category) float64 {
	if v, ok := e.Table[c]; ok {
		return v
	}
	return e.Fallback
}
