// internal/service/enrich/keyword.go

package enrich

import (
	"context"
	"sort"
	"strings"
)

// locationAliases maps historical or colloquial place names onto their
// current name so both variants land in the same cluster.
var locationAliases = map[string]string{
	"bombay":    "mumbai",
	"calcutta":  "kolkata",
	"madras":    "chennai",
	"bengaluru": "bangalore",
}

func normalizeLocationAliases(location string) string {
	for variant, normalized := range locationAliases {
		if strings.Contains(location, variant) {
			return normalized
		}
	}
	return location
}

// locationKeywords maps substrings to location names for the deterministic
// fallback inferrer.
var locationKeywords = map[string]string{
	"mumbai":        "mumbai",
	"bombay":        "mumbai",
	"iit bombay":    "mumbai",
	"iit mumbai":    "mumbai",
	"delhi":         "delhi",
	"new delhi":     "delhi",
	"bangalore":     "bangalore",
	"bengaluru":     "bangalore",
	"chennai":       "chennai",
	"madras":        "chennai",
	"kolkata":       "kolkata",
	"calcutta":      "kolkata",
	"hyderabad":     "hyderabad",
	"pune":          "pune",
	"ahmedabad":     "ahmedabad",
	"lucknow":       "lucknow",
	"faridabad":     "faridabad",
	"new york":      "new york",
	"london":        "london",
	"paris":         "paris",
	"tokyo":         "tokyo",
	"beijing":       "beijing",
	"syria":         "syria",
	"syrian":        "syria",
	"israel":        "israel",
	"israeli":       "israel",
	"palestine":     "palestine",
	"palestinian":   "palestine",
	"ukraine":       "ukraine",
	"ukrainian":     "ukraine",
	"russia":        "russia",
	"russian":       "russia",
	"pakistan":      "pakistan",
	"pakistani":     "pakistan",
	"afghanistan":   "afghanistan",
	"afghan":        "afghanistan",
	"usa":           "united states",
	"united states": "united states",
	"america":       "united states",
	"american":      "united states",
	"china":         "china",
	"chinese":       "china",
	"india":         "india",
	"indian":        "india",
}

// topicKeywords maps substrings to topics for the deterministic fallback
// inferrer.
var topicKeywords = map[string]string{
	"bomb blast":       "bomb blast",
	"bomb":             "bomb blast",
	"blast":            "bomb blast",
	"explosion":        "explosion",
	"employment":       "employment",
	"job":              "employment",
	"campus selection": "employment",
	"package":          "employment",
	"name change":      "name change",
	"rename":           "name change",
	"protest":          "protest",
	"accident":         "accident",
	"crash":            "accident",
	"fire":             "fire",
	"arrest":           "arrest",
	"investigation":    "investigation",
	"nia":              "investigation",
}

// keywordTable matches known substrings against a text, longest keyword
// first so "bomb blast" wins over "bomb".
type keywordTable struct {
	keywords []string
	values   map[string]string
}

func newKeywordTable(values map[string]string) keywordTable {
	keywords := make([]string, 0, len(values))
	for k := range values {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})
	return keywordTable{keywords: keywords, values: values}
}

func (t keywordTable) match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range t.keywords {
		if strings.Contains(lower, k) {
			return t.values[k], true
		}
	}
	return "", false
}

// KeywordLocationInferrer is a deterministic, table-driven substitute for
// the LLM location inferrer, used when no model is configured.
type KeywordLocationInferrer struct {
	table keywordTable
}

// NewKeywordLocationInferrer creates the fallback location inferrer.
func NewKeywordLocationInferrer() *KeywordLocationInferrer {
	return &KeywordLocationInferrer{table: newKeywordTable(locationKeywords)}
}

// InferLocation returns the first known place mentioned in the text, or ""
// when none is.
func (i *KeywordLocationInferrer) InferLocation(_ context.Context, text string) (string, error) {
	location, ok := i.table.match(text)
	if !ok {
		return "", nil
	}
	return location, nil
}

// KeywordTopicInferrer is a deterministic, table-driven substitute for the
// LLM topic inferrer.
type KeywordTopicInferrer struct {
	table keywordTable
}

// NewKeywordTopicInferrer creates the fallback topic inferrer.
func NewKeywordTopicInferrer() *KeywordTopicInferrer {
	return &KeywordTopicInferrer{table: newKeywordTable(topicKeywords)}
}

// InferTopic returns the first known topic mentioned in the text, or
// "general" when none is.
func (i *KeywordTopicInferrer) InferTopic(_ context.Context, text string) (string, error) {
	topic, ok := i.table.match(text)
	if !ok {
		return "general", nil
	}
	return topic, nil
}
