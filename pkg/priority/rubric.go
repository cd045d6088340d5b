package priority

import (
	"strings"

	"ticketflow/pkg/protocol"
)

// KeywordBucket is the keyword list for one priority.
type KeywordBucket struct {
	Priority Priority
	Keywords []string
}

// Rubric is the static rule set the classifier applies.
type Rubric struct {
	// Tags maps a lowercase tag to its priority.
	Tags map[string]Priority
	// Keywords are evaluated in order; the first bucket with a hit wins.
	Keywords []KeywordBucket
	// TypeDefaults maps a lowercase ticket type to its fallback priority.
	TypeDefaults map[string]Priority
}

// Source names the rubric rule a classification came from.
type Source string

// Source constants.
const (
	SourceNone    Source = ""
	SourceTag     Source = "tag"
	SourceKeyword Source = "keyword"
	SourceType    Source = "type"
)

// Classification is the classifier's verdict for one ticket.
type Classification struct {
	Priority  Priority
	Rationale string
	Source    Source
}

// DefaultRubric returns the built-in rubric.
func DefaultRubric() Rubric {
	tags := map[string]Priority{}
	for p, list := range map[Priority][]string{
		P0: {"security", "vulnerability", "outage", "incident", "data-loss", "critical", "hotfix"},
		P1: {"regression", "blocker", "urgent", "customer", "release-blocker"},
		P2: {"bug", "performance", "reliability"},
		P3: {"enhancement", "feature", "ux", "tech-debt"},
		P4: {"docs", "documentation", "chore", "cleanup", "nice-to-have", "refactor"},
	} {
		for _, t := range list {
			tags[t] = p
		}
	}

	return Rubric{
		Tags: tags,
		Keywords: []KeywordBucket{
			{P0, []string{"security", "vulnerability", "cve-", "data loss", "outage", "production down", "exploit"}},
			{P1, []string{"regression", "crash", "blocker", "broken", "urgent", "customer-facing"}},
			{P2, []string{"bug", "error", "fail", "incorrect", "performance", "slow", "leak"}},
			{P3, []string{"feature", "enhancement", "improve", "support for", "add "}},
			{P4, []string{"docs", "documentation", "typo", "readme", "cleanup", "nice to have", "polish"}},
		},
		TypeDefaults: map[string]Priority{
			"bug":         P2,
			"epic":        P2,
			"feature":     P3,
			"enhancement": P3,
			"task":        P3,
			"chore":       P4,
			"docs":        P4,
		},
	}
}

// Classify maps a ticket to a priority. Tags win over keywords, keywords over
// the type default. Among tags, the most urgent mapped bucket wins regardless
// of the order tags appear on the ticket. Classify is a pure function of its
// inputs.
func Classify(r Rubric, t protocol.Ticket) Classification {
	for _, bucket := range Buckets {
		for _, tag := range t.Tags {
			tag = strings.TrimSpace(tag)
			if p, ok := r.Tags[strings.ToLower(tag)]; ok && p == bucket {
				return Classification{Priority: p, Rationale: "Tag match: " + tag, Source: SourceTag}
			}
		}
	}

	text := strings.ToLower(t.Title + " " + t.Description)
	for _, kb := range r.Keywords {
		for _, kw := range kb.Keywords {
			if strings.Contains(text, kw) {
				return Classification{
					Priority:  kb.Priority,
					Rationale: "Keyword: " + strings.TrimSpace(kw),
					Source:    SourceKeyword,
				}
			}
		}
	}

	typ := strings.ToLower(strings.TrimSpace(t.Type))
	if p, ok := r.TypeDefaults[typ]; ok {
		return Classification{Priority: p, Rationale: "Type default: " + typ, Source: SourceType}
	}
	return Classification{Priority: Unknown, Rationale: "No rubric rule matched", Source: SourceNone}
}
