// Package assemble builds the bounded knowledge context handed to the
// response model: passages merged in rank order under a passage-count
// cap and a total character budget, with provenance headers so answers
// can cite their sources.
package assemble

import (
	"strings"

	"github.com/travelmate-poc/server/internal/chat/model"
)

const (
	DefaultMaxPassages   = 4
	DefaultPerPassageCap = 800
	DefaultBudget        = 4000

	// Delimiter separates rendered passages inside a context block.
	Delimiter = "\n\n---\n\n"
)

// Assembler merges ranked passages into one bounded ContextBlock.
type Assembler struct {
	maxPassages   int
	perPassageCap int
	budget        int
}

func New(cfg model.AssemblerConfig) *Assembler {
	a := &Assembler{
		maxPassages:   cfg.MaxPassages,
		perPassageCap: cfg.PerPassageCap,
		budget:        cfg.Budget,
	}
	if a.maxPassages <= 0 {
		a.maxPassages = DefaultMaxPassages
	}
	if a.perPassageCap <= 0 {
		a.perPassageCap = DefaultPerPassageCap
	}
	if a.budget <= 0 {
		a.budget = DefaultBudget
	}
	return a
}

// Assemble takes passages in rank order and renders them until either
// the passage cap or the character budget binds. Truncated is set only
// when remaining candidates were dropped by the budget; stopping at the
// passage cap, or running out of candidates, is not truncation.
func (a *Assembler) Assemble(passages []model.Passage) model.ContextBlock {
	var (
		b        strings.Builder
		included []string
		total    int
		block    model.ContextBlock
	)

	for _, p := range passages {
		if len(included) == a.maxPassages {
			break
		}

		rendered := renderPassage(p, a.perPassageCap)
		cost := len(rendered)
		if len(included) > 0 {
			cost += len(Delimiter)
		}
		if total+cost > a.budget {
			block.Truncated = true
			break
		}

		if len(included) > 0 {
			b.WriteString(Delimiter)
		}
		b.WriteString(rendered)
		total += cost
		included = append(included, p.ID)
	}

	block.Text = b.String()
	block.IncludedPassageIDs = included
	return block
}

func renderPassage(p model.Passage, limit int) string {
	content := truncateRunes(p.Content, limit)
	var b strings.Builder
	b.WriteString("Document: ")
	b.WriteString(p.Title)
	b.WriteString("\nSource: ")
	b.WriteString(p.Source)
	b.WriteString("\nContent: ")
	b.WriteString(content)
	return b.String()
}

// truncateRunes cuts s to at most cap runes, marking the cut with an
// ellipsis inside the limit.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
