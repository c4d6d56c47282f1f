package assemble

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelmate-poc/server/internal/chat/model"
)

func passage(id, content string) model.Passage {
	return model.Passage{
		ID:      id,
		Title:   "Title " + id,
		Source:  "guides/" + id + ".md",
		Content: content,
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	a := New(model.AssemblerConfig{})
	block := a.Assemble(nil)

	assert.Empty(t, block.Text)
	assert.Empty(t, block.IncludedPassageIDs)
	assert.False(t, block.Truncated)
}

func TestAssemblePassageCapBinds(t *testing.T) {
	a := New(model.AssemblerConfig{MaxPassages: 4, PerPassageCap: 800, Budget: 100000})

	var passages []model.Passage
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		passages = append(passages, passage(id, "short content"))
	}

	block := a.Assemble(passages)

	require.Equal(t, []string{"a", "b", "c", "d"}, block.IncludedPassageIDs)
	// Stopping at the passage cap is not truncation.
	assert.False(t, block.Truncated)
	assert.Equal(t, 3, strings.Count(block.Text, Delimiter))
}

func TestAssembleBudgetBinds(t *testing.T) {
	long := strings.Repeat("x", 400)
	a := New(model.AssemblerConfig{MaxPassages: 4, PerPassageCap: 800, Budget: 500})

	block := a.Assemble([]model.Passage{
		passage("a", long),
		passage("b", long),
		passage("c", long),
	})

	require.Equal(t, []string{"a"}, block.IncludedPassageIDs)
	assert.True(t, block.Truncated)
	assert.LessOrEqual(t, len(block.Text), 500)
}

func TestAssembleRendersProvenance(t *testing.T) {
	a := New(model.AssemblerConfig{})
	block := a.Assemble([]model.Passage{passage("a", "the content")})

	assert.Contains(t, block.Text, "Document: Title a")
	assert.Contains(t, block.Text, "Source: guides/a.md")
	assert.Contains(t, block.Text, "Content: the content")
}

func TestAssemblePerPassageCap(t *testing.T) {
	a := New(model.AssemblerConfig{PerPassageCap: 50})
	block := a.Assemble([]model.Passage{passage("a", strings.Repeat("y", 200))})

	require.Len(t, block.IncludedPassageIDs, 1)
	assert.Contains(t, block.Text, "...")
	// Content segment respects the cap including the ellipsis.
	content := block.Text[strings.Index(block.Text, "Content: ")+len("Content: "):]
	assert.LessOrEqual(t, len([]rune(content)), 50)
}

func TestAssemblePreservesRankOrder(t *testing.T) {
	a := New(model.AssemblerConfig{})
	block := a.Assemble([]model.Passage{
		passage("second", "bbb"),
		passage("first", "aaa"),
	})

	require.Equal(t, []string{"second", "first"}, block.IncludedPassageIDs)
	assert.Less(t, strings.Index(block.Text, "Title second"), strings.Index(block.Text, "Title first"))
}

func TestTruncateRunesMultibyte(t *testing.T) {
	s := strings.Repeat("é", 100)
	out := truncateRunes(s, 10)
	assert.Equal(t, 10, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "..."))
}
