package retriever

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/travelmate-poc/server/internal/chat/model"
	logx "github.com/travelmate-poc/server/pkg/logger"
)

// Embedding task types as the genai API spells them.
const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// VectorRetriever embeds the knowledge base once with the Gemini
// embeddings API and ranks passages by cosine similarity to the query
// embedding.
type VectorRetriever struct {
	client *genai.Client
	model  string
	corpus []model.Passage
	vecs   [][]float32
}

func NewVectorRetriever(ctx context.Context, client *genai.Client, embeddingModel string, corpus []model.Passage) (*VectorRetriever, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is nil")
	}
	if embeddingModel == "" {
		embeddingModel = "gemini-embedding-001"
	}
	if corpus == nil {
		corpus = TravelKnowledge
	}

	r := &VectorRetriever{client: client, model: embeddingModel, corpus: corpus}
	if err := r.indexCorpus(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *VectorRetriever) Name() string { return "vector" }

func (r *VectorRetriever) indexCorpus(ctx context.Context) error {
	contents := make([]*genai.Content, len(r.corpus))
	for i, p := range r.corpus {
		contents[i] = genai.NewContentFromText(p.Title+"\n"+p.Content, genai.RoleUser)
	}

	result, err := r.client.Models.EmbedContent(ctx, r.model, contents, &genai.EmbedContentConfig{
		TaskType: taskRetrievalDocument,
	})
	if err != nil {
		return fmt.Errorf("embed knowledge base: %w", err)
	}
	if len(result.Embeddings) != len(r.corpus) {
		return fmt.Errorf("embed knowledge base: got %d embeddings for %d passages", len(result.Embeddings), len(r.corpus))
	}

	r.vecs = make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		r.vecs[i] = emb.Values
	}
	logx.Info().Int("passages", len(r.corpus)).Str("model", r.model).Msg("knowledge base embedded")
	return nil
}

func (r *VectorRetriever) Search(ctx context.Context, query string, topK int) ([]model.Passage, error) {
	contents := []*genai.Content{genai.NewContentFromText(query, genai.RoleUser)}

	result, err := r.client.Models.EmbedContent(ctx, r.model, contents, &genai.EmbedContentConfig{
		TaskType: taskRetrievalQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embed query: no embeddings returned")
	}
	qv := result.Embeddings[0].Values

	scored := make([]model.Passage, 0, len(r.corpus))
	for i, p := range r.corpus {
		p.Score = cosine(qv, r.vecs[i])
		scored = append(scored, p)
	}

	rankDescending(scored)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
