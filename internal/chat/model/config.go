package model

// RetrievalMode selects which of the loop shapes runs per turn.
type RetrievalMode string

const (
	// RetrievalModeOff never retrieves (the plain-chat shape).
	RetrievalModeOff RetrievalMode = "off"
	// RetrievalModeAlways retrieves on every non-greeting turn (the RAG shape).
	RetrievalModeAlways RetrievalMode = "always"
	// RetrievalModeTool lets the response model request retrieval via a
	// bound tool, at most one round per turn (the agentic shape).
	RetrievalModeTool RetrievalMode = "tool"
)

// ParseRetrievalMode normalises a configured mode, falling back to the
// agentic shape for unknown values.
func ParseRetrievalMode(v string) RetrievalMode {
	switch RetrievalMode(v) {
	case RetrievalModeOff:
		return RetrievalModeOff
	case RetrievalModeAlways:
		return RetrievalModeAlways
	default:
		return RetrievalModeTool
	}
}

// ================ Config ================

type ConversationConfig struct {
	TTL         string `envconfig:"CONVERSATION_TTL" default:"15m"`
	WindowTurns int    `envconfig:"CONVERSATION_WINDOW_TURNS" default:"5"`
}

type RetrievalConfig struct {
	Mode           string  `envconfig:"RETRIEVAL_MODE" default:"tool"`
	Provider       string  `envconfig:"RETRIEVAL_PROVIDER" default:"keyword"`
	TopK           int     `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	MinScore       float64 `envconfig:"RETRIEVAL_MIN_SCORE" default:"0.01"`
	Timeout        string  `envconfig:"RETRIEVAL_TIMEOUT" default:"10s"`
	EmbeddingModel string  `envconfig:"RETRIEVAL_EMBEDDING_MODEL" default:"gemini-embedding-001"`
}

type AssemblerConfig struct {
	MaxPassages   int `envconfig:"CONTEXT_MAX_PASSAGES" default:"4"`
	PerPassageCap int `envconfig:"CONTEXT_PASSAGE_CAP" default:"800"`
	Budget        int `envconfig:"CONTEXT_BUDGET" default:"4000"`
}

type GateConfig struct {
	Greetings string `envconfig:"GATE_GREETINGS" default:"hello, hi, hey, greetings, good morning, good afternoon, good evening"`
}

type ResponseModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"1500"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.7"`
	MaxRetries  int     `envconfig:"RESPONSE_MAX_RETRIES" default:"1"`
	Timeout     string  `envconfig:"RESPONSE_TIMEOUT" default:"120s"`
}

type ResponsePromptConfig struct {
	AssistantName string `envconfig:"PROMPT_ASSISTANT_NAME" default:"travel assistant"`
	Specialty     string `envconfig:"PROMPT_SPECIALTY" default:"European destinations, Paris, budget travel tips, and family travel advice"`
}
