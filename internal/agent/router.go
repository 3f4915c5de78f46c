package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"localmind/config"
	"localmind/internal/inference"
	"localmind/internal/telemetry"
)

// Decision is the router's verdict for one query.
type Decision struct {
	Role       string             `json:"role"`
	Complexity Complexity         `json:"complexity"`
	Pipeline   bool               `json:"pipeline"`
	Confidence float64            `json:"confidence"`
	Votes      map[string]float64 `json:"votes"`
}

// shortQueryChars is the length at or below which a query is always small
// talk.
const shortQueryChars = 8

// Router classifies queries into an agent role and a complexity level. It
// combines a lexical keyword vote with a model vote; when the two disagree
// the stronger normalised score wins.
type Router struct {
	llm       *llmClient
	threshold float64
	logger    *log.Logger
}

// NewRouter builds a router. threshold is the minimum combined confidence
// below which complexity is forced to high.
func NewRouter(provider inference.Provider, llmCfg config.LLMConfig, agentsCfg config.AgentsConfig, tel *telemetry.Telemetry) *Router {
	agentsCfg = agentsCfg.Normalize()
	return &Router{
		llm:       &llmClient{provider: provider, cfg: llmCfg, telemetry: tel},
		threshold: agentsCfg.ConfidenceThreshold,
		logger:    log.New(log.Writer(), "[ROUTER] ", log.LstdFlags),
	}
}

// roleKeywords drive the lexical half of the vote. Weights reflect how
// strongly a term implies the role.
var roleKeywords = map[string]map[string]float64{
	RoleCoding: {
		"code": 1, "script": 1, "program": 1, "function": 0.8, "debug": 1,
		"compile": 1, "error": 0.5, "python": 1, "golang": 1, "javascript": 1,
		"bash": 1, "bug": 0.8, "implement": 0.8, "algorithm": 0.8, "regex": 1,
		"write a": 0.3, "run": 0.4, "execute": 0.6,
	},
	RoleBrowsing: {
		"search": 1, "web": 1, "online": 1, "internet": 1, "website": 1,
		"look up": 1, "news": 0.8, "latest": 0.8, "find out": 0.8, "browse": 1,
		"price": 0.6, "weather": 0.8, "who is": 0.6, "what is the current": 0.9,
		"today": 0.5, "url": 0.8, "http": 0.8,
	},
	RoleFiles: {
		"file": 1, "folder": 1, "directory": 1, "locate": 0.8, "find my": 1,
		"document": 0.8, "rename": 1, "move": 0.6, "copy": 0.6, "delete": 0.6,
		"workspace": 0.8, "path": 0.6, "saved": 0.6, "on my disk": 1,
		"on my computer": 1,
	},
	RoleTalk: {
		"hello": 1, "hi": 0.8, "hey": 0.8, "thanks": 1, "thank you": 1,
		"how are you": 1, "your opinion": 0.9, "tell me about you": 1,
		"chat": 0.8, "joke": 0.9, "explain": 0.4, "what do you think": 0.9,
	},
}

// complexityKeywords push a query toward the planner.
var complexityKeywords = map[string]float64{
	"and then": 1, "after that": 1, "then": 0.5, "first": 0.4, "finally": 0.6,
	"step by step": 1, "multiple": 0.6, "several": 0.5, "plan": 0.8,
	"organize": 0.7, "research and": 0.9, "summarize and": 0.9,
	"compare and": 0.8, "make a report": 0.9,
}

// pipelineExclusions are phrases whose "then" is conversational, not
// sequential.
var pipelineExclusions = []string{"rather than", "other than", "more than", "less than", "better than"}

var actionVerbs = []string{
	"search", "write", "create", "make", "find", "download", "run", "fetch",
	"summarize", "summarise", "save", "fix", "build", "check", "compare",
	"open", "read", "send",
}

// Route classifies a query. Empty queries are an error; very short queries
// short-circuit to the talk agent.
func (r *Router) Route(ctx context.Context, query Query) (Decision, error) {
	text := strings.TrimSpace(query.Content)
	if text == "" {
		return Decision{}, fmt.Errorf("empty query")
	}
	if len(text) <= shortQueryChars {
		return Decision{Role: RoleTalk, Complexity: ComplexityLow, Confidence: 1.0}, nil
	}

	sentence := firstSentence(text)

	lexical := lexicalVote(sentence)
	model, err := r.modelVote(ctx, sentence)
	if err != nil {
		// lexical vote alone still routes; the model half is best effort
		r.logger.Printf("model vote unavailable, using lexical vote only: %v", err)
		model = map[string]float64{}
	}

	votes := make(map[string]float64, 4)
	for _, role := range []string{RoleCoding, RoleBrowsing, RoleFiles, RoleTalk} {
		votes[role] = lexical[role] + model[role]
	}
	role, confidence := strongest(votes)
	if role == "" {
		role = RoleTalk
	}

	complexity := r.estimateComplexity(text, confidence)
	pipeline := detectPipeline(text)
	if pipeline {
		complexity = ComplexityHigh
	}

	d := Decision{
		Role:       role,
		Complexity: complexity,
		Pipeline:   pipeline,
		Confidence: confidence,
		Votes:      votes,
	}
	r.logger.Printf("routed %q to %s (complexity=%s confidence=%.2f)", truncateQuery(sentence), role, complexity, confidence)
	return d, nil
}

// estimateComplexity flags a query as high when complexity evidence is
// strong or the routing vote itself is uncertain.
func (r *Router) estimateComplexity(text string, confidence float64) Complexity {
	lower := strings.ToLower(text)
	score := 0.0
	for kw, w := range complexityKeywords {
		if strings.Contains(lower, kw) {
			score += w
		}
	}
	if score >= 1.0 {
		return ComplexityHigh
	}
	if confidence < r.threshold {
		return ComplexityHigh
	}
	return ComplexityLow
}

// modelVote asks the routing model for a role distribution.
func (r *Router) modelVote(ctx context.Context, sentence string) (map[string]float64, error) {
	msgs := []inference.Message{
		{Role: "system", Content: `You classify user requests for a local assistant. Categories:
- code: writing, running or debugging programs
- web: anything needing live information from the internet
- files: locating or manipulating files on the user's machine
- talk: conversation, opinions, general knowledge
Reply with JSON only: {"category": "<code|web|files|talk>", "confidence": <0..1>}`},
		{Role: "user", Content: sentence},
	}
	comp, err := r.llm.chat(ctx, "router", msgs, inference.Options{JSONMode: true, MaxTokens: 64})
	if err != nil {
		return nil, err
	}
	raw := inference.ExtractFirstJSON(comp.Text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON in router vote: %s", truncateQuery(comp.Text))
	}
	var vote struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &vote); err != nil {
		return nil, fmt.Errorf("decoding router vote: %w", err)
	}
	role := normalizeRole(vote.Category)
	if role == "" {
		return nil, fmt.Errorf("router vote returned unknown category %q", vote.Category)
	}
	if vote.Confidence <= 0 || vote.Confidence > 1 {
		vote.Confidence = 0.5
	}
	return map[string]float64{role: vote.Confidence}, nil
}

// lexicalVote scores the sentence against the keyword tables, normalised so
// the strongest role is at most 1.
func lexicalVote(sentence string) map[string]float64 {
	lower := strings.ToLower(sentence)
	votes := make(map[string]float64, len(roleKeywords))
	max := 0.0
	for role, kws := range roleKeywords {
		score := 0.0
		for kw, w := range kws {
			if strings.Contains(lower, kw) {
				score += w
			}
		}
		votes[role] = score
		if score > max {
			max = score
		}
	}
	if max > 0 {
		for role := range votes {
			votes[role] /= max
		}
	}
	return votes
}

// detectPipeline reports whether the query chains several actions that a
// single agent should not absorb.
func detectPipeline(text string) bool {
	lower := strings.ToLower(text)
	for _, ex := range pipelineExclusions {
		lower = strings.ReplaceAll(lower, ex, "")
	}
	if strings.Contains(lower, "and then") || strings.Contains(lower, "after that") {
		return true
	}
	verbs := 0
	for _, v := range actionVerbs {
		if containsWord(lower, v) {
			verbs++
		}
	}
	return verbs >= 3
}

// firstSentence returns the query up to the first sentence boundary; the
// opening sentence carries the routing signal.
func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if i > 0 {
				return strings.TrimSpace(text[:i])
			}
		}
	}
	return strings.TrimSpace(text)
}

func strongest(votes map[string]float64) (string, float64) {
	best, bestScore := "", 0.0
	total := 0.0
	for role, score := range votes {
		total += score
		if score > bestScore {
			best, bestScore = role, score
		}
	}
	if total == 0 {
		return "", 0
	}
	return best, bestScore / total
}

func normalizeRole(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "code", "coding":
		return RoleCoding
	case "web", "browse", "browsing", "search":
		return RoleBrowsing
	case "files", "file":
		return RoleFiles
	case "talk", "chat", "conversation":
		return RoleTalk
	default:
		return ""
	}
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isLetter(s[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(s) || !isLetter(s[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func truncateQuery(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
