package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"localmind/internal/inference"
	"localmind/internal/tools/webfetch"
	"localmind/internal/tools/websearch"
)

// BrowsingAgent answers questions needing live information: web search,
// headless page fetch, then model synthesis over the page texts.
type BrowsingAgent struct {
	llm      *llmClient
	search   *websearch.Client
	fetcher  *webfetch.Fetcher
	maxPages int
	logger   *log.Logger
}

// NewBrowsingAgent builds the browsing agent.
func NewBrowsingAgent(llm *llmClient, search *websearch.Client, fetcher *webfetch.Fetcher, maxPages int) *BrowsingAgent {
	if maxPages <= 0 {
		maxPages = 3
	}
	return &BrowsingAgent{
		llm:      llm,
		search:   search,
		fetcher:  fetcher,
		maxPages: maxPages,
		logger:   log.New(log.Writer(), "[WEB] ", log.LstdFlags),
	}
}

func (a *BrowsingAgent) Role() string { return RoleBrowsing }

func (a *BrowsingAgent) Description() string {
	return "searches the web, reads pages and answers with current information and source links"
}

func (a *BrowsingAgent) Confidence(task Task) float64 {
	if task.Role == RoleBrowsing {
		return 0.9
	}
	return 0.1
}

func (a *BrowsingAgent) Execute(ctx context.Context, task Task) (Result, error) {
	results, err := a.search.Search(ctx, task.Description)
	if err != nil {
		return Result{}, fmt.Errorf("web search: %w", err)
	}
	if len(results) == 0 {
		return Result{}, fmt.Errorf("no search results for %q", task.Description)
	}

	var pages []webfetch.Page
	var sources []string
	for _, r := range results {
		if len(pages) >= a.maxPages {
			break
		}
		page, err := a.fetcher.Fetch(ctx, r.URL)
		if err != nil || page.Text == "" {
			a.logger.Printf("skipping %s: fetch produced no text", r.URL)
			continue
		}
		pages = append(pages, page)
		sources = append(sources, page.URL)
	}

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(task.Description)
	b.WriteString("\n\n")
	if len(pages) == 0 {
		// fall back to snippets when every fetch failed
		b.WriteString("Search result snippets:\n")
		for _, r := range results {
			fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
			sources = append(sources, r.URL)
		}
	} else {
		for i, p := range pages {
			fmt.Fprintf(&b, "Page %d (%s) %s:\n%s\n\n", i+1, p.URL, p.Title, p.Text)
		}
	}
	b.WriteString("Answer the question from the material above. Mention which page supports each claim.")

	comp, err := a.llm.chat(ctx, "browsing", []inference.Message{
		{Role: "system", Content: "You answer questions strictly from the provided web material. Say so when the material does not contain the answer."},
		{Role: "user", Content: b.String()},
	}, inference.Options{})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Content:    StripReasoning(comp.Text),
		Sources:    sources,
		TokensUsed: comp.Usage.TotalTokens,
		Cost:       a.llm.costOf("browsing", comp.Usage),
	}, nil
}
