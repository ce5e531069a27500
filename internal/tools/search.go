package tools

import (
	"fmt"

	lctools "github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/tools/serpapi"
)

const WebSearchName = "web_search"

// namedTool gives a wrapped tool the name agents reference it by.
type namedTool struct {
	lctools.Tool
	name string
}

func (t namedTool) Name() string {
	return t.name
}

// NewWebSearch returns the SerpAPI search tool. The API key is read from SERPAPI_API_KEY.
func NewWebSearch() (lctools.Tool, error) {
	s, err := serpapi.New()
	if err != nil {
		return nil, fmt.Errorf("init serpapi: %w", err)
	}
	return namedTool{Tool: s, name: WebSearchName}, nil
}
