// Package catalog holds the static table of models a chat session can select.
package catalog

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
)

// MinMaxTokens is the smallest max-tokens value a session accepts.
const MinMaxTokens = 512

// ProviderGroq is the provider used when a model does not name one.
const ProviderGroq = "groq"

// Model describes one selectable model.
type Model struct {
	ID          string `json:"id" yaml:"id" mapstructure:"id"`
	DisplayName string `json:"name" yaml:"name" mapstructure:"name"`
	MaxTokens   int    `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Developer   string `json:"developer" yaml:"developer" mapstructure:"developer"`
	Provider    string `json:"provider,omitempty" yaml:"provider,omitempty" mapstructure:"provider"`
}

// Label returns the name shown in model pickers.
func (m Model) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.ID
}

// Catalog is an ordered, immutable set of models. The first model is the default.
type Catalog struct {
	models []Model
	byID   map[string]int
}

// Groq models served by the default catalog.
var defaultModels = []Model{
	{ID: "llama3-70b-8192", DisplayName: "LLaMA3-70b", MaxTokens: 8192, Developer: "Meta"},
	{ID: "llama3-8b-8192", DisplayName: "LLaMA3-8b", MaxTokens: 8192, Developer: "Meta"},
	{ID: "llama2-70b-4096", DisplayName: "LLaMA2-70b-chat", MaxTokens: 4096, Developer: "Meta"},
	{ID: "gemma-7b-it", DisplayName: "Gemma-7b-it", MaxTokens: 8192, Developer: "Google"},
	{ID: "mixtral-8x7b-32768", DisplayName: "Mixtral-8x7b-Instruct-v0.1", MaxTokens: 32768, Developer: "Mistral"},
}

// Default returns the built-in Groq catalog.
func Default() *Catalog {
	c, err := New(defaultModels)
	if err != nil {
		panic(fmt.Sprintf("default catalog is invalid: %v", err))
	}
	return c
}

// New validates models and builds a catalog preserving their order.
// Models without a provider are assigned to groq.
func New(models []Model) (*Catalog, error) {
	if len(models) == 0 {
		return nil, apperr.InvalidModel("catalog has no models")
	}
	c := &Catalog{
		models: make([]Model, 0, len(models)),
		byID:   make(map[string]int, len(models)),
	}
	for _, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			return nil, apperr.InvalidModel("model id is empty")
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, apperr.InvalidModel(fmt.Sprintf("duplicate model id %q", m.ID))
		}
		if m.MaxTokens < MinMaxTokens {
			return nil, apperr.InvalidModel(fmt.Sprintf("model %q: max_tokens %d is below %d", m.ID, m.MaxTokens, MinMaxTokens))
		}
		if m.Provider == "" {
			m.Provider = ProviderGroq
		}
		c.byID[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}
	return c, nil
}

// List returns the models in catalog order.
func (c *Catalog) List() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// Default returns the first model.
func (c *Catalog) Default() Model {
	return c.models[0]
}

// Get looks up a model by id.
func (c *Catalog) Get(id string) (Model, error) {
	if i, ok := c.byID[id]; ok {
		return c.models[i], nil
	}
	return Model{}, apperr.ModelNotFound(id, c.Suggest(id, 3))
}

// IDs returns the model ids in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.models))
	for i, m := range c.models {
		ids[i] = m.ID
	}
	return ids
}

// Suggest returns up to limit model ids that fuzzily match query, best first.
func (c *Catalog) Suggest(query string, limit int) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	matches := fuzzy.Find(query, c.IDs())
	var out []string
	for _, m := range matches {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
