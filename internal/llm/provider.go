package llm

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/samsaffron/groq-chat/internal/config"
	apperr "github.com/samsaffron/groq-chat/internal/errors"
)

// Factory creates providers by configured name. Providers registered with
// Register take precedence and are returned as-is.
type Factory struct {
	mu         sync.RWMutex
	providers  map[string]config.ProviderConfig
	fixed      map[string]Provider
	httpClient *http.Client
}

// NewFactory creates a factory for the configured providers. httpClient may be nil.
func NewFactory(providers map[string]config.ProviderConfig, httpClient *http.Client) *Factory {
	copied := make(map[string]config.ProviderConfig, len(providers))
	for name, p := range providers {
		copied[name] = p
	}
	return &Factory{
		providers:  copied,
		fixed:      make(map[string]Provider),
		httpClient: httpClient,
	}
}

// Register installs a ready-made provider under name.
func (f *Factory) Register(name string, p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixed[name] = p
}

// Names returns every provider name the factory can build, sorted.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	seen := map[string]bool{}
	for name := range f.providers {
		seen[name] = true
	}
	for name := range f.fixed {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultCredential returns the configured API key for a provider. Providers
// that never talk to the network get a placeholder so sessions can stream.
func (f *Factory) DefaultCredential(name string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cfg := f.providers[name]
	if config.InferProviderType(name, cfg.Type) == config.ProviderTypeDebug {
		return "none"
	}
	return cfg.ResolvedAPIKey
}

// Provider returns a provider for name authenticated with credential.
func (f *Factory) Provider(name, credential string) (Provider, error) {
	f.mu.RLock()
	fixed, ok := f.fixed[name]
	cfg, configured := f.providers[name]
	f.mu.RUnlock()
	if ok {
		return fixed, nil
	}
	if !configured {
		// Built-in provider names work without a config entry.
		switch name {
		case config.ProviderGroq, config.ProviderAnthropic, config.ProviderGemini, config.ProviderDebug:
		default:
			return nil, apperr.UnknownProvider(name)
		}
	}

	credential = strings.TrimSpace(credential)
	switch config.InferProviderType(name, cfg.Type) {
	case config.ProviderTypeGroq:
		return NewGroqProvider(credential, cfg.BaseURL, f.httpClient), nil
	case config.ProviderTypeAnthropic:
		return NewAnthropicProvider(credential, cfg.BaseURL, f.httpClient), nil
	case config.ProviderTypeGemini:
		return NewGeminiProvider(credential, cfg.BaseURL, f.httpClient), nil
	case config.ProviderTypeDebug:
		return NewDebugProvider(cfg.Variant), nil
	case config.ProviderTypeOpenAICompat:
		if cfg.BaseURL == "" {
			return nil, apperr.ConfigInvalid("provider " + name + " requires base_url")
		}
		return NewOpenAICompatProviderWithHeaders(cfg.BaseURL, credential, name, cfg.Headers, f.httpClient), nil
	default:
		return nil, apperr.UnknownProvider(name)
	}
}
