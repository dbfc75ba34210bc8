package llm

import "net/http"

const (
	groqBaseURL     = "https://api.groq.com/openai/v1"
	groqDisplayName = "Groq"
)

// NewGroqProvider creates an OpenAICompatProvider preconfigured for Groq.
// baseURL overrides the public endpoint when non-empty.
func NewGroqProvider(apiKey, baseURL string, httpClient *http.Client) *OpenAICompatProvider {
	if baseURL == "" {
		baseURL = groqBaseURL
	}
	return NewOpenAICompatProviderWithHeaders(baseURL, apiKey, groqDisplayName, nil, httpClient)
}
