// internal/service/enrich/gemini.go

package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-flash-latest"
)

const locationPrompt = `Analyze this post and determine the most likely real-world location it refers to.

Post: %q

Consider explicit place names, organizations and institutions that imply a place ("IIT Bombay" implies mumbai), nationalities, and the countries or regions the described events happen in. Only answer "unknown" if absolutely no location can be inferred.

Respond with ONLY the location name (lowercase, no punctuation) or "unknown". Do not include explanations.`

const topicPrompt = `Analyze this post and extract the main topic or theme in 1-3 words (e.g. "bomb blast", "employment", "name change", "protest", "accident").

Post: %q

Respond with ONLY the topic (lowercase, no punctuation) or "general". Do not include explanations.`

// GeminiClient infers locations and topics through the Gemini
// generateContent REST API. It implements both LocationInferrer and
// TopicInferrer.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient creates a Gemini client. model falls back to the default
// flash model when empty.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultGeminiBaseURL,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// InferLocation extracts the most likely location the text refers to, or
// "" if none can be inferred.
func (c *GeminiClient) InferLocation(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	raw, err := c.generate(ctx, fmt.Sprintf(locationPrompt, text), genConfig{
		Temperature:     0.2,
		MaxOutputTokens: 100,
		TopP:            0.9,
	})
	if err != nil {
		return "", err
	}

	location := cleanResponse(raw)
	if location == "" || location == "unknown" || len(location) < 2 {
		return "", nil
	}
	return normalizeLocationAliases(location), nil
}

// InferTopic extracts the main topic of the text, or "general" when it is
// unclear.
func (c *GeminiClient) InferTopic(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "general", nil
	}

	raw, err := c.generate(ctx, fmt.Sprintf(topicPrompt, text), genConfig{
		Temperature:     0.1,
		MaxOutputTokens: 30,
		TopP:            0.8,
	})
	if err != nil {
		return "", err
	}

	topic := cleanResponse(raw)
	if topic == "" || len(topic) >= 50 {
		return "general", nil
	}
	return topic, nil
}

type genConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP"`
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig genConfig         `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

func (c *GeminiClient) generate(ctx context.Context, prompt string, cfg genConfig) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents:         []generateContent{{Parts: []generatePart{{Text: prompt}}}},
		GenerationConfig: cfg,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status code %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gemini decode: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", nil
	}

	var parts []string
	for _, p := range out.Candidates[0].Content.Parts {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

var (
	responsePrefix = regexp.MustCompile(`^(location:|the location is:|topic:|the topic is:)\s*`)
	sentenceBreak  = regexp.MustCompile(`[.!?]\s+`)
	extraSpaces    = regexp.MustCompile(`\s+`)
)

// cleanResponse strips the decorations the model sometimes adds despite
// being told not to: prefixes, quotes, trailing explanations.
func cleanResponse(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = responsePrefix.ReplaceAllString(s, "")
	s = strings.Trim(s, `"'.,;:!?`)
	s = sentenceBreak.Split(s, 2)[0]
	return extraSpaces.ReplaceAllString(strings.TrimSpace(s), " ")
}
