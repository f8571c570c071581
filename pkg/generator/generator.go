package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"appraisalstudio_backend/internal/model"
)

// Generator produces a marketing text artifact from property fields. The
// backing model service is an external collaborator; everything behind this
// interface is opaque to the rest of the system.
type Generator interface {
	Generate(ctx context.Context, fields model.PropertyFields, contentType model.ContentType) (string, error)
}

type HTTPGenerator struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewHTTPGenerator(apiKey, endpoint string) *HTTPGenerator {
	return &HTTPGenerator{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

var contentTypePrompts = map[model.ContentType]string{
	model.ListingDescription: "Write a compelling MLS listing description for this property.",
	model.SocialMediaPost:    "Write an engaging social media post announcing this property.",
	model.EmailCampaign:      "Write a marketing email presenting this property to potential buyers.",
	model.FlyerCopy:          "Write short punchy flyer copy for an open house for this property.",
	model.VideoScript:        "Write a 60-second video walkthrough script for this property.",
	model.NeighborhoodGuide:  "Write a neighborhood guide highlighting the area around this property.",
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, fields model.PropertyFields, contentType model.ContentType) (string, error) {
	payload := chatRequest{
		Model: "gpt-4o-mini",
		Messages: []chatMessage{
			{Role: "system", Content: "You are a real-estate marketing copywriter."},
			{Role: "user", Content: buildPrompt(fields, contentType)},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("error marshaling generator request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("error creating generator request: %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error calling generator: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading generator response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generator API error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("error parsing generator response: %v", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("generator API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generator returned no content")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func buildPrompt(fields model.PropertyFields, contentType model.ContentType) string {
	var b strings.Builder
	b.WriteString(contentTypePrompts[contentType])
	b.WriteString("\n\nProperty details:\n")
	fmt.Fprintf(&b, "Address: %s, %s, %s %s\n", fields.Address, fields.City, fields.State, fields.PostalCode)
	if fields.PropertyType != "" {
		fmt.Fprintf(&b, "Type: %s\n", fields.PropertyType)
	}
	if fields.Price > 0 {
		fmt.Fprintf(&b, "Price: %.0f %s\n", fields.Price, fields.Currency)
	}
	fmt.Fprintf(&b, "Bedrooms: %d, Bathrooms: %d\n", fields.Bedrooms, fields.Bathrooms)
	if fields.AreaSqFt > 0 {
		fmt.Fprintf(&b, "Area: %d sq ft\n", fields.AreaSqFt)
	}
	if fields.YearBuilt > 0 {
		fmt.Fprintf(&b, "Year built: %d\n", fields.YearBuilt)
	}
	if len(fields.Features) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(fields.Features, ", "))
	}
	if fields.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", fields.Notes)
	}
	return b.String()
}
