// Package gemini builds the generate-content request the settlement workflow
// sends through the HTTP capability and parses the outcome out of the reply.
package gemini

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/roach88/verdict/internal/envelope"
	"github.com/roach88/verdict/internal/ir"
)

// BaseURL is the generate-content endpoint root.
const BaseURL = "https://generativelanguage.googleapis.com/v1beta/models/"

// SystemPrompt instructs the model to answer with a bare JSON verdict.
const SystemPrompt = `
You are a fact-checking and event resolution system that determines the real-world outcome of prediction markets.
OUTPUT FORMAT (CRITICAL):
- You MUST respond with a SINGLE JSON object: {"result": "YES" | "NO" | "INCONCLUSIVE", "confidence": <integer 0-10000>}
- No markdown, no prose.
`

// UserPrompt precedes the market question.
const UserPrompt = "Determine the outcome for: "

// Prompt is the full text sent for question.
func Prompt(question string) string {
	return SystemPrompt + "\n" + UserPrompt + question
}

// Endpoint returns the generate-content URL for model, authenticated with
// apiKey. Both are trimmed.
func Endpoint(model, apiKey string) string {
	return BaseURL + strings.TrimSpace(model) + ":generateContent?key=" + url.QueryEscape(strings.TrimSpace(apiKey))
}

// RequestBody is the canonical JSON body asking the model about question with
// search grounding enabled.
func RequestBody(question string) ([]byte, error) {
	body := ir.IRObject{
		"contents": ir.IRArray{
			ir.IRObject{"parts": ir.IRArray{ir.IRObject{"text": ir.IRString(Prompt(question))}}},
		},
		"tools": ir.IRArray{
			ir.IRObject{"google_search": ir.IRObject{}},
		},
	}
	data, err := ir.MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("gemini request body: %w", err)
	}
	return data, nil
}

// BuildRequest assembles the HTTP capability request. Every node receives the
// same bytes, so nothing time- or node-dependent may appear here.
func BuildRequest(model, apiKey, question string) (*envelope.HTTPRequest, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("gemini: empty model name")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: empty api key")
	}
	body, err := RequestBody(question)
	if err != nil {
		return nil, err
	}
	return &envelope.HTTPRequest{
		URL:     Endpoint(model, apiKey),
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    hexutil.Bytes(body),
	}, nil
}

// ResponseBody wraps text the way the provider does, as the first part of
// the first candidate.
func ResponseBody(text string) ([]byte, error) {
	body := ir.IRObject{
		"candidates": ir.IRArray{
			ir.IRObject{"content": ir.IRObject{
				"parts": ir.IRArray{ir.IRObject{"text": ir.IRString(text)}},
			}},
		},
	}
	data, err := ir.MarshalCanonical(body)
	if err != nil {
		return nil, fmt.Errorf("gemini response body: %w", err)
	}
	return data, nil
}
