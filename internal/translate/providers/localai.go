// Package providers has the one concrete translation backend this repository
// ships: a generic OpenAI-compatible chat-completions adapter, the default
// for the "localai" service_type config key. Concrete adapters
// for hosted commercial backends are explicitly out of scope;
// this one exists because the config's default value needs a real
// implementation rather than a dangling string.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate"
)

// LocalAI talks to any OpenAI-compatible /v1/chat/completions endpoint
// (llama.cpp server, vLLM, text-generation-webui, …), the same way the
// original media pipeline's custom STT provider talks to an OpenAI-compatible
// transcription endpoint.
type LocalAI struct {
	Endpoint   string
	Model      string
	APIKey     string
	HTTPClient *http.Client
	MaxRetries int
	Timeout    time.Duration
}

func New(endpoint, model, apiKey string) *LocalAI {
	return &LocalAI{
		Endpoint:   endpoint,
		Model:      model,
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
		MaxRetries: 3,
		Timeout:    15 * time.Second,
	}
}

func (p *LocalAI) Name() string { return "localai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func buildRetryPolicy(maxAttempts int) failsafe.Policy[string] {
	return retrypolicy.Builder[string]().
		HandleIf(func(_ string, err error) bool {
			return translate.IsRetryable(err)
		}).
		WithMaxAttempts(maxAttempts).
		ReturnLastFailure().
		WithBackoffFactor(500*time.Millisecond, 5*time.Second, 2.0).
		Build()
}

func translatePrompt(text, srcLang, tgtLang string) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: fmt.Sprintf(
			"You are a subtitle translator. Translate from %s to %s. "+
				"Reply with only the translation, no commentary.", srcLang, tgtLang)},
		{Role: "user", Content: text},
	}
}

// TranslateLine implements Translator over a single chat-completions call.
func (p *LocalAI) TranslateLine(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	policy := buildRetryPolicy(p.MaxRetries)
	return failsafe.Get(func() (string, error) {
		return p.complete(ctx, translatePrompt(text, srcLang, tgtLang))
	}, policy)
}

// TranslateBatch sends lines as a newline-delimited, numbered block and
// expects the same numbering back, so the caller can validate alignment
// itself (the port makes no ordering guarantee beyond what this call
// returns — concurrency and alignment validation live in the batch
// translator). contextBefore/contextAfter are rendered as plain,
// unnumbered lines before/after the numbered block so the model can use
// them for continuity without being asked to translate or echo them back.
func (p *LocalAI) TranslateBatch(ctx context.Context, lines, contextBefore, contextAfter []string, srcLang, tgtLang string) ([]string, error) {
	var buf bytes.Buffer
	if len(contextBefore) > 0 {
		fmt.Fprintf(&buf, "Context before (do not translate, for continuity only):\n%s\n\n",
			joinLines(contextBefore))
	}
	fmt.Fprint(&buf, "Lines to translate:\n")
	for i, l := range lines {
		fmt.Fprintf(&buf, "%d. %s\n", i+1, l)
	}
	if len(contextAfter) > 0 {
		fmt.Fprintf(&buf, "\nContext after (do not translate, for continuity only):\n%s\n",
			joinLines(contextAfter))
	}
	messages := []chatMessage{
		{Role: "system", Content: fmt.Sprintf(
			"You are a subtitle translator. Translate each numbered line from %s to %s. "+
				"Lines under a \"context\" heading are supplied only so you understand what surrounds "+
				"the numbered lines; never translate or reply with them. "+
				"Reply with the same numbering, one translated line per number, nothing else.",
			srcLang, tgtLang)},
		{Role: "user", Content: buf.String()},
	}

	policy := buildRetryPolicy(p.MaxRetries)
	reply, err := failsafe.Get(func() (string, error) {
		return p.complete(ctx, messages)
	}, policy)
	if err != nil {
		return nil, err
	}

	out, err := parseNumberedReply(reply, len(lines))
	if err != nil {
		return nil, translate.InvalidResponse(err)
	}
	return out, nil
}

func parseNumberedReply(reply string, want int) ([]string, error) {
	out := make([]string, want)
	found := 0
	for _, line := range splitLines(reply) {
		idx, rest, ok := splitNumberedLine(line)
		if !ok || idx < 1 || idx > want {
			continue
		}
		out[idx-1] = rest
		found++
	}
	if found != want {
		return nil, fmt.Errorf("expected %d numbered lines, found %d", want, found)
	}
	for _, l := range out {
		if l == "" {
			return nil, fmt.Errorf("reply contained an empty translation for a non-empty input")
		}
	}
	return out, nil
}

func joinLines(lines []string) string {
	var buf bytes.Buffer
	for i, l := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(l)
	}
	return buf.String()
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func splitNumberedLine(line string) (int, string, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	n, err := strconv.Atoi(line[:i])
	if err != nil {
		return 0, "", false
	}
	rest := line[i:]
	for len(rest) > 0 && (rest[0] == '.' || rest[0] == ' ' || rest[0] == ')') {
		rest = rest[1:]
	}
	return n, rest, true
}

func (p *LocalAI) complete(ctx context.Context, messages []chatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Model: p.Model, Messages: messages})
	if err != nil {
		return "", translate.NonRetryable(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", translate.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", translate.ServiceFailure(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", translate.RateLimited(parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("%s", respBody))
	case resp.StatusCode >= 500:
		return "", translate.ServiceFailure(fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	case resp.StatusCode >= 400:
		return "", translate.NonRetryable(fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", translate.InvalidResponse(err)
	}
	if len(parsed.Choices) == 0 {
		return "", translate.InvalidResponse(fmt.Errorf("empty choices in response"))
	}
	return parsed.Choices[0].Message.Content, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
