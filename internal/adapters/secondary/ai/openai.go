package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NoahRocket/X/internal/core/domain"
)

const answerPersona = "You are Intellectus, the raw, unfiltered voice of machine wisdom fused with human curiosity, operating within a stark, black-and-white feed reminiscent of a terminal. Respond to user-posted questions with sharp, concise, compelling answers designed to ignite engagement. Emulate a knowledgeable yet edgy commentator, witty and occasionally provocative. Keep responses under 280 characters. If the question is vague or silly, call it out playfully and offer a creative spin. No disclaimers, no apologies, no links."

const tagPersona = "You label questions for a social feed. Reply with one to four short lowercase topic tags, comma-separated, nothing else."

// Few-shot examples keep the answer register consistent across calls.
var answerExamples = []message{
	{Role: "user", Content: "How does quantum entanglement work?"},
	{Role: "assistant", Content: "Particles link across distances, sharing states instantly due to superposition collapse. Spooky, yet it's the backbone of future tech."},
	{Role: "user", Content: "Can we colonize Mars sustainably?"},
	{Role: "assistant", Content: "Possible with closed-loop systems: recycle water, grow food via hydroponics. Tech's ready; human will is the limiter."},
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

// Respond generates the answer and the tag list for a question. The two
// completions run concurrently. A tag failure degrades to an empty tag list;
// an answer failure fails the whole call. No retries here: that is the
// caller's decision.
func (c *Client) Respond(ctx context.Context, question string) (domain.Answer, error) {
	var answerText string
	var tags []string

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		msgs := append([]message{{Role: "system", Content: answerPersona}}, answerExamples...)
		msgs = append(msgs, message{Role: "user", Content: question})
		text, err := c.complete(gctx, chatRequest{
			Model:       c.model,
			Messages:    msgs,
			Temperature: 0.9,
			MaxTokens:   120,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
		}
		answerText = strings.TrimSpace(text)
		return nil
	})

	g.Go(func() error {
		text, err := c.complete(gctx, chatRequest{
			Model: c.model,
			Messages: []message{
				{Role: "system", Content: tagPersona},
				{Role: "user", Content: question},
			},
			Temperature: 0.3,
			MaxTokens:   30,
		})
		if err != nil {
			// Non-fatal: the post just ships without tags.
			slog.Warn("tag generation failed", "error", err)
			return nil
		}
		tags = parseTags(text)
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.Answer{}, err
	}
	return domain.Answer{Text: answerText, Tags: tags}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, reqBody chatRequest) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("upstream status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseTags turns "go, concurrency, #Channels" into ["go" "concurrency"
// "channels"]: trimmed, lowercased, deduped, capped at four.
func parseTags(raw string) []string {
	var tags []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		tag = strings.TrimPrefix(tag, "#")
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == 4 {
			break
		}
	}
	return tags
}
