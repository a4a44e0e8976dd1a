package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/martinemde/orion/llm"
)

// Synopsis is the output shape requested from the summarizer.
type Synopsis struct {
	S string `json:"s" jsonschema:"description=Short synopsis of the conversation (2-4 sentences)"`
}

const synopsisPrompt = "You summarize a finished coding conversation for later reference. " +
	"Describe what the user wanted and what was applied in 2-4 sentences. " +
	"Reply with a JSON object of the form {\"s\": \"<synopsis>\"}."

// maxTranscriptChars bounds the rendered conversation sent for summarization.
const maxTranscriptChars = 60000

// Render formats conversational records as plain text, one record per
// paragraph. Assistant answers that carry an assistant_message field are
// reduced to that message.
func Render(items []llm.Item) string {
	var sb strings.Builder
	for _, it := range items {
		switch it.Kind {
		case llm.KindUserMessage:
			fmt.Fprintf(&sb, "user: %s\n\n", it.Content)
		case llm.KindAssistantMessage:
			fmt.Fprintf(&sb, "assistant: %s\n\n", assistantText(it.Content))
		case llm.KindApply:
			fmt.Fprintf(&sb, "apply: %s\n\n", strings.Join(it.Paths, ", "))
		}
	}
	text := strings.TrimSpace(sb.String())
	if len(text) > maxTranscriptChars {
		start := len(text) - maxTranscriptChars
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
		text = text[start:]
	}
	return text
}

func assistantText(content string) string {
	var answer struct {
		AssistantMessage *string `json:"assistant_message"`
	}
	if err := json.Unmarshal([]byte(content), &answer); err == nil && answer.AssistantMessage != nil {
		return *answer.AssistantMessage
	}
	return content
}

// DriverSummarizer asks the Responses endpoint for a strict synopsis with
// minimal reasoning effort.
type DriverSummarizer struct {
	runner llm.TurnRunner
}

// NewDriverSummarizer creates a summarizer over runner.
func NewDriverSummarizer(runner llm.TurnRunner) *DriverSummarizer {
	return &DriverSummarizer{runner: runner}
}

// Synopsis implements Summarizer.
func (s *DriverSummarizer) Synopsis(ctx context.Context, items []llm.Item) (string, error) {
	schema, err := llm.SchemaFor[Synopsis]()
	if err != nil {
		return "", err
	}
	res, err := s.runner.Turn(ctx, llm.TurnRequest{
		Input:      []llm.Item{llm.SystemMessage(synopsisPrompt), llm.UserMessage(Render(items))},
		Schema:     schema,
		SchemaName: "Synopsis",
		Class:      llm.CallSummary,
	})
	if err != nil {
		return "", err
	}
	if len(res.ToolCalls) > 0 {
		return "", errors.New("summarizer requested tools")
	}
	out, err := llm.DecodeObject[Synopsis](res.Text())
	if err != nil {
		return "", err
	}
	return out.S, nil
}

// TextGenerator produces free-form text. llm.GollmClient implements it.
type TextGenerator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GollmSummarizer summarizes through a free-form text generator. Replies
// that are not the requested JSON object are used verbatim.
type GollmSummarizer struct {
	gen TextGenerator
}

// NewGollmSummarizer creates a summarizer over gen.
func NewGollmSummarizer(gen TextGenerator) *GollmSummarizer {
	return &GollmSummarizer{gen: gen}
}

// Synopsis implements Summarizer.
func (s *GollmSummarizer) Synopsis(ctx context.Context, items []llm.Item) (string, error) {
	text, err := s.gen.Generate(ctx, synopsisPrompt, Render(items))
	if err != nil {
		return "", err
	}
	return parseSynopsis(text), nil
}

func parseSynopsis(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if out, err := llm.DecodeObject[Synopsis](trimmed); err == nil && out.S != "" {
		return out.S
	}
	return strings.TrimSpace(text)
}
