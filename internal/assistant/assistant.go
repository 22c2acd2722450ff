package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/botany-labs/voice-agent-service/internal/speech"
)

// Tool identifiers the assistant may select. End-of-call is the only
// supported tool; custom tool execution is out of scope.
const ToolEndCall = "endCall"

// endCallToken is the literal the model emits to select the hang-up tool.
const endCallToken = "[endCall]"

// DefaultSystemPrompt primes the model for spoken, transcription-friendly
// replies.
const DefaultSystemPrompt = `You are a delightful AI voice agent.
Please be polite but concise.
Show a bit of personality.
Your text will be passed to a Text-To-Speech model.
Please respond with an answer that is going to be transcribed well and add uhs, ums, mhms, and other disfluencies as needed to keep it casual.
Respond ONLY with the text to be spoken.
DO NOT add any prefix.
The dialogue is transcribed and might be a bit wrong if the speech to text is bad.
Don't be afraid to ask to clarify if you don't understand what the customer said because you may have misheard.`

const instructionPromptBase = `
INSTRUCTIONS
{instructions}

TOOLS
{tools}
`

const (
	toolHangUpText = "[endCall] : You can use the token [endCall] tool to hang up the call. Write it exactly as that."
	toolsNoneText  = "N/A"
)

// ResponseGenerator generates a chat completion for a history.
type ResponseGenerator interface {
	ChatCompletion(ctx context.Context, messages []Message) (string, error)
}

// Response is one generated assistant turn.
type Response struct {
	Content      string
	SelectedTool string
}

// Config contains assistant behavior configuration.
type Config struct {
	Instructions   string
	SystemPrompt   string // DefaultSystemPrompt when empty
	OpeningMessage string // spoken verbatim when SpeakFirst is set and non-empty
	SpeakFirst     bool
	CanHangUp      bool
}

// Assistant is the conversational agent: it seeds the dialogue history,
// generates responses with tool selection, and synthesizes speech.
type Assistant struct {
	config      Config
	llm         ResponseGenerator
	synthesizer speech.Synthesizer
}

// New creates an assistant from its collaborator clients.
func New(config Config, llm ResponseGenerator, synthesizer speech.Synthesizer) (*Assistant, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm client cannot be nil")
	}

	if synthesizer == nil {
		return nil, fmt.Errorf("synthesizer cannot be nil")
	}

	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}

	return &Assistant{
		config:      config,
		llm:         llm,
		synthesizer: synthesizer,
	}, nil
}

// Prompt assembles the system and instruction messages that seed a new
// conversation's history.
func (a *Assistant) Prompt() []Message {
	tools := toolsNoneText
	if a.config.CanHangUp {
		tools = toolHangUpText
	}

	instructionPrompt := strings.ReplaceAll(instructionPromptBase, "{instructions}", a.config.Instructions)
	instructionPrompt = strings.ReplaceAll(instructionPrompt, "{tools}", tools)

	return []Message{
		{Role: RoleSystem, Content: a.config.SystemPrompt},
		{Role: RoleUser, Content: instructionPrompt},
	}
}

// Describe returns a JSON summary of the assistant's configuration for
// call logs.
func (a *Assistant) Describe() string {
	description, err := json.Marshal(a.config)
	if err != nil {
		return ""
	}
	return string(description)
}

// SpeakFirst reports whether the assistant opens the conversation.
func (a *Assistant) SpeakFirst() bool {
	return a.config.SpeakFirst
}

// OpeningMessage returns the preconfigured opening line, if any.
func (a *Assistant) OpeningMessage() string {
	return a.config.OpeningMessage
}

// CreateResponse generates the next assistant turn for the full history.
// An embedded end-call token is stripped from the content and surfaced as
// the selected tool.
func (a *Assistant) CreateResponse(ctx context.Context, history []Message) (Response, error) {
	content, err := a.llm.ChatCompletion(ctx, history)
	if err != nil {
		return Response{}, fmt.Errorf("failed to generate response: %w", err)
	}

	if strings.Contains(content, endCallToken) {
		content = strings.TrimSpace(strings.ReplaceAll(content, endCallToken, ""))
		return Response{Content: content, SelectedTool: ToolEndCall}, nil
	}

	return Response{Content: content}, nil
}

// TextToSpeech synthesizes a message into a streaming audio body.
func (a *Assistant) TextToSpeech(ctx context.Context, text string) (io.ReadCloser, error) {
	return a.synthesizer.Synthesize(ctx, text)
}
