package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/pkg/retry"
)

const DefaultHistoryLimit = 20

// Resolver asks the chat model for the next directive. The model is expected
// to answer with {"act": "...", "text": "...", "hints": [...]}.
type Resolver struct {
	runner       compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	historyLimit int
	policy       retry.Policy
}

type Option func(*Resolver)

func WithHistoryLimit(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

func WithRetry(p retry.Policy) Option {
	return func(r *Resolver) {
		r.policy = p
	}
}

var _ contractx.IntentResolver = (*Resolver)(nil)

func New(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, opts ...Option) (*Resolver, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}

	runner, err := compileIntentGraph(ctx, chatModel)
	if err != nil {
		return nil, fmt.Errorf("%w: compile intent graph: %v", contractx.ErrModelInvoke, err)
	}

	r := &Resolver{
		runner:       runner,
		systemPrompt: systemPrompt,
		historyLimit: DefaultHistoryLimit,
		policy:       retry.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// compileIntentGraph wires prompt -> model. The system prompt goes through a
// placeholder so braces in it are never treated as template variables.
func compileIntentGraph(ctx context.Context, chatModel einomodel.BaseChatModel) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system", true),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add intent prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add intent model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add intent edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add intent edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add intent edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("intent.resolver_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile intent graph: %w", err)
	}
	return runner, nil
}

// Resolve returns the model's directive. Output that is not a well-formed
// directive becomes a say directive carrying the raw model text. An error is
// returned only when every attempt to reach the model failed.
func (r *Resolver) Resolve(ctx context.Context, history []contractx.Turn, text string) (contractx.Directive, error) {
	input := map[string]any{
		"system":  r.systemMessages(),
		"history": toMessages(r.trimHistory(history)),
		"query":   text,
	}

	raw, err := retry.Do(ctx, r.policy.Named("intent.resolve"), func(ctx context.Context) (string, error) {
		msg, err := r.runner.Invoke(ctx, input)
		if err != nil {
			return "", fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
		}
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			return "", fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
		}
		return msg.Content, nil
	})
	if err != nil {
		return contractx.Directive{}, err
	}

	d := ParseDirective(raw)
	log.Ctx(ctx).Debug().Str("act", d.Tag()).Msg("intent resolved")
	return d, nil
}

func (r *Resolver) systemMessages() []*schema.Message {
	if strings.TrimSpace(r.systemPrompt) == "" {
		return nil
	}
	return []*schema.Message{schema.SystemMessage(r.systemPrompt)}
}

func (r *Resolver) trimHistory(history []contractx.Turn) []contractx.Turn {
	if r.historyLimit > 0 && len(history) > r.historyLimit {
		return history[len(history)-r.historyLimit:]
	}
	return history
}

func toMessages(turns []contractx.Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case contractx.RoleCaller:
			out = append(out, schema.UserMessage(t.Text))
		case contractx.RoleAssistant:
			out = append(out, schema.AssistantMessage(t.Text, nil))
		}
	}
	return out
}

type modelDirective struct {
	Act   string `json:"act"`
	Text  string `json:"text"`
	Hints []any  `json:"hints"`
}

var errUnknownAct = errors.New("unknown act")

// ParseDirective decodes the model's JSON answer. Anything that does not
// decode to a known act falls back to Say(raw) with raw untouched.
func ParseDirective(raw string) contractx.Directive {
	d, err := decodeDirective(raw)
	if err != nil {
		return contractx.Say(raw)
	}
	return d
}

func decodeDirective(raw string) (contractx.Directive, error) {
	var out modelDirective
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return contractx.Directive{}, err
	}

	act, index, ok := contractx.ParseAction(out.Act)
	if !ok {
		return contractx.Directive{}, fmt.Errorf("%w: %q", errUnknownAct, out.Act)
	}
	if act == contractx.ActSay && strings.TrimSpace(out.Text) == "" {
		return contractx.Directive{}, fmt.Errorf("%w: say without text", contractx.ErrSchemaViolation)
	}

	d := contractx.Directive{Act: act, Index: index, Text: out.Text}
	for _, h := range out.Hints {
		if s := strings.TrimSpace(fmt.Sprint(h)); s != "" && h != nil {
			d.Hints = append(d.Hints, s)
		}
	}
	return d, nil
}
