// Package provider wraps the tutoring-model service behind a Runtime
// interface. Each spark gets its own runtime carrying its persona system
// prompt; calls are timeout-bounded and a failure surfaces as an error the
// gateway converts into fallback guidance.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/sparkforge/sparkgate/internal/config"
	"github.com/sparkforge/sparkgate/internal/spark"
)

// Runtime is the model-call surface (allows mocking in tests).
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

// runtimeAdapter wraps api.Runtime to implement Runtime.
type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// Factory creates a Runtime for one spark's system prompt.
type Factory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// DefaultFactory creates the real agentsdk-go runtime. The demo defaults to
// the OpenAI provider; "anthropic" switches SDKs.
func DefaultFactory(cfg *config.Config, sysPrompt string) (Runtime, error) {
	var factory api.ModelFactory
	switch cfg.Provider.Type {
	case "anthropic":
		factory = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "openai" or empty
		factory = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:  cfg.Agent.Workspace,
		ModelFactory: factory,
		SystemPrompt: sysPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// Pool holds one runtime per spark.
type Pool struct {
	runtimes map[spark.ID]Runtime
	timeout  time.Duration
}

// NewPool builds a runtime for every registered spark using factory
// (DefaultFactory in production, a mock in tests).
func NewPool(cfg *config.Config, factory Factory) (*Pool, error) {
	if factory == nil {
		factory = DefaultFactory
	}

	timeout := time.Duration(cfg.Agent.ReplyTimeout) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultReplyTimeout * time.Second
	}

	p := &Pool{
		runtimes: make(map[spark.ID]Runtime),
		timeout:  timeout,
	}

	for _, s := range spark.All() {
		rt, err := factory(cfg, s.SystemPrompt())
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create %s runtime: %w", s.ID, err)
		}
		p.runtimes[s.ID] = rt
	}
	return p, nil
}

// Reply sends prompt to the spark's runtime under the pool timeout and
// returns the model text. constraint, when non-empty, is prepended as a
// per-message instruction.
func (p *Pool) Reply(ctx context.Context, id spark.ID, sessionID, prompt, constraint string) (string, error) {
	rt, ok := p.runtimes[id]
	if !ok {
		return "", fmt.Errorf("no runtime for spark %q", id)
	}

	if constraint != "" {
		prompt = "[Instruction] " + constraint + "\n\n[Student Message]\n" + prompt
	}

	timeout := p.timeout
	if timeout <= 0 {
		timeout = config.DefaultReplyTimeout * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := rt.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: sessionID,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Result.Output), nil
}

func (p *Pool) Close() {
	for _, rt := range p.runtimes {
		rt.Close()
	}
}
