package reasoning

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

// LLMConfig configures the OpenAI-compatible chat backend
type LLMConfig struct {
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Timeout bounds one chat completion call; the stage timeout still applies.
	Timeout           time.Duration `yaml:"timeout"`
	MaxTokens         int           `yaml:"max_tokens"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	// TokenBudget caps the rendered user prompt. Context items are dropped
	// from the lowest rank up until the prompt fits. 0 disables the cap.
	TokenBudget int    `yaml:"token_budget"`
	PromptsFile string `yaml:"prompts_file"`
}

// LLM runs stages through a chat completion model that answers in JSON
type LLM struct {
	cfg     LLMConfig
	client  *openai.Client
	prompts *Catalog
	limiter *rate.Limiter
	tokens  tokenCounter
	log     logrus.FieldLogger
}

// NewLLM builds the chat backend. An API key is required unless BaseURL
// points at a self-hosted compatible endpoint.
func NewLLM(cfg LLMConfig, log logrus.FieldLogger) (*LLM, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, faults.New(faults.InvalidArgument, component, "llm backend requires an api key or base url")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	var (
		cat *Catalog
		err error
	)
	if cfg.PromptsFile != "" {
		cat, err = LoadCatalog(cfg.PromptsFile)
	} else {
		cat, err = DefaultCatalog()
	}
	if err != nil {
		return nil, err
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &LLM{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(oc),
		prompts: cat,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:     log.WithField("component", "reasoning.llm"),
	}, nil
}

type stageOutput struct {
	Status   string         `json:"status"`
	Payload  map[string]any `json:"payload"`
	Consumed []string       `json:"consumed"`
}

// Run implements Reasoner
func (l *LLM) Run(ctx context.Context, stage apptype.StageName, rc apptype.RetrievalContext, prior []apptype.AgentStageResult) (apptype.AgentStageResult, error) {
	p, ok := l.prompts.Get(stage)
	if !ok {
		return apptype.AgentStageResult{}, faults.New(faults.InvalidArgument, component, "no prompt for stage %q", stage)
	}
	user, included, err := l.render(p, rc, prior)
	if err != nil {
		return apptype.AgentStageResult{}, faults.Wrap(err, faults.Internal, component, "render prompt").WithStage(string(stage))
	}

	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return apptype.AgentStageResult{}, ctx.Err()
		}
		return apptype.AgentStageResult{}, faults.Wrap(err, faults.ReasoningUnavailable, component, "rate limited").WithStage(string(stage))
	}

	model := l.cfg.Model
	if model == "" {
		model = p.ModelHint
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature:    p.Temperature,
		MaxTokens:      l.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	cctx := ctx
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := l.client.CreateChatCompletion(cctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return apptype.AgentStageResult{}, ctx.Err()
		}
		return apptype.AgentStageResult{}, faults.Wrap(err, faults.ReasoningUnavailable, component, "chat completion").WithStage(string(stage))
	}
	if len(resp.Choices) == 0 {
		return apptype.AgentStageResult{}, faults.New(faults.ReasoningUnavailable, component, "empty completion").WithStage(string(stage))
	}
	l.log.WithFields(logrus.Fields{
		"stage":          stage,
		"model":          model,
		"prompt_version": p.Version,
		"prompt_tokens":  resp.Usage.PromptTokens,
		"elapsed":        time.Since(start),
	}).Debug("stage completion")

	out, err := parseStageOutput(resp.Choices[0].Message.Content)
	if err != nil {
		return apptype.AgentStageResult{}, faults.Wrap(err, faults.ReasoningUnavailable, component, "malformed model output").WithStage(string(stage))
	}
	res := apptype.AgentStageResult{
		Stage:    stage,
		Status:   apptype.StatusOK,
		Payload:  out.Payload,
		Consumed: out.Consumed,
	}
	switch apptype.StageStatus(strings.ToLower(out.Status)) {
	case "", apptype.StatusOK:
	case apptype.StatusDegraded:
		res.Status = apptype.StatusDegraded
	default:
		return apptype.AgentStageResult{}, faults.New(faults.ReasoningUnavailable, component, "model reported status %q", out.Status).WithStage(string(stage))
	}
	if res.Payload == nil {
		res.Payload = map[string]any{}
	}
	if len(res.Consumed) == 0 {
		res.Consumed = included
	}
	return res, nil
}

// render fills the template, dropping the lowest-ranked items until the
// prompt fits the token budget. It returns the ids that made it in.
func (l *LLM) render(p *Prompt, rc apptype.RetrievalContext, prior []apptype.AgentStageResult) (string, []string, error) {
	d := newPromptData(rc, prior)
	for {
		text, err := p.Render(d)
		if err != nil {
			return "", nil, err
		}
		if l.cfg.TokenBudget <= 0 || len(d.Items) == 0 || l.tokens.Count(text) <= l.cfg.TokenBudget {
			ids := make([]string, len(d.Items))
			for i, it := range d.Items {
				ids[i] = it.ID
			}
			return text, ids, nil
		}
		d.Items = d.Items[:len(d.Items)-1]
	}
}

// parseStageOutput extracts the outermost JSON object from the model reply.
// Models often wrap JSON in prose or code fences.
func parseStageOutput(content string) (stageOutput, error) {
	var out stageOutput
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return out, faults.New(faults.ReasoningUnavailable, component, "no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return out, err
	}
	return out, nil
}
