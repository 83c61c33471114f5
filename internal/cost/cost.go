// Package cost estimates per-turn token usage and spend.
package cost

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

type encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	USD              float64 `json:"usd"`
}

// pricing is USD per 1K tokens.
type pricing struct {
	prompt     float64
	completion float64
}

var modelPricing = map[string]pricing{
	"gpt-4o":        {prompt: 0.0025, completion: 0.01},
	"gpt-4o-mini":   {prompt: 0.00015, completion: 0.0006},
	"gpt-4-turbo":   {prompt: 0.01, completion: 0.03},
	"gpt-4.1":       {prompt: 0.002, completion: 0.008},
	"gpt-4.1-mini":  {prompt: 0.0004, completion: 0.0016},
	"gpt-3.5-turbo": {prompt: 0.0005, completion: 0.0015},
}

var defaultPricing = pricing{prompt: 0.0025, completion: 0.01}

// Meter counts tokens with the model's tiktoken encoding, falling back to
// cl100k_base for models tiktoken does not know, and to a four-chars-per-
// token approximation when no encoding can be loaded at all.
type Meter struct {
	mu    sync.Mutex
	load  func(model string) (encoder, error)
	cache map[string]encoder
}

func NewMeter() *Meter {
	return &Meter{
		load:  loadEncoding,
		cache: make(map[string]encoder),
	}
}

func loadEncoding(model string) (encoder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return tiktoken.GetEncoding("cl100k_base")
	}
	return enc, nil
}

func (m *Meter) Estimate(model, promptText, completionText string) Usage {
	prompt := m.count(model, promptText)
	completion := m.count(model, completionText)
	p := priceFor(model)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		USD:              float64(prompt)/1000*p.prompt + float64(completion)/1000*p.completion,
	}
}

func priceFor(model string) pricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return defaultPricing
}

func (m *Meter) count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := m.encoderFor(model)
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func (m *Meter) encoderFor(model string) encoder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enc, ok := m.cache[model]; ok {
		return enc
	}
	enc, err := m.load(model)
	if err != nil {
		enc = nil
	}
	m.cache[model] = enc
	return enc
}
