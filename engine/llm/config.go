package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/engine/contract"
	openrouterx "github.com/waritphon/Calendo-Conversational-Scheduling-Agent/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.2"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// ExtractorModel overrides Model for the intent extraction graph.
	ExtractorModel       string  `envconfig:"EXTRACTOR_MODEL" split_words:"true"`
	ExtractorTemperature float32 `envconfig:"EXTRACTOR_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterForExtractor resolves the chat model config for the extractor
// graph, applying per-component overrides over the defaults.
func (c Config) OpenRouterForExtractor() openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	if v := strings.TrimSpace(c.ExtractorModel); v != "" {
		modelName = v
	}
	if c.ExtractorTemperature >= 0 {
		temp = c.ExtractorTemperature
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
