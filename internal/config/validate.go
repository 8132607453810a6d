package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "chatbuddy-config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to load config schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Validate checks cfg against the embedded JSON schema and a set of cross-field rules.
// All problems are reported together in a *ValidationError.
func Validate(cfg *Config) error {
	var problems []string

	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return fmt.Errorf("schema validation failed: %w", err)
		}
		for _, e := range ve.BasicOutput().Errors {
			if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
				continue
			}
			loc := strings.TrimPrefix(e.InstanceLocation, "/")
			if loc == "" {
				loc = "(root)"
			}
			problems = append(problems, fmt.Sprintf("%s: %s", strings.ReplaceAll(loc, "/", "."), e.Error))
		}
	}

	problems = append(problems, crossFieldProblems(cfg)...)

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func crossFieldProblems(cfg *Config) []string {
	var problems []string

	if cfg.LLM.Provider != "mock" && cfg.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key: required when provider is "+cfg.LLM.Provider)
	}
	if cfg.Memory.Backend == "redis" && cfg.Redis.URL == "" {
		problems = append(problems, "redis.url: required when memory.backend is redis")
	}
	if cfg.Search.Enabled && cfg.Search.APIKey == "" {
		problems = append(problems, "search.api_key: required when search is enabled")
	}

	p := cfg.Proactive
	if len(p.ColdThresholds) != len(p.ColdProbabilities) {
		problems = append(problems, fmt.Sprintf("proactive: %d cold thresholds but %d probabilities",
			len(p.ColdThresholds), len(p.ColdProbabilities)))
	}
	for i := 1; i < len(p.ColdThresholds); i++ {
		if p.ColdThresholds[i] <= p.ColdThresholds[i-1] {
			problems = append(problems, "proactive.cold_thresholds: must be strictly increasing")
			break
		}
	}
	if p.Enabled && len(p.ConversationKeys) == 0 {
		problems = append(problems, "proactive.conversation_keys: required when proactive is enabled")
	}

	return problems
}

// Warnings reports settings that are legal but probably unintended.
func Warnings(cfg *Config) []string {
	var warnings []string
	if cfg.Memory.SemanticEnabled && cfg.Embedding.APIKey == "" && cfg.LLM.Provider != "mock" {
		warnings = append(warnings, "memory.semantic_enabled is on but embedding.api_key is empty; recall will be skipped")
	}
	if cfg.Search.Enabled && !cfg.Search.UseJudge && len(cfg.Search.Keywords) == 0 {
		warnings = append(warnings, "search is enabled with no keywords and no judge; pre-emptive search never fires")
	}
	if cfg.Bot.AdminID == "" {
		warnings = append(warnings, "bot.admin_id is empty; private chats get no admin note")
	}
	if cfg.Logging.File == "" {
		warnings = append(warnings, "logging.file is empty; logs go to stderr only")
	}
	return warnings
}
