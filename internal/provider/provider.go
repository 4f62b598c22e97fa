// Package provider describes the model providers a build can run against
// and the environment each one needs.
package provider

import (
	"fmt"
	"strings"
)

// Provider identifies a model backend.
type Provider string

// Supported providers.
const (
	OpenAI        Provider = "openai"
	OpenRouter    Provider = "openrouter"
	PrivateServer Provider = "private_server"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint used for OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// DefaultPrivateKey is sent to private servers when no key is configured.
const DefaultPrivateKey = "sk-private"

// All returns every supported provider in display order.
func All() []Provider {
	return []Provider{OpenAI, OpenRouter, PrivateServer}
}

// Names returns the string form of All.
func Names() []string {
	all := All()
	names := make([]string, len(all))

	for i, p := range all {
		names[i] = string(p)
	}

	return names
}

// Parse normalizes s and returns the matching provider. Empty input selects OpenAI.
func Parse(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return OpenAI, nil
	}

	if !p.Valid() {
		return p, fmt.Errorf("provider must be openai, openrouter, or private_server")
	}

	return p, nil
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case OpenAI, OpenRouter, PrivateServer:
		return true
	default:
		return false
	}
}

// Label returns a human-readable provider name.
func (p Provider) Label() string {
	switch p {
	case OpenAI:
		return "OpenAI"
	case OpenRouter:
		return "OpenRouter"
	case PrivateServer:
		return "Private server"
	default:
		return string(p)
	}
}

// CheckCredentials reports the credential a provider cannot run without.
// OpenAI may rely on a key already present in the backend environment.
func (p Provider) CheckCredentials(apiKey, baseURL string) error {
	switch p {
	case OpenAI:
		return nil
	case OpenRouter:
		if strings.TrimSpace(apiKey) == "" {
			return fmt.Errorf("api_key is required for openrouter")
		}

		return nil
	case PrivateServer:
		if strings.TrimSpace(baseURL) == "" {
			return fmt.Errorf("base_url is required for private_server")
		}

		return nil
	default:
		return fmt.Errorf("provider must be openai, openrouter, or private_server")
	}
}

// Env returns base extended with the variables the gpt-engineer CLI reads
// for this provider. Later entries win, so overrides are appended.
func (p Provider) Env(base []string, apiKey, baseURL string) ([]string, error) {
	if err := p.CheckCredentials(apiKey, baseURL); err != nil {
		return nil, err
	}

	env := make([]string, 0, len(base)+4)
	env = append(env, base...)

	switch p {
	case OpenAI:
		if apiKey != "" {
			env = append(env, "OPENAI_API_KEY="+apiKey)
		}
	case OpenRouter:
		env = append(env,
			"OPENAI_API_KEY="+apiKey,
			"OPENAI_API_BASE="+OpenRouterBaseURL,
			"OPENAI_BASE_URL="+OpenRouterBaseURL,
			"LOCAL_MODEL=true",
		)
	case PrivateServer:
		key := apiKey
		if key == "" {
			key = DefaultPrivateKey
		}

		env = append(env,
			"OPENAI_API_KEY="+key,
			"OPENAI_API_BASE="+baseURL,
			"OPENAI_BASE_URL="+baseURL,
			"LOCAL_MODEL=true",
		)
	}

	return env, nil
}
