package provider

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{"", OpenAI, false},
		{"openai", OpenAI, false},
		{"  OpenRouter ", OpenRouter, false},
		{"PRIVATE_SERVER", PrivateServer, false},
		{"azure", "azure", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}

			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCheckCredentials(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		apiKey   string
		baseURL  string
		wantErr  string
	}{
		{"openai without key", OpenAI, "", "", ""},
		{"openrouter without key", OpenRouter, "", "", "api_key is required for openrouter"},
		{"openrouter with key", OpenRouter, "sk-or", "", ""},
		{"private without url", PrivateServer, "", "", "base_url is required for private_server"},
		{"private with url", PrivateServer, "", "http://localhost:8000/v1", ""},
		{"unknown", Provider("azure"), "k", "u", "provider must be openai, openrouter, or private_server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.provider.CheckCredentials(tt.apiKey, tt.baseURL)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("CheckCredentials() error = %v", err)
				}

				return
			}

			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("CheckCredentials() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "OPENAI_API_KEY=from-shell"}

	tests := []struct {
		name     string
		provider Provider
		apiKey   string
		baseURL  string
		want     []string
		absent   []string
	}{
		{
			name:     "openai keeps shell key when none given",
			provider: OpenAI,
			want:     []string{"PATH=/usr/bin", "OPENAI_API_KEY=from-shell"},
			absent:   []string{"LOCAL_MODEL=true"},
		},
		{
			name:     "openai overrides key",
			provider: OpenAI,
			apiKey:   "sk-1",
			want:     []string{"OPENAI_API_KEY=sk-1"},
		},
		{
			name:     "openrouter",
			provider: OpenRouter,
			apiKey:   "sk-or",
			want: []string{
				"OPENAI_API_KEY=sk-or",
				"OPENAI_API_BASE=https://openrouter.ai/api/v1",
				"OPENAI_BASE_URL=https://openrouter.ai/api/v1",
				"LOCAL_MODEL=true",
			},
		},
		{
			name:     "private server default key",
			provider: PrivateServer,
			baseURL:  "http://10.0.0.2:8000/v1",
			want: []string{
				"OPENAI_API_KEY=sk-private",
				"OPENAI_API_BASE=http://10.0.0.2:8000/v1",
				"OPENAI_BASE_URL=http://10.0.0.2:8000/v1",
				"LOCAL_MODEL=true",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := tt.provider.Env(base, tt.apiKey, tt.baseURL)
			if err != nil {
				t.Fatalf("Env() error = %v", err)
			}

			for _, entry := range tt.want {
				if !slices.Contains(env, entry) {
					t.Errorf("Env() missing %q in %v", entry, env)
				}
			}

			for _, entry := range tt.absent {
				if slices.Contains(env, entry) {
					t.Errorf("Env() unexpectedly contains %q", entry)
				}
			}
		})
	}
}

func TestEnv_RejectsMissingCredentials(t *testing.T) {
	if _, err := OpenRouter.Env(nil, "", ""); err == nil {
		t.Fatal("Env() error = nil, want missing key error")
	}
}

func TestNames(t *testing.T) {
	want := []string{"openai", "openrouter", "private_server"}
	if got := Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
