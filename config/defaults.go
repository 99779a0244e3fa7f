package config

import "time"

// DefaultConfig returns the defaults every load starts from. Capability lists
// default to nil, which denies nothing for imports and modes but denies all
// file operations until roots are configured.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:        "gpt-4o",
			SystemPrompt: "You are a coding agent. Wrap executable code in <code></code> and your final answer in <response></response>.",
			MaxTurns:     10,
		},
		LLM: LLMConfig{
			ProviderName:      "openai",
			BaseURL:           "https://api.openai.com",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Sandbox: SandboxConfig{
			Timeout:        30 * time.Second,
			MaxOutputChars: 10000,
			Isolate:        false,
			MaxStateBytes:  1 << 20,
		},
		Workspace: WorkspaceConfig{
			Root: "workspaces",
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "codeact.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
