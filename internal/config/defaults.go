package config

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      3000,
			StaticDir: "public",
		},
		Messenger: MessengerConfig{
			Enabled:     true,
			VerifyToken: "lorex",
			APIBase:     "https://graph.facebook.com/v21.0",
			WebhookPath: "/webhook",
		},
		General: GeneralConfig{
			LogLevel:                 "info",
			LogFormat:                "text",
			MaxConcurrentEvents:      8,
			QueueSize:                100,
			CapabilityTimeoutSeconds: 60,
			DeliveryTimeoutSeconds:   30,
		},
		TextGeneration: TextGenerationConfig{
			Backend: "openai",
			Backends: map[string]BackendConfig{
				"openai": {
					Type:    "openai",
					APIBase: "https://api.openai.com/v1",
					Model:   "gpt-4o",
				},
				"ollama": {
					Type:    "ollama",
					APIBase: "http://localhost:11434",
					Model:   "llama3.1:8b",
				},
			},
		},
		Capabilities: CapabilitiesConfig{
			Imagine: EndpointConfig{APIBase: "https://imagine890.onrender.com"},
			Gemini:  EndpointConfig{APIBase: "https://joshweb.click"},
			Spotify: EndpointConfig{APIBase: "https://hiroshi-api.onrender.com"},
		},
		Reply: ReplyConfig{
			Ceiling:  2000,
			Ellipsis: "...",
		},
		Dedupe: DedupeConfig{
			Enabled:    true,
			TTLSeconds: 600,
		},
		Journal: JournalConfig{
			Enabled:       false,
			DBPath:        "~/.relaybot/journal.db",
			RetentionDays: 30,
			PruneSchedule: "@daily",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
