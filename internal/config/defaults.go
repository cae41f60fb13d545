package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 8,
		},
		Telegram: TelegramConfig{
			Enabled:   false,
			ParseMode: "Markdown",
			Mode:      "polling",
			Webhook: WebhookConfig{
				Listen: ":8443",
				Path:   "/telegram",
			},
		},
		Store: StoreConfig{
			DBPath: "~/.filterbot/filters.db",
		},
		Filters: FiltersConfig{
			PreviewDomains:    []string{"telegra.ph", "youtu.be"},
			MaxMessageLength:  4096,
			AdminCacheSeconds: 300,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9100",
			Path:    "/metrics",
		},
	}
}
