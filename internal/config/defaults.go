package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Gateway: GatewayConfig{
			BaseURL:        "http://127.0.0.1:3000",
			TimeoutSeconds: 15,
			SendBurst:      5,
		},
		Features: FeaturesConfig{},
		Push: PushConfig{
			NewPost: true,
			FaceID:  144,
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			ReceivePath: "/qqpush/v1/receive",
			EventsPath:  "/qqpush/v1/events",
			MetricsPath: "/metrics",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "~/.qqbridge/site.db",
		},
		Site: SiteConfig{
			ForumURL: "http://localhost/plate",
			Timezone: "Asia/Shanghai",
			CheckIn: CheckInConfig{
				Enabled:  true,
				Points:   10,
				Integral: 5,
			},
		},
	}
}
