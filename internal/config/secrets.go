package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***". Use it
// whenever the active configuration is logged or printed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy collections so mutations to the redacted copy do not reach cfg.
	if cfg.Exchanges != nil {
		out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
		for id, ex := range cfg.Exchanges {
			redact(&ex.APIKey)
			redact(&ex.APISecret)
			out.Exchanges[id] = ex
		}
	}
	if cfg.Scanner.Symbols != nil {
		out.Scanner.Symbols = append([]string(nil), cfg.Scanner.Symbols...)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Operation.Funding != nil {
		out.Operation.Funding = make(map[string]float64, len(cfg.Operation.Funding))
		for k, v := range cfg.Operation.Funding {
			out.Operation.Funding[k] = v
		}
	}
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
