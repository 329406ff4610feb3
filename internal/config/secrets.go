package config

import "maps"

// Redacted returns a copy of the config with every secret replaced by "***".
// Use it whenever the active configuration is logged or printed.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	out.Venues = make(map[string]VenueConfig, len(c.Venues))
	for name, v := range c.Venues {
		redact(&v.APIKey)
		redact(&v.Secret)
		redact(&v.Passphrase)
		redact(&v.SecretPassword)
		out.Venues[name] = v
	}

	// Copy slices and maps so the redacted copy cannot mutate the original.
	out.Trading.Symbols = append([]string(nil), c.Trading.Symbols...)
	out.Trading.Venues = append([]string(nil), c.Trading.Venues...)
	out.Notify.Events = append([]string(nil), c.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Macro.Events = append([]MacroEvent(nil), c.Macro.Events...)
	out.Accumulation.Zones = append([]ZoneConfig(nil), c.Accumulation.Zones...)
	out.Regime.Presets = maps.Clone(c.Regime.Presets)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
