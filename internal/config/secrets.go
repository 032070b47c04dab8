package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Chain.RPCURL)

	// API keys are a slice of structs; copy before redacting so the original
	// keeps its secrets.
	if cfg.Server.APIKeys != nil {
		out.Server.APIKeys = make([]APIKeyConfig, len(cfg.Server.APIKeys))
		for i, k := range cfg.Server.APIKeys {
			k.Capabilities = append([]string(nil), k.Capabilities...)
			redact(&k.Key)
			out.Server.APIKeys[i] = k
		}
	}

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Assets = append([]AssetConfig(nil), cfg.Assets...)
	if cfg.Strategies != nil {
		out.Strategies = make([]StrategyConfig, len(cfg.Strategies))
		for i, s := range cfg.Strategies {
			params := make(map[string]string, len(s.Params))
			for k, v := range s.Params {
				params[k] = v
			}
			s.Params = params
			out.Strategies[i] = s
		}
	}
	if cfg.Risk.TierCapBps != nil {
		out.Risk.TierCapBps = make(map[string]uint32, len(cfg.Risk.TierCapBps))
		for k, v := range cfg.Risk.TierCapBps {
			out.Risk.TierCapBps[k] = v
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
