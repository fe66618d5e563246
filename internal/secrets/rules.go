package secrets

// DefaultRules covers the credentials this service itself is configured
// with plus the common token formats users paste by accident.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "google-api-key",
			Description: "Google API key (Gemini, Vertex)",
			Pattern:     `AIza[0-9A-Za-z_\-]{35}`,
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI API key",
			Pattern:     `sk-(?:proj-|svcacct-)?[A-Za-z0-9_\-]{20,}`,
		},
		{
			ID:          "anthropic-api-key",
			Description: "Anthropic API key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{20,}`,
		},
		{
			ID:          "elevenlabs-api-key",
			Description: "ElevenLabs API key",
			Pattern:     `(?i)(?:xi-api-key|elevenlabs[_-]?api[_-]?key)\s*[:=]\s*['"]?[A-Za-z0-9_]{32,}['"]?`,
			Keywords:    []string{"xi-api-key", "elevenlabs"},
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key ID (artifact storage)",
			Pattern:     `(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`,
		},
		{
			ID:          "aws-secret-access-key",
			Description: "AWS secret access key",
			Pattern:     `(?i)(?:aws_secret_access_key|secret_access_key|secret_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords:    []string{"secret"},
		},
		{
			ID:          "github-token",
			Description: "GitHub token",
			Pattern:     `(?:gh[pousr]_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,})`,
		},
		{
			ID:          "slack-token",
			Description: "Slack token",
			Pattern:     `xox[baprs]-[0-9A-Za-z\-]{10,}`,
		},
		{
			ID:          "private-key",
			Description: "PEM private key block",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY-----[\s\S]*?(?:-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY-----|$)`,
		},
		{
			ID:          "bearer-token",
			Description: "HTTP bearer credential",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "generic-credential",
			Description: "Assignment of a key, token or password",
			Pattern:     `(?i)(?:api[_-]?key|apikey|token|secret|password|passwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"key", "token", "secret", "pass"},
		},
	}
}
