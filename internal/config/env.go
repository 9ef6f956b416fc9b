package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Secrets holds the credential half of the configuration. Everything
// here comes from environment variables (optionally via a .env file)
// so the config file can be committed without leaking anything.
type Secrets struct {
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string

	TeamsWebhookURL string

	DBHost    string
	DBPort    int
	DBName    string
	DBUser    string
	DBPass    string
	DBSSLMode string

	UseSSHTunnel bool
	SSHHost      string
	SSHPort      int
	SSHUser      string
	SSHKeyPath   string
}

// LoadSecrets reads the environment, loading a .env file first if one
// is found walking up from the working directory.
func LoadSecrets() *Secrets {
	loadDotEnv()

	return &Secrets{
		SMTPHost: env.GetString("SMTP_HOST", ""),
		SMTPPort: env.GetInt("SMTP_PORT", 465),
		SMTPUser: env.GetString("SMTP_USER", ""),
		SMTPPass: env.GetString("SMTP_PASS", ""),

		TeamsWebhookURL: env.GetString("TEAMS_WEBHOOK_URL", ""),

		DBHost:    env.GetString("DB_HOST", ""),
		DBPort:    env.GetInt("DB_PORT", 5432),
		DBName:    env.GetString("DB_NAME", ""),
		DBUser:    env.GetString("DB_USER", ""),
		DBPass:    env.GetString("DB_PASS", ""),
		DBSSLMode: env.GetString("DB_SSLMODE", "require"),

		UseSSHTunnel: env.GetBool("USE_SSH_TUNNEL", false),
		SSHHost:      env.GetString("SSH_HOST", ""),
		SSHPort:      env.GetInt("SSH_PORT", 22),
		SSHUser:      env.GetString("SSH_USER", ""),
		SSHKeyPath:   env.GetString("SSH_KEY_PATH", ""),
	}
}

// Validate checks the secrets against the channels the config enables.
// A failure here is a configuration error: the run aborts but the
// process keeps cycling so a fix takes effect without redeploy.
func (s *Secrets) Validate(cfg *Config) error {
	if s.DBHost == "" || s.DBName == "" || s.DBUser == "" {
		return fmt.Errorf("DB_HOST, DB_NAME and DB_USER are required")
	}
	if cfg.Email.Enabled || cfg.Email.SpecialChannel.Enabled {
		for _, key := range []struct{ name, val string }{
			{"SMTP_HOST", s.SMTPHost},
			{"SMTP_USER", s.SMTPUser},
			{"SMTP_PASS", s.SMTPPass},
		} {
			if strings.TrimSpace(key.val) == "" {
				return fmt.Errorf("required setting %s is missing", key.name)
			}
		}
	}
	if cfg.Chat.Enabled && strings.TrimSpace(s.TeamsWebhookURL) == "" {
		return fmt.Errorf("required setting TEAMS_WEBHOOK_URL is missing")
	}
	if s.UseSSHTunnel {
		if s.SSHHost == "" || s.SSHKeyPath == "" {
			return fmt.Errorf("SSH_HOST and SSH_KEY_PATH are required when USE_SSH_TUNNEL is set")
		}
		if _, err := os.Stat(s.SSHKeyPath); err != nil {
			return fmt.Errorf("ssh key not found: %s", s.SSHKeyPath)
		}
	}
	return nil
}

// DSN builds the lib/pq connection string, pointing at the given
// host:port (which may be a local tunnel listener).
func (s *Secrets) DSN(host string, port int) string {
	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + s.DBName,
		"user=" + s.DBUser,
		"sslmode=" + s.DBSSLMode,
	}
	if s.DBPass != "" {
		// Quote so spaces and special characters survive keyword=value parsing.
		escaped := strings.ReplaceAll(s.DBPass, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `'`, `\'`)
		parts = append(parts, "password='"+escaped+"'")
	}
	return strings.Join(parts, " ")
}

// loadDotEnv searches for a .env file from the current directory up to
// the filesystem root and loads the first one found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
