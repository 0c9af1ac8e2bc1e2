// Package config loads the ddnsd server configuration.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// EnvPath names the environment variable consulted when no config path is given.
const EnvPath = "DDNSD_CONFIG"

// DefaultPath is used when neither a path nor EnvPath is set.
// Unlike an explicit path, it may be missing.
const DefaultPath = "ddnsd.yaml"

type Config struct {
	Listen        string `yaml:"listen"`
	MetricsListen string `yaml:"metrics_listen"`
	TLS           TLS    `yaml:"tls"`

	BehindTLSProxy bool `yaml:"behind_tls_proxy"`
	// Nil keeps the handler default, or disables the header when TLS is enabled.
	// An empty string disables the header.
	ForwardedProtoHeader *string `yaml:"forwarded_proto_header"`
	ClientIPHeader       *string `yaml:"client_ip_header"`

	Cloudflare Cloudflare `yaml:"cloudflare"`
	Telegram   Telegram   `yaml:"telegram"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// Enabled reports whether the server terminates TLS itself.
func (t TLS) Enabled() bool { return t.Cert != "" }

type Cloudflare struct {
	BaseURL string `yaml:"base_url"`
}

type Telegram struct {
	BaseURL      string `yaml:"base_url"`
	BotToken     string `yaml:"bot_token"`
	BotTokenFile string `yaml:"bot_token_file"`
	ChatID       string `yaml:"chat_id"`
}

// Enabled reports whether change notifications are configured.
func (t Telegram) Enabled() bool { return t.BotToken != "" }

// Default returns the configuration used for fields a file leaves out.
func Default() *Config {
	return &Config{
		Listen:       ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Load reads the configuration file at path.
// An empty path falls back to $DDNSD_CONFIG and then to DefaultPath.
func Load(path string) (*Config, error) {
	optional := false
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		path, optional = DefaultPath, true
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case optional && errors.Is(err, fs.ErrNotExist):
		data = nil
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.expandEnv()
	if err := cfg.loadBotToken(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} references in string values.
func (c *Config) expandEnv() {
	for _, s := range []*string{
		&c.Listen, &c.MetricsListen,
		&c.TLS.Cert, &c.TLS.Key,
		&c.Cloudflare.BaseURL,
		&c.Telegram.BaseURL, &c.Telegram.BotToken, &c.Telegram.BotTokenFile, &c.Telegram.ChatID,
		c.ForwardedProtoHeader, c.ClientIPHeader,
	} {
		if s != nil {
			*s = os.ExpandEnv(*s)
		}
	}
}

func (c *Config) loadBotToken() error {
	if c.Telegram.BotTokenFile == "" {
		return nil
	}
	if c.Telegram.BotToken != "" {
		return errors.New("config: telegram.bot_token and telegram.bot_token_file are mutually exclusive")
	}
	if err := verifyPermissions(c.Telegram.BotTokenFile); err != nil {
		return fmt.Errorf("config: telegram.bot_token_file: %w", err)
	}
	token, err := readKey(c.Telegram.BotTokenFile)
	if err != nil {
		return fmt.Errorf("config: telegram.bot_token_file: %w", err)
	}
	c.Telegram.BotToken = token
	return nil
}

// Validate checks field combinations.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: missing required field 'listen'")
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return errors.New("config: tls.cert and tls.key must be set together")
	}
	if c.TLS.Enabled() && c.BehindTLSProxy {
		return errors.New("config: behind_tls_proxy cannot be combined with tls")
	}
	if c.Telegram.Enabled() && c.Telegram.ChatID == "" {
		return errors.New("config: missing required field 'telegram.chat_id'")
	}
	if !c.Telegram.Enabled() && c.Telegram.ChatID != "" {
		return errors.New("config: missing required field 'telegram.bot_token'")
	}
	for name, u := range map[string]string{"cloudflare.base_url": c.Cloudflare.BaseURL, "telegram.base_url": c.Telegram.BaseURL} {
		if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("config: %s must be an http or https URL", name)
		}
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("config: timeouts cannot be negative")
	}
	return nil
}

// readKey returns the first line of the file at path.
func readKey(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	defer f.Close()

	line, _, err := bufio.NewReader(f).ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading line: %w", err)
	}
	key := strings.TrimSpace(string(line))
	if key == "" {
		return "", errors.New("key file is empty")
	}
	return key, nil
}

// verifyPermissions rejects secret files readable by anyone but the owner.
func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking key file permissions: %w", err)
	}

	// 0400 is stricter than the 0600 the message asks for,
	// and is what secret managers usually mount.
	perms := info.Mode().Perm()
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for %q: expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}
	return nil
}
