package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config files larger than this are rejected.
const maxConfigFileSize = 1 << 20

// envAliases maps flat legacy environment names onto config keys the
// generic section_field transform cannot reach.
var envAliases = map[string]string{
	"ALLOWED_ORIGINS":      "server.allowed_origins",
	"ALLOWED_DOMAINS":      "web.allowed_domains",
	"MAX_TOKENS":           "chat.max_tokens",
	"MAX_HISTORY_MESSAGES": "chat.history_messages",
	"TURN_TIMEOUT":         "chat.turn_timeout",
}

// Load builds the configuration from an optional YAML file plus
// environment overrides.
//
// Precedence (highest to lowest):
//  1. Environment variables (PRIMARY_LLM_KEY, EMBEDDING_BATCH_SIZE, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// When path is empty the RAGD_CONFIG environment variable is consulted;
// if that is unset too, no file is read and configuration comes from the
// environment alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv("RAGD_CONFIG")
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// transformEnvKey maps an environment variable name to a config key.
//
// The generic rule splits on the first underscore into section.field:
//
//	SERVER_PORT            -> server.port
//	PRIMARY_LLM_KEY        -> primary.llm_key
//	EMBEDDING_CHUNK_SIZE   -> embedding.chunk_size
//
// RATE_LIMIT_* maps into the ratelimit section, and a small alias table
// covers flat names with no natural section (MAX_TOKENS, ALLOWED_ORIGINS).
func transformEnvKey(s string) string {
	if alias, ok := envAliases[s]; ok {
		return alias
	}
	if rest, ok := strings.CutPrefix(s, "RATE_LIMIT_"); ok {
		return "ratelimit." + strings.ToLower(rest)
	}

	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens and validates the config file. A missing file is
// not an error; the caller falls through to environment-only loading.
// Stat and read go through one descriptor so the permission check cannot
// race a swap of the underlying file.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}

	// Config files hold API keys; refuse group/world-readable ones.
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0600 && perm != 0400 {
			return nil, fmt.Errorf("insecure config file permissions %v on %s (expected 0600 or 0400)", perm, path)
		}
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}
