package config

import (
	"fmt"
	"os"
)

// Config is the process-wide environment snapshot, gathered once at startup.
type Config struct {
	DatabaseURL string
	RedisURL    string

	WikifarmDir       string
	WikifarmTemplate  string
	WikifarmConfigDir string
	WikifarmInstance  string

	WikiHost         string
	WikiDBHost       string
	WikiSharedDBName string
	WikiAWSRegion    string

	OpenSearchUser      string
	OpenSearchPort      string
	OpenSearchTransport string
	OpenSearchPassword  string
	OpenSearchEndpoint  string

	RedisPassword string
	RedisServer   string

	DockerSocket    string
	DisableRollback bool
}

// Gather reads configuration from the environment. Required keys missing
// from the environment produce an error; optional keys fall back to
// defaults.
func Gather() (*Config, error) {
	req := func(k string) (string, error) {
		v := os.Getenv(k)
		if v == "" {
			return "", fmt.Errorf("missing env %s", k)
		}
		return v, nil
	}
	opt := func(k, d string) string {
		if v := os.Getenv(k); v != "" {
			return v
		}
		return d
	}

	cfg := &Config{
		RedisURL:          opt("REDIS_URL", "redis://127.0.0.1:6379/"),
		WikifarmDir:       opt("WIKIFARM_DIR", "/srv/wikis"),
		WikifarmTemplate:  opt("WIKIFARM_TEMPLATE", "/template"),
		WikifarmConfigDir: opt("WIKIFARM_CONFIG_DIR", "/config"),
		DockerSocket:      opt("DOCKER_SOCKET", "unix:///var/run/docker.sock"),
	}
	_, cfg.DisableRollback = os.LookupEnv("DISABLE_ROLLBACK")

	var err error
	required := []struct {
		key string
		dst *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"WIKIFARM_INSTANCE", &cfg.WikifarmInstance},
		{"WIKI_HOST", &cfg.WikiHost},
		{"WIKI_DB_HOST", &cfg.WikiDBHost},
		{"WIKI_SHARED_DB_NAME", &cfg.WikiSharedDBName},
		{"WIKI_AWS_REGION", &cfg.WikiAWSRegion},
		{"OPENSEARCH_USER", &cfg.OpenSearchUser},
		{"OPENSEARCH_PORT", &cfg.OpenSearchPort},
		{"OPENSEARCH_TRANSPORT", &cfg.OpenSearchTransport},
		{"OPENSEARCH_PASSWORD", &cfg.OpenSearchPassword},
		{"OPENSEARCH_ENDPOINT", &cfg.OpenSearchEndpoint},
		{"REDIS_PASSWORD", &cfg.RedisPassword},
		{"REDIS_SERVER", &cfg.RedisServer},
	}
	for _, r := range required {
		if *r.dst, err = req(r.key); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// TargetDir returns the per-wiki materialized directory.
func (c *Config) TargetDir(slug string) string {
	return c.WikifarmDir + "/" + slug
}

// SlugConfigDir returns the per-wiki configuration overlay directory.
func (c *Config) SlugConfigDir(slug string) string {
	return c.WikifarmConfigDir + "/" + slug
}
