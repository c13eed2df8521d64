package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/pubwiki/wikifarm/pkg/config"
)

// Files rendered into the per-wiki config overlay are served by the
// in-container web server, which runs as www-data.
const (
	wwwDataUID = 33
	wwwDataGID = 33
)

// INIConfig carries every value rendered into pubwiki.ini.
type INIConfig struct {
	Name     string
	Slug     string
	Language string

	WikiHost     string
	DBHost       string
	DBName       string
	DBUser       string
	DBPassword   string
	SharedDBName string
	AWSRegion    string

	OpenSearchUser      string
	OpenSearchPort      string
	OpenSearchTransport string
	OpenSearchPassword  string
	OpenSearchEndpoint  string

	RedisPassword string
	RedisServer   string
}

// NewINIConfig assembles the ini values from the environment snapshot and
// the per-wiki database coordinates.
func NewINIConfig(cfg *config.Config, name, slug, language, dbName, dbUser, dbPassword string) INIConfig {
	return INIConfig{
		Name:                name,
		Slug:                slug,
		Language:            language,
		WikiHost:            cfg.WikiHost,
		DBHost:              cfg.WikiDBHost,
		DBName:              dbName,
		DBUser:              dbUser,
		DBPassword:          dbPassword,
		SharedDBName:        cfg.WikiSharedDBName,
		AWSRegion:           cfg.WikiAWSRegion,
		OpenSearchUser:      cfg.OpenSearchUser,
		OpenSearchPort:      cfg.OpenSearchPort,
		OpenSearchTransport: cfg.OpenSearchTransport,
		OpenSearchPassword:  cfg.OpenSearchPassword,
		OpenSearchEndpoint:  cfg.OpenSearchEndpoint,
		RedisPassword:       cfg.RedisPassword,
		RedisServer:         cfg.RedisServer,
	}
}

// RenderINI writes <configDir>/<slug>/pubwiki.ini. Set bootstrapping true
// for the initial install and re-render with false after the install
// completes (the flip_bootstrap phase).
func RenderINI(configDir string, cfg INIConfig, bootstrapping bool) error {
	dir := filepath.Join(configDir, cfg.Slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ini dir: %w", err)
	}
	if err := os.Chown(dir, wwwDataUID, wwwDataGID); err != nil && !errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("failed to chown ini dir: %w", err)
	}

	siteNS := strings.ReplaceAll(cfg.Name, " ", "_")
	hostURL := fmt.Sprintf("https://%s.%s", cfg.Slug, cfg.WikiHost)

	var b strings.Builder
	set := func(k, v string) {
		// PHP's parse_ini_file needs quoting for anything beyond plain
		// alphanumerics.
		if isAlphanumeric(v) {
			fmt.Fprintf(&b, "%s=%s\n", k, v)
		} else {
			fmt.Fprintf(&b, "%s=\"%s\"\n", k, v)
		}
	}

	set("WIKI_SITE_NAME", cfg.Name)
	set("WIKI_HOST_URL", hostURL)
	set("WIKI_HOST", cfg.WikiHost)
	set("WIKI_META_NAMESPACE", siteNS)
	set("WIKI_DB_HOST", cfg.DBHost)
	set("WIKI_DB_NAME", cfg.DBName)
	set("WIKI_DB_USER", cfg.DBUser)
	set("WIKI_DB_PASSWORD", cfg.DBPassword)
	set("WIKI_SHARED_DB_NAME", cfg.SharedDBName)
	set("WIKI_LANG", cfg.Language)
	set("WIKI_AWS_REGION", cfg.AWSRegion)
	set("OPENSEARCH_USER", cfg.OpenSearchUser)
	set("OPENSEARCH_PORT", cfg.OpenSearchPort)
	set("OPENSEARCH_TRANSPORT", cfg.OpenSearchTransport)
	set("OPENSEARCH_PASSWORD", cfg.OpenSearchPassword)
	set("OPENSEARCH_ENDPOINT", cfg.OpenSearchEndpoint)
	set("REDIS_PASSWORD", cfg.RedisPassword)
	set("REDIS_SERVER", cfg.RedisServer)
	if bootstrapping {
		set("WIKI_BOOTSTRAPING", "true")
	} else {
		set("WIKI_BOOTSTRAPING", "false")
	}
	set("WIKI_DEBUGGING", "true")

	path := filepath.Join(dir, "pubwiki.ini")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// RemoveINIDir removes the whole slug-scoped config overlay directory,
// tolerating not-found.
func RemoveINIDir(configDir, slug string) error {
	if err := os.RemoveAll(filepath.Join(configDir, slug)); err != nil {
		return fmt.Errorf("failed to remove ini dir: %w", err)
	}
	return nil
}

// WriteSlugMarker writes <targetDir>/slug.ini containing the single line
// WIKI_SLUG=<slug>.
func WriteSlugMarker(targetDir, slug string) error {
	path := filepath.Join(targetDir, "slug.ini")
	if err := os.WriteFile(path, []byte("WIKI_SLUG="+slug+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write slug marker: %w", err)
	}
	return nil
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
