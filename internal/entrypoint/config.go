package entrypoint

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"gatewarden/internal/integrity"
)

// EnvPrefix namespaces the environment variables gatewarden reads.
const EnvPrefix = "GATEWARDEN"

// DefaultConfigDir is searched for config.yaml when no --config is given.
const DefaultConfigDir = "/etc/gatewarden"

// AuditLogOff disables the integrity audit log.
const AuditLogOff = "off"

// Config is the entrypoint configuration. Every path is supplied here; the
// verifier itself hardcodes none.
type Config struct {
	StateDir     string `mapstructure:"state_dir" yaml:"state_dir"`
	ManifestName string `mapstructure:"manifest_name" yaml:"manifest_name"`
	// WatchDirs are verified in order: language toolchain first, then the
	// package manager's global bin directory.
	WatchDirs       []string `mapstructure:"watch_dirs" yaml:"watch_dirs"`
	HashAlgorithm   string   `mapstructure:"hash_algorithm" yaml:"hash_algorithm"`
	SecretEnv       string   `mapstructure:"secret_env" yaml:"secret_env"`
	GatewayConfig   string   `mapstructure:"gateway_config" yaml:"gateway_config"`
	AuditLog        string   `mapstructure:"audit_log" yaml:"audit_log"`
	MetricsTextfile string   `mapstructure:"metrics_textfile" yaml:"metrics_textfile"`
	Listen          string   `mapstructure:"listen" yaml:"listen"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", "/data/.gatewarden")
	v.SetDefault("manifest_name", "binaries.manifest")
	v.SetDefault("watch_dirs", []string{"/data/go/bin", "/data/.npm-global/bin"})
	v.SetDefault("hash_algorithm", integrity.SHA256.Name())
	v.SetDefault("secret_env", "GATEWAY_TOKEN")
	v.SetDefault("gateway_config", "/data/.gateway/config.json")
	v.SetDefault("audit_log", "")
	v.SetDefault("metrics_textfile", "")
	v.SetDefault("listen", "127.0.0.1:9470")
}

// LoadConfig reads configuration from (in increasing precedence) defaults,
// the YAML config file, GATEWARDEN_* environment variables and any flags
// already bound to v. An explicit configFile must exist; the default
// location is optional.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.WatchDirs = splitDirList(cfg.WatchDirs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitDirList accepts PATH-style lists, so GATEWARDEN_WATCH_DIRS can be
// "/a/bin:/b/bin" as well as comma separated.
func splitDirList(dirs []string) []string {
	var out []string
	for _, d := range dirs {
		for _, part := range filepath.SplitList(d) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the configuration for values the entrypoint cannot use.
func (c Config) Validate() error {
	if !filepath.IsAbs(c.StateDir) {
		return fmt.Errorf("state_dir %q must be an absolute path", c.StateDir)
	}
	if c.ManifestName == "" || strings.ContainsRune(c.ManifestName, filepath.Separator) {
		return fmt.Errorf("manifest_name %q must be a plain file name", c.ManifestName)
	}
	for _, dir := range c.WatchDirs {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("watch directory %q must be an absolute path", dir)
		}
	}
	if _, err := integrity.HasherFor(c.HashAlgorithm); err != nil {
		return err
	}
	if c.SecretEnv == "" {
		return fmt.Errorf("secret_env cannot be empty")
	}
	return nil
}

// ManifestPath is the manifest file inside the state directory.
func (c Config) ManifestPath() string {
	return filepath.Join(c.StateDir, c.ManifestName)
}

// AuditLogPath resolves the audit log location; empty means disabled.
func (c Config) AuditLogPath() string {
	switch c.AuditLog {
	case AuditLogOff:
		return ""
	case "":
		return filepath.Join(c.StateDir, "integrity.log")
	default:
		return c.AuditLog
	}
}
