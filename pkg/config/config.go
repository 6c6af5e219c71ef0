package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/confirm"
	"github.com/pockitect/pockitect/pkg/deleter"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/stores"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POCKITECT_"

// Config is the daemon configuration.
type Config struct {
	Provider  ProviderConfig   `yaml:"provider" json:"provider"`
	Bus       BusConfig        `yaml:"bus" json:"bus"`
	Registry  RegistryConfig   `yaml:"registry" json:"registry"`
	Workers   int              `yaml:"workers" json:"workers" validate:"gte=1,lte=64"`
	Paths     PathsConfig      `yaml:"paths" json:"paths"`
	Scan      ScanConfig       `yaml:"scan" json:"scan"`
	Confirm   confirm.Settings `yaml:"confirm" json:"confirm"`
	Deletion  DeletionConfig   `yaml:"deletion" json:"deletion"`
	Policy    PolicyConfig     `yaml:"policy" json:"policy"`
	API       APIConfig        `yaml:"api" json:"api"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
}

// ProviderConfig selects and tunes the cloud provider.
type ProviderConfig struct {
	// Name is aws or memory.
	Name          string `yaml:"name" json:"name" validate:"oneof=aws memory"`
	DefaultRegion string `yaml:"default_region" json:"default_region" validate:"required"`

	// RequestsPerSecond and Burst bound provider calls. Zero disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"gte=0"`
}

// BusConfig selects the command/status transport.
type BusConfig struct {
	// Backend is memory or redis.
	Backend    string           `yaml:"backend" json:"backend" validate:"oneof=memory redis"`
	Redis      bus.RedisOptions `yaml:"redis" json:"redis"`
	BufferSize int              `yaml:"buffer_size" json:"buffer_size" validate:"gte=0"`
}

// RegistryConfig selects the registry store.
type RegistryConfig struct {
	Backend stores.Backend `yaml:"backend" json:"backend" validate:"oneof=json sqlite"`
	Path    string         `yaml:"path" json:"path" validate:"required"`
}

// PathsConfig holds on-disk locations.
type PathsConfig struct {
	CacheDir    string `yaml:"cache_dir" json:"cache_dir" validate:"required"`
	ProjectsDir string `yaml:"projects_dir" json:"projects_dir" validate:"required"`
}

// ScanConfig lists the regions scan_all_regions covers by default.
type ScanConfig struct {
	Regions []string `yaml:"regions" json:"regions" validate:"min=1,dive,required"`
}

// DeletionConfig tunes the deletion executor and the deleter's waits.
type DeletionConfig struct {
	LayerPause  time.Duration `yaml:"layer_pause" json:"layer_pause" validate:"gte=0"`
	MaxParallel int           `yaml:"max_parallel" json:"max_parallel" validate:"gte=1"`
	Waits       deleter.Waits `yaml:"waits" json:"waits"`
}

// PolicyConfig locates user policies.
type PolicyConfig struct {
	Dir   string `yaml:"dir" json:"dir"`
	Watch bool   `yaml:"watch" json:"watch"`
}

// APIConfig configures the admin HTTP server. An empty Listen disables it.
type APIConfig struct {
	Listen string `yaml:"listen" json:"listen" validate:"omitempty,hostname_port"`
}

// DefaultRegions are scanned when a scan names no regions.
var DefaultRegions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"ca-central-1",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-central-1", "eu-north-1",
	"ap-south-1", "ap-northeast-1", "ap-northeast-2", "ap-southeast-1", "ap-southeast-2",
	"sa-east-1",
	"me-south-1",
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Provider: ProviderConfig{
			Name:              "aws",
			DefaultRegion:     "us-east-1",
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Bus: BusConfig{
			Backend: "memory",
			Redis: bus.RedisOptions{
				Addr:           "localhost:6379",
				CommandChannel: bus.DefaultCommandChannel,
				StatusChannel:  bus.DefaultStatusChannel,
			},
			BufferSize: 256,
		},
		Registry: RegistryConfig{
			Backend: stores.BackendJSON,
			Path:    filepath.Join(home, ".pockitect", "resource_registry.json"),
		},
		Workers: 5,
		Paths: PathsConfig{
			CacheDir:    filepath.Join("data", "cache"),
			ProjectsDir: filepath.Join("data", "projects"),
		},
		Scan:    ScanConfig{Regions: append([]string(nil), DefaultRegions...)},
		Confirm: confirm.DefaultSettings(),
		Deletion: DeletionConfig{
			LayerPause:  engine.DefaultLayerPause,
			MaxParallel: 4,
			Waits:       deleter.DefaultWaits(),
		},
		Policy: PolicyConfig{
			Dir:   filepath.Join(home, ".pockitect", "policies"),
			Watch: true,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8088",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies POCKITECT_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	str("PROVIDER", &c.Provider.Name)
	str("REGION", &c.Provider.DefaultRegion)
	str("BUS", &c.Bus.Backend)
	str("REGISTRY_BACKEND", (*string)(&c.Registry.Backend))
	str("REGISTRY_PATH", &c.Registry.Path)
	str("CACHE_DIR", &c.Paths.CacheDir)
	str("PROJECTS_DIR", &c.Paths.ProjectsDir)
	str("POLICY_DIR", &c.Policy.Dir)
	str("API_LISTEN", &c.API.Listen)
	str("LOG_LEVEL", &c.Telemetry.Logging.Level)
	str("LOG_FORMAT", &c.Telemetry.Logging.Format)

	if v, ok := lookup(EnvPrefix + "REDIS_ADDR"); ok && v != "" {
		c.Bus.Redis.Addr = v
		c.Bus.Backend = "redis"
	}
	str("REDIS_PASSWORD", &c.Bus.Redis.Password)

	if v, ok := lookup(EnvPrefix + "WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sWORKERS %q: %w", EnvPrefix, v, err)
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvPrefix + "SCAN_REGIONS"); ok && v != "" {
		var regions []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				regions = append(regions, r)
			}
		}
		c.Scan.Regions = regions
	}
	return nil
}

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Bus.Backend == "redis" && c.Bus.Redis.Addr == "" {
		return errors.New("invalid config: bus.redis.addr is required for the redis backend")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
