package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Registry kinds.
const (
	RegistryStatic = "static"
	RegistryMemory = "memory"
	RegistryEtcd   = "etcd"
	RegistryEC2    = "ec2"
)

var (
	ErrZonesMismatch   = errors.New("cluster.zones must name exactly cluster.size partitions")
	ErrStaticMismatch  = errors.New("registry.static must map every partition 0..size-1")
	ErrNoEtcdEndpoints = errors.New("registry.etcd.endpoints required for the etcd registry")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env" validate:"oneof=dev staging prod"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level" validate:"oneof=debug info warn error"`
	} `yaml:"log"`

	Cluster Cluster `yaml:"cluster"`

	Bootstrap Bootstrap `yaml:"bootstrap"`

	Registry Registry `yaml:"registry"`

	Server struct {
		Addr string `yaml:"addr" validate:"required"`
	} `yaml:"server"`
}

type Cluster struct {
	// Name prefixes every resource and job name.
	Name string `yaml:"name" validate:"required"`
	Size int    `yaml:"size" validate:"min=1"`
	// Offset is the generation offset used when the registry does not store one.
	Offset uint64 `yaml:"offset"`
	// Zones optionally names each partition, in partition order.
	Zones    []string `yaml:"zones" validate:"omitempty,dive,required"`
	Scheme   string   `yaml:"scheme" validate:"oneof=http https"`
	HTTPPort int      `yaml:"http_port" validate:"min=1,max=65535"`
	RaftPort int      `yaml:"raft_port" validate:"min=1,max=65535"`
}

type Bootstrap struct {
	Script       string `yaml:"script" validate:"required"`
	SharedScript string `yaml:"shared_script"`
	Bastion      string `yaml:"bastion"`
	PrivateKey   string `yaml:"private_key"`
	// Parallelism bounds concurrent bootstrap jobs; 0 runs all members at once.
	Parallelism int    `yaml:"parallelism" validate:"min=0"`
	OutDir      string `yaml:"out_dir"`
}

type Registry struct {
	Kind string `yaml:"kind" validate:"oneof=static memory etcd ec2"`

	// Static maps partition -> address.
	Static map[int]string `yaml:"static"`

	Etcd struct {
		Endpoints   []string      `yaml:"endpoints"`
		Prefix      string        `yaml:"prefix" validate:"required"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		LeaseTTL    int64         `yaml:"lease_ttl" validate:"min=1"`
	} `yaml:"etcd"`

	EC2 struct {
		Region     string `yaml:"region"`
		ClusterTag string `yaml:"cluster_tag" validate:"required"`
	} `yaml:"ec2"`
}

// Default returns a config usable without a file: a 3 member cluster on an
// in-memory registry.
func Default() *Config {
	var c Config
	c.applyDefaults()
	c.applyDerived()
	return &c
}

// Load reads a YAML file, applies defaults and environment overrides, and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	c.applyDerived()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadDotEnv loads .env style files if they exist. Variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Cluster.Name == "" {
		c.Cluster.Name = "main_rqlite"
	}
	if c.Cluster.Size == 0 {
		if len(c.Cluster.Zones) > 0 {
			c.Cluster.Size = len(c.Cluster.Zones)
		} else {
			c.Cluster.Size = 3
		}
	}
	if c.Cluster.Scheme == "" {
		c.Cluster.Scheme = "http"
	}
	if c.Cluster.HTTPPort == 0 {
		c.Cluster.HTTPPort = 4001
	}
	if c.Cluster.RaftPort == 0 {
		c.Cluster.RaftPort = 4002
	}
	if c.Bootstrap.Script == "" {
		c.Bootstrap.Script = "setup-scripts/rqlite"
	}
	if c.Bootstrap.SharedScript == "" {
		c.Bootstrap.SharedScript = "setup-scripts/shared"
	}
	if c.Bootstrap.OutDir == "" {
		c.Bootstrap.OutDir = "out"
	}
	if c.Registry.Kind == "" {
		c.Registry.Kind = RegistryMemory
	}
	if c.Registry.Etcd.Prefix == "" {
		c.Registry.Etcd.Prefix = "/zephyrrotor"
	}
	if c.Registry.Etcd.DialTimeout == 0 {
		c.Registry.Etcd.DialTimeout = 5 * time.Second
	}
	if c.Registry.Etcd.LeaseTTL == 0 {
		c.Registry.Etcd.LeaseTTL = 10
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// applyDerived fills defaults that follow other settings, once overrides are in.
func (c *Config) applyDerived() {
	if c.Registry.EC2.ClusterTag == "" {
		c.Registry.EC2.ClusterTag = c.Cluster.Name
	}
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("ROTOR_CLUSTER_NAME"); ok {
		c.Cluster.Name = v
	}
	if v, ok := getEnvInt("ROTOR_CLUSTER_SIZE"); ok {
		c.Cluster.Size = v
	}
	if v, ok := getEnvUint("ROTOR_OFFSET"); ok {
		c.Cluster.Offset = v
	}
	if v, ok := getEnvStr("ROTOR_REGISTRY"); ok {
		c.Registry.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvCSV("ROTOR_ETCD_ENDPOINTS"); ok {
		c.Registry.Etcd.Endpoints = v
	}
	if v, ok := getEnvStr("ROTOR_BASTION"); ok {
		c.Bootstrap.Bastion = v
	}
	if v, ok := getEnvStr("AWS_REGION"); ok && c.Registry.EC2.Region == "" {
		c.Registry.EC2.Region = v
	}
}

// Validate checks struct tags, then the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if len(c.Cluster.Zones) > 0 && len(c.Cluster.Zones) != c.Cluster.Size {
		return fmt.Errorf("%w: %d zones, size %d", ErrZonesMismatch, len(c.Cluster.Zones), c.Cluster.Size)
	}
	switch c.Registry.Kind {
	case RegistryStatic:
		for p := range c.Cluster.Size {
			if c.Registry.Static[p] == "" {
				return fmt.Errorf("%w: partition %d", ErrStaticMismatch, p)
			}
		}
		if len(c.Registry.Static) != c.Cluster.Size {
			return fmt.Errorf("%w: %d entries, size %d", ErrStaticMismatch, len(c.Registry.Static), c.Cluster.Size)
		}
	case RegistryEtcd:
		if len(c.Registry.Etcd.Endpoints) == 0 {
			return ErrNoEtcdEndpoints
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s: field is required", field)
	case "min":
		return fmt.Errorf("%s: must be at least %s", field, e.Param())
	case "max":
		return fmt.Errorf("%s: must not exceed %s", field, e.Param())
	case "oneof":
		return fmt.Errorf("%s: must be one of [%s], got %q", field, e.Param(), fmt.Sprint(e.Value()))
	default:
		return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
	}
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvUint(key string) (uint64, bool) {
	if s, ok := getEnvStr(key); ok {
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}
