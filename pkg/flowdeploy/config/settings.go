package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/routing"
	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/template"
)

// Template store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultLogLevel    = "info"
	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "flowdeploy"
	DefaultInstanceID  = "default"
	MaxHTTPTimeout     = 10 * time.Minute

	envPrefix           = "FLOWDEPLOY_"
	ruleTemplateNameVar = "name"
)

var (
	ErrNoInstances          = errors.New("at least one instance must be configured")
	ErrInvalidInstance      = errors.New("invalid instance")
	ErrDuplicateInstance    = errors.New("duplicate instance id")
	ErrInvalidHTTPTimeout   = errors.New("http timeout must be positive")
	ErrInvalidRouterType    = errors.New("router type must not be empty")
	ErrInvalidRuleTemplate  = errors.New("rule template must reference $name")
	ErrInvalidStoreDriver   = errors.New("invalid template store driver")
	ErrMissingStoreLocation = errors.New("template store location missing")
	ErrInvalidLogLevel      = errors.New("invalid log level")
)

type (
	// Instance is one remote engine reachable with a bearer token.
	Instance struct {
		ID      string
		BaseURL string
		Token   string
		// Timeout overrides Settings.HTTPTimeout when positive.
		Timeout time.Duration
	}

	// Router configures how conditional routers are recognised and
	// programmed.
	Router struct {
		Type             string
		StrategyProperty string
		RuleStrategy     string
		Attribute        string
		RuleTemplate     string
		RestartAfterEdit bool
	}

	// TemplateStore selects where template records live.
	TemplateStore struct {
		Driver        string
		DSN           string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string
	}

	// Settings holds everything the service needs.
	Settings struct {
		Instances   []Instance
		Router      Router
		Templates   TemplateStore
		HistoryPath string
		HTTPTimeout time.Duration
		LogLevel    string
		Metrics     bool
		Tracing     bool
	}
)

// NewDefaultSettings returns settings with no instances and the stock router
// dialect, an in-memory template store and in-memory history.
func NewDefaultSettings() *Settings {
	return &Settings{
		Router: Router{
			Type:             routing.DefaultRouterType,
			StrategyProperty: routing.DefaultStrategyProperty,
			RuleStrategy:     routing.DefaultRuleStrategy,
			Attribute:        routing.DefaultAttribute,
			RuleTemplate:     routing.DefaultPredicate,
			RestartAfterEdit: true,
		},
		Templates: TemplateStore{
			Driver:      DriverMemory,
			RedisAddr:   DefaultRedisAddr,
			RedisPrefix: DefaultRedisPrefix,
		},
		HTTPTimeout: DefaultHTTPTimeout,
		LogLevel:    DefaultLogLevel,
	}
}

// Apply overlays values present in cfg onto s.
func (s *Settings) Apply(cfg Config) {
	s.LogLevel = cfg.String("log_level", s.LogLevel)
	s.HTTPTimeout = cfg.Duration("http_timeout", s.HTTPTimeout)
	s.Metrics = cfg.Bool("metrics", s.Metrics)
	s.Tracing = cfg.Bool("tracing", s.Tracing)
	s.HistoryPath = cfg.Section("history").String("path", s.HistoryPath)

	if cfg.Has("instances") {
		s.Instances = s.Instances[:0]
		for _, ic := range cfg.Sections("instances") {
			s.Instances = append(s.Instances, Instance{
				ID:      ic.String("id", ""),
				BaseURL: ic.String("base_url", ""),
				Token:   ic.String("token", ""),
				Timeout: ic.Duration("timeout", 0),
			})
		}
	}

	r := cfg.Section("router")
	s.Router.Type = r.String("type", s.Router.Type)
	s.Router.StrategyProperty = r.String("strategy_property", s.Router.StrategyProperty)
	s.Router.RuleStrategy = r.String("rule_strategy", s.Router.RuleStrategy)
	s.Router.Attribute = r.String("attribute", s.Router.Attribute)
	s.Router.RuleTemplate = r.String("rule_template", s.Router.RuleTemplate)
	s.Router.RestartAfterEdit = r.Bool("restart_after_edit", s.Router.RestartAfterEdit)

	t := cfg.Section("templates")
	s.Templates.Driver = t.String("driver", s.Templates.Driver)
	s.Templates.DSN = t.String("dsn", s.Templates.DSN)
	s.Templates.RedisAddr = t.String("redis_addr", s.Templates.RedisAddr)
	s.Templates.RedisPassword = t.String("redis_password", s.Templates.RedisPassword)
	s.Templates.RedisDB = t.Int("redis_db", s.Templates.RedisDB)
	s.Templates.RedisPrefix = t.String("redis_prefix", s.Templates.RedisPrefix)
}

// LoadFromEnv populates values from FLOWDEPLOY_* environment variables.
// FLOWDEPLOY_INSTANCE_URL defines (or replaces) a single instance whose id
// is FLOWDEPLOY_INSTANCE_ID, "default" when unset.
func (s *Settings) LoadFromEnv() error {
	loadEnvString("LOG_LEVEL", &s.LogLevel)
	loadEnvString("HISTORY_PATH", &s.HistoryPath)
	loadEnvString("ROUTER_TYPE", &s.Router.Type)
	loadEnvString("HIERARCHY_ATTRIBUTE", &s.Router.Attribute)
	loadEnvString("RULE_TEMPLATE", &s.Router.RuleTemplate)
	loadEnvString("TEMPLATE_STORE", &s.Templates.Driver)
	loadEnvString("TEMPLATE_DSN", &s.Templates.DSN)
	loadEnvString("REDIS_ADDR", &s.Templates.RedisAddr)
	loadEnvString("REDIS_PASSWORD", &s.Templates.RedisPassword)
	loadEnvString("REDIS_PREFIX", &s.Templates.RedisPrefix)

	if err := loadEnvInt("REDIS_DB", &s.Templates.RedisDB); err != nil {
		return err
	}
	if err := loadEnvDuration("HTTP_TIMEOUT", &s.HTTPTimeout); err != nil {
		return err
	}
	if err := loadEnvBool("METRICS", &s.Metrics); err != nil {
		return err
	}
	if err := loadEnvBool("TRACING", &s.Tracing); err != nil {
		return err
	}

	if url := os.Getenv(envPrefix + "INSTANCE_URL"); url != "" {
		inst := Instance{
			ID:      DefaultInstanceID,
			BaseURL: url,
			Token:   os.Getenv(envPrefix + "INSTANCE_TOKEN"),
		}
		loadEnvString("INSTANCE_ID", &inst.ID)
		s.setInstance(inst)
	}
	return nil
}

func (s *Settings) setInstance(inst Instance) {
	for i := range s.Instances {
		if s.Instances[i].ID == inst.ID {
			s.Instances[i] = inst
			return
		}
	}
	s.Instances = append(s.Instances, inst)
}

// Instance returns the instance with id.
func (s *Settings) Instance(id string) (Instance, bool) {
	for _, inst := range s.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}

// Validate checks that all configuration values are valid.
func (s *Settings) Validate() error {
	if len(s.Instances) == 0 {
		return ErrNoInstances
	}
	seen := make(map[string]bool, len(s.Instances))
	for i, inst := range s.Instances {
		if inst.ID == "" {
			return fmt.Errorf("%w: #%d has no id", ErrInvalidInstance, i)
		}
		if inst.BaseURL == "" {
			return fmt.Errorf("%w: %s has no base url", ErrInvalidInstance, inst.ID)
		}
		if inst.Timeout < 0 {
			return fmt.Errorf("%w: %s has a negative timeout", ErrInvalidInstance, inst.ID)
		}
		if seen[inst.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateInstance, inst.ID)
		}
		seen[inst.ID] = true
	}

	if s.HTTPTimeout <= 0 || s.HTTPTimeout > MaxHTTPTimeout {
		return fmt.Errorf("%w: %s", ErrInvalidHTTPTimeout, s.HTTPTimeout)
	}

	if strings.TrimSpace(s.Router.Type) == "" {
		return ErrInvalidRouterType
	}
	vars := template.NewExpander().Variables(s.Router.RuleTemplate)
	if !slices.Contains(vars, ruleTemplateNameVar) {
		return fmt.Errorf("%w: %q", ErrInvalidRuleTemplate, s.Router.RuleTemplate)
	}

	switch s.Templates.Driver {
	case DriverMemory:
	case DriverSQLite:
		if s.Templates.DSN == "" {
			return fmt.Errorf("%w: sqlite needs a dsn", ErrMissingStoreLocation)
		}
	case DriverRedis:
		if s.Templates.RedisAddr == "" {
			return fmt.Errorf("%w: redis needs an address", ErrMissingStoreLocation)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStoreDriver, s.Templates.Driver)
	}

	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, s.LogLevel)
	}
	return nil
}

// TimeoutFor returns the effective HTTP timeout for inst.
func (s *Settings) TimeoutFor(inst Instance) time.Duration {
	if inst.Timeout > 0 {
		return inst.Timeout
	}
	return s.HTTPTimeout
}

func loadEnvString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func loadEnvInt(key string, dst *int) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid %s%s: %q", envPrefix, key, v)
	}
	*dst = n
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %q", envPrefix, key, v)
	}
	*dst = d
	return nil
}

func loadEnvBool(key string, dst *bool) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %q", envPrefix, key, v)
	}
	*dst = b
	return nil
}
