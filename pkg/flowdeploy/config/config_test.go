package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/config"
)

func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":     "prod",
		"timeout":  "45s",
		"seconds":  10,
		"float":    2.5,
		"count":    float64(3),
		"fraction": 1.5,
		"enabled":  true,
		"router":   map[string]any{"type": "X"},
		"list":     []any{map[string]any{"id": "a"}, "skip", map[string]any{"id": "b"}},
	})

	assert.Equal(t, "prod", cfg.String("name", "d"))
	assert.Equal(t, "d", cfg.String("seconds", "d"))
	assert.Equal(t, 45*time.Second, cfg.Duration("timeout", 0))
	assert.Equal(t, 10*time.Second, cfg.Duration("seconds", 0))
	assert.Equal(t, 2500*time.Millisecond, cfg.Duration("float", 0))
	assert.Equal(t, time.Minute, cfg.Duration("name", time.Minute))
	assert.Equal(t, 3, cfg.Int("count", 0))
	assert.Equal(t, 7, cfg.Int("fraction", 7))
	assert.True(t, cfg.Bool("enabled", false))
	assert.True(t, cfg.Bool("missing", true))
	assert.Equal(t, "X", cfg.Section("router").String("type", ""))
	assert.False(t, cfg.Section("name").Has("type"))

	list := cfg.Sections("list")
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[1].String("id", ""))
	assert.Nil(t, cfg.Sections("name"))

	assert.NotNil(t, config.New(nil).Raw())
}

const sampleYAML = `
log_level: debug
http_timeout: 45s
metrics: true
instances:
  - id: prod
    base_url: https://nifi.example.com/nifi-api
    token: secret
    timeout: 5s
  - id: lab
    base_url: http://localhost:8080/nifi-api
router:
  attribute: site.target
  restart_after_edit: false
templates:
  driver: sqlite
  dsn: /tmp/templates.db
history:
  path: /tmp/history.db
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	s, err := config.Load(writeFile(t, "flowdeploy.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 45*time.Second, s.HTTPTimeout)
	assert.True(t, s.Metrics)
	assert.False(t, s.Tracing)
	require.Len(t, s.Instances, 2)

	prod, ok := s.Instance("prod")
	require.True(t, ok)
	assert.Equal(t, "secret", prod.Token)
	assert.Equal(t, 5*time.Second, s.TimeoutFor(prod))
	lab, _ := s.Instance("lab")
	assert.Equal(t, 45*time.Second, s.TimeoutFor(lab))

	assert.Equal(t, "site.target", s.Router.Attribute)
	assert.False(t, s.Router.RestartAfterEdit)
	assert.Equal(t, config.NewDefaultSettings().Router.Type, s.Router.Type)
	assert.Equal(t, config.DriverSQLite, s.Templates.Driver)
	assert.Equal(t, "/tmp/history.db", s.HistoryPath)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "flowdeploy.json",
		`{"instances":[{"id":"a","base_url":"http://a"}],"http_timeout":12}`)
	s, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, s.HTTPTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read settings file")

	_, err = config.Load(writeFile(t, "flowdeploy.toml", "x = 1"))
	assert.ErrorContains(t, err, `unsupported extension ".toml"`)

	_, err = config.Load(writeFile(t, "bad.yaml", "instances: [unclosed"))
	assert.ErrorContains(t, err, "parse yaml settings")

	_, err = config.Load("")
	assert.ErrorIs(t, err, config.ErrNoInstances)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FLOWDEPLOY_INSTANCE_URL", "http://env:8080/nifi-api")
	t.Setenv("FLOWDEPLOY_INSTANCE_TOKEN", "tok")
	t.Setenv("FLOWDEPLOY_LOG_LEVEL", "warn")
	t.Setenv("FLOWDEPLOY_HTTP_TIMEOUT", "3s")
	t.Setenv("FLOWDEPLOY_TEMPLATE_STORE", "redis")
	t.Setenv("FLOWDEPLOY_REDIS_DB", "2")
	t.Setenv("FLOWDEPLOY_TRACING", "true")

	s, err := config.Load("")
	require.NoError(t, err)

	inst, ok := s.Instance(config.DefaultInstanceID)
	require.True(t, ok)
	assert.Equal(t, "http://env:8080/nifi-api", inst.BaseURL)
	assert.Equal(t, "tok", inst.Token)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, 3*time.Second, s.HTTPTimeout)
	assert.Equal(t, config.DriverRedis, s.Templates.Driver)
	assert.Equal(t, 2, s.Templates.RedisDB)
	assert.True(t, s.Tracing)
}

func TestLoadFromEnv_ReplacesInstance(t *testing.T) {
	t.Setenv("FLOWDEPLOY_INSTANCE_ID", "prod")
	t.Setenv("FLOWDEPLOY_INSTANCE_URL", "http://override")

	s, err := config.Load(writeFile(t, "flowdeploy.yaml", sampleYAML))
	require.NoError(t, err)
	require.Len(t, s.Instances, 2)
	prod, _ := s.Instance("prod")
	assert.Equal(t, "http://override", prod.BaseURL)
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"FLOWDEPLOY_HTTP_TIMEOUT", "soon"},
		{"FLOWDEPLOY_REDIS_DB", "-1"},
		{"FLOWDEPLOY_METRICS", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := config.NewDefaultSettings().LoadFromEnv()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func validSettings() *config.Settings {
	s := config.NewDefaultSettings()
	s.Instances = []config.Instance{{ID: "a", BaseURL: "http://a"}}
	return s
}

func TestValidate(t *testing.T) {
	require.NoError(t, validSettings().Validate())

	tests := []struct {
		name   string
		modify func(*config.Settings)
		want   error
	}{
		{"no instances", func(s *config.Settings) { s.Instances = nil }, config.ErrNoInstances},
		{"instance without id", func(s *config.Settings) { s.Instances[0].ID = "" }, config.ErrInvalidInstance},
		{"instance without url", func(s *config.Settings) { s.Instances[0].BaseURL = "" }, config.ErrInvalidInstance},
		{"duplicate instance", func(s *config.Settings) {
			s.Instances = append(s.Instances, s.Instances[0])
		}, config.ErrDuplicateInstance},
		{"zero timeout", func(s *config.Settings) { s.HTTPTimeout = 0 }, config.ErrInvalidHTTPTimeout},
		{"huge timeout", func(s *config.Settings) { s.HTTPTimeout = time.Hour }, config.ErrInvalidHTTPTimeout},
		{"blank router type", func(s *config.Settings) { s.Router.Type = " " }, config.ErrInvalidRouterType},
		{"template without name", func(s *config.Settings) {
			s.Router.RuleTemplate = "${$attribute:equals('x')}"
		}, config.ErrInvalidRuleTemplate},
		{"unknown driver", func(s *config.Settings) { s.Templates.Driver = "etcd" }, config.ErrInvalidStoreDriver},
		{"sqlite without dsn", func(s *config.Settings) { s.Templates.Driver = config.DriverSQLite }, config.ErrMissingStoreLocation},
		{"redis without addr", func(s *config.Settings) {
			s.Templates.Driver = config.DriverRedis
			s.Templates.RedisAddr = ""
		}, config.ErrMissingStoreLocation},
		{"bad log level", func(s *config.Settings) { s.LogLevel = "loud" }, config.ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.modify(s)
			assert.ErrorIs(t, s.Validate(), tt.want)
		})
	}
}
