/*
Package config loads flowdeploy settings.

# Raw access

Config wraps a map[string]any decoded from YAML or JSON and provides typed
accessors that fall back to a default on a missing key or a type mismatch:

	cfg, err := config.FromFile("flowdeploy.yaml")
	timeout := cfg.Duration("http_timeout", 30*time.Second)
	router := cfg.Section("router")

# Settings

Settings is the typed view used by the service. Load layers defaults, an
optional file and FLOWDEPLOY_* environment variables, then validates:

	settings, err := config.Load(os.Getenv("FLOWDEPLOY_CONFIG"))

A file looks like:

	log_level: debug
	http_timeout: 45s
	instances:
	  - id: prod
	    base_url: https://nifi.example.com/nifi-api
	    token: eyJhbGciOi...
	router:
	  attribute: hierarchy.target
	  rule_template: "${$attribute:equalsIgnoreCase('$name')}"
	templates:
	  driver: sqlite
	  dsn: /var/lib/flowdeploy/templates.db
	history:
	  path: /var/lib/flowdeploy/history.db

Tokens are read as given; no login flow is performed.
*/
package config
