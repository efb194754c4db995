// Package config handles configuration loading for the invitation gate.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then GATE_* environment variables override individual fields,
// defaults are filled in, and the result is validated. Every failure is a
// *ConfigurationError naming the offending field.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  session_secret: "${GATE_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Environment Overrides
//
//	GATE_SESSION_SECRET        auth.session_secret
//	GATE_SESSION_LIFETIME      auth.session_lifetime
//	GATE_INVITATIONS_PATH      invitations.path
//	GATE_DATABASE_PATH         database.path
//	GATE_REDIS_URL             redis.url
//	GATE_DAILY_LIMIT           quota.daily_limit
//	GATE_TIME_ZONE             quota.time_zone
//	GATE_LOG_LEVEL             logging.level
//	GATE_ADMIN_PASSWORD_HASH   admin.password_hash
//
// # Configuration Sections
//
//	auth:
//	  session_secret: "${GATE_SECRET}"   # Required, at least 32 bytes
//	  session_lifetime: "24h"
//
//	invitations:
//	  path: "./invited_users.json"       # YAML or JSON
//	  secrets_path: "./secrets.toml"     # Optional [invited_users] table
//
//	rate_limits:
//	  auth:   {cap: 5,  window: "15m"}
//	  upload: {cap: 10, window: "60m"}
//
//	quota:
//	  daily_limit: 5
//	  time_zone: "UTC"                   # IANA name; the day rolls over at local midnight
//
//	database:
//	  path: "./gate.db"
//
//	redis:
//	  url: ""                            # Counters move to Redis when set
//
//	audit:
//	  log_path: "./security_audit.log"   # Optional JSON-lines mirror
//	  buffer_size: 1024
//
//	logging:
//	  level: "info"                      # debug, info, warn, error
//	  format: "text"                     # text, json
//
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9100"
//
//	admin:
//	  password_hash: "$2a$10$..."        # bcrypt
//
// # Usage
//
//	cfg, err := config.Load("/etc/gate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
