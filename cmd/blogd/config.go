package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skekre98/dynconf"
)

// Bootstrap is the static file configuration blogd needs before it can
// reach the remote: where the remote is and how to talk to it. Business
// configuration lives on the remote and flows through BlogConfig.
type Bootstrap struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Remote struct {
		Backend      string `yaml:"backend"` // "file" or "nats"
		Dir          string `yaml:"dir"`
		URL          string `yaml:"url"`
		Namespace    string `yaml:"namespace"`
		Group        string `yaml:"group"`
		PollInterval string `yaml:"pollInterval"`
	} `yaml:"remote"`
	LogLevel string `yaml:"logLevel"`
}

func loadBootstrap(path string) (Bootstrap, error) {
	var b Bootstrap
	raw, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read bootstrap config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("parse bootstrap config: %w", err)
	}

	if b.App.Name == "" {
		b.App.Name = "blogd"
	}
	if b.Server.Addr == "" {
		b.Server.Addr = ":8080"
	}
	if b.Remote.Backend == "" {
		b.Remote.Backend = "file"
	}
	if b.Remote.Namespace == "" {
		b.Remote.Namespace = "public"
	}
	if b.Remote.Group == "" {
		b.Remote.Group = "DEFAULT_GROUP"
	}
	return b, nil
}

func (b Bootstrap) pollInterval() (time.Duration, error) {
	if b.Remote.PollInterval == "" {
		return 0, nil // manager default
	}
	return time.ParseDuration(b.Remote.PollInterval)
}

// BlogConfig is the typed snapshot of the blog service's dynamic
// configuration. Defaults in the rule table must satisfy every validate
// tag here, so the service stays usable with the remote unreachable.
type BlogConfig struct {
	LogLevel    string        `config:"log_level" validate:"required,oneof=DEBUG INFO WARN WARNING ERROR"`
	JWT         JWTConfig     `config:"jwt"`
	Redis       RedisConfig   `config:"redis"`
	Posts       PostsConfig   `config:"posts"`
	Cache       CacheConfig   `config:"cache"`
	CORSOrigins []string      `config:"cors_origins"`
	UserTimeout time.Duration `config:"user_service_timeout" validate:"gt=0"`
}

type JWTConfig struct {
	Secret string        `config:"secret" validate:"required"`
	Expiry time.Duration `config:"expiry" validate:"gt=0"`
}

type RedisConfig struct {
	Host string `config:"host" validate:"required"`
	Port int    `config:"port" validate:"min=1,max=65535"`
	DB   int    `config:"db" validate:"min=0"`
}

type PostsConfig struct {
	PerPage    int `config:"per_page" validate:"min=1"`
	MaxPerPage int `config:"max_per_page" validate:"min=1"`
}

type CacheConfig struct {
	DefaultTTL time.Duration `config:"default_ttl" validate:"gt=0"`
	PostsTTL   time.Duration `config:"posts_ttl" validate:"gt=0"`
}

// blogRules is the mapping table for the entries the blog service
// watches: service-wide settings in common-config, service-specific ones
// in blog-service-config, plus the shared database/redis entries.
func blogRules() []dynconf.Rule {
	return []dynconf.Rule{
		{DataID: "common-config", Field: "log_level", Attr: "log_level",
			Default: "INFO"},
		{DataID: "common-config", Field: "jwt_secret_key", Attr: "jwt.secret",
			Default: "dev-secret-change-me"},
		{DataID: "common-config", Field: "jwt_expires_hours", Attr: "jwt.expiry",
			Default: 24 * time.Hour, Transform: dynconf.DurationFromHours},
		{DataID: "common-config", Field: "cors_origins", Attr: "cors_origins",
			Default: []string{"*"}, Transform: dynconf.SplitCSV},
		{DataID: "redis-config", Field: "redis_host", Attr: "redis.host",
			Default: "localhost"},
		{DataID: "redis-config", Field: "redis_port", Attr: "redis.port",
			Default: 6379, Transform: dynconf.ToInt},
		{DataID: "redis-config", Field: "redis_db", Attr: "redis.db",
			Default: 0, Transform: dynconf.ToInt},
		{DataID: "blog-service-config", Field: "posts_per_page", Attr: "posts.per_page",
			Default: 10, Transform: dynconf.ToInt},
		{DataID: "blog-service-config", Field: "max_posts_per_page", Attr: "posts.max_per_page",
			Default: 100, Transform: dynconf.ToInt},
		{DataID: "blog-service-config", Field: "cache_default_timeout", Attr: "cache.default_ttl",
			Default: 5 * time.Minute, Transform: dynconf.DurationFromSeconds},
		{DataID: "blog-service-config", Field: "cache_posts_timeout", Attr: "cache.posts_ttl",
			Default: time.Minute, Transform: dynconf.DurationFromSeconds},
		{DataID: "blog-service-config", Field: "user_service_timeout", Attr: "user_service_timeout",
			Default: 5 * time.Second, Transform: dynconf.DurationFromSeconds},
	}
}
