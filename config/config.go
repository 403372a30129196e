package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/yaoapp/kun/log"
	v8 "github.com/yaoapp/weave/runtime/v8"
	"github.com/yaoapp/weave/store"
)

// EnvPrefix the prefix of the environment variables, WEAVE_SERVER_PORT sets server.port
const EnvPrefix = "WEAVE"

// Config the host configuration
type Config struct {
	Server   Server       `json:"server" mapstructure:"server"`
	Sandbox  v8.Option    `json:"sandbox" mapstructure:"sandbox"`
	Store    store.Option `json:"store" mapstructure:"store"`
	Secrets  Secrets      `json:"secrets" mapstructure:"secrets"`
	Stream   Stream       `json:"stream" mapstructure:"stream"`
	Scripts  Scripts      `json:"scripts" mapstructure:"scripts"`
	Identity Identity     `json:"identity" mapstructure:"identity"`
	Log      Log          `json:"log" mapstructure:"log"`
}

// Server the HTTP server
type Server struct {
	Host        string        `json:"host" mapstructure:"host"`
	Port        int           `json:"port" mapstructure:"port"`
	Mode        string        `json:"mode" mapstructure:"mode"` // production, development
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	GraphQLPath string        `json:"graphqlPath" mapstructure:"graphqlPath"`
	AdminPath   string        `json:"adminPath" mapstructure:"adminPath"`
	MaxBody     int64         `json:"maxBody" mapstructure:"maxBody"`
}

// Secrets the secret store
type Secrets struct {
	Key string `json:"-" mapstructure:"key"` // master key, never printed
}

// Stream the delivery subsystem
type Stream struct {
	Buffer    int           `json:"buffer" mapstructure:"buffer"`
	KeepAlive time.Duration `json:"keepAlive" mapstructure:"keepAlive"`
	Redis     StreamRedis   `json:"redis" mapstructure:"redis"`
}

// StreamRedis the cross-node relay, disabled without an address
type StreamRedis struct {
	Addr     string `json:"addr,omitempty" mapstructure:"addr"`
	Password string `json:"-" mapstructure:"password"`
	DB       int    `json:"db,omitempty" mapstructure:"db"`
	Topic    string `json:"topic,omitempty" mapstructure:"topic"`
}

// Scripts the script sources
type Scripts struct {
	Dir        string   `json:"dir,omitempty" mapstructure:"dir"`
	Watch      bool     `json:"watch" mapstructure:"watch"`
	Privileged []string `json:"privileged,omitempty" mapstructure:"privileged"`
}

// Identity the identity provider
type Identity struct {
	Provider  string `json:"provider" mapstructure:"provider"` // session, header
	Prefix    string `json:"prefix,omitempty" mapstructure:"prefix"`
	Secret    string `json:"-" mapstructure:"proxySecret"` // shared with the proxy setting identity headers, never printed
	Cookie    string `json:"cookie,omitempty" mapstructure:"cookie"`
	AdminRole string `json:"adminRole" mapstructure:"adminRole"`
}

// Log the logger
type Log struct {
	Level  string `json:"level" mapstructure:"level"`   // trace, debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
}

// Load reads the configuration file (YAML, JSON or TOML by extension) and the
// WEAVE_* environment. Without a file the defaults and the environment apply.
func Load(file string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("weave")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Info("[Config] %s", used)
	}

	cfg.Validate()
	return cfg, nil
}

// defaults every key must have a default, AutomaticEnv only overrides known keys
func defaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5099)
	v.SetDefault("server.mode", "production")
	v.SetDefault("server.timeout", 5*time.Second)
	v.SetDefault("server.graphqlPath", "/graphql")
	v.SetDefault("server.adminPath", "/admin")
	v.SetDefault("server.maxBody", 4<<20)

	v.SetDefault("sandbox.memoryCeiling", 64<<20)
	v.SetDefault("sandbox.timeout", 5*time.Second)
	v.SetDefault("sandbox.maxStackDepth", 1000)
	v.SetDefault("sandbox.maxScriptSize", 1<<20)
	v.SetDefault("sandbox.minIsolates", 2)
	v.SetDefault("sandbox.maxIsolates", 10)
	v.SetDefault("sandbox.isolateUses", 1000)
	v.SetDefault("sandbox.heapRelease", 0)
	v.SetDefault("sandbox.sampleInterval", 5*time.Millisecond)
	v.SetDefault("sandbox.cacheSize", 256)
	v.SetDefault("sandbox.mode", "")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "")
	v.SetDefault("store.cacheSize", 0)
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "weave:")

	v.SetDefault("secrets.key", "")

	v.SetDefault("stream.buffer", 64)
	v.SetDefault("stream.keepAlive", 15*time.Second)
	v.SetDefault("stream.redis.addr", "")
	v.SetDefault("stream.redis.password", "")
	v.SetDefault("stream.redis.db", 0)
	v.SetDefault("stream.redis.topic", "weave:streams")

	v.SetDefault("scripts.dir", "")
	v.SetDefault("scripts.watch", false)
	v.SetDefault("scripts.privileged", []string{})

	v.SetDefault("identity.provider", "session")
	v.SetDefault("identity.prefix", "")
	v.SetDefault("identity.proxySecret", "")
	v.SetDefault("identity.cookie", "")
	v.SetDefault("identity.adminRole", "admin")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate clamps out of range values, with a warning for each
func (cfg *Config) Validate() {
	if cfg.Server.Mode != "development" {
		cfg.Server.Mode = "production"
	}
	if cfg.Sandbox.Mode == "" {
		cfg.Sandbox.Mode = cfg.Server.Mode
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		log.Warn("[Config] server.port %d is out of range, using 5099", cfg.Server.Port)
		cfg.Server.Port = 5099
	}
	if cfg.Server.Timeout <= 0 {
		cfg.Server.Timeout = 5 * time.Second
	}
	if cfg.Server.GraphQLPath == "" || !strings.HasPrefix(cfg.Server.GraphQLPath, "/") {
		log.Warn("[Config] server.graphqlPath %q must start with /, using /graphql", cfg.Server.GraphQLPath)
		cfg.Server.GraphQLPath = "/graphql"
	}
	cfg.Server.GraphQLPath = strings.TrimSuffix(cfg.Server.GraphQLPath, "/")
	if cfg.Server.AdminPath == "" || !strings.HasPrefix(cfg.Server.AdminPath, "/") {
		log.Warn("[Config] server.adminPath %q must start with /, using /admin", cfg.Server.AdminPath)
		cfg.Server.AdminPath = "/admin"
	}
	cfg.Server.AdminPath = strings.TrimSuffix(cfg.Server.AdminPath, "/")
	if cfg.Server.MaxBody <= 0 {
		cfg.Server.MaxBody = 4 << 20
	}
	if cfg.Server.MaxBody > 64<<20 {
		log.Warn("[Config] the maximum value of server.maxBody is 64M")
		cfg.Server.MaxBody = 64 << 20
	}

	cfg.Sandbox.Validate()

	switch strings.ToLower(cfg.Store.Driver) {
	case "memory", "badger", "buntdb", "redis":
		cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	case "":
		cfg.Store.Driver = "memory"
	default:
		log.Warn("[Config] unknown store.driver %q, using memory", cfg.Store.Driver)
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.CacheSize < 0 {
		cfg.Store.CacheSize = 0
	}

	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = 64
	}
	if cfg.Stream.Buffer > 4096 {
		log.Warn("[Config] the maximum value of stream.buffer is 4096")
		cfg.Stream.Buffer = 4096
	}
	if cfg.Stream.KeepAlive < time.Second {
		log.Warn("[Config] the minimum value of stream.keepAlive is 1s")
		cfg.Stream.KeepAlive = time.Second
	}
	if cfg.Stream.Redis.Topic == "" {
		cfg.Stream.Redis.Topic = "weave:streams"
	}

	switch cfg.Identity.Provider {
	case "header", "session":
	case "":
		cfg.Identity.Provider = "session"
	default:
		log.Warn("[Config] unknown identity.provider %q, using session", cfg.Identity.Provider)
		cfg.Identity.Provider = "session"
	}
	if cfg.Identity.Provider == "header" && cfg.Identity.Secret == "" && cfg.Server.Mode == "production" {
		log.Warn("[Config] identity.provider header requires identity.proxySecret in production, using session")
		cfg.Identity.Provider = "session"
	}
	if cfg.Identity.AdminRole == "" {
		cfg.Identity.AdminRole = "admin"
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	default:
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format != "json" {
		cfg.Log.Format = "text"
	}
}

// Addr the listen address
func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}

// Production reports whether error details are hidden
func (cfg *Config) Production() bool {
	return cfg.Server.Mode != "development"
}

// Apply the log settings
func (cfg *Config) Apply() {
	switch cfg.Log.Level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	if cfg.Log.Format == "json" {
		log.SetFormatter(log.JSON)
	} else {
		log.SetFormatter(log.TEXT)
	}
}
