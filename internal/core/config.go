package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// server components.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port for raw TCP connections.
	Port int `mapstructure:"port"`
	// Port for websocket connections. 0 disables the websocket listener.
	WebsocketPort int `mapstructure:"websocket_port"`
	// Maximum number of concurrent connections the server will allow.
	MaxConnections int `mapstructure:"max_connections"`
	// Number of simulation ticks per second. Inbound packets are dispatched once per tick.
	TickRate int `mapstructure:"tick_rate"`
	// Number of outbound frames buffered per connection before it is considered stalled.
	SendQueueSize int `mapstructure:"send_queue_size"`
	// How long a departed player's position is remembered for when they rejoin.
	DepartedPlayerTTL time.Duration `mapstructure:"departed_player_ttl"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// Include the calling function in log entries.
	IncludeCaller bool `mapstructure:"include_caller"`

	Database struct {
		// Either "sqlite" or "postgres".
		Engine string `mapstructure:"engine"`
		// Path to the sqlite database file.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Debugging struct {
		// Enable the debug HTTP server (metrics, pprof, player list).
		Enabled bool `mapstructure:"enabled"`
		// Port on which the debug HTTP server will listen.
		HTTPPort int `mapstructure:"http_port"`
		// Log every packet sent or received.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "NEBULA"

// DefaultConfig returns a Config that will run a server on the local machine with
// a sqlite database in the working directory.
func DefaultConfig() *Config {
	cfg := &Config{
		Hostname:          "0.0.0.0",
		Port:              8469,
		WebsocketPort:     0,
		MaxConnections:    64,
		TickRate:          60,
		SendQueueSize:     256,
		DepartedPlayerTTL: 30 * time.Minute,
		LogLevel:          "info",
	}
	cfg.Database.Engine = "sqlite"
	cfg.Database.Filename = "nebula.db"
	cfg.Database.Port = 5432
	cfg.Database.SSLMode = "disable"
	cfg.Debugging.HTTPPort = 8470
	return cfg
}

// setDefaults registers every default with v so that keys missing from the config
// file are still bound to their environment variables.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("hostname", cfg.Hostname)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("websocket_port", cfg.WebsocketPort)
	v.SetDefault("max_connections", cfg.MaxConnections)
	v.SetDefault("tick_rate", cfg.TickRate)
	v.SetDefault("send_queue_size", cfg.SendQueueSize)
	v.SetDefault("departed_player_ttl", cfg.DepartedPlayerTTL)
	v.SetDefault("log_file_path", cfg.LogFilePath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("include_caller", cfg.IncludeCaller)
	v.SetDefault("database.engine", cfg.Database.Engine)
	v.SetDefault("database.filename", cfg.Database.Filename)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.name", cfg.Database.Name)
	v.SetDefault("database.username", cfg.Database.Username)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("debugging.enabled", cfg.Debugging.Enabled)
	v.SetDefault("debugging.http_port", cfg.Debugging.HTTPPort)
	v.SetDefault("debugging.packet_logging_enabled", cfg.Debugging.PacketLoggingEnabled)
	v.SetDefault("debugging.database_logging_enabled", cfg.Debugging.DatabaseLoggingEnabled)
}

// LoadConfig reads config.yaml from configPath on top of the defaults. A missing
// config file is not an error; every option can also be set through the environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch {
	case c.TickRate <= 0:
		return fmt.Errorf("tick_rate must be positive, got %d", c.TickRate)
	case c.SendQueueSize <= 0:
		return fmt.Errorf("send_queue_size must be positive, got %d", c.SendQueueSize)
	case c.MaxConnections <= 0:
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	switch c.Database.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database engine %q", c.Database.Engine)
	}
	return nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a Postgres connection string generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// ListenAddress returns the address the TCP frontend listens on.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// WebsocketAddress returns the address the websocket frontend listens on.
func (c *Config) WebsocketAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.WebsocketPort)
}

// TickInterval returns the time between two simulation ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
