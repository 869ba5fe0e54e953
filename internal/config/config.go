package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/peace-chat/pkg/config"
	"github.com/weiawesome/peace-chat/pkg/database"
	pkglog "github.com/weiawesome/peace-chat/pkg/log"
	"github.com/weiawesome/peace-chat/pkg/pubsub"
)

type Config struct {
	Server      ServerConfig
	GRPC        GRPCConfig
	WebSocket   WebSocketConfig
	Relay       RelayConfig
	Credentials CredentialsConfig
	Database    database.Config
	Redis       RedisConfig
	Events      EventsConfig
	Snowflake   SnowflakeConfig
	NanoID      NanoIDConfig `mapstructure:"nanoid"`
	CUID2       CUID2Config  `mapstructure:"cuid2"`
	Log         pkglog.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Enabled bool
	Host    string
	Port    int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// RelayConfig tunes the delivery core.
type RelayConfig struct {
	Name              string
	LivenessWindow    time.Duration `mapstructure:"liveness_window"`
	MaxMessages       int           `mapstructure:"max_messages"`
	IDGenerator       string        `mapstructure:"id_generator"`
	RequireRegistered bool          `mapstructure:"require_registered"`
}

type CredentialsConfig struct {
	Driver string // file, database, redis
	File   string
	Watch  bool
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string `mapstructure:"key_prefix"`
}

type EventsConfig struct {
	Driver    string // none, redis, kafka
	Prefix    string
	QueueSize int `mapstructure:"queue_size"`
	Kafka     pubsub.KafkaConfig
}

type SnowflakeConfig struct {
	MachineID int64 `mapstructure:"machine_id"`
	Epoch     int64
}

type NanoIDConfig struct {
	Size     int    `mapstructure:"size"`
	Alphabet string `mapstructure:"alphabet"`
}

type CUID2Config struct {
	Length int `mapstructure:"length"`
}

// PubSub builds the event bus configuration from the events and redis sections.
func (c *Config) PubSub() pubsub.Config {
	cfg := pubsub.DefaultConfig()
	cfg.Driver = c.Events.Driver
	cfg.Prefix = c.Events.Prefix
	cfg.Redis.Address = c.Redis.Address
	cfg.Redis.Password = c.Redis.Password
	cfg.Redis.DB = c.Redis.DB
	if c.Events.Kafka.Brokers != "" {
		cfg.Kafka.Brokers = c.Events.Kafka.Brokers
	}
	if c.Events.Kafka.Partitions > 0 {
		cfg.Kafka.Partitions = c.Events.Kafka.Partitions
	}
	return cfg
}

// Load reads ./config/config.yaml (optional) plus environment overrides.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return build(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v, err := pkgconfig.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Relay.LivenessWindow = pkgconfig.Duration(v, "relay.liveness_window", 30*time.Second)

	if cfg.Relay.MaxMessages <= 0 {
		cfg.Relay.MaxMessages = 1000
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		cfg.WebSocket.SendBuffer = 256
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("grpc.enabled", false)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50060)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("relay.name", "PEACE CHAT")
	v.SetDefault("relay.liveness_window", "30s")
	v.SetDefault("relay.max_messages", 1000)
	v.SetDefault("relay.id_generator", "uuid")
	v.SetDefault("relay.require_registered", false)
	v.SetDefault("credentials.driver", "file")
	v.SetDefault("credentials.file", "users.json")
	v.SetDefault("credentials.watch", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "silent")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "chat:user")
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.prefix", "chat")
	v.SetDefault("events.queue_size", 1024)
	v.SetDefault("events.kafka.brokers", "localhost:9092")
	v.SetDefault("events.kafka.partitions", 4)
	v.SetDefault("snowflake.machine_id", 1)
	v.SetDefault("snowflake.epoch", 1704067200000)
	v.SetDefault("nanoid.size", 21)
	v.SetDefault("nanoid.alphabet", "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	v.SetDefault("cuid2.length", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "peace-chat")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.enabled", "GRPC_ENABLED")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("relay.name", "RELAY_NAME")
	v.BindEnv("relay.id_generator", "ID_GENERATOR")
	v.BindEnv("credentials.driver", "CREDENTIALS_DRIVER")
	v.BindEnv("credentials.file", "USERS_FILE")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("events.driver", "EVENTS_DRIVER")
	v.BindEnv("events.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("log.level", "LOG_LEVEL")
}
