package config

import "time"

type AppConfig struct {
	ServerURL      string        `yaml:"server_url"`      // REST + socket origin, e.g. http://127.0.0.1:8080
	SocketPath     string        `yaml:"socket_path"`     // websocket endpoint path on ServerURL
	APIPrefix      string        `yaml:"api_prefix"`      // REST prefix of the DM surface
	PageSize       int           `yaml:"page_size"`       // history page size
	TypingWindow   time.Duration `yaml:"typing_window"`   // typing silence window
	RequestTimeout time.Duration `yaml:"request_timeout"` // per REST call
	SocietyID      string        `yaml:"society_id"`      // directory fallback when the room list is empty
	LogLevel       string        `yaml:"log_level"`

	Socket    SocketConfig    `yaml:"socket"`
	Store     StoreConfig     `yaml:"store"`
	NATS      NATSConfig      `yaml:"nats"`
	DevServer DevServerConfig `yaml:"dev_server"`
}

type SocketConfig struct {
	ReconnectInitial    time.Duration `yaml:"reconnect_initial"`
	ReconnectMax        time.Duration `yaml:"reconnect_max"`
	ReconnectMultiplier float64       `yaml:"reconnect_multiplier"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	WriteWait           time.Duration `yaml:"write_wait"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
}

type StoreConfig struct {
	Kind    string      `yaml:"kind"`    // memory | file | redis
	Path    string      `yaml:"path"`    // file store location
	Profile string      `yaml:"profile"` // key namespace, one per signed-in account
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

type DevServerConfig struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}
