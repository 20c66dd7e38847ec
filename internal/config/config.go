package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Roulette/internal/transport/ws"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

func (s ICEServer) WebRTC() webrtc.ICEServer {
	out := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
	if s.Credential != "" {
		out.Credential = s.Credential
	}
	return out
}

func WebRTCServers(in []ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, s.WebRTC())
	}
	return out
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Config struct {
	Mode             string        `mapstructure:"mode"`
	Port             int           `mapstructure:"port"`
	StaticPath       string        `mapstructure:"static_path"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	Secret           string        `mapstructure:"secret"`
	JWTSecret        string        `mapstructure:"jwt_secret"`
	LogLevel         string        `mapstructure:"log_level"`
	AllowOrigins     []string      `mapstructure:"allow_origins"`
	PairInterval     time.Duration `mapstructure:"pair_interval"`
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
	ReportLimit      int           `mapstructure:"report_limit"`
	ReportWindow     time.Duration `mapstructure:"report_window"`
	PostgresDSN      string        `mapstructure:"postgres_dsn"`
	Redis            RedisConfig   `mapstructure:"redis"`
	ICEServers       []ICEServer   `mapstructure:"ice_servers"`
}

type MediaConfig struct {
	Width     int `mapstructure:"width"`
	Height    int `mapstructure:"height"`
	FrameRate int `mapstructure:"frame_rate"`
}

type ProfileConfig struct {
	Username  string `mapstructure:"username"`
	Gender    string `mapstructure:"gender"`
	Country   string `mapstructure:"country"`
	AvatarURL string `mapstructure:"avatar_url"`
}

type ClientConfig struct {
	ServerURL        string         `mapstructure:"server_url"`
	Token            string         `mapstructure:"token"`
	JWTSecret        string         `mapstructure:"jwt_secret"`
	UserID           string         `mapstructure:"user_id"`
	LogLevel         string         `mapstructure:"log_level"`
	HandshakeTimeout time.Duration  `mapstructure:"handshake_timeout"`
	Retry            ws.RetryPolicy `mapstructure:"retry"`
	ICEServers       []ICEServer    `mapstructure:"ice_servers"`
	Media            MediaConfig    `mapstructure:"media"`
	Profile          ProfileConfig  `mapstructure:"profile"`
	Interests        []string       `mapstructure:"interests"`
	DeviceID         string         `mapstructure:"device_id"`
}

var defaultICE = []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}}

func newViper(name string) (*viper.Viper, string) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("module", "config").Msg("read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", name, env)
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		fileName = fmt.Sprintf("%s/%s.%s.yaml", strings.TrimRight(dir, "/"), name, env)
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("ROULETTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, fileName
}

func read(v *viper.Viper, fileName string, out any) error {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Load reads the server config from config/config.<CONFIG_ENV>.yaml.
func Load() (*Config, error) {
	v, fileName := newViper("config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("allow_origins", []string{"*"})
	v.SetDefault("pair_interval", "1s")
	v.SetDefault("presence_interval", "5s")
	v.SetDefault("report_limit", 3)
	v.SetDefault("report_window", "1m")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ice_servers", defaultICE)

	var cfg Config
	if err := read(v, fileName, &cfg); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("server config")
	return &cfg, nil
}

// LoadClient reads the headless client config from config/client.<CONFIG_ENV>.yaml.
func LoadClient() (*ClientConfig, error) {
	v, fileName := newViper("client")

	d := ws.DefaultRetryPolicy()
	v.SetDefault("server_url", "ws://localhost:8080/api/ws")
	v.SetDefault("token", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("user_id", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("handshake_timeout", "10s")
	v.SetDefault("retry.max_attempts", d.MaxAttempts)
	v.SetDefault("retry.base_delay", d.BaseDelay.String())
	v.SetDefault("retry.multiplier", d.Multiplier)
	v.SetDefault("retry.jitter", d.Jitter)
	v.SetDefault("retry.max_delay", d.MaxDelay.String())
	v.SetDefault("ice_servers", defaultICE)
	v.SetDefault("media.width", 640)
	v.SetDefault("media.height", 480)
	v.SetDefault("media.frame_rate", 30)
	v.SetDefault("profile.username", "guest")
	v.SetDefault("profile.gender", "any")
	v.SetDefault("profile.country", "")
	v.SetDefault("profile.avatar_url", "")
	v.SetDefault("interests", []string{})
	v.SetDefault("device_id", "")

	var cfg ClientConfig
	if err := read(v, fileName, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Level parses a zerolog level name, falling back to info.
func Level(name string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return l
}
