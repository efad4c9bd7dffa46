package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/classroom/internal/sdk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type ClientConfig struct {
	ServerURL        string        `mapstructure:"server_url"`
	Room             string        `mapstructure:"room"`
	Name             string        `mapstructure:"name"`
	DataDir          string        `mapstructure:"data_dir"`
	LobbyPath        string        `mapstructure:"lobby_path"`
	AudioFile        string        `mapstructure:"audio_file"`
	VideoFile        string        `mapstructure:"video_file"`
	ScreenFile       string        `mapstructure:"screen_file"`
	RecordDir        string        `mapstructure:"record_dir"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

type MediaConfig struct {
	Audio sdk.AudioConstraints `mapstructure:"audio"`
	Video sdk.VideoConstraints `mapstructure:"video"`
}

type WebRTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
}

type Config struct {
	Server   ServerConfig `mapstructure:"server"`
	Client   ClientConfig `mapstructure:"client"`
	Media    MediaConfig  `mapstructure:"media"`
	WebRTC   WebRTCConfig `mapstructure:"webrtc"`
	LogLevel string       `mapstructure:"log_level"`
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type Option func(v *viper.Viper) error

// WithFlag lets a command line flag override key when it is set.
func WithFlag(key string, f *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if f == nil {
			return fmt.Errorf("flag for %s not defined", key)
		}
		return v.BindPFlag(key, f)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.mode", "release")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_path", "./web")
	v.SetDefault("server.read_limit", 32768)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.secret", "")
	v.SetDefault("server.token_ttl", "12h")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_interval", "1s")

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.room", "")
	v.SetDefault("client.name", "")
	v.SetDefault("client.data_dir", "./data")
	v.SetDefault("client.lobby_path", "/lobby")
	v.SetDefault("client.audio_file", "media/output.ogg")
	v.SetDefault("client.video_file", "media/output.ivf")
	v.SetDefault("client.screen_file", "")
	v.SetDefault("client.record_dir", "")
	v.SetDefault("client.subscribe_timeout", "10s")
	v.SetDefault("client.request_timeout", "5s")

	audio, video := sdk.DefaultAudioConstraints(), sdk.DefaultVideoConstraints()
	v.SetDefault("media.audio.echo_cancellation", audio.EchoCancellation)
	v.SetDefault("media.audio.noise_suppression", audio.NoiseSuppression)
	v.SetDefault("media.video.width.min", video.Width.Min)
	v.SetDefault("media.video.width.ideal", video.Width.Ideal)
	v.SetDefault("media.video.width.max", video.Width.Max)
	v.SetDefault("media.video.height.min", video.Height.Min)
	v.SetDefault("media.video.height.ideal", video.Height.Ideal)
	v.SetDefault("media.video.height.max", video.Height.Max)
	v.SetDefault("media.video.facing_mode", video.FacingMode)

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) over the
// defaults, then CLASSROOM_* environment variables and bound flags.
func Load(opts ...Option) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("classroom")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Server.Mode).Int("port", cfg.Server.Port).Str("server_url", cfg.Client.ServerURL).Msg("config")
	return &cfg, nil
}
