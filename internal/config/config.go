package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	BytesPerMB = 1048576

	DefaultRoot        = "images/foscam"
	DefaultDelay       = 300
	DefaultVideoLength = 600
	DefaultByteLimit   = 5120

	// Rough bitrate used to derive the thumbnail threshold from the segment
	// length when none is configured.
	roughMBPerMinute = 15
)

type Config struct {
	Env          string        `yaml:"env" env-default:"local" validate:"oneof=local dev prod"`
	TickInterval time.Duration `yaml:"tick_interval" env-default:"1s" validate:"gt=0"`
	FFmpeg       string        `yaml:"ffmpeg" env:"FFMPEG_PATH" env-default:"ffmpeg"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"1h"`
	Secret       string        `yaml:"secret" env:"JWT_SECRET" validate:"required"`
	DB           DB            `yaml:"db"`
	HTTPServer   HTTPServer    `yaml:"http_server"`
	Devices      []Device      `yaml:"devices" validate:"required,min=1,unique=ID,unique=Root,dive"`
}

type DB struct {
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	Username string `yaml:"username" env:"DB_USER" env-default:"postgres"`
	DBName   string `yaml:"dbname" env:"DB_NAME" env-default:"postgres"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
	Password string `yaml:"-" env:"POSTGRES_PASSWORD"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// Device is one camera. Sizes are in megabytes and durations in seconds;
// zero means the default.
type Device struct {
	ID             string `yaml:"id" validate:"required"`
	Title          string `yaml:"title"`
	Address        string `yaml:"address" validate:"required"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Root           string `yaml:"root"`
	Delay          int    `yaml:"delay" validate:"gte=0"`
	VideoLength    int    `yaml:"video_length" validate:"gte=0"`
	ByteLimit      int64  `yaml:"byte_limit" validate:"gte=0"`
	ThumbByteLimit int64  `yaml:"thumb_byte_limit" validate:"gte=0"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: cannot read config: %w", op, err)
	}

	// cleanenv does not reach into slice elements, so device defaults are
	// filled in here before validation.
	for i := range cfg.Devices {
		cfg.Devices[i].applyDefaults()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}

	return &cfg, nil
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}

func (d *Device) applyDefaults() {
	if d.Title == "" {
		d.Title = d.ID
	}
	if d.Root == "" {
		d.Root = DefaultRoot
	}
	if d.Delay == 0 {
		d.Delay = DefaultDelay
	}
	if d.VideoLength == 0 {
		d.VideoLength = DefaultVideoLength
	}
	if d.ByteLimit == 0 {
		d.ByteLimit = DefaultByteLimit
	}
}

func (d Device) DelayDuration() time.Duration {
	return time.Duration(d.Delay) * time.Second
}

func (d Device) SegmentLength() time.Duration {
	return time.Duration(d.VideoLength) * time.Second
}

func (d Device) ByteLimitBytes() int64 {
	return d.ByteLimit * BytesPerMB
}

// ThumbByteLimitBytes is the configured threshold or, when unset, the size
// a segment of VideoLength seconds roughly reaches.
func (d Device) ThumbByteLimitBytes() int64 {
	if d.ThumbByteLimit > 0 {
		return d.ThumbByteLimit * BytesPerMB
	}

	return roughMBPerMinute * BytesPerMB * int64(d.VideoLength) / 60
}
