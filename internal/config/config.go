package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appdefaults "github.com/saker-ai/multimodal-dialog/config"
	"github.com/saker-ai/multimodal-dialog/internal/logger"
	"github.com/saker-ai/multimodal-dialog/pkg/dialog"
)

const (
	envPrefix    = "mmd"
	rootDirEnv   = "MMD_ROOT_DIR"
	userConfName = "conf.yaml"
	redacted     = "<redacted>"
)

// DialogConfig holds the service endpoint and credentials.
type DialogConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	WorkspaceID    string        `mapstructure:"workspace_id" yaml:"workspace_id"`
	AppID          string        `mapstructure:"app_id" yaml:"app_id"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Model          string        `mapstructure:"model" yaml:"model"`
	DialogID       string        `mapstructure:"dialog_id" yaml:"dialog_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// UpstreamConfig describes the audio the client sends.
type UpstreamConfig struct {
	Type          string `mapstructure:"type" yaml:"type"`
	Mode          string `mapstructure:"mode" yaml:"mode"`
	AudioFormat   string `mapstructure:"audio_format" yaml:"audio_format"`
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	FrameDuration int    `mapstructure:"frame_duration" yaml:"frame_duration"`
}

// DownstreamConfig describes the audio the server returns.
type DownstreamConfig struct {
	Voice      string `mapstructure:"voice" yaml:"voice"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// ClientConfig identifies the caller.
type ClientConfig struct {
	UserID     string `mapstructure:"user_id" yaml:"user_id"`
	DeviceUUID string `mapstructure:"device_uuid" yaml:"device_uuid"`
}

// RespondConfig drives a text request_to_respond turn instead of audio input.
type RespondConfig struct {
	Type   string         `mapstructure:"type" yaml:"type"`
	Text   string         `mapstructure:"text" yaml:"text"`
	Images []dialog.Image `mapstructure:"images" yaml:"images"`
}

type InputConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type OutputConfig struct {
	AudioPath     string `mapstructure:"audio_path" yaml:"audio_path"`
	TranscriptDir string `mapstructure:"transcript_dir" yaml:"transcript_dir"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config is the effective demo configuration.
type Config struct {
	RootDir    string           `mapstructure:"-" yaml:"-"`
	Dialog     DialogConfig     `mapstructure:"dialog" yaml:"dialog"`
	Upstream   UpstreamConfig   `mapstructure:"upstream" yaml:"upstream"`
	Downstream DownstreamConfig `mapstructure:"downstream" yaml:"downstream"`
	Client     ClientConfig     `mapstructure:"client" yaml:"client"`
	Sandbox    bool             `mapstructure:"sandbox" yaml:"sandbox"`
	Directive  string           `mapstructure:"directive" yaml:"directive"`
	Respond    RespondConfig    `mapstructure:"respond" yaml:"respond"`
	Input      InputConfig      `mapstructure:"input" yaml:"input"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Status     StatusConfig     `mapstructure:"status" yaml:"status"`
	Log        logger.Config    `mapstructure:"log" yaml:"log"`
}

// Load reads the embedded defaults, merges the user file and applies MMD_*
// environment overrides. An empty configPath searches for conf.yaml from the
// working directory upwards; a missing file there is not an error.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var rootDir string
	path := strings.TrimSpace(configPath)
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, err
		}
		rootDir = rootDirFor(absPath)
		v.SetConfigFile(absPath)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, err
		}
	} else {
		dir, err := resolveRootDir()
		if err != nil {
			return Config{}, err
		}
		rootDir = dir
		if file := filepath.Join(rootDir, userConfName); fileExists(file) {
			v.SetConfigFile(file)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	applyDefaults(&cfg)
	derivePaths(&cfg)

	return cfg, nil
}

// DialogConfig converts the loaded values into SDK construction inputs.
func (c Config) DialogConfig() dialog.Config {
	return dialog.Config{
		URL:         c.Dialog.URL,
		WorkspaceID: c.Dialog.WorkspaceID,
		AppID:       c.Dialog.AppID,
		APIKey:      c.Dialog.APIKey,
		DialogID:    c.Dialog.DialogID,
		Model:       c.Dialog.Model,
		Params: dialog.RequestParameters{
			Upstream: dialog.Upstream{
				Type:        c.Upstream.Type,
				Mode:        c.Upstream.Mode,
				AudioFormat: c.Upstream.AudioFormat,
			},
			Downstream: dialog.Downstream{
				Voice:      c.Downstream.Voice,
				SampleRate: c.Downstream.SampleRate,
			},
			ClientInfo: dialog.ClientInfo{
				UserID: c.Client.UserID,
				Device: dialog.Device{UUID: c.Client.DeviceUUID},
			},
			Sandbox:   c.Sandbox,
			Directive: c.Directive,
		}.WithDefaults(),
		ConnectTimeout: c.Dialog.ConnectTimeout,
		WriteTimeout:   c.Dialog.WriteTimeout,
	}
}

// Dump renders the configuration as YAML with the API key hidden.
func Dump(cfg Config) ([]byte, error) {
	if cfg.Dialog.APIKey != "" {
		cfg.Dialog.APIKey = redacted
	}
	return yaml.Marshal(cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Dialog.URL == "" {
		cfg.Dialog.URL = dialog.DefaultURL
	}
	if cfg.Upstream.Type == "" {
		cfg.Upstream.Type = dialog.UpstreamTypeAudioOnly
	}
	if cfg.Upstream.SampleRate <= 0 {
		cfg.Upstream.SampleRate = 16000
	}
	if cfg.Upstream.FrameDuration <= 0 {
		cfg.Upstream.FrameDuration = 100
	}
	if cfg.Downstream.SampleRate < 0 {
		cfg.Downstream.SampleRate = 0
	}
	if strings.TrimSpace(cfg.Client.DeviceUUID) == "" {
		cfg.Client.DeviceUUID = uuid.NewString()
	}
}

func rootDirFor(configFile string) string {
	if root := strings.TrimSpace(os.Getenv(rootDirEnv)); root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			return abs
		}
	}
	dir := filepath.Dir(configFile)
	if filepath.Base(dir) == "config" {
		dir = filepath.Dir(dir)
	}
	return dir
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv(rootDirEnv)); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, userConfName)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	if cfg.Input.Path != "" {
		cfg.Input.Path = resolvePath(cfg.RootDir, cfg.Input.Path, "")
	}
	cfg.Output.AudioPath = resolvePath(cfg.RootDir, cfg.Output.AudioPath, filepath.Join("data", "output.wav"))
	cfg.Output.TranscriptDir = resolvePath(cfg.RootDir, cfg.Output.TranscriptDir, filepath.Join("data", "transcripts"))
	cfg.Log.File.Path = resolvePath(cfg.RootDir, cfg.Log.File.Path, filepath.Join("data", "logs"))
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
