package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "haruki-cri-configs.yaml"

type BackendConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	SSL                      bool   `yaml:"ssl"`
	SSLCert                  string `yaml:"ssl_cert"`
	SSLKey                   string `yaml:"ssl_key"`
	LogLevel                 string `yaml:"log_level"`
	MainLogFile              string `yaml:"main_log_file"`
	AccessLog                string `yaml:"access_log"`
	AccessLogPath            string `yaml:"access_log_path"`
	BodyLimitMB              int    `yaml:"body_limit_mb,omitempty"`
	EnableAuthorization      bool   `yaml:"enable_authorization,omitempty"`
	AcceptUserAgentPrefix    string `yaml:"accept_user_agent_prefix,omitempty"`
	AcceptAuthorizationToken string `yaml:"accept_authorization_token,omitempty"`
}

// ToolConfig names external programs. DecoderArgs may use the placeholders
// src, dst, key and subkey.
type ToolConfig struct {
	FFMPEGPath       string   `yaml:"ffmpeg_path,omitempty"`
	DecoderProgram   string   `yaml:"decoder_program,omitempty"`
	DecoderArgs      []string `yaml:"decoder_args,omitempty"`
	DecoderOutputExt string   `yaml:"decoder_output_ext,omitempty"`
}

type ExtractConfig struct {
	MasterKey              string `yaml:"master_key,omitempty"`
	OutputDir              string `yaml:"output_dir,omitempty"`
	DecodeAudio            bool   `yaml:"decode_audio,omitempty"`
	ManifestFormat         string `yaml:"manifest_format,omitempty"`
	SkipPattern            string `yaml:"skip_pattern,omitempty"`
	ConvertWavToMP3        bool   `yaml:"convert_audio_to_mp3,omitempty"`
	ConvertWavToFLAC       bool   `yaml:"convert_wav_to_flac,omitempty"`
	RemoveWav              bool   `yaml:"remove_wav,omitempty"`
	LegacyCharset          string `yaml:"legacy_charset,omitempty"`
	IncludeAWB             bool   `yaml:"include_awb,omitempty"`
	RemoveSource           bool   `yaml:"remove_source,omitempty"`
	ConcurrentFiles        int    `yaml:"concurrent_files,omitempty"`
	ConcurrentAssets       int    `yaml:"concurrent_assets,omitempty"`
	UploadToCloud          bool   `yaml:"upload_to_cloud,omitempty"`
	RemoveLocalAfterUpload bool   `yaml:"remove_local_after_upload,omitempty"`
}

// Key parses MasterKey, which may be decimal or 0x-prefixed hex.
func (c ExtractConfig) Key() (uint64, error) {
	if strings.TrimSpace(c.MasterKey) == "" {
		return 0, nil
	}
	key, err := strconv.ParseUint(strings.TrimSpace(c.MasterKey), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid master_key %q: %w", c.MasterKey, err)
	}
	return key, nil
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `yaml:"use_path_style,omitempty"`
}

// ResolverConfig is one place to look for external AWB files. Type is
// "dir", "http" or "s3".
type ResolverConfig struct {
	Type           string            `yaml:"type"`
	Path           string            `yaml:"path,omitempty"`
	BaseURL        string            `yaml:"base_url,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Retries        int               `yaml:"retries,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"`
	S3             S3Config          `yaml:"s3,omitempty"`
}

// RemoteStorageConfig is an upload target. Type "s3" uses S3, anything
// else runs Program with Args, replacing the src and dst placeholders.
type RemoteStorageConfig struct {
	Type    string   `yaml:"type"`
	Base    string   `yaml:"base"`
	Program string   `yaml:"program,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	S3      S3Config `yaml:"s3,omitempty"`
}

type Config struct {
	Proxy             string                `yaml:"proxy,omitempty"`
	ConcurrentUploads int                   `yaml:"concurrent_uploads,omitempty"`
	Backend           BackendConfig         `yaml:"backend,omitempty"`
	Tools             ToolConfig            `yaml:"tool,omitempty"`
	Extract           ExtractConfig         `yaml:"extract,omitempty"`
	Resolvers         []ResolverConfig      `yaml:"resolver,omitempty"`
	RemoteStorages    []RemoteStorageConfig `yaml:"remote_storages,omitempty"`
}

var Version = "v1.0.0-dev"
var Cfg = Default()

// Default returns the configuration used for fields a file leaves unset.
func Default() Config {
	return Config{
		ConcurrentUploads: 4,
		Backend: BackendConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			LogLevel:    "INFO",
			BodyLimitMB: 256,
		},
		Tools: ToolConfig{
			FFMPEGPath:       "ffmpeg",
			DecoderOutputExt: ".wav",
		},
		Extract: ExtractConfig{
			OutputDir:        "output",
			ManifestFormat:   "json",
			ConcurrentFiles:  4,
			ConcurrentAssets: 16,
		},
	}
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the config file at path (DefaultPath if empty) into Cfg.
func Load(path string) error {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	Cfg = cfg
	return nil
}

func (c *Config) validate() error {
	if _, err := c.Extract.Key(); err != nil {
		return err
	}
	switch strings.ToLower(c.Extract.ManifestFormat) {
	case "", "none", "json", "msgpack":
	default:
		return fmt.Errorf("unsupported manifest_format %q", c.Extract.ManifestFormat)
	}
	for i, r := range c.Resolvers {
		switch r.Type {
		case "dir":
			if r.Path == "" {
				return fmt.Errorf("resolver %d: dir resolver needs a path", i)
			}
		case "http":
			if r.BaseURL == "" {
				return fmt.Errorf("resolver %d: http resolver needs a base_url", i)
			}
		case "s3":
			if r.S3.Bucket == "" {
				return fmt.Errorf("resolver %d: s3 resolver needs a bucket", i)
			}
		default:
			return fmt.Errorf("resolver %d: unknown type %q", i, r.Type)
		}
	}
	if c.ConcurrentUploads <= 0 {
		c.ConcurrentUploads = 1
	}
	if c.Extract.ConcurrentFiles <= 0 {
		c.Extract.ConcurrentFiles = 1
	}
	if c.Extract.ConcurrentAssets <= 0 {
		c.Extract.ConcurrentAssets = 1
	}
	return nil
}
