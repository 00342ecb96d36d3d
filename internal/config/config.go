package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	OutputDir         string `mapstructure:"output_dir"`
	FilePrefix        string `mapstructure:"file_prefix"`
	VideoQuality      string `mapstructure:"video_quality"`
	DisplayIndex      int    `mapstructure:"display_index"`
	CaptureQueueDepth int    `mapstructure:"capture_queue_depth"`
	TrackBuffer       int    `mapstructure:"track_buffer"`
	Microphone        bool   `mapstructure:"microphone"`
	WriteManifest     bool   `mapstructure:"write_manifest"`
	FinalizeWorkers   int    `mapstructure:"finalize_workers"`
	MinFreeDiskMB     int    `mapstructure:"min_free_disk_mb"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		OutputDir:         defaultOutputDir(),
		FilePrefix:        "Meet",
		VideoQuality:      "medium",
		CaptureQueueDepth: 6,
		TrackBuffer:       32,
		Microphone:        true,
		WriteManifest:     true,
		FinalizeWorkers:   2,
		MinFreeDiskMB:     512,
		LogLevel:          "info",
		LogFormat:         "text",
		LogMaxSizeMB:      20,
		LogMaxBackups:     2,
	}
}

// Load reads cfgFile, or the first existing file of ConfigFiles when
// cfgFile is empty. SCREENREC_* environment variables override file values.
// Missing files are not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix("SCREENREC")
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = findConfigFile()
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFiles lists the files Load looks for, in order. Names are exact:
// an extension-less match such as the screenrec binary itself is never
// taken for a config file.
func ConfigFiles() []string {
	return []string{
		"screenrec.yaml",
		"screenrec.yml",
		filepath.Join(configDir(), "config.yaml"),
		filepath.Join(configDir(), "config.yml"),
	}
}

func findConfigFile() string {
	for _, path := range ConfigFiles() {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}
	return ""
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal
// even when no config file sets them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("file_prefix", cfg.FilePrefix)
	v.SetDefault("video_quality", cfg.VideoQuality)
	v.SetDefault("display_index", cfg.DisplayIndex)
	v.SetDefault("capture_queue_depth", cfg.CaptureQueueDepth)
	v.SetDefault("track_buffer", cfg.TrackBuffer)
	v.SetDefault("microphone", cfg.Microphone)
	v.SetDefault("write_manifest", cfg.WriteManifest)
	v.SetDefault("finalize_workers", cfg.FinalizeWorkers)
	v.SetDefault("min_free_disk_mb", cfg.MinFreeDiskMB)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recordings"
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Movies", "ScreenRecordings")
	}
	return filepath.Join(home, "Videos", "ScreenRecordings")
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "screenrec")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "screenrec")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "screenrec")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "screenrec")
	}
}
