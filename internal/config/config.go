package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	appdefaults "github.com/saker-ai/denoise-bridge/config"
	"github.com/saker-ai/denoise-bridge/internal/logger"
	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

const (
	envPrefix      = "dnb"
	rootDirEnv     = "DNB_ROOT_DIR"
	configName     = "conf"
	configFileName = "conf.yaml"
)

// ErrNoConfigFile is returned by Watch when there is no file to watch.
var ErrNoConfigFile = errors.New("config: no config file to watch")

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	TLSCertPath       string        `mapstructure:"tls_cert_path"`
	TLSKeyPath        string        `mapstructure:"tls_key_path"`
	TLSDisable        bool          `mapstructure:"tls_disable"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	StreamIdleTimeout time.Duration `mapstructure:"stream_idle_timeout"`
}

// EffectConfig tunes the streaming adapter.
type EffectConfig struct {
	MixRate         int           `mapstructure:"mix_rate"`
	TransformRate   int           `mapstructure:"transform_rate"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	IdleSleep       time.Duration `mapstructure:"idle_sleep"`
	StatsInterval   int           `mapstructure:"stats_interval"`
	DropLogEvery    uint64        `mapstructure:"drop_log_every"`
	Inline          bool          `mapstructure:"inline"`
	InlineMaxChunks int           `mapstructure:"inline_max_chunks"`
	InlineTrimHops  int           `mapstructure:"inline_trim_hops"`
	GuardEnabled    bool          `mapstructure:"guard_enabled"`
	GuardRatio      float64       `mapstructure:"guard_ratio"`
	GuardMix        float64       `mapstructure:"guard_mix"`
	GuardFloorRMS   float64       `mapstructure:"guard_floor_rms"`
}

// Options converts the section into adapter options.
func (e EffectConfig) Options(log *zap.Logger) denoise.Options {
	return denoise.Options{
		MixRate:          e.MixRate,
		TransformRate:    e.TransformRate,
		QueueCapacity:    e.QueueCapacity,
		IdleSleep:        e.IdleSleep,
		StatsInterval:    e.StatsInterval,
		DropLogEvery:     e.DropLogEvery,
		MaxChunksPerCall: e.InlineMaxChunks,
		TrimHops:         e.InlineTrimHops,
		Guard: denoise.GuardOptions{
			Enabled:  e.GuardEnabled,
			Ratio:    e.GuardRatio,
			Mix:      e.GuardMix,
			FloorRMS: e.GuardFloorRMS,
		},
		Logger: log,
	}
}

// SuppressionConfig is the textual form of denoise.SuppressionParams used in
// config and preset files.
type SuppressionConfig struct {
	AttenLimitDB   float64 `mapstructure:"atten_lim_db" yaml:"atten_lim_db" json:"atten_lim_db"`
	MinDBThresh    float64 `mapstructure:"min_db_thresh" yaml:"min_db_thresh" json:"min_db_thresh"`
	MaxDBErbThresh float64 `mapstructure:"max_db_erb_thresh" yaml:"max_db_erb_thresh" json:"max_db_erb_thresh"`
	MaxDBDfThresh  float64 `mapstructure:"max_db_df_thresh" yaml:"max_db_df_thresh" json:"max_db_df_thresh"`
	PostFilterBeta float64 `mapstructure:"post_filter_beta" yaml:"post_filter_beta" json:"post_filter_beta"`
	ReduceMask     string  `mapstructure:"reduce_mask" yaml:"reduce_mask" json:"reduce_mask"`
}

// Params parses the section into sanitized suppression params.
func (s SuppressionConfig) Params() (denoise.SuppressionParams, error) {
	mode, err := denoise.ParseMaskReduction(s.ReduceMask)
	if err != nil {
		return denoise.SuppressionParams{}, err
	}
	return denoise.SuppressionParams{
		AttenLimitDB:   s.AttenLimitDB,
		MinDBThresh:    s.MinDBThresh,
		MaxDBErbThresh: s.MaxDBErbThresh,
		MaxDBDfThresh:  s.MaxDBDfThresh,
		PostFilterBeta: s.PostFilterBeta,
		MaskReduction:  mode,
	}.Sanitize(), nil
}

// SuppressionFromParams is the inverse of SuppressionConfig.Params.
func SuppressionFromParams(p denoise.SuppressionParams) SuppressionConfig {
	return SuppressionConfig{
		AttenLimitDB:   p.AttenLimitDB,
		MinDBThresh:    p.MinDBThresh,
		MaxDBErbThresh: p.MaxDBErbThresh,
		MaxDBDfThresh:  p.MaxDBDfThresh,
		PostFilterBeta: p.PostFilterBeta,
		ReduceMask:     p.MaskReduction.String(),
	}
}

// Config is the full server configuration.
type Config struct {
	RootDir     string            `mapstructure:"-"`
	ConfigFile  string            `mapstructure:"-"`
	HTTPAddr    string            `mapstructure:"http_addr"`
	Server      ServerConfig      `mapstructure:"server"`
	Effect      EffectConfig      `mapstructure:"effect"`
	Suppression SuppressionConfig `mapstructure:"suppression"`
	PresetsDir  string            `mapstructure:"presets_dir"`
	ReportsDir  string            `mapstructure:"reports_dir"`
	Log         logger.Config     `mapstructure:"log"`
}

// Load reads the embedded defaults and merges conf.yaml from the root dir
// when one exists.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	return decode(v, rootDir)
}

// LoadConfig merges the given file over the embedded defaults. An empty path
// behaves like Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv(rootDirEnv))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return decode(v, rootDir)
}

// Watch re-loads path whenever it changes on disk and hands the result to
// onChange. Decode errors are passed through so the caller can keep the
// previous config.
func Watch(path string, onChange func(Config, error)) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return ErrNoConfigFile
	}
	if !fileExists(path) {
		return fmt.Errorf("%w: %s", ErrNoConfigFile, path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Remove) {
			return
		}
		onChange(LoadConfig(path))
	})
	v.WatchConfig()
	return nil
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	def := denoise.DefaultOptions()
	params := denoise.DefaultParams()
	v.SetDefault("server.port", 8110)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("effect.mix_rate", def.MixRate)
	v.SetDefault("effect.transform_rate", def.TransformRate)
	v.SetDefault("effect.queue_capacity", def.QueueCapacity)
	v.SetDefault("effect.idle_sleep", def.IdleSleep)
	v.SetDefault("effect.stats_interval", def.StatsInterval)
	v.SetDefault("effect.drop_log_every", def.DropLogEvery)
	v.SetDefault("effect.inline_max_chunks", def.MaxChunksPerCall)
	v.SetDefault("effect.inline_trim_hops", def.TrimHops)
	v.SetDefault("suppression.atten_lim_db", params.AttenLimitDB)
	v.SetDefault("suppression.reduce_mask", params.MaskReduction.String())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Suppression.Params(); err != nil {
		return Config{}, fmt.Errorf("suppression: %w", err)
	}

	cfg.RootDir = rootDir
	cfg.ConfigFile = v.ConfigFileUsed()
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.Server.Host
	port := cfg.Server.Port
	if port == 0 {
		port = 8110
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
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
		if fileExists(filepath.Join(dir, configFileName)) {
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
	cfg.PresetsDir = resolvePath(cfg.RootDir, cfg.PresetsDir, "presets")
	cfg.ReportsDir = resolvePath(cfg.RootDir, cfg.ReportsDir, filepath.Join("data", "reports"))
	cfg.Server.TLSCertPath = resolvePath(cfg.RootDir, cfg.Server.TLSCertPath, filepath.Join("certs", "server.crt"))
	cfg.Server.TLSKeyPath = resolvePath(cfg.RootDir, cfg.Server.TLSKeyPath, filepath.Join("certs", "server.key"))
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
