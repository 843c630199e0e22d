package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	InDir    string        `yaml:"in_dir"`
	OutDir   string        `yaml:"out_dir"`
	TraceDir string        `yaml:"trace_dir"`
	Follow   bool          `yaml:"follow"` // replayer keeps watching IN_DIR
	Target   TargetConfig  `yaml:"target"`
	Fuzz     FuzzConfig    `yaml:"fuzz"`
	Stats    StatsConfig   `yaml:"stats"`
	Backends BackendConfig `yaml:"backends"`

	TelemetryEnabled bool   `yaml:"telemetry_enabled"`
	LogLevel         string `yaml:"log_level"`
	ServiceName      string `yaml:"service_name"`

	// CliOptions is the raw command line, reported in total_stats_info.txt.
	CliOptions string `yaml:"-"`
}

type TargetConfig struct {
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Command        []string          `yaml:"command"`
	Env            map[string]string `yaml:"env"`
	DebugChild     bool              `yaml:"debug_child"`
	KillSignal     syscall.Signal    `yaml:"kill_signal"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	ResponseLimit  int               `yaml:"response_limit"`
	MapSize        int               `yaml:"map_size"`
	StateExtractor string            `yaml:"state_extractor"`
	LineSuffix     string            `yaml:"line_suffix"`
}

type FuzzConfig struct {
	Loops              int           `yaml:"loops"`
	Timeout            time.Duration `yaml:"timeout"`
	Awareness          string        `yaml:"awareness"`
	StateScheduler     string        `yaml:"state_scheduler"`
	SeedRule           string        `yaml:"seed_rule"`
	IterationsPerState int           `yaml:"iterations_per_state"`
	RestartEvery       int           `yaml:"restart_every"`
	MaxRestartRetries  int           `yaml:"max_restart_retries"`
	RandSeed           int64         `yaml:"rand_seed"`
	NoveltyWeighted    bool          `yaml:"novelty_weighted"`
	MaxInputLen        int           `yaml:"max_input_len"`
	DictPaths          []string      `yaml:"dict_paths"`
}

type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type BackendConfig struct {
	DatabaseURL        string `yaml:"database_url"`
	RabbitMQURL        string `yaml:"rabbitmq_url"`
	RedisUrl           string `yaml:"redis_url"`
	RedisSentinelHosts string `yaml:"redis_sentinel_hosts"`
	RedisMasterName    string `yaml:"redis_master"`
}

const (
	AwarenessSingleCorpus        = "single-corpus"
	AwarenessMultiCorpusSingle   = "multi-corpus-single-map"
	AwarenessMultiCorpusPerState = "multi-corpus-multi-map"

	ExtractorReplyCode = "reply-code"
	ExtractorFirstLine = "first-line"
)

var schedulerPolicies = []string{"cycler", "outgoing-edges", "novelty-search", "novelty+outgoing-edges"}

func defaults() *AppConfig {
	return &AppConfig{
		Target: TargetConfig{
			Host:           "127.0.0.1",
			KillSignal:     syscall.SIGKILL,
			ConnectTimeout: 5 * time.Second,
			ResponseLimit:  4096,
			MapSize:        1 << 16,
			StateExtractor: ExtractorReplyCode,
		},
		Fuzz: FuzzConfig{
			Loops:              100,
			Timeout:            1200 * time.Millisecond,
			Awareness:          AwarenessMultiCorpusSingle,
			StateScheduler:     "novelty+outgoing-edges",
			SeedRule:           "predecessor",
			IterationsPerState: 1,
			MaxRestartRetries:  3,
			MaxInputLen:        4096,
		},
		Stats: StatsConfig{
			Interval: 15 * time.Second,
		},
		LogLevel:    "info",
		ServiceName: "statefuzz",
	}
}

// LoadConfig layers defaults, the optional YAML file named by
// STATEFUZZ_CONFIG, the environment (.env included) and the command line.
// Invalid configuration is fatal.
func LoadConfig(opts *Options) *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := defaults()
	if path := os.Getenv("STATEFUZZ_CONFIG"); path != "" {
		if err := loadYAML(path, config); err != nil {
			logger.Fatal("failed to load config file", zap.String("path", path), zap.Error(err))
		}
	}
	applyEnv(config)
	if opts != nil {
		opts.apply(config)
	}

	if err := config.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	return config
}

func loadYAML(path string, config *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, config)
}

func applyEnv(c *AppConfig) {
	c.InDir = envString("IN_DIR", c.InDir)
	c.OutDir = envString("OUT_DIR", c.OutDir)
	c.TraceDir = envString("TRACE_DIR", c.TraceDir)
	c.Follow = parseBool(os.Getenv("FOLLOW"), c.Follow)

	c.Target.Host = envString("TARGET_HOST", c.Target.Host)
	c.Target.Port = parseInt(os.Getenv("TARGET_PORT"), c.Target.Port)
	if cmd := os.Getenv("TARGET_CMD"); cmd != "" {
		c.Target.Command = strings.Fields(cmd)
	}
	if env := os.Getenv("TARGET_ENV"); env != "" {
		c.Target.Env = parseEnvList(env)
	}
	c.Target.DebugChild = parseBool(os.Getenv("DEBUG_CHILD"), c.Target.DebugChild)
	if sig := os.Getenv("KILL_SIGNAL"); sig != "" {
		c.Target.KillSignal = parseSignal(sig, c.Target.KillSignal)
	}
	c.Target.ConnectTimeout = parseDuration(os.Getenv("CONNECT_TIMEOUT"), c.Target.ConnectTimeout)
	c.Target.ResponseLimit = parseInt(os.Getenv("RESPONSE_LIMIT"), c.Target.ResponseLimit)
	c.Target.MapSize = parseInt(os.Getenv("MAP_SIZE"), c.Target.MapSize)
	c.Target.StateExtractor = envString("STATE_EXTRACTOR", c.Target.StateExtractor)
	if suffix, ok := os.LookupEnv("LINE_SUFFIX"); ok {
		c.Target.LineSuffix = unescape(suffix)
	}

	c.Fuzz.Loops = parseInt(os.Getenv("LOOPS"), c.Fuzz.Loops)
	c.Fuzz.Timeout = parseMillis(os.Getenv("TIMEOUT"), c.Fuzz.Timeout)
	c.Fuzz.Awareness = envString("AWARENESS", c.Fuzz.Awareness)
	c.Fuzz.StateScheduler = envString("STATE_SCHEDULER", c.Fuzz.StateScheduler)
	c.Fuzz.SeedRule = envString("SEED_RULE", c.Fuzz.SeedRule)
	c.Fuzz.IterationsPerState = parseInt(os.Getenv("ITERATIONS_PER_STATE"), c.Fuzz.IterationsPerState)
	c.Fuzz.RestartEvery = parseInt(os.Getenv("RESTART_EVERY"), c.Fuzz.RestartEvery)
	c.Fuzz.MaxRestartRetries = parseInt(os.Getenv("MAX_RESTART_RETRIES"), c.Fuzz.MaxRestartRetries)
	c.Fuzz.RandSeed = int64(parseInt(os.Getenv("RAND_SEED"), int(c.Fuzz.RandSeed)))
	c.Fuzz.NoveltyWeighted = parseBool(os.Getenv("NOVELTY_WEIGHTED"), c.Fuzz.NoveltyWeighted)
	c.Fuzz.MaxInputLen = parseInt(os.Getenv("MAX_INPUT_LEN"), c.Fuzz.MaxInputLen)
	if paths := os.Getenv("DICT_PATHS"); paths != "" {
		c.Fuzz.DictPaths = splitList(paths)
	}

	c.Stats.Interval = parseDuration(os.Getenv("STATS_INTERVAL"), c.Stats.Interval)

	c.Backends.DatabaseURL = envString("DATABASE_URL", c.Backends.DatabaseURL)
	c.Backends.RabbitMQURL = envString("RABBITMQ_URL", c.Backends.RabbitMQURL)
	c.Backends.RedisUrl = envString("REDIS_URL", c.Backends.RedisUrl)
	c.Backends.RedisSentinelHosts = envString("REDIS_SENTINEL_HOSTS", c.Backends.RedisSentinelHosts)
	c.Backends.RedisMasterName = envString("REDIS_MASTER", c.Backends.RedisMasterName)

	c.TelemetryEnabled = parseBool(os.Getenv("TELEMETRY_ENABLED"), c.TelemetryEnabled)
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	c.ServiceName = envString("SERVICE_NAME", c.ServiceName)
}

// TargetName names the fuzzed program in stored rows and Redis keys.
func (c *AppConfig) TargetName() string {
	if len(c.Target.Command) > 0 {
		return filepath.Base(c.Target.Command[0])
	}
	return c.ServiceName
}

// Validate rejects configurations the fuzzer cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.InDir == "" {
		errs = append(errs, errors.New("IN_DIR is required"))
	}
	if c.OutDir == "" {
		errs = append(errs, errors.New("OUT_DIR is required"))
	}
	if len(c.Target.Command) > 0 && (c.Target.Port < 1 || c.Target.Port > 65535) {
		errs = append(errs, fmt.Errorf("TARGET_PORT %d out of range", c.Target.Port))
	}
	switch c.Fuzz.Awareness {
	case AwarenessSingleCorpus, AwarenessMultiCorpusSingle, AwarenessMultiCorpusPerState:
	default:
		errs = append(errs, fmt.Errorf("unknown AWARENESS %q", c.Fuzz.Awareness))
	}
	if !contains(schedulerPolicies, c.Fuzz.StateScheduler) {
		errs = append(errs, fmt.Errorf("unknown STATE_SCHEDULER %q", c.Fuzz.StateScheduler))
	}
	if c.Fuzz.SeedRule != "predecessor" && c.Fuzz.SeedRule != "seed-pool" {
		errs = append(errs, fmt.Errorf("unknown SEED_RULE %q", c.Fuzz.SeedRule))
	}
	if c.Target.StateExtractor != ExtractorReplyCode && c.Target.StateExtractor != ExtractorFirstLine {
		errs = append(errs, fmt.Errorf("unknown STATE_EXTRACTOR %q", c.Target.StateExtractor))
	}
	if c.Fuzz.Loops < 0 {
		errs = append(errs, errors.New("LOOPS must not be negative"))
	}
	if c.Fuzz.Timeout <= 0 {
		errs = append(errs, errors.New("TIMEOUT must be positive"))
	}
	if c.Fuzz.IterationsPerState < 1 {
		errs = append(errs, errors.New("ITERATIONS_PER_STATE must be at least 1"))
	}
	if c.Target.MapSize <= 0 {
		errs = append(errs, errors.New("MAP_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

// parseMillis accepts a bare integer as milliseconds or a Go duration.
func parseMillis(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return parseDuration(val, defaultVal)
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

var signalNames = map[string]syscall.Signal{
	"SIGKILL": syscall.SIGKILL,
	"SIGTERM": syscall.SIGTERM,
	"SIGINT":  syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

func parseSignal(val string, defaultVal syscall.Signal) syscall.Signal {
	if n, err := strconv.Atoi(val); err == nil {
		return syscall.Signal(n)
	}
	name := strings.ToUpper(val)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig, ok := signalNames[name]; ok {
		return sig
	}
	return defaultVal
}

// parseEnvList parses "k=v,k2=v2".
func parseEnvList(val string) map[string]string {
	env := make(map[string]string)
	for _, kv := range splitList(val) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// unescape turns the literal sequences \r \n \t into control characters.
func unescape(val string) string {
	return strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t").Replace(val)
}

func contains(list []string, val string) bool {
	for _, v := range list {
		if v == val {
			return true
		}
	}
	return false
}
