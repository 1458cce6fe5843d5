// Package svcconfig is the external configuration loader: it turns
// on-disk service descriptions into graph.Settings values and dependency
// edges, the same way internal/config turns process descriptions into
// process.Spec values — directory of per-service files, toml/yaml/json,
// Viper + go-viper/mapstructure/v2 discriminated-union decoding, global
// env computation.
package svcconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/dinitgo/internal/auth"
	"github.com/loykin/dinitgo/internal/graph"
	"github.com/loykin/dinitgo/internal/logger"
	"github.com/loykin/dinitgo/internal/process"
)

// Config is the top-level dinitgo configuration file (e.g. /etc/dinitgo/dinitgo.toml).
type Config struct {
	UseOSEnv          bool     `mapstructure:"use_os_env"`
	EnvFiles          []string `mapstructure:"env_files"`
	Env               []string `mapstructure:"env"`
	ServicesDirectory string   `mapstructure:"services_directory"`

	Store   *StoreConfig   `mapstructure:"store"`
	History *HistoryConfig `mapstructure:"history"`
	Metrics *MetricsConfig `mapstructure:"metrics"`
	Log     *LogConfig     `mapstructure:"log"`
	Server  *ServerConfig  `mapstructure:"server"`
	Control *ControlConfig `mapstructure:"control"`
	Auth    *AuthConfig    `mapstructure:"auth"`

	// Inline service descriptions, same discriminated-union shape as a
	// services-directory file ({type, spec}).
	Services []ServiceEntry `mapstructure:"services"`

	// Sets are named convenience groupings ("these names"). They are
	// decoded but not read anywhere else; the dependency graph covers real
	// grouping via Milestone edges.
	Sets []SetConfig `mapstructure:"sets"`

	// Computed
	GlobalEnv []string
	Settings  []graph.Settings
	Deps      []DependencyConfig

	configPath string
}

type SetConfig struct {
	Name    string   `mapstructure:"name"`
	Members []string `mapstructure:"members"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	InStore         *bool  `mapstructure:"in_store"`
	ClickHouseURL   string `mapstructure:"clickhouse_url"`
	ClickHouseTable string `mapstructure:"clickhouse_table"`
}

type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	ProcessSampling bool          `mapstructure:"process_sampling"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
}

type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Stdout     string `mapstructure:"stdout"`
	Stderr     string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Listen        string     `mapstructure:"listen"`
	BasePath      string     `mapstructure:"base_path"`
	TLSMinVersion string     `mapstructure:"tls_min_version"`
	TLSMaxVersion string     `mapstructure:"tls_max_version"`
	TLS           *TLSConfig `mapstructure:"tls"`
}

// TLSConfig configures internal/tls for the read-only httpapi surface.
type TLSConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	CertFile     string      `mapstructure:"cert_file"`
	KeyFile      string      `mapstructure:"key_file"`
	Dir          string      `mapstructure:"dir"`
	AutoGenerate bool        `mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `mapstructure:"auto_gen"`
}

// AutoGenTLS configures self-signed certificate generation (internal/tls's
// GenerateSelfSignedCert) when no certificate is supplied.
type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// ControlConfig configures internal/control's Unix-domain control socket.
type ControlConfig struct {
	SocketPath string `mapstructure:"socket_path"`
}

// AuthConfig gates internal/httpapi's HTTP surface behind internal/auth's
// bearer/basic-auth middleware. Left unset (Enabled false), the HTTP API
// is unauthenticated, matching the teacher's own internal/server default.
type AuthConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Store      auth.StoreConfig `mapstructure:"store"`
	JWTSecret  string           `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration    `mapstructure:"token_ttl"`
	BcryptCost int              `mapstructure:"bcrypt_cost"`
}

// ServiceEntry is the discriminated-union envelope for one service
// description, whether inline or loaded from the services directory.
type ServiceEntry struct {
	Type string         `mapstructure:"type"` // process, bgprocess, scripted, internal, triggered, placeholder
	Spec map[string]any `mapstructure:"spec"`
}

// DependencyConfig describes one edge to be added after every service is
// loaded (so forward references across files resolve).
type DependencyConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
	Kind string `mapstructure:"kind"` // regular, waits-for, soft, milestone, before, after
}

// serviceSpec is the mapstructure decode target for one ServiceEntry.Spec.
// Field names mirror graph.Settings, in the loader's own on-disk
// vocabulary (snake_case) rather than the core's Go names.
type serviceSpec struct {
	Name        string   `mapstructure:"name"`
	Command     string   `mapstructure:"command"`
	StopCommand string   `mapstructure:"stop_command"`
	WorkDir     string   `mapstructure:"work_dir"`
	Env         []string `mapstructure:"env"`
	EnvFile     string   `mapstructure:"env_file"`

	PIDFile string `mapstructure:"pid_file"`

	UID int `mapstructure:"uid"`
	GID int `mapstructure:"gid"`

	TermSignal      int `mapstructure:"term_signal"`
	ExtraStopSignal int `mapstructure:"extra_stop_signal"`

	SocketPath string `mapstructure:"socket_path"`
	SocketMode int    `mapstructure:"socket_mode"`
	SocketUID  int    `mapstructure:"socket_uid"`
	SocketGID  int    `mapstructure:"socket_gid"`

	ReadinessFD    int    `mapstructure:"readiness_fd"`
	ReadinessFDVar string `mapstructure:"readiness_fd_var"`

	LogType    string `mapstructure:"log_type"`
	LogDir     string `mapstructure:"log_dir"`
	LogStdout  string `mapstructure:"log_stdout"`
	LogStderr  string `mapstructure:"log_stderr"`
	LogBufSize int    `mapstructure:"log_buf_size"`

	RestartPolicy   bool          `mapstructure:"restart"`
	SmoothRecovery  bool          `mapstructure:"smooth_recovery"`
	RestartInterval time.Duration `mapstructure:"restart_interval"`
	MaxRestarts     int           `mapstructure:"max_restarts"`
	RestartDelay    time.Duration `mapstructure:"restart_delay"`

	StartTimeout time.Duration `mapstructure:"start_timeout"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`

	StartsOnConsole    bool `mapstructure:"starts_on_console"`
	RunsOnConsole      bool `mapstructure:"runs_on_console"`
	SharesConsole      bool `mapstructure:"shares_console"`
	PassControlFD      bool `mapstructure:"pass_control_fd"`
	WaitsForReadiness  bool `mapstructure:"waits_for_readiness"`
	Skippable          bool `mapstructure:"skippable"`
	StartInterruptible bool `mapstructure:"start_interruptible"`
	UnmaskSigint       bool `mapstructure:"unmask_sigint"`
	SignalProcessOnly  bool `mapstructure:"signal_process_only"`

	Priority int `mapstructure:"priority"`

	DependsOn []string `mapstructure:"depends_on"` // regular
	WaitsFor  []string `mapstructure:"waits_for"`  // waits-for
	Wants     []string `mapstructure:"wants"`      // soft
	PartOf    []string `mapstructure:"part_of"`    // milestone
	Before    []string `mapstructure:"before"`     // before
	After     []string `mapstructure:"after"`      // after

	Hooks process.LifecycleHooks `mapstructure:"hooks"`
}

var kindNames = map[string]graph.Kind{
	"process":            graph.KindProcess,
	"bgprocess":          graph.KindBgProcess,
	"scripted":           graph.KindScripted,
	"internal":           graph.KindInternal,
	"triggered":          graph.KindTriggeredInternal,
	"triggered-internal": graph.KindTriggeredInternal,
	"placeholder":        graph.KindPlaceholder,
}

func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// decodeServiceEntry decodes one ServiceEntry into a graph.Settings plus
// the dependency edges it declares inline.
func decodeServiceEntry(e ServiceEntry, ctx string) (graph.Settings, []DependencyConfig, error) {
	var zero graph.Settings
	kind, ok := kindNames[strings.ToLower(strings.TrimSpace(e.Type))]
	if !ok {
		return zero, nil, fmt.Errorf("%s: unknown service type %q", ctx, e.Type)
	}
	sp, err := decodeTo[serviceSpec](e.Spec)
	if err != nil {
		return zero, nil, fmt.Errorf("decode service spec in %s: %w", ctx, err)
	}
	if strings.TrimSpace(sp.Name) == "" {
		return zero, nil, fmt.Errorf("%s: service requires name", ctx)
	}
	if kind == graph.KindProcess || kind == graph.KindBgProcess || kind == graph.KindScripted {
		if strings.TrimSpace(sp.Command) == "" {
			return zero, nil, fmt.Errorf("%s: service %q requires command", ctx, sp.Name)
		}
	}
	if err := sp.Hooks.Validate(); err != nil {
		return zero, nil, fmt.Errorf("%s: service %q: %w", ctx, sp.Name, err)
	}

	st := graph.Settings{
		Name:            sp.Name,
		Kind:            kind,
		Command:         sp.Command,
		StopCommand:     sp.StopCommand,
		WorkDir:         sp.WorkDir,
		Env:             sp.Env,
		EnvFile:         sp.EnvFile,
		PIDFile:         sp.PIDFile,
		UID:             sp.UID,
		GID:             sp.GID,
		TermSignal:      sp.TermSignal,
		ExtraStopSignal: sp.ExtraStopSignal,
		SocketPath:      sp.SocketPath,
		SocketMode:      sp.SocketMode,
		SocketUID:       sp.SocketUID,
		SocketGID:       sp.SocketGID,
		ReadinessFD:     sp.ReadinessFD,
		ReadinessFDVar:  sp.ReadinessFDVar,
		LogType:         sp.LogType,
		LogDir:          sp.LogDir,
		LogStdout:       sp.LogStdout,
		LogStderr:       sp.LogStderr,
		LogBufSize:      sp.LogBufSize,
		RestartPolicy:   sp.RestartPolicy,
		SmoothRecovery:  sp.SmoothRecovery,
		RestartInterval: sp.RestartInterval,
		MaxRestarts:     sp.MaxRestarts,
		RestartDelay:    sp.RestartDelay,
		StartTimeout:    sp.StartTimeout,
		StopTimeout:     sp.StopTimeout,
		Priority:        sp.Priority,
		Hooks:           sp.Hooks,
		Flags: graph.StartFlags{
			StartsOnConsole:    sp.StartsOnConsole,
			RunsOnConsole:      sp.RunsOnConsole,
			SharesConsole:      sp.SharesConsole,
			PassControlFD:      sp.PassControlFD,
			WaitsForReadiness:  sp.WaitsForReadiness,
			Skippable:          sp.Skippable,
			StartInterruptible: sp.StartInterruptible,
			UnmaskSigint:       sp.UnmaskSigint,
			SignalProcessOnly:  sp.SignalProcessOnly,
		},
	}

	var deps []DependencyConfig
	add := func(names []string, kind string) {
		for _, n := range names {
			deps = append(deps, DependencyConfig{From: sp.Name, To: n, Kind: kind})
		}
	}
	add(sp.DependsOn, "regular")
	add(sp.WaitsFor, "waits-for")
	add(sp.Wants, "soft")
	add(sp.PartOf, "milestone")
	add(sp.Before, "before")
	add(sp.After, "after")

	return st, deps, nil
}

// LoadConfig reads configPath (the main dinitgo config file) plus every
// supported file in its services directory, merges global env, and
// produces the flattened []graph.Settings + []DependencyConfig the
// reactor/graph wiring in cmd/dinitd consumes.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{configPath: configPath}
	if err := parseFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for _, e := range cfg.Services {
		st, deps, err := decodeServiceEntry(e, "inline services")
		if err != nil {
			return nil, err
		}
		cfg.Settings = append(cfg.Settings, st)
		cfg.Deps = append(cfg.Deps, deps...)
	}

	dir := cfg.ServicesDirectory
	if dir == "" {
		dir = filepath.Join(filepath.Dir(configPath), "services")
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(configPath), dir)
	}
	settings, deps, err := loadServicesDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load services from %s: %w", dir, err)
	}
	cfg.Settings = append(cfg.Settings, settings...)
	cfg.Deps = append(cfg.Deps, deps...)

	globalEnv, err := computeGlobalEnv(cfg.UseOSEnv, cfg.EnvFiles, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to compute global env: %w", err)
	}
	cfg.GlobalEnv = globalEnv

	applyGlobalLogDefaults(cfg)

	return cfg, nil
}

func parseFile(path string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func loadServicesDir(dir string) ([]graph.Settings, []DependencyConfig, error) {
	infos, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	exts := map[string]struct{}{".toml": {}, ".yaml": {}, ".yml": {}, ".json": {}}

	var settings []graph.Settings
	var deps []DependencyConfig
	for _, de := range infos {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(de.Name()))
		if _, ok := exts[ext]; !ok {
			continue
		}
		full := filepath.Join(dir, de.Name())

		v := viper.New()
		v.SetConfigFile(full)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", full, err)
		}
		var e ServiceEntry
		if err := v.Unmarshal(&e); err != nil {
			return nil, nil, fmt.Errorf("unmarshal %s: %w", full, err)
		}
		st, d, err := decodeServiceEntry(e, full)
		if err != nil {
			return nil, nil, err
		}
		settings = append(settings, st)
		deps = append(deps, d...)
	}
	return settings, deps, nil
}

func computeGlobalEnv(useOSEnv bool, envFiles []string, env []string) ([]string, error) {
	envMap := make(map[string]string)
	if useOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				envMap[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, f := range envFiles {
		fileEnv, err := loadEnvFile(f)
		if err != nil {
			return nil, err
		}
		for k, v := range fileEnv {
			envMap[k] = v
		}
	}
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			envMap[kv[:i]] = kv[i+1:]
		}
	}
	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result, nil
}

func loadEnvFile(path string) (map[string]string, error) {
	// #nosec G304
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	env := make(map[string]string)
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid env line at %s:%d: %s", path, i+1, line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}
		env[key] = value
	}
	return env, nil
}

// applyGlobalLogDefaults fills in LogDir/LogStdout/LogStderr on
// every service that didn't set its own, the way
// applyGlobalLogDefaults does for process.Spec.Log — corrected here to
// match logger.Config's actual (unnested) field names.
func applyGlobalLogDefaults(cfg *Config) {
	if cfg.Log == nil {
		return
	}
	baseDir := filepath.Dir(cfg.configPath)
	makeAbs := func(p string) string {
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	globalDir := makeAbs(cfg.Log.Dir)
	globalStdout := makeAbs(cfg.Log.Stdout)
	globalStderr := makeAbs(cfg.Log.Stderr)

	for i := range cfg.Settings {
		st := &cfg.Settings[i]
		noPathsSet := st.LogDir == "" && st.LogStdout == "" && st.LogStderr == ""
		if noPathsSet {
			st.LogStdout = globalStdout
			st.LogStderr = globalStderr
			if st.LogStdout == "" && st.LogStderr == "" {
				st.LogDir = globalDir
			}
		}
	}
}

// LoggerConfigFor builds the ambient (daemon-level, not per-service) log
// config from the config file's top-level Log section, for cmd/dinitd's
// own structured logging.
func (c *Config) LoggerConfigFor(name string) logger.Config {
	if c.Log == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        c.Log.Dir,
		StdoutPath: c.Log.Stdout,
		StderrPath: c.Log.Stderr,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// EdgeKind maps the on-disk dependency kind string to graph.EdgeKind.
func EdgeKind(s string) (graph.EdgeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "regular", "":
		return graph.EdgeRegular, nil
	case "waits-for", "waits_for":
		return graph.EdgeWaitsFor, nil
	case "soft":
		return graph.EdgeSoft, nil
	case "milestone":
		return graph.EdgeMilestone, nil
	case "before":
		return graph.EdgeBefore, nil
	case "after":
		return graph.EdgeAfter, nil
	default:
		return 0, fmt.Errorf("unknown dependency kind %q", s)
	}
}
