package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
)

// DefaultSummaryTrendStats are the trend columns used when none are set.
var DefaultSummaryTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}

// DefaultExec is the iteration function used when a scenario sets none.
const DefaultExec = "default"

// LoadConfig reads and parses a configuration file.
//
// ${VAR} references are replaced with environment values before parsing.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path, os.LookupEnv)
}

// ParseConfig parses YAML or JSON configuration data. The format is chosen
// by the extension of path (YAML by default). lookup resolves ${VAR}
// references; nil disables interpolation.
func ParseConfig(data []byte, path string, lookup func(string) (string, bool)) (*TestConfig, error) {
	if lookup != nil {
		expanded, err := Interpolate(string(data), lookup)
		if err != nil {
			return nil, err
		}
		data = []byte(expanded)
	}

	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		// Try YAML by default
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// varRef matches ${NAME}, optionally escaped as $${NAME}.
var varRef = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Interpolate replaces ${NAME} references using lookup. Any other use of
// '$' is left as is, and $${NAME} yields a literal ${NAME}. References
// lookup cannot resolve are reported as one ErrConfigInvalid error.
func Interpolate(input string, lookup func(string) (string, bool)) (string, error) {
	var missing []string
	out := varRef.ReplaceAllStringFunc(input, func(ref string) string {
		if strings.HasPrefix(ref, "$$") {
			return ref[1:]
		}
		name := ref[2 : len(ref)-1]
		v, ok := lookup(name)
		if !ok {
			if !contains(missing, name) {
				missing = append(missing, name)
			}
			return ref
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: undefined variables: %s", loadgen.ErrConfigInvalid, strings.Join(missing, ", "))
	}
	return out, nil
}

// ParseDurationString parses a duration string.
//
// Supports Go duration format ("30s", "5m", "1h30m") and plain integers,
// interpreted as seconds.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	// Try standard Go duration parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Try parsing as integer seconds
	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills in default values for unset fields.
//
// MaxVUs is defaulted but never raised: preAllocatedVUs > maxVUs stays an
// error for Validate to report.
func ApplyDefaults(config *TestConfig) {
	if len(config.SummaryTrendStats) == 0 {
		config.SummaryTrendStats = append([]string(nil), DefaultSummaryTrendStats...)
	}
	if config.Settings.BaseURL == "" {
		config.Settings.BaseURL = "http://localhost:8080"
	}
	config.Settings.BaseURL = strings.TrimRight(config.Settings.BaseURL, "/")
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(30 * time.Second)
	}

	for _, sc := range config.Scenarios {
		applyScenarioDefaults(sc)
	}
}

func applyScenarioDefaults(sc *ScenarioConfig) {
	if sc == nil {
		return
	}
	if sc.Exec == "" {
		sc.Exec = DefaultExec
	}
	if sc.TimeUnit == "" {
		sc.TimeUnit = "1s"
	}
	if sc.MaxVUs == 0 {
		switch sc.Executor {
		case "constant-arrival-rate":
			sc.MaxVUs = sc.PreAllocatedVUs
		case "externally-controlled":
			sc.MaxVUs = sc.VUs
		case "ramping-vus":
			sc.MaxVUs = sc.StartVUs
			for _, st := range sc.Stages {
				if st.Target > sc.MaxVUs {
					sc.MaxVUs = st.Target
				}
			}
		}
	}
}

// HTTPClientConfig converts the settings into a client configuration.
func (s GlobalSettings) HTTPClientConfig() loadgen.HTTPClientConfig {
	cfg := loadgen.DefaultHTTPClientConfig()
	cfg.Timeout = s.Timeout.GetDuration(cfg.Timeout)
	if s.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	cfg.MaxConnsPerHost = s.MaxConnectionsPerHost
	cfg.InsecureSkipVerify = s.InsecureSkipVerify
	if s.UserAgent != "" {
		cfg.UserAgent = s.UserAgent
	}
	cfg.Headers = s.Headers
	return cfg
}
