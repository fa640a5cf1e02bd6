package blambda

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// InitType describes how the execution environment was created.
type InitType uint8

const (
	// InitOnDemand means the sandbox was created for an incoming invocation.
	InitOnDemand InitType = iota
	// InitProvisioned means the sandbox belongs to provisioned concurrency.
	InitProvisioned
	// InitSnapStart means the sandbox was restored from a SnapStart snapshot.
	InitSnapStart
)

// String implements fmt.Stringer.
func (t InitType) String() string {
	switch t {
	case InitProvisioned:
		return "provisioned-concurrency"
	case InitSnapStart:
		return "snap-start"
	default:
		return "on-demand"
	}
}

// Config is the process wide configuration read from the environment the
// platform populates in the sandbox. It is parsed exactly once, before the
// first Runtime API call, and every handler observes the same snapshot.
type Config struct {
	Region          string `env:"AWS_REGION,required"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID,required"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY,required"`
	SessionToken    string `env:"AWS_SESSION_TOKEN,required"`
	FunctionName    string `env:"AWS_LAMBDA_FUNCTION_NAME,required"`
	FunctionVersion string `env:"AWS_LAMBDA_FUNCTION_VERSION,required"`
	MemorySizeMB    int    `env:"AWS_LAMBDA_FUNCTION_MEMORY_SIZE,required"`
	Handler         string `env:"_HANDLER,required"`
	LogGroup        string `env:"AWS_LAMBDA_LOG_GROUP_NAME,required"`
	LogStream       string `env:"AWS_LAMBDA_LOG_STREAM_NAME,required"`
	// RuntimeAPI is the host:port of the Runtime API endpoint. Without it
	// there is nowhere to deliver results, or even an init error.
	RuntimeAPI string `env:"AWS_LAMBDA_RUNTIME_API,required"`
	// RawInitType holds AWS_LAMBDA_INITIALIZATION_TYPE as the platform sent
	// it; InitType is the parsed form.
	RawInitType string `env:"AWS_LAMBDA_INITIALIZATION_TYPE" envDefault:"on-demand"`

	InitType InitType `env:"-"`

	envTable map[string]string
}

// configVars are the variables consumed into named Config fields. Everything
// else in the process environment ends up in the env table.
var configVars = []string{
	"AWS_REGION",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"AWS_LAMBDA_FUNCTION_NAME",
	"AWS_LAMBDA_FUNCTION_VERSION",
	"AWS_LAMBDA_FUNCTION_MEMORY_SIZE",
	"_HANDLER",
	"AWS_LAMBDA_LOG_GROUP_NAME",
	"AWS_LAMBDA_LOG_STREAM_NAME",
	"AWS_LAMBDA_RUNTIME_API",
	"AWS_LAMBDA_INITIALIZATION_TYPE",
}

// LoadConfig parses the process environment into a Config. Missing or
// malformed mandatory variables return an error; an unrecognized
// initialization type falls back to on-demand with a warning on the sink.
func LoadConfig(log *Sink) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}

	if cfg.MemorySizeMB < 0 {
		return nil, errors.Newf("negative function memory size: %d", cfg.MemorySizeMB)
	}

	switch cfg.RawInitType {
	case "on-demand":
		cfg.InitType = InitOnDemand
	case "provisioned-concurrency":
		cfg.InitType = InitProvisioned
	case "snap-start":
		cfg.InitType = InitSnapStart
	default:
		log.Warnf("unknown initialization type %q, assuming on-demand", cfg.RawInitType)
		cfg.InitType = InitOnDemand
	}

	cfg.envTable = captureEnvTable()

	return &cfg, nil
}

// Env looks up a variable in the environment captured at startup. The lookup
// is case sensitive and distinguishes unset from set-but-empty.
func (c *Config) Env(key string) (string, bool) {
	v, ok := c.envTable[key]
	return v, ok
}

// captureEnvTable snapshots the environment minus the named config fields.
func captureEnvTable() map[string]string {
	table := lo.Associate(os.Environ(), func(pair string) (string, string) {
		k, v, _ := strings.Cut(pair, "=")
		return k, v
	})
	for _, k := range configVars {
		delete(table, k)
	}
	return table
}
