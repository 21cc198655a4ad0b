package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const envPrefix = "KEYRING"

type LoggerConfig struct {
	Level              zerolog.Level `json:"level"`
	PrettyPrintConsole bool          `json:"prettyPrintConsole"`
}

type BridgeConfig struct {
	// Target is the websocket URL of the device relay.
	Target string `json:"target"`
	// ExpectedOrigin is the only origin inbound relay envelopes are accepted from.
	ExpectedOrigin string        `json:"expectedOrigin"`
	Vendor         string        `json:"vendor"`
	InitTimeout    time.Duration `json:"initTimeout"`
	// RequestTimeout bounds every device round trip issued by the hardware keyring.
	RequestTimeout time.Duration `json:"requestTimeout"`
	// InitFailureThreshold consecutive failed connects open the circuit for
	// InitCooldown, during which connects fail without dialing.
	InitFailureThreshold uint32        `json:"initFailureThreshold"`
	InitCooldown         time.Duration `json:"initCooldown"`
}

type HDConfig struct {
	HDPath          string `json:"hdPath"`
	EntropySourceID string `json:"entropySourceId"`
}

type HardwareConfig struct {
	HDPathTemplate  string `json:"hdPathTemplate"`
	EntropySourceID string `json:"entropySourceId"`
}

type Server struct {
	Logger   LoggerConfig   `json:"logger"`
	Bridge   BridgeConfig   `json:"bridge"`
	HD       HDConfig       `json:"hd"`
	Hardware HardwareConfig `json:"hardware"`
}

// LoadDotEnv loads the given env files into the process environment, silently
// skipping files that do not exist. Values already present in the environment win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}

	for _, f := range files {
		_ = gotenv.Load(f)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logger.level", zerolog.DebugLevel.String())
	v.SetDefault("logger.pretty_print_console", false)

	v.SetDefault("bridge.target", "ws://127.0.0.1:8435/bridge")
	v.SetDefault("bridge.expected_origin", "http://127.0.0.1:8435")
	v.SetDefault("bridge.vendor", "ledger")
	v.SetDefault("bridge.init_timeout", 5*time.Second)
	v.SetDefault("bridge.request_timeout", 2*time.Minute)
	v.SetDefault("bridge.init_failure_threshold", 5)
	v.SetDefault("bridge.init_cooldown", 30*time.Second)

	v.SetDefault("hd.hd_path", "m/44'/60'/0'/0")
	v.SetDefault("hd.entropy_source_id", "")

	v.SetDefault("hardware.hd_path_template", "m/44'/60'/%d'/0/0")
	v.SetDefault("hardware.entropy_source_id", "")

	return v
}

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults defined below.
// Environment keys are KEYRING_<SECTION>_<FIELD>, e.g. KEYRING_BRIDGE_INIT_TIMEOUT.
func DefaultServiceConfigFromEnv() Server {
	v := newViper()

	level, err := zerolog.ParseLevel(v.GetString("logger.level"))
	if err != nil {
		level = zerolog.DebugLevel
	}

	return Server{
		Logger: LoggerConfig{
			Level:              level,
			PrettyPrintConsole: v.GetBool("logger.pretty_print_console"),
		},
		Bridge: BridgeConfig{
			Target:         v.GetString("bridge.target"),
			ExpectedOrigin: v.GetString("bridge.expected_origin"),
			Vendor:         v.GetString("bridge.vendor"),
			InitTimeout:    v.GetDuration("bridge.init_timeout"),
			RequestTimeout: v.GetDuration("bridge.request_timeout"),

			InitFailureThreshold: v.GetUint32("bridge.init_failure_threshold"),
			InitCooldown:         v.GetDuration("bridge.init_cooldown"),
		},
		HD: HDConfig{
			HDPath:          v.GetString("hd.hd_path"),
			EntropySourceID: v.GetString("hd.entropy_source_id"),
		},
		Hardware: HardwareConfig{
			HDPathTemplate:  v.GetString("hardware.hd_path_template"),
			EntropySourceID: v.GetString("hardware.entropy_source_id"),
		},
	}
}
