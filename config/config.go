package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var Logger *logrus.Entry

// Settings is the CLI configuration file decoded into a typed struct.
type Settings struct {
	Server        string   `mapstructure:"server"`
	WebSocketURL  string   `mapstructure:"websocketurl"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	Tokens        []string `mapstructure:"tokens"`
	SkipTLSVerify bool     `mapstructure:"skiptlsverify"`

	UserVoiceTimeoutMs   int `mapstructure:"uservoicetimeoutms"`
	DataPingIntervalMs   int `mapstructure:"datapingintervalms"`
	MaxInFlightDataPings int `mapstructure:"maxinflightdatapings"`
	PreferredBitrate     int `mapstructure:"preferredbitrate"`

	StorePath string `mapstructure:"storepath"`
}

func LoadConfig(cfgfile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(cfgfile)

	v.SetEnvPrefix("gomumble")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	// use environment variables
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s", err)
	}

	// reload config on file changes
	if runtime.GOOS != "illumos" {
		v.WatchConfig()
	}

	return v, nil
}

// Decode maps the loaded settings onto a Settings struct.
func Decode(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := mapstructure.WeakDecode(v.AllSettings(), settings); err != nil {
		return nil, fmt.Errorf("error decoding config: %s", err)
	}
	return settings, nil
}
