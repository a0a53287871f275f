// Package config is used to load the configuration file
package config

import (
	"fmt"
	"time"

	"github.com/blacktop/idevice/pkg/usb/native"
	"github.com/spf13/viper"
)

const (
	// BackendAuto uses the native libraries when they are installed and
	// usbmuxd otherwise.
	BackendAuto   = "auto"
	BackendNative = "native"
	BackendUsbmux = "usbmux"
)

const DefaultTimeout = 10 * time.Second

type commonFilesVars struct {
	X86    string `mapstructure:"x86" json:"x86"`
	W6432  string `mapstructure:"w6432" json:"w6432"`
	Native string `mapstructure:"native" json:"native"`
}

type nativeLibs struct {
	MobileDevicePath   string          `mapstructure:"mobile-device-path" json:"mobile-device-path"`
	CoreFoundationPath string          `mapstructure:"core-foundation-path" json:"core-foundation-path"`
	CommonFilesVars    commonFilesVars `mapstructure:"common-files-vars" json:"common-files-vars"`
}

// Config is the configuration struct
type Config struct {
	Backend string        `mapstructure:"backend" json:"backend"`
	UDID    string        `mapstructure:"udid" json:"udid"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// Usbmuxd overrides the usbmuxd socket address.
	Usbmuxd string     `mapstructure:"usbmuxd" json:"usbmuxd"`
	Native  nativeLibs `mapstructure:"native" json:"native"`
}

// SetDefaults registers the default values with viper.
func SetDefaults() {
	viper.SetDefault("backend", BackendAuto)
	viper.SetDefault("timeout", DefaultTimeout)
}

func (c *Config) verify() error {
	switch c.Backend {
	case "":
		c.Backend = BackendAuto
	case BackendAuto, BackendNative, BackendUsbmux:
	default:
		return fmt.Errorf("config: unknown backend %q (want %s, %s or %s)", c.Backend, BackendAuto, BackendNative, BackendUsbmux)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative")
	} else if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	cf := c.Native.CommonFilesVars
	if cf != (commonFilesVars{}) && (cf.X86 == "" || cf.W6432 == "" || cf.Native == "") {
		return fmt.Errorf("config: native.common-files-vars must set x86, w6432 and native together")
	}
	return nil
}

// Resolver returns a native library resolver with the configured path
// overrides applied.
func (c *Config) Resolver() *native.Resolver {
	r := native.NewResolver()
	r.Overrides = map[native.Kind]string{}
	if c.Native.MobileDevicePath != "" {
		r.Overrides[native.DeviceManagement] = c.Native.MobileDevicePath
	}
	if c.Native.CoreFoundationPath != "" {
		r.Overrides[native.Utility] = c.Native.CoreFoundationPath
	}
	if v := c.Native.CommonFilesVars; v != (commonFilesVars{}) {
		r.CommonFilesVars = native.CommonFilesVars{
			X86:    v.X86,
			W6432:  v.W6432,
			Native: v.Native,
		}
	}
	return r
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	var c *Config

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
