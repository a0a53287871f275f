package config

import (
	"strings"
	"testing"
	"time"

	"github.com/blacktop/idevice/pkg/usb/native"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
backend: usbmux
udid: 00008110-000A1B2C3D4E5F60
timeout: 30s
native:
  mobile-device-path: /opt/apple/MobileDevice.dll
  common-files-vars:
    x86: CF86
    w6432: CF64
    native: CF
`

func TestLoadConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader(sample)))

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendUsbmux, c.Backend)
	assert.Equal(t, "00008110-000A1B2C3D4E5F60", c.UDID)
	assert.Equal(t, 30*time.Second, c.Timeout)

	r := c.Resolver()
	assert.Equal(t, "/opt/apple/MobileDevice.dll", r.Overrides[native.DeviceManagement])
	_, ok := r.Overrides[native.Utility]
	assert.False(t, ok)
	assert.Equal(t, "CF64", r.CommonFilesVars.W6432)
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendAuto, c.Backend)
	assert.Equal(t, DefaultTimeout, c.Timeout)
	assert.Equal(t, native.CommonFilesVars{}, c.Resolver().CommonFilesVars)
}

func TestLoadConfig_Invalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("backend", "bluetooth")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "unknown backend")

	viper.Set("backend", BackendNative)
	viper.Set("native.common-files-vars.x86", "only-one")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "common-files-vars")
}
