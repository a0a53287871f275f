package lockdownd

import (
	"fmt"

	"github.com/blacktop/idevice/internal/colors"
)

var (
	colorFaint = colors.FaintHiBlue().SprintFunc()
	colorBold  = colors.Bold().SprintFunc()
)

// DeviceValues is the subset of the lockdown global domain shown by the
// info command.
type DeviceValues struct {
	ActivationState     string `plist:"ActivationState,omitempty" json:"activation_state,omitempty"`
	BluetoothAddress    string `plist:"BluetoothAddress,omitempty" json:"bluetooth_address,omitempty"`
	BoardID             int    `plist:"BoardId,omitempty" json:"board_id,omitempty"`
	BuildVersion        string `plist:"BuildVersion,omitempty" json:"build_version,omitempty"`
	CPUArchitecture     string `plist:"CPUArchitecture,omitempty" json:"cpu_architecture,omitempty"`
	ChipID              int    `plist:"ChipID,omitempty" json:"chip_id,omitempty"`
	DeviceClass         string `plist:"DeviceClass,omitempty" json:"device_class,omitempty"`
	DeviceColor         string `plist:"DeviceColor,omitempty" json:"device_color,omitempty"`
	DeviceName          string `plist:"DeviceName,omitempty" json:"device_name,omitempty"`
	HardwareModel       string `plist:"HardwareModel,omitempty" json:"hardware_model,omitempty"`
	HardwarePlatform    string `plist:"HardwarePlatform,omitempty" json:"hardware_platform,omitempty"`
	HostAttached        bool   `plist:"HostAttached,omitempty" json:"host_attached"`
	PasswordProtected   bool   `plist:"PasswordProtected,omitempty" json:"password_protected"`
	ProductName         string `plist:"ProductName,omitempty" json:"product_name,omitempty"`
	ProductType         string `plist:"ProductType,omitempty" json:"product_type,omitempty"`
	ProductVersion      string `plist:"ProductVersion,omitempty" json:"product_version,omitempty"`
	ProductionSOC       bool   `plist:"ProductionSOC,omitempty" json:"production_soc"`
	ReleaseType         string `plist:"ReleaseType,omitempty" json:"release_type,omitempty"`
	SerialNumber        string `plist:"SerialNumber,omitempty" json:"serial_number,omitempty"`
	TimeZone            string `plist:"TimeZone,omitempty" json:"time_zone,omitempty"`
	TrustedHostAttached bool   `plist:"TrustedHostAttached,omitempty" json:"trusted_host_attached"`
	UniqueChipID        int64  `plist:"UniqueChipID,omitempty" json:"unique_chip_id,omitempty"`
	UniqueDeviceID      string `plist:"UniqueDeviceID,omitempty" json:"unique_device_id,omitempty"`
	WiFiAddress         string `plist:"WiFiAddress,omitempty" json:"wi_fi_address,omitempty"`
}

// FromMap fills DeviceValues from a global domain dictionary, as returned
// by the native CopyValue.
func FromMap(m map[string]any) *DeviceValues {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	boolean := func(k string) bool {
		b, _ := m[k].(bool)
		return b
	}
	num := func(k string) int64 {
		switch n := m[k].(type) {
		case int64:
			return n
		case uint64:
			return int64(n)
		case int:
			return int64(n)
		}
		return 0
	}
	return &DeviceValues{
		ActivationState:     str("ActivationState"),
		BluetoothAddress:    str("BluetoothAddress"),
		BoardID:             int(num("BoardId")),
		BuildVersion:        str("BuildVersion"),
		CPUArchitecture:     str("CPUArchitecture"),
		ChipID:              int(num("ChipID")),
		DeviceClass:         str("DeviceClass"),
		DeviceColor:         str("DeviceColor"),
		DeviceName:          str("DeviceName"),
		HardwareModel:       str("HardwareModel"),
		HardwarePlatform:    str("HardwarePlatform"),
		HostAttached:        boolean("HostAttached"),
		PasswordProtected:   boolean("PasswordProtected"),
		ProductName:         str("ProductName"),
		ProductType:         str("ProductType"),
		ProductVersion:      str("ProductVersion"),
		ProductionSOC:       boolean("ProductionSOC"),
		ReleaseType:         str("ReleaseType"),
		SerialNumber:        str("SerialNumber"),
		TimeZone:            str("TimeZone"),
		TrustedHostAttached: boolean("TrustedHostAttached"),
		UniqueChipID:        num("UniqueChipID"),
		UniqueDeviceID:      str("UniqueDeviceID"),
		WiFiAddress:         str("WiFiAddress"),
	}
}

func (dv DeviceValues) String() string {
	releaseType := dv.ReleaseType
	if releaseType == "" {
		releaseType = "Release"
	}
	return fmt.Sprintf(
		colorFaint("Device Name:         ")+colorBold("%s\n")+
			colorFaint("Device Class:        ")+colorBold("%s\n")+
			colorFaint("Device Color:        ")+colorBold("%s\n")+
			colorFaint("Product Name:        ")+colorBold("%s\n")+
			colorFaint("Product Type:        ")+colorBold("%s\n")+
			colorFaint("HardwareModel:       ")+colorBold("%s\n")+
			colorFaint("BoardId:             ")+colorBold("%d\n")+
			colorFaint("BuildVersion:        ")+colorBold("%s\n")+
			colorFaint("Product Version:     ")+colorBold("%s\n")+
			colorFaint("ChipID:              ")+colorBold("%#x (%s)\n")+
			colorFaint("HardwarePlatform:    ")+colorBold("%s\n")+
			colorFaint("ProductionSOC:       ")+colorBold("%t\n")+
			colorFaint("WiFiAddress:         ")+colorBold("%s\n")+
			colorFaint("BluetoothAddress:    ")+colorBold("%s\n")+
			colorFaint("UniqueChipID:        ")+colorBold("%#x\n")+
			colorFaint("UniqueDeviceID:      ")+colorBold("%s\n")+
			colorFaint("SerialNumber:        ")+colorBold("%s\n")+
			colorFaint("TimeZone:            ")+colorBold("%s\n")+
			colorFaint("ReleaseType:         ")+colorBold("%s\n")+
			colorFaint("PasswordProtected:   ")+colorBold("%t\n")+
			colorFaint("HostAttached:        ")+colorBold("%t\n")+
			colorFaint("TrustedHostAttached: ")+colorBold("%t\n")+
			colorFaint("ActivationState:     ")+colorBold("%s\n"),
		dv.DeviceName,
		dv.DeviceClass,
		dv.DeviceColor,
		dv.ProductName,
		dv.ProductType,
		dv.HardwareModel,
		dv.BoardID,
		dv.BuildVersion,
		dv.ProductVersion,
		dv.ChipID,
		dv.CPUArchitecture,
		dv.HardwarePlatform,
		dv.ProductionSOC,
		dv.WiFiAddress,
		dv.BluetoothAddress,
		dv.UniqueChipID,
		dv.UniqueDeviceID,
		dv.SerialNumber,
		dv.TimeZone,
		releaseType,
		dv.PasswordProtected,
		dv.HostAttached,
		dv.TrustedHostAttached,
		dv.ActivationState,
	)
}
