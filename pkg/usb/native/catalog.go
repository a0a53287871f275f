package native

func fn(ret Type, name string, args ...Type) Symbol {
	return Symbol{Name: name, Args: args, Ret: ret}
}

// CoreFoundationCatalog lists every CoreFoundation export used by the
// corefoundation package.
var CoreFoundationCatalog = Catalog{
	Kind: Utility,
	Symbols: []Symbol{
		fn(Void, "CFRunLoopRun"),
		fn(Void, "CFRunLoopStop", Pointer),
		fn(Pointer, "CFRunLoopGetCurrent"),
		fn(Int32, "CFRunLoopRunInMode", Pointer, Double, Bool),
		fn(Pointer, "CFRunLoopTimerCreate", Pointer, Double, Double, Pointer, Index, Callback, Pointer),
		fn(Void, "CFRunLoopAddTimer", Pointer, Pointer, Pointer),
		fn(Void, "CFRunLoopRemoveTimer", Pointer, Pointer, Pointer),
		fn(Double, "CFAbsoluteTimeGetCurrent"),
		fn(Pointer, "CFStringCreateWithCString", Pointer, String, UInt32),
		fn(Pointer, "CFStringGetCStringPtr", Pointer, UInt32),
		fn(Bool, "CFStringGetCString", Pointer, Pointer, Index, UInt32),
		fn(Index, "CFStringGetLength", Pointer),
		fn(Bool, "CFNumberGetValue", Pointer, Index, Pointer),
		fn(Bool, "CFBooleanGetValue", Pointer),
		fn(Pointer, "CFDictionaryCreate", Pointer, Pointer, Pointer, Index, Pointer, Pointer),
		fn(Pointer, "CFDictionaryGetValue", Pointer, Pointer),
		fn(Index, "CFDictionaryGetCount", Pointer),
		fn(Void, "CFDictionaryGetKeysAndValues", Pointer, Pointer, Pointer),
		fn(Pointer, "CFGetTypeID", Pointer),
		fn(Pointer, "CFStringGetTypeID"),
		fn(Pointer, "CFNumberGetTypeID"),
		fn(Pointer, "CFBooleanGetTypeID"),
		fn(Pointer, "CFDictionaryGetTypeID"),
		fn(Void, "CFRelease", Pointer),
	},
	Vars: []Var{
		{Name: "kCFTypeDictionaryKeyCallBacks"},
		{Name: "kCFTypeDictionaryValueCallBacks"},
		{Name: "kCFRunLoopDefaultMode", Deref: true},
		{Name: "kCFRunLoopCommonModes", Deref: true},
	},
}

// MobileDeviceCatalog lists every MobileDevice export used by the
// mobiledevice package.
var MobileDeviceCatalog = Catalog{
	Kind: DeviceManagement,
	Symbols: []Symbol{
		fn(UInt32, "AMDeviceNotificationSubscribe", Callback, UInt32, UInt32, UInt32, Pointer),
		fn(Int32, "AMDeviceNotificationUnsubscribe", Pointer),
		fn(UInt32, "AMDeviceConnect", Pointer),
		fn(UInt32, "AMDeviceIsPaired", Pointer),
		fn(UInt32, "AMDevicePair", Pointer),
		fn(UInt32, "AMDeviceValidatePairing", Pointer),
		fn(UInt32, "AMDeviceStartSession", Pointer),
		fn(UInt32, "AMDeviceStopSession", Pointer),
		fn(UInt32, "AMDeviceDisconnect", Pointer),
		fn(UInt32, "AMDeviceStartService", Pointer, Pointer, Pointer, Pointer),
		fn(UInt32, "AMDeviceTransferApplication", Int32, Pointer, Pointer, Callback, Pointer),
		fn(UInt32, "AMDeviceInstallApplication", Int32, Pointer, Pointer, Callback, Pointer),
		fn(UInt32, "AMDeviceUninstallApplication", Int32, Pointer, Pointer, Callback, Pointer),
		fn(UInt32, "AMDeviceLookupApplications", Pointer, Pointer, Pointer),
		fn(Pointer, "AMDeviceCopyDeviceIdentifier", Pointer),
		fn(Pointer, "AMDeviceCopyValue", Pointer, Pointer, Pointer),
		fn(UInt32, "AFCConnectionOpen", Int32, UInt32, Pointer),
		fn(UInt32, "AFCConnectionClose", Pointer),
		fn(UInt32, "AFCDirectoryCreate", Pointer, String),
		fn(UInt32, "AFCDirectoryOpen", Pointer, String, Pointer),
		fn(UInt32, "AFCDirectoryRead", Pointer, Pointer, Pointer),
		fn(UInt32, "AFCDirectoryClose", Pointer, Pointer),
		fn(UInt32, "AFCFileRefOpen", Pointer, String, UInt32, UInt32, Pointer),
		fn(UInt32, "AFCFileRefClose", Pointer, UInt64),
		fn(UInt32, "AFCFileRefRead", Pointer, UInt64, Pointer, Pointer),
		fn(UInt32, "AFCFileRefWrite", Pointer, UInt64, Pointer, UInt32),
	},
}

// CatalogFor returns the catalog bound for a library kind.
func CatalogFor(k Kind) Catalog {
	if k == Utility {
		return CoreFoundationCatalog
	}
	return MobileDeviceCatalog
}
