package installation

type clientOptions struct {
	ReturnAttributes []string `plist:"ReturnAttributes,omitempty"`
	BundleIDs        []string `plist:"BundleIDs,omitempty"`
	ApplicationType  string   `plist:"ApplicationType,omitempty"`
	PackageType      string   `plist:"PackageType,omitempty"`
}

type commandRequest struct {
	Command       string         `plist:"Command"`
	ClientOptions *clientOptions `plist:"ClientOptions,omitempty"`
}

type packageRequest struct {
	Command       string         `plist:"Command"`
	ClientOptions *clientOptions `plist:"ClientOptions,omitempty"`
	PackagePath   string         `plist:"PackagePath"`
}

type bundleRequest struct {
	Command               string         `plist:"Command"`
	ClientOptions         *clientOptions `plist:"ClientOptions,omitempty"`
	ApplicationIdentifier string         `plist:"ApplicationIdentifier"`
}

// AppInfo is the subset of an application record most callers need.
type AppInfo struct {
	ApplicationDSID              int
	ApplicationType              string
	CFBundleDisplayName          string
	CFBundleExecutable           string
	CFBundleIdentifier           string
	CFBundleName                 string
	CFBundleShortVersionString   string
	CFBundleVersion              string
	Container                    string
	Entitlements                 map[string]any
	EnvironmentVariables         map[string]any
	MinimumOSVersion             string
	Path                         string
	ProfileValidated             bool
	SBAppTags                    []string
	SignerIdentity               string
	UIDeviceFamily               []int
	UIRequiredDeviceCapabilities []string
}

// Name returns the display name, falling back to the bundle name.
func (i AppInfo) Name() string {
	if i.CFBundleDisplayName != "" {
		return i.CFBundleDisplayName
	}
	return i.CFBundleName
}

var appInfoAttributes = []string{
	"ApplicationDSID",
	"ApplicationType",
	"CFBundleDisplayName",
	"CFBundleExecutable",
	"CFBundleIdentifier",
	"CFBundleName",
	"CFBundleShortVersionString",
	"CFBundleVersion",
	"Container",
	"Entitlements",
	"EnvironmentVariables",
	"MinimumOSVersion",
	"Path",
	"ProfileValidated",
	"SBAppTags",
	"SignerIdentity",
	"UIDeviceFamily",
	"UIRequiredDeviceCapabilities",
}
