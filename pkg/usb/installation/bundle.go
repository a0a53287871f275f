package installation

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/blacktop/go-plist"
)

var infoPlistName = regexp.MustCompile(`^Payload/[^/]+\.app/Info\.plist$`)

// BundleInfo is the part of an application's Info.plist shown before an
// install.
type BundleInfo struct {
	CFBundleIdentifier         string
	CFBundleName               string
	CFBundleDisplayName        string
	CFBundleShortVersionString string
	CFBundleVersion            string
	MinimumOSVersion           string
}

// ReadBundleInfo reads Info.plist from an .app directory or an .ipa
// archive.
func ReadBundleInfo(path string) (*BundleInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	var data []byte
	if fi.IsDir() {
		data, err = os.ReadFile(filepath.Join(path, "Info.plist"))
	} else {
		data, err = readIPAInfoPlist(path)
	}
	if err != nil {
		return nil, err
	}
	var info BundleInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist of %s: %w", path, err)
	}
	return &info, nil
}

func readIPAInfoPlist(ipa string) ([]byte, error) {
	zr, err := zip.OpenReader(ipa)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if !infoPlistName.MatchString(f.Name) {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("no Payload/*.app/Info.plist in %s", ipa)
}
