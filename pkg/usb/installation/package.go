package installation

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/idevice/pkg/usb/afc"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/session"
)

// StagingDir is where packages are uploaded before the proxy installs
// them.
const StagingDir = "/PublicStaging"

// InstallPackage installs a local .app directory or .ipa archive. Native
// backends transfer .app bundles themselves; everything else is pushed to
// StagingDir over AFC and installed through the proxy.
func InstallPackage(sess *session.Session, local string, progress md.ProgressFunc) error {
	fi, err := os.Stat(local)
	if err != nil {
		return err
	}
	if _, ok := sess.API().(session.Installer); ok && fi.IsDir() {
		return sess.InstallApplication(local, progress)
	}

	if err := stage(sess, local, progress); err != nil {
		return err
	}

	c, err := Open(sess)
	if err != nil {
		return err
	}
	defer c.Close()

	packageType := ""
	if fi.IsDir() {
		packageType = PackageTypeDeveloper
	}
	return c.Install(path.Join(StagingDir, filepath.Base(local)), packageType, progress)
}

func stage(sess *session.Session, local string, progress md.ProgressFunc) error {
	ch, err := afc.OpenService(sess, 0)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.CreateDirectory(StagingDir); err != nil {
		return fmt.Errorf("failed to create %s: %w", StagingDir, err)
	}
	target := path.Join(StagingDir, filepath.Base(local))
	if _, err := ch.Stat(target); err == nil {
		if err := ch.RemoveAll(target); err != nil {
			return fmt.Errorf("failed to remove stale %s: %w", target, err)
		}
	}
	return ch.Push(StagingDir, local, func(dst, src string, info os.FileInfo) {
		log.WithFields(log.Fields{"src": src, "dst": dst}).Debug("Staged")
		if progress != nil {
			progress(md.Progress{Status: "CopyingFile", Raw: map[string]any{"Path": dst}})
		}
	})
}
