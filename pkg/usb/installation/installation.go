// Package installation drives com.apple.mobile.installation_proxy, the
// lockdown service that installs, removes and lists applications.
package installation

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/apex/log"
	md "github.com/blacktop/idevice/pkg/usb/mobiledevice"
	"github.com/blacktop/idevice/pkg/usb/plistsvc"
	"github.com/blacktop/idevice/pkg/usb/session"
	"github.com/mitchellh/mapstructure"
)

const ServiceName = "com.apple.mobile.installation_proxy"

const (
	StatusComplete = "Complete"
	// PackageTypeDeveloper marks an unpacked .app directory.
	PackageTypeDeveloper = "Developer"
)

// ErrIncomplete is returned when the proxy stops sending before reporting
// completion.
var ErrIncomplete = errors.New("installation proxy closed before completion")

// Error is an error reported by the installation proxy.
type Error struct {
	Command     string
	Err         string
	Description string
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("installation proxy %s failed: %s (%s)", e.Command, e.Err, e.Description)
	}
	return fmt.Sprintf("installation proxy %s failed: %s", e.Command, e.Err)
}

type Client struct {
	svc *plistsvc.Service
	ch  *session.ServiceChannel
}

func NewClient(svc *plistsvc.Service) *Client {
	return &Client{svc: svc}
}

// Open starts the installation proxy on sess.
func Open(sess *session.Session) (*Client, error) {
	ch, err := sess.StartService(ServiceName)
	if err != nil {
		return nil, err
	}
	svc, err := ch.PlistService()
	if err != nil {
		ch.Close()
		return nil, err
	}
	return &Client{svc: svc, ch: ch}, nil
}

func (c *Client) Close() error {
	if c.ch != nil {
		return c.ch.Close()
	}
	return c.svc.Close()
}

func toInt(v any) int {
	switch n := v.(type) {
	case uint64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// recv reads the next message of cmd and turns a reported error into an
// *Error.
func (c *Client) recv(cmd string) (map[string]any, error) {
	var msg map[string]any
	if err := c.svc.Recv(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", cmd, ErrIncomplete)
		}
		return nil, err
	}
	if e := str(msg, "Error"); e != "" {
		return nil, &Error{
			Command:     cmd,
			Err:         e,
			Description: str(msg, "ErrorDescription"),
		}
	}
	return msg, nil
}

// watchProgress reports every status message of cmd until the proxy says
// Complete or reports an error. Messages without a Status are skipped.
func (c *Client) watchProgress(cmd string, progress md.ProgressFunc) error {
	for {
		msg, err := c.recv(cmd)
		if err != nil {
			return err
		}
		status := str(msg, "Status")
		if status == "" {
			continue
		}
		ev := md.Progress{
			Status:          status,
			PercentComplete: toInt(msg["PercentComplete"]),
			Raw:             msg,
		}
		if status == StatusComplete {
			ev.PercentComplete = 100
		}
		log.WithFields(log.Fields{
			"command": cmd,
			"status":  ev.Status,
			"percent": ev.PercentComplete,
		}).Debug("Installation progress")
		if progress != nil {
			progress(ev)
		}
		if status == StatusComplete {
			return nil
		}
	}
}

func (c *Client) installOrUpgrade(cmd, packagePath, packageType string, progress md.ProgressFunc) error {
	req := &packageRequest{
		Command:     cmd,
		PackagePath: packagePath,
	}
	if packageType != "" {
		req.ClientOptions = &clientOptions{PackageType: packageType}
	}
	if err := c.svc.SendMessage(req); err != nil {
		return err
	}
	return c.watchProgress(cmd, progress)
}

// Install installs the package at packagePath, a path on the device
// relative to the AFC root. packageType is empty for .ipa archives and
// PackageTypeDeveloper for .app directories.
func (c *Client) Install(packagePath, packageType string, progress md.ProgressFunc) error {
	return c.installOrUpgrade("Install", packagePath, packageType, progress)
}

func (c *Client) Upgrade(packagePath, packageType string, progress md.ProgressFunc) error {
	return c.installOrUpgrade("Upgrade", packagePath, packageType, progress)
}

func (c *Client) commandForBundle(cmd, bundleID string, progress md.ProgressFunc) error {
	req := &bundleRequest{
		Command:               cmd,
		ApplicationIdentifier: bundleID,
	}
	if err := c.svc.SendMessage(req); err != nil {
		return err
	}
	return c.watchProgress(cmd, progress)
}

func (c *Client) Uninstall(bundleID string, progress md.ProgressFunc) error {
	return c.commandForBundle("Uninstall", bundleID, progress)
}

// LookupRaw returns the application records keyed by bundle identifier.
// keys limits the returned attributes and bundleIDs the applications.
func (c *Client) LookupRaw(bundleIDs []string, keys ...string) (map[string]map[string]any, error) {
	req := &commandRequest{Command: "Lookup"}
	if len(keys) > 0 || len(bundleIDs) > 0 {
		req.ClientOptions = &clientOptions{
			ReturnAttributes: keys,
			BundleIDs:        bundleIDs,
		}
	}
	if err := c.svc.SendMessage(req); err != nil {
		return nil, err
	}
	msg, err := c.recv("Lookup")
	if err != nil {
		return nil, err
	}
	raw, _ := msg["LookupResult"].(map[string]any)
	apps := make(map[string]map[string]any, len(raw))
	for id, v := range raw {
		if m, ok := v.(map[string]any); ok {
			apps[id] = m
		}
	}
	return apps, nil
}

func decodeApp(m map[string]any) (AppInfo, error) {
	var app AppInfo
	if err := mapstructure.Decode(m, &app); err != nil {
		return app, fmt.Errorf("failed to decode application record: %w", err)
	}
	return app, nil
}

// Lookup returns the record of a single application.
func (c *Client) Lookup(bundleID string) (*AppInfo, error) {
	apps, err := c.LookupRaw([]string{bundleID}, appInfoAttributes...)
	if err != nil {
		return nil, err
	}
	m, ok := apps[bundleID]
	if !ok {
		return nil, fmt.Errorf("application %s is not installed", bundleID)
	}
	app, err := decodeApp(m)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// InstalledApps returns every application, sorted by bundle identifier.
func (c *Client) InstalledApps() ([]AppInfo, error) {
	apps, err := c.LookupRaw(nil, appInfoAttributes...)
	if err != nil {
		return nil, err
	}
	return decodeApps(apps)
}

func decodeApps(apps map[string]map[string]any) ([]AppInfo, error) {
	result := make([]AppInfo, 0, len(apps))
	for _, m := range apps {
		app, err := decodeApp(m)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CFBundleIdentifier < result[j].CFBundleIdentifier
	})
	return result, nil
}

// Browse lists applications of appType ("User", "System" or "Any") page by
// page until the proxy reports Complete.
func (c *Client) Browse(appType string) ([]AppInfo, error) {
	req := &commandRequest{
		Command: "Browse",
		ClientOptions: &clientOptions{
			ApplicationType:  appType,
			ReturnAttributes: appInfoAttributes,
		},
	}
	if err := c.svc.SendMessage(req); err != nil {
		return nil, err
	}
	var result []AppInfo
	for {
		msg, err := c.recv("Browse")
		if err != nil {
			return nil, err
		}
		list, _ := msg["CurrentList"].([]any)
		for _, v := range list {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			app, err := decodeApp(m)
			if err != nil {
				return nil, err
			}
			result = append(result, app)
		}
		if str(msg, "Status") == StatusComplete {
			return result, nil
		}
	}
}
