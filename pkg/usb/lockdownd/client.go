// Package lockdownd talks to the lockdown daemon of a device through
// usbmuxd and exposes it as a session backend.
package lockdownd

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/blacktop/idevice/pkg/usb"
	"github.com/blacktop/idevice/pkg/usb/plistsvc"
	"github.com/blacktop/idevice/pkg/usb/transport"
)

const (
	Port = 62078
	// QueryTypeLockdown is what the lockdown daemon answers to QueryType.
	QueryTypeLockdown = "com.apple.mobile.lockdown"
	protocolVersion   = "2"
)

// Client is a plist conversation with lockdownd (or any lockdown service)
// over a forwarded usbmuxd connection.
type Client struct {
	conn    net.Conn
	tlsConn *tls.Conn
	svc     *plistsvc.Service
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		svc:  plistsvc.New(transport.NewConnStream(conn)),
	}
}

func tlsConfig(pair *usb.PairRecord) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(pair.HostCertificate, pair.HostPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load host certificate from pair record: %w", err)
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
	}, nil
}

// wrapTLS upgrades conn with the host identity of pair.
func wrapTLS(conn net.Conn, pair *usb.PairRecord) (*tls.Conn, error) {
	cfg, err := tlsConfig(pair)
	if err != nil {
		return nil, err
	}
	tc := tls.Client(conn, cfg)
	if err := tc.Handshake(); err != nil {
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return tc, nil
}

func (c *Client) EnableSSL(pair *usb.PairRecord) error {
	tc, err := wrapTLS(c.conn, pair)
	if err != nil {
		return err
	}
	c.tlsConn = tc
	c.svc = plistsvc.New(transport.NewConnStream(tc))
	return nil
}

// DisableSSL goes back to plaintext, as lockdownd does after StopSession.
func (c *Client) DisableSSL() {
	c.tlsConn = nil
	c.svc = plistsvc.New(transport.NewConnStream(c.conn))
}

func (c *Client) SSL() bool { return c.tlsConn != nil }

func (c *Client) Request(req, resp any) error {
	return c.svc.Request(req, resp)
}

func (c *Client) Close() error {
	return c.svc.Close()
}

// ResponseError is an Error field returned by lockdownd.
type ResponseError struct {
	Request string
	Err     string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("lockdownd %s failed: %s", e.Request, e.Err)
}

type queryTypeRequest struct {
	Label   string
	Request string
}

type queryTypeResponse struct {
	Request string
	Result  string
	Type    string
	Error   string `plist:"Error,omitempty"`
}

func (c *Client) QueryType() (string, error) {
	req := &queryTypeRequest{
		Label:   usb.BundleID,
		Request: "QueryType",
	}
	var resp queryTypeResponse
	if err := c.Request(req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &ResponseError{Request: "QueryType", Err: resp.Error}
	}
	return resp.Type, nil
}

type startSessionRequest struct {
	Label           string
	ProtocolVersion string
	Request         string
	HostID          string
	SystemBUID      string
}

type StartSessionResponse struct {
	Request          string
	Result           string
	EnableSessionSSL bool
	SessionID        string
	Error            string `plist:"Error,omitempty"`
}

// StartSession opens a lockdown session with the host identity of pair.
// The connection is upgraded to TLS when the device asks for it.
func (c *Client) StartSession(pair *usb.PairRecord) (*StartSessionResponse, error) {
	req := &startSessionRequest{
		Label:           usb.BundleID,
		ProtocolVersion: protocolVersion,
		Request:         "StartSession",
		HostID:          pair.HostID,
		SystemBUID:      pair.SystemBUID,
	}
	var resp StartSessionResponse
	if err := c.Request(req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ResponseError{Request: "StartSession", Err: resp.Error}
	}
	if resp.EnableSessionSSL {
		if err := c.EnableSSL(pair); err != nil {
			return nil, fmt.Errorf("failed to enable SSL for lockdown session: %w", err)
		}
	}
	return &resp, nil
}

type stopSessionRequest struct {
	Label     string
	Request   string
	SessionID string
}

type resultResponse struct {
	Request string
	Result  string
	Error   string `plist:"Error,omitempty"`
}

func (c *Client) StopSession(sessionID string) error {
	req := &stopSessionRequest{
		Label:     usb.BundleID,
		Request:   "StopSession",
		SessionID: sessionID,
	}
	var resp resultResponse
	if err := c.Request(req, &resp); err != nil {
		return err
	}
	if c.SSL() {
		c.DisableSSL()
	}
	if resp.Error != "" {
		return &ResponseError{Request: "StopSession", Err: resp.Error}
	}
	return nil
}

type startServiceRequest struct {
	Label     string
	Request   string
	Service   string
	EscrowBag []byte `plist:"EscrowBag,omitempty"`
}

type StartServiceResponse struct {
	Request          string
	Result           string
	Service          string
	Port             int
	EnableServiceSSL bool
	Error            string `plist:"Error,omitempty"`
}

func (c *Client) StartService(service string, escrowBag []byte) (*StartServiceResponse, error) {
	req := &startServiceRequest{
		Label:     usb.BundleID,
		Request:   "StartService",
		Service:   service,
		EscrowBag: escrowBag,
	}
	var resp StartServiceResponse
	if err := c.Request(req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ResponseError{Request: "StartService " + service, Err: resp.Error}
	}
	return &resp, nil
}

type getValueRequest struct {
	Label   string
	Request string
	Domain  string `plist:"Domain,omitempty"`
	Key     string `plist:"Key,omitempty"`
}

type getValueResponse struct {
	Domain  string `plist:"Domain,omitempty"`
	Error   string `plist:"Error,omitempty"`
	Key     string `plist:"Key,omitempty"`
	Request string `plist:"Request,omitempty"`
	Value   any    `plist:"Value,omitempty"`
}

// GetValue reads one value. Empty domain and key return the whole global
// domain as a map.
func (c *Client) GetValue(domain, key string) (any, error) {
	req := &getValueRequest{
		Label:   usb.BundleID,
		Request: "GetValue",
		Domain:  domain,
		Key:     key,
	}
	var resp getValueResponse
	if err := c.Request(req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ResponseError{Request: "GetValue", Err: resp.Error}
	}
	return resp.Value, nil
}

type getValuesResponse struct {
	Error string `plist:"Error,omitempty"`
	Value *DeviceValues
}

// GetValues reads the global domain into DeviceValues.
func (c *Client) GetValues() (*DeviceValues, error) {
	req := &getValueRequest{
		Label:   usb.BundleID,
		Request: "GetValue",
	}
	var resp getValuesResponse
	if err := c.Request(req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ResponseError{Request: "GetValue", Err: resp.Error}
	}
	if resp.Value == nil {
		return &DeviceValues{}, nil
	}
	return resp.Value, nil
}
