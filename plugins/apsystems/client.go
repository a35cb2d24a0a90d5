package apsystems

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joshp123/apsystems-local/internal/rate"
)

const (
	requestTimeout = 10 * time.Second
)

// ErrInvalidMaxPower is returned before any request when the setpoint is out of range.
var ErrInvalidMaxPower = fmt.Errorf("max power must be between %d and %d W", MinMaxPower, MaxMaxPower)

// Client talks to the EZ1-M local API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.IPAddress) == "" {
		return nil, fmt.Errorf("apsystems ip_address is required")
	}
	base := &http.Client{Timeout: requestTimeout}
	return &Client{
		baseURL:    cfg.BaseURL(),
		httpClient: rate.WrapHTTP(RateLimits(cfg.Name), base),
	}, nil
}

// RateLimits keeps polling, entity scans and RPC calls from flooding the
// device's small web server.
func RateLimits(name string) rate.Declaration {
	return rate.Provider("apsystems_"+name).
		MaxRequestsPer(rate.Minute, 60).
		CacheFor(2*time.Second, func(r *http.Request) bool {
			return strings.HasPrefix(path.Base(r.URL.Path), "get")
		})
}

// OutputData returns nil without error when the device reports no data.
func (c *Client) OutputData(ctx context.Context) (*OutputData, error) {
	var data OutputData
	ok, err := c.call(ctx, "getOutputData", nil, &data)
	if err != nil || !ok {
		return nil, err
	}
	return &data, nil
}

func (c *Client) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	var info DeviceInfo
	ok, err := c.call(ctx, "getDeviceInfo", nil, &info)
	if err != nil || !ok {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Alarm(ctx context.Context) (*Alarm, error) {
	var alarm Alarm
	ok, err := c.call(ctx, "getAlarm", nil, &alarm)
	if err != nil || !ok {
		return nil, err
	}
	return &alarm, nil
}

func (c *Client) MaxPower(ctx context.Context) (int, error) {
	var data maxPowerData
	ok, err := c.call(ctx, "getMaxPower", nil, &data)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("getMaxPower: no data")
	}
	return int(data.MaxPower), nil
}

// SetMaxPower writes the output limit and returns the value the device confirmed.
func (c *Client) SetMaxPower(ctx context.Context, watts int) (int, error) {
	if watts < MinMaxPower || watts > MaxMaxPower {
		return 0, ErrInvalidMaxPower
	}
	var data maxPowerData
	ok, err := c.call(ctx, "setMaxPower", url.Values{"p": {strconv.Itoa(watts)}}, &data)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("setMaxPower: no data")
	}
	return int(data.MaxPower), nil
}

func (c *Client) PowerStatus(ctx context.Context) (PowerStatus, error) {
	var data onOffData
	ok, err := c.call(ctx, "getOnOff", nil, &data)
	if err != nil {
		return PowerOff, err
	}
	if !ok {
		return PowerOff, errors.New("getOnOff: no data")
	}
	return PowerStatus(int(data.Status)), nil
}

func (c *Client) SetPowerStatus(ctx context.Context, status PowerStatus) (PowerStatus, error) {
	if status != PowerOn && status != PowerOff {
		return PowerOff, fmt.Errorf("invalid power status %d", int(status))
	}
	var data onOffData
	ok, err := c.call(ctx, "setOnOff", url.Values{"status": {strconv.Itoa(int(status))}}, &data)
	if err != nil {
		return PowerOff, err
	}
	if !ok {
		return PowerOff, errors.New("setOnOff: no data")
	}
	return PowerStatus(int(data.Status)), nil
}

// call decodes the envelope's data into dest. ok is false when the device
// answered without usable data.
func (c *Client) call(ctx context.Context, endpoint string, query url.Values, dest any) (bool, error) {
	payload, err := c.getBytes(ctx, endpoint, query)
	if err != nil {
		return false, err
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if !env.ok() {
		return false, nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return false, fmt.Errorf("decode %s data: %w", endpoint, err)
	}
	return true, nil
}

func (c *Client) getBytes(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	target, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request %s: status %d: %s", target, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return payload, nil
}

// IsConnectivityError reports whether err is a network failure or timeout, as
// opposed to a protocol or validation error.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var limited rate.RateLimitError
	if errors.As(err, &limited) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
