package apsystems

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/apsystems-local/internal/config"
)

type deviceStub struct {
	mu       sync.Mutex
	maxPower string
	status   string
	requests []string
}

func (d *deviceStub) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, data string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":` + data + `,"message":"SUCCESS","deviceId":"E07000000001"}`))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.requests = append(d.requests, r.URL.RequestURI())
		d.mu.Unlock()
		http.NotFound(w, r)
	})
	mux.HandleFunc("/getOutputData", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, `{"p1":10,"e1":1,"te1":100,"p2":5,"e2":2,"te2":50}`)
	})
	mux.HandleFunc("/getDeviceInfo", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, `{"deviceId":"E07000000001","devVer":"EZ1 1.6.8","ssid":"home","ipAddr":"192.168.1.50","minPower":"30","maxPower":"800"}`)
	})
	mux.HandleFunc("/getAlarm", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, `{"og":"1","isce1":"0","isce2":"0","oe":"0"}`)
	})
	mux.HandleFunc("/getMaxPower", func(w http.ResponseWriter, _ *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		reply(w, `{"maxPower":"`+d.maxPower+`"}`)
	})
	mux.HandleFunc("/setMaxPower", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.maxPower = r.URL.Query().Get("p")
		d.requests = append(d.requests, r.URL.RequestURI())
		d.mu.Unlock()
		reply(w, `{"maxPower":"`+r.URL.Query().Get("p")+`"}`)
	})
	mux.HandleFunc("/getOnOff", func(w http.ResponseWriter, _ *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		reply(w, `{"status":"`+d.status+`"}`)
	})
	mux.HandleFunc("/setOnOff", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.status = r.URL.Query().Get("status")
		d.mu.Unlock()
		reply(w, `{"status":"`+r.URL.Query().Get("status")+`"}`)
	})
	return mux
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := NewClient(Config{Name: t.Name(), IPAddress: host, Port: port})
	require.NoError(t, err)
	return client
}

func TestClientReads(t *testing.T) {
	client := newTestClient(t, (&deviceStub{maxPower: "600", status: "0"}).handler())
	ctx := context.Background()

	data, err := client.OutputData(ctx)
	require.NoError(t, err)
	assert.Equal(t, &OutputData{P1: 10, E1: 1, TE1: 100, P2: 5, E2: 2, TE2: 50}, data)

	info, err := client.DeviceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "E07000000001", info.DeviceID)
	assert.Equal(t, 800.0, float64(info.MaxPower))

	alarm, err := client.Alarm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, alarm.Fields()["alarm_off_grid"])

	watts, err := client.MaxPower(ctx)
	require.NoError(t, err)
	assert.Equal(t, 600, watts)

	status, err := client.PowerStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, PowerOn, status)
}

func TestClientWrites(t *testing.T) {
	stub := &deviceStub{maxPower: "800", status: "0"}
	client := newTestClient(t, stub.handler())
	ctx := context.Background()

	watts, err := client.SetMaxPower(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, watts)
	assert.Contains(t, stub.requests, "/setMaxPower?p=500")

	status, err := client.SetPowerStatus(ctx, PowerOff)
	require.NoError(t, err)
	assert.Equal(t, PowerOff, status)
	assert.Equal(t, "1", stub.status)
}

func TestClientSetMaxPowerValidatesRange(t *testing.T) {
	stub := &deviceStub{maxPower: "800", status: "0"}
	client := newTestClient(t, stub.handler())

	for _, watts := range []int{0, 29, 801} {
		_, err := client.SetMaxPower(context.Background(), watts)
		assert.ErrorIs(t, err, ErrInvalidMaxPower, "watts=%d", watts)
	}
	assert.Empty(t, stub.requests)
}

func TestClientNoDataIsNil(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{},"message":"FAILED","deviceId":""}`))
	}))

	data, err := client.OutputData(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = client.MaxPower(context.Background())
	assert.Error(t, err)
	assert.False(t, IsConnectivityError(err))
}

func TestClientHTTPErrorIsNotConnectivity(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.OutputData(context.Background())
	require.Error(t, err)
	assert.False(t, IsConnectivityError(err))
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	srv.Close()
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)

	client, err := NewClient(Config{Name: "closed", IPAddress: host, Port: port})
	require.NoError(t, err)

	_, err = client.OutputData(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectivityError(err))
}

func TestNewClientRequiresIP(t *testing.T) {
	_, err := NewClient(Config{Name: "solar"})
	assert.Error(t, err)
}

func TestConfigFromDevice(t *testing.T) {
	cfg, err := ConfigFromDevice(&config.DeviceConfig{IPAddress: " 192.168.1.50 "})
	require.NoError(t, err)
	assert.Equal(t, Config{Name: DefaultName, IPAddress: "192.168.1.50", Port: DefaultPort}, cfg)
	assert.Equal(t, "http://192.168.1.50:8050", cfg.BaseURL())

	_, err = ConfigFromDevice(nil)
	assert.Error(t, err)
	_, err = ConfigFromDevice(&config.DeviceConfig{Name: "roof"})
	assert.Error(t, err)
	_, err = ConfigFromDevice(&config.DeviceConfig{IPAddress: "10.0.0.2", Port: 70000})
	assert.Error(t, err)
}
