package apsystems

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshBuildsSnapshot(t *testing.T) {
	client := newFakeClient()
	coord := NewCoordinator(testConfig(), client)

	require.NoError(t, coord.Refresh(context.Background()))

	want := Snapshot{
		"p1":                   10,
		"e1":                   1,
		"te1":                  100,
		"p2":                   5,
		"e2":                   2,
		"te2":                  50,
		"power":                15,
		"energy_counter":       150,
		"energy_counter_daily": 3,
	}
	assert.Equal(t, want, coord.Snapshot())
	assert.True(t, coord.LastUpdateSuccess())
	assert.NoError(t, coord.LastError())
	assert.False(t, coord.LastUpdated().IsZero())
}

func TestRefreshMergesAlarms(t *testing.T) {
	client := newFakeClient()
	client.alarm = &Alarm{OffGrid: 1}
	coord := NewCoordinator(testConfig(), client)

	require.NoError(t, coord.Refresh(context.Background()))

	snapshot := coord.Snapshot()
	off, ok := snapshot.Value("alarm_off_grid")
	require.True(t, ok)
	assert.Equal(t, 1.0, off)
	fault, ok := snapshot.Value("alarm_output_fault")
	require.True(t, ok)
	assert.Equal(t, 0.0, fault)
}

func TestRefreshAlarmFailureIsBestEffort(t *testing.T) {
	client := newFakeClient()
	client.alarmErr = errors.New("decode getAlarm: bad json")
	coord := NewCoordinator(testConfig(), client)

	require.NoError(t, coord.Refresh(context.Background()))
	_, ok := coord.Snapshot().Value("alarm_off_grid")
	assert.False(t, ok)
	_, ok = coord.Snapshot().Value("power")
	assert.True(t, ok)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	client := newFakeClient()
	coord := NewCoordinator(testConfig(), client)
	listener := &recordingListener{}
	coord.Subscribe(listener)

	require.NoError(t, coord.Refresh(context.Background()))
	before := coord.Snapshot()

	client.failOutput(errOffline)
	err := coord.Refresh(context.Background())
	require.Error(t, err)

	var failed *UpdateFailedError
	require.ErrorAs(t, err, &failed)
	assert.True(t, IsConnectivityError(err))
	assert.False(t, coord.LastUpdateSuccess())
	assert.Equal(t, before, coord.Snapshot())
	assert.Len(t, listener.replaced, 1)
	assert.Len(t, listener.failed, 1)
}

func TestRefreshWithoutDataPublishesEmptySnapshot(t *testing.T) {
	client := newFakeClient()
	coord := NewCoordinator(testConfig(), client)
	require.NoError(t, coord.Refresh(context.Background()))

	client.setOutput(nil)
	require.NoError(t, coord.Refresh(context.Background()))

	assert.Empty(t, coord.Snapshot())
	assert.True(t, coord.LastUpdateSuccess())
}

func TestRecoveryAfterFailures(t *testing.T) {
	client := newFakeClient()
	coord := NewCoordinator(testConfig(), client)
	client.failOutput(errOffline, errOffline)

	assert.Error(t, coord.Refresh(context.Background()))
	assert.Error(t, coord.Refresh(context.Background()))
	assert.Empty(t, coord.Snapshot())

	require.NoError(t, coord.Refresh(context.Background()))
	assert.True(t, coord.LastUpdateSuccess())
	v, _ := coord.Snapshot().Value("power")
	assert.Equal(t, 15.0, v)
}

func TestIdentityEnrichedOnce(t *testing.T) {
	client := newFakeClient()
	coord := NewCoordinator(testConfig(), client)

	require.NoError(t, coord.Refresh(context.Background()))
	identity := coord.Identity()
	assert.Equal(t, "E07000000001", identity.SerialNumber)
	assert.Equal(t, "EZ1 1.6.8", identity.FirmwareVersion)

	client.mu.Lock()
	client.info = &DeviceInfo{DeviceID: "OTHER", DevVer: "EZ1 9.9"}
	client.mu.Unlock()
	require.NoError(t, coord.Refresh(context.Background()))

	assert.Equal(t, "E07000000001", coord.Identity().SerialNumber)
	assert.Equal(t, 1, client.infoCalls)
}

func TestIdentityConnectivityErrorIsRetried(t *testing.T) {
	client := newFakeClient()
	client.infoErr = []error{errOffline}
	coord := NewCoordinator(testConfig(), client)

	require.NoError(t, coord.Refresh(context.Background()))
	assert.Empty(t, coord.Identity().SerialNumber)

	require.NoError(t, coord.Refresh(context.Background()))
	assert.Equal(t, "E07000000001", coord.Identity().SerialNumber)
}

func TestIdentityErrorDoesNotBlockTelemetry(t *testing.T) {
	client := newFakeClient()
	client.infoErr = []error{errProtocol, errProtocol}
	coord := NewCoordinator(testConfig(), client)

	for i := 0; i < 2; i++ {
		require.NoError(t, coord.Refresh(context.Background()))
		assert.True(t, coord.LastUpdateSuccess())
		assert.Equal(t, 15.0, coord.Snapshot()["power"])
		assert.Empty(t, coord.Identity().SerialNumber)
	}

	require.NoError(t, coord.Refresh(context.Background()))
	assert.Equal(t, "E07000000001", coord.Identity().SerialNumber)
	assert.Equal(t, 3, client.infoCalls)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	coord := NewCoordinator(testConfig(), newFakeClient())
	listener := &recordingListener{}
	unsubscribe := coord.Subscribe(listener)

	require.NoError(t, coord.Refresh(context.Background()))
	unsubscribe()
	require.NoError(t, coord.Refresh(context.Background()))

	assert.Len(t, listener.replaced, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	client := newFakeClient()
	coord := NewCoordinator(testConfig(), client)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	require.Eventually(t, coord.LastUpdateSuccess, timeout, tick)
	cancel()
	<-done
}

func TestRefreshPublishesWhenDeviceInfoErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/getDeviceInfo", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/getOutputData", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"p1":10,"e1":1,"te1":100,"p2":5,"e2":2,"te2":50},"message":"SUCCESS","deviceId":"E07000000001"}`))
	})
	mux.HandleFunc("/getAlarm", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	coord := NewCoordinator(testConfig(), newTestClient(t, mux))

	for i := 0; i < 3; i++ {
		require.NoError(t, coord.Refresh(context.Background()))
	}
	assert.Equal(t, 15.0, coord.Snapshot()["power"])
	assert.Equal(t, 150.0, coord.Snapshot()["energy_counter"])
	assert.Empty(t, coord.Identity().SerialNumber)
}
