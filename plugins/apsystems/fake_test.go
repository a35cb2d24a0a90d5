package apsystems

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"
)

const (
	timeout = time.Second
	tick    = 10 * time.Millisecond
)

var errOffline = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

// fakeClient is a scripted DeviceClient. Queued errors are consumed first;
// once empty, the current values are returned.
type fakeClient struct {
	mu sync.Mutex

	output    *OutputData
	outputErr []error
	info      *DeviceInfo
	infoErr   []error
	alarm     *Alarm
	alarmErr  error
	maxPower  int
	maxErr    error
	status    PowerStatus
	statusErr error

	setMaxPowerCalls []int
	setStatusCalls   []PowerStatus
	outputCalls      int
	infoCalls        int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		output:   &OutputData{P1: 10, E1: 1, TE1: 100, P2: 5, E2: 2, TE2: 50},
		info:     &DeviceInfo{DeviceID: "E07000000001", DevVer: "EZ1 1.6.8", SSID: "home", IPAddr: "192.168.1.50", MinPower: 30, MaxPower: 800},
		maxPower: 800,
		status:   PowerOn,
	}
}

func popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (f *fakeClient) OutputData(context.Context) (*OutputData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputCalls++
	if err := popErr(&f.outputErr); err != nil {
		return nil, err
	}
	if f.output == nil {
		return nil, nil
	}
	data := *f.output
	return &data, nil
}

func (f *fakeClient) DeviceInfo(context.Context) (*DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	if err := popErr(&f.infoErr); err != nil {
		return nil, err
	}
	if f.info == nil {
		return nil, nil
	}
	info := *f.info
	return &info, nil
}

func (f *fakeClient) Alarm(context.Context) (*Alarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alarmErr != nil {
		return nil, f.alarmErr
	}
	if f.alarm == nil {
		return nil, nil
	}
	alarm := *f.alarm
	return &alarm, nil
}

func (f *fakeClient) MaxPower(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPower, f.maxErr
}

func (f *fakeClient) SetMaxPower(_ context.Context, watts int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if watts < MinMaxPower || watts > MaxMaxPower {
		return 0, ErrInvalidMaxPower
	}
	if f.maxErr != nil {
		return 0, f.maxErr
	}
	f.setMaxPowerCalls = append(f.setMaxPowerCalls, watts)
	f.maxPower = watts
	return watts, nil
}

func (f *fakeClient) PowerStatus(context.Context) (PowerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeClient) SetPowerStatus(_ context.Context, status PowerStatus) (PowerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return PowerOff, f.statusErr
	}
	f.setStatusCalls = append(f.setStatusCalls, status)
	f.status = status
	return status, nil
}

func (f *fakeClient) failOutput(errs ...error) {
	f.mu.Lock()
	f.outputErr = append(f.outputErr, errs...)
	f.mu.Unlock()
}

func (f *fakeClient) setOutput(data *OutputData) {
	f.mu.Lock()
	f.output = data
	f.mu.Unlock()
}

// recordingListener captures coordinator callbacks.
type recordingListener struct {
	mu       sync.Mutex
	replaced []Snapshot
	failed   []error
}

func (r *recordingListener) SnapshotReplaced(s Snapshot) {
	r.mu.Lock()
	r.replaced = append(r.replaced, s)
	r.mu.Unlock()
}

func (r *recordingListener) RefreshFailed(err error) {
	r.mu.Lock()
	r.failed = append(r.failed, err)
	r.mu.Unlock()
}

var errProtocol = errors.New("decode getDeviceInfo: unexpected token")

func testConfig() Config {
	return Config{Name: "solar", IPAddress: "192.168.1.50", Port: DefaultPort}
}
