package apsystems

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/apsystems-local/internal/entity"
	"github.com/joshp123/apsystems-local/internal/rate"
	"github.com/joshp123/apsystems-local/internal/rpc"
)

// ApsystemsRPC is the device service definition shared by all entries.
var ApsystemsRPC = rpc.Service{
	Package: "apsystems.v1",
	Name:    "ApsystemsService",
}

// Service serves device RPCs for a set of entries, selected by the "entry" field.
type Service struct {
	entries map[string]*Entry
	order   []string
}

func NewService(entries []*Entry) *Service {
	s := &Service{entries: make(map[string]*Entry)}
	for _, e := range entries {
		s.entries[e.ID()] = e
		s.order = append(s.order, e.ID())
	}
	return s
}

func (s *Service) RegisterGRPC(server *grpc.Server) error {
	svc := ApsystemsRPC
	svc.Methods = []rpc.Method{
		{Name: "GetSnapshot", Handler: s.GetSnapshot},
		{Name: "GetDeviceInfo", Handler: s.GetDeviceInfo},
		{Name: "Refresh", Handler: s.Refresh},
		{Name: "GetMaxPower", Handler: s.GetMaxPower},
		{Name: "SetMaxPower", Handler: s.SetMaxPower},
		{Name: "GetPowerStatus", Handler: s.GetPowerStatus},
		{Name: "SetPowerStatus", Handler: s.SetPowerStatus},
		{Name: "ListEntities", Handler: s.ListEntities},
	}
	return rpc.Register(server, svc)
}

func (s *Service) GetSnapshot(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.entry(req)
	if err != nil {
		return nil, err
	}
	return snapshotResponse(e)
}

func (s *Service) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.entry(req)
	if err != nil {
		return nil, err
	}
	if err := e.Coordinator().Refresh(ctx); err != nil {
		return nil, statusFromError("refresh", err)
	}
	return snapshotResponse(e)
}

func (s *Service) GetDeviceInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.entry(req)
	if err != nil {
		return nil, err
	}
	info, err := e.Client().DeviceInfo(ctx)
	if err != nil {
		return nil, statusFromError("get device info", err)
	}
	if info == nil {
		return nil, status.Error(codes.Unavailable, "device returned no info")
	}
	return rpc.Response(map[string]any{
		"entry":        e.ID(),
		"device_id":    info.DeviceID,
		"firmware":     info.DevVer,
		"ssid":         info.SSID,
		"ip_address":   info.IPAddr,
		"min_power":    float64(info.MinPower),
		"max_power":    float64(info.MaxPower),
		"manufacturer": Manufacturer,
		"model":        Model,
	})
}

func (s *Service) GetMaxPower(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.entry(req)
	if err != nil {
		return nil, err
	}
	if err := e.MaxPower().Update(ctx); err != nil {
		return nil, statusFromError("get max power", err)
	}
	return entityResponse(e.MaxPower())
}

func (s *Service) SetMaxPower(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.entry(req)
	if err != nil {
		return nil, err
	}
	watts, ok := rpc.NumberField(req, "watts")
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "watts is required")
	}
	if err := e.MaxPower().SetNativeValue(ctx, watts); err != nil {
		return nil, statusFromError("set max power", err)
	}
	return entityResponse(e.MaxPower())
}

func (s *Service) GetPowerStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.entry(req)
	if err != nil {
		return nil, err
	}
	if err := e.PowerOutput().Update(ctx); err != nil {
		return nil, statusFromError("get power status", err)
	}
	return entityResponse(e.PowerOutput())
}

func (s *Service) SetPowerStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.entry(req)
	if err != nil {
		return nil, err
	}
	on, ok := rpc.BoolField(req, "on")
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "on is required")
	}
	if on {
		err = e.PowerOutput().TurnOn(ctx)
	} else {
		err = e.PowerOutput().TurnOff(ctx)
	}
	if err != nil {
		return nil, statusFromError("set power status", err)
	}
	return entityResponse(e.PowerOutput())
}

func (s *Service) ListEntities(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.entry(req)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0)
	for _, ent := range e.Entities() {
		items = append(items, entityFields(ent))
	}
	return rpc.Response(map[string]any{"entry": e.ID(), "entities": items})
}

// entry resolves the "entry" request field. It may be omitted when exactly
// one entry is configured.
func (s *Service) entry(req *structpb.Struct) (*Entry, error) {
	id := rpc.StringField(req, "entry")
	if id == "" {
		if len(s.order) != 1 {
			return nil, status.Error(codes.InvalidArgument, "entry is required")
		}
		id = s.order[0]
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "entry %q not configured", id)
	}
	if e.setupErr != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "entry %q setup failed: %v", id, e.setupErr)
	}
	return e, nil
}

func snapshotResponse(e *Entry) (*structpb.Struct, error) {
	c := e.Coordinator()
	values := make(map[string]any)
	for key, value := range c.Snapshot() {
		values[key] = value
	}
	identity := c.Identity()
	fields := map[string]any{
		"entry":               e.ID(),
		"last_update_success": c.LastUpdateSuccess(),
		"values":              values,
		"serial_number":       identity.SerialNumber,
		"firmware_version":    identity.FirmwareVersion,
	}
	if updated := c.LastUpdated(); !updated.IsZero() {
		fields["last_updated"] = updated.UTC().Format(time.RFC3339)
	}
	if err := c.LastError(); err != nil {
		fields["last_error"] = err.Error()
	}
	return rpc.Response(fields)
}

func entityResponse(ent entity.Entity) (*structpb.Struct, error) {
	return rpc.Response(entityFields(ent))
}

func entityFields(ent entity.Entity) map[string]any {
	state := ent.State()
	attrs := ent.Attributes()
	fields := map[string]any{
		"unique_id": ent.UniqueID(),
		"platform":  string(ent.Platform()),
		"name":      attrs.FriendlyName,
		"available": state.Available,
		"state":     entity.RenderValue(state.Value),
	}
	if attrs.UnitOfMeasurement != "" {
		fields["unit"] = attrs.UnitOfMeasurement
	}
	if sensor, ok := ent.(*Sensor); ok {
		fields["key"] = sensor.Key()
	}
	switch v := state.Value.(type) {
	case float64:
		fields["value"] = v
	case bool:
		fields["value"] = v
	}
	return fields
}

func statusFromError(action string, err error) error {
	var limited rate.RateLimitError
	switch {
	case errors.Is(err, ErrInvalidMaxPower):
		return status.Errorf(codes.InvalidArgument, "%s: %v", action, err)
	case errors.As(err, &limited):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", action, err)
	case IsConnectivityError(err):
		return status.Errorf(codes.Unavailable, "%s: %v", action, err)
	default:
		return status.Errorf(codes.Internal, "%s: %v", action, err)
	}
}
