package core

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubEntry struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	agents        string
	health        HealthStatus
	healthMessage string
}

func (s stubEntry) ID() string { return s.id }

func (s stubEntry) Manifest() Manifest {
	return Manifest{
		EntryID:     s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubEntry) AgentsMD() string { return s.agents }

func (s stubEntry) Dashboards() []Dashboard { return s.dashboards }

func (s stubEntry) Collectors() []prometheus.Collector { return nil }

func (s stubEntry) Health() HealthStatus { return s.health }

func (s stubEntry) HealthMessage() string { return s.healthMessage }

func (s stubEntry) Start(context.Context) error { return nil }

func (s stubEntry) Unload() {}

func newStubEntry(id string) stubEntry {
	return stubEntry{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"apsystems.v1.ApsystemsService"},
		agents:     "demo agents",
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func TestRegistryListEntries(t *testing.T) {
	svc := NewRegistryService([]Entry{newStubEntry("demo")})

	resp, err := svc.ListEntries(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListEntries error: %v", err)
	}
	entries := resp.GetFields()["entries"].GetListValue().GetValues()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	got := entries[0].GetStructValue().GetFields()
	if got["entry_id"].GetStringValue() != "demo" || got["display_name"].GetStringValue() != "Demo" || got["version"].GetStringValue() != "0.1.0" {
		t.Fatalf("unexpected entry summary: %v", got)
	}
	if got["status"].GetStringValue() != string(HealthHealthy) {
		t.Fatalf("unexpected health status: %s", got["status"].GetStringValue())
	}
}

func TestRegistryDescribeEntry(t *testing.T) {
	svc := NewRegistryService([]Entry{newStubEntry("demo")})

	req, _ := structpb.NewStruct(map[string]any{"entry_id": "demo"})
	resp, err := svc.DescribeEntry(context.Background(), req)
	if err != nil {
		t.Fatalf("DescribeEntry error: %v", err)
	}
	entry := resp.GetFields()["entry"].GetStructValue()
	if entry == nil {
		t.Fatalf("expected entry descriptor")
	}
	fields := entry.GetFields()
	if fields["entry_id"].GetStringValue() != "demo" {
		t.Fatalf("unexpected entry id: %s", fields["entry_id"].GetStringValue())
	}
	dashboards := fields["dashboards"].GetListValue().GetValues()
	if len(dashboards) != 1 {
		t.Fatalf("expected 1 dashboard, got %d", len(dashboards))
	}
	if path := dashboards[0].GetStructValue().GetFields()["path"].GetStringValue(); path != "/dashboards/demo/demo.json" {
		t.Fatalf("unexpected dashboard path: %s", path)
	}
}

func TestRegistryDescribeRequiresID(t *testing.T) {
	svc := NewRegistryService(nil)
	if _, err := svc.DescribeEntry(context.Background(), &structpb.Struct{}); err == nil {
		t.Fatalf("expected error for missing entry_id")
	}
}

func TestValidateEntries(t *testing.T) {
	if err := ValidateEntries([]Entry{newStubEntry("demo"), newStubEntry("roof")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateEntries([]Entry{newStubEntry("demo"), newStubEntry("demo")}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if err := ValidateEntries([]Entry{newStubEntry("Bad-ID")}); err == nil {
		t.Fatalf("expected pattern error")
	}
}

func TestDashboardsMap(t *testing.T) {
	dashboards := DashboardsMap([]Entry{newStubEntry("demo")})
	if string(dashboards["/dashboards/demo/demo.json"]) != "{}" {
		t.Fatalf("unexpected dashboards: %v", dashboards)
	}
}
