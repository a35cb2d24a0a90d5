package core

import (
	"fmt"
	"os"
	"path/filepath"
)

// DashboardPath is the URL path a dashboard is served under.
func DashboardPath(entryID, name string) string {
	return "/dashboards/" + entryID + "/" + name + ".json"
}

// DashboardsMap materializes dashboard content to URL paths.
func DashboardsMap(entries []Entry) map[string][]byte {
	result := make(map[string][]byte)
	for _, entry := range entries {
		manifest := entry.Manifest()
		for _, dash := range entry.Dashboards() {
			result[DashboardPath(manifest.EntryID, dash.Name)] = dash.JSON
		}
	}
	return result
}

// WriteDashboards writes dashboards to disk for Grafana provisioning.
func WriteDashboards(dir string, entries []Entry) error {
	if dir == "" {
		return nil
	}

	for _, entry := range entries {
		manifest := entry.Manifest()
		for _, dash := range entry.Dashboards() {
			entryDir := filepath.Join(dir, manifest.EntryID)
			if err := os.MkdirAll(entryDir, 0o755); err != nil {
				return fmt.Errorf("create dashboard dir: %w", err)
			}
			path := filepath.Join(entryDir, dash.Name+".json")
			if err := os.WriteFile(path, dash.JSON, 0o644); err != nil {
				return fmt.Errorf("write dashboard %s: %w", path, err)
			}
		}
	}

	return nil
}
