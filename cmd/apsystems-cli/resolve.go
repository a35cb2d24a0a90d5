package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/grpc"

	"github.com/joshp123/apsystems-local/internal/core"
	"github.com/joshp123/apsystems-local/internal/rpc"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	for label, id := range options {
		if normalizeName(label) == needle {
			return id, nil
		}
	}
	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}

// resolveEntry maps a user-typed entry name or display name to its entry id.
func resolveEntry(ctx context.Context, conn *grpc.ClientConn, input string) string {
	resp, err := rpc.Invoke(ctx, conn, core.RegistryRPC, "ListEntries", map[string]any{})
	if err != nil {
		fatal("list entries", err)
	}
	options := make(map[string]string)
	for _, v := range resp.GetFields()["entries"].GetListValue().GetValues() {
		e := v.GetStructValue().GetFields()
		id := e["entry_id"].GetStringValue()
		options[id] = id
		if name := e["display_name"].GetStringValue(); name != "" {
			options[name] = id
		}
	}
	id, err := resolveNamedID("entry", input, options)
	if err != nil {
		fatal("resolve entry", err)
	}
	return id
}
