package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/apsystems-local/internal/rpc"
	"github.com/joshp123/apsystems-local/plugins/apsystems"
)

func deviceCmd(ctx context.Context, conn *grpc.ClientConn, command string, args []string) {
	flags := flag.NewFlagSet(command, flag.ExitOnError)
	entryName := flags.String("entry", "", "Device entry name (optional with a single device)")
	jsonOutput := flags.Bool("json", false, "Print raw JSON")
	positional := parseInterleaved(flags, args)
	out := outputMode{json: *jsonOutput}

	req := map[string]any{}
	if *entryName != "" {
		req["entry"] = resolveEntry(ctx, conn, *entryName)
	}

	action := ""
	if len(positional) > 0 {
		action = positional[0]
	}

	switch command {
	case "snapshot", "refresh":
		method := "GetSnapshot"
		if command == "refresh" {
			method = "Refresh"
		}
		resp := invokeDevice(ctx, conn, method, req)
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		printSnapshot(out, resp)
	case "info":
		resp := invokeDevice(ctx, conn, "GetDeviceInfo", req)
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		rows := [][]string{{"FIELD", "VALUE"}}
		for _, key := range []string{"entry", "device_id", "firmware", "ssid", "ip_address", "min_power", "max_power"} {
			rows = append(rows, []string{key, formatValue(resp.GetFields()[key])})
		}
		out.table(rows)
	case "entities":
		resp := invokeDevice(ctx, conn, "ListEntities", req)
		if out.json {
			out.printJSON(resp.AsMap())
			return
		}
		rows := [][]string{{"ENTITY", "PLATFORM", "STATE", "UNIT", "AVAILABLE"}}
		for _, v := range resp.GetFields()["entities"].GetListValue().GetValues() {
			rows = append(rows, entityRow(v.GetStructValue()))
		}
		out.table(rows)
	case "max-power":
		method := "GetMaxPower"
		switch action {
		case "", "get":
		case "set":
			if len(positional) < 2 {
				fatal("max-power set", fmt.Errorf("missing watts"))
			}
			watts, err := strconv.Atoi(positional[1])
			if err != nil {
				fatal("max-power set", fmt.Errorf("invalid watts %q", positional[1]))
			}
			req["watts"] = watts
			method = "SetMaxPower"
		default:
			usage()
			os.Exit(2)
		}
		printEntity(out, invokeDevice(ctx, conn, method, req))
	case "power":
		method := "GetPowerStatus"
		switch action {
		case "", "status":
		case "on", "off":
			req["on"] = action == "on"
			method = "SetPowerStatus"
		default:
			usage()
			os.Exit(2)
		}
		printEntity(out, invokeDevice(ctx, conn, method, req))
	}
}

func invokeDevice(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]any) *structpb.Struct {
	resp, err := rpc.Invoke(ctx, conn, apsystems.ApsystemsRPC, method, req)
	if err != nil {
		fatal(method, err)
	}
	return resp
}

// parseInterleaved parses flags that may follow positional arguments.
func parseInterleaved(flags *flag.FlagSet, args []string) []string {
	var positional []string
	for {
		_ = flags.Parse(args)
		args = flags.Args()
		if len(args) == 0 {
			return positional
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func printSnapshot(out outputMode, resp *structpb.Struct) {
	fields := resp.GetFields()
	rows := [][]string{{"KEY", "VALUE"}}
	values := fields["values"].GetStructValue().GetFields()
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rows = append(rows, []string{key, formatValue(values[key])})
	}
	out.table(rows)

	fmt.Println()
	fmt.Printf("last_update_success: %t\n", fields["last_update_success"].GetBoolValue())
	if v := fields["last_updated"].GetStringValue(); v != "" {
		fmt.Printf("last_updated: %s\n", v)
	}
	if v := fields["last_error"].GetStringValue(); v != "" {
		fmt.Printf("last_error: %s\n", v)
	}
}

func printEntity(out outputMode, resp *structpb.Struct) {
	if out.json {
		out.printJSON(resp.AsMap())
		return
	}
	out.table([][]string{{"ENTITY", "PLATFORM", "STATE", "UNIT", "AVAILABLE"}, entityRow(resp)})
}

func entityRow(s *structpb.Struct) []string {
	f := s.GetFields()
	return []string{
		f["unique_id"].GetStringValue(),
		f["platform"].GetStringValue(),
		f["state"].GetStringValue(),
		f["unit"].GetStringValue(),
		strconv.FormatBool(f["available"].GetBoolValue()),
	}
}
