package main

import "testing"

func TestResolveNamedID(t *testing.T) {
	options := map[string]string{
		"solar":                  "solar",
		"APsystems EZ1-M (roof)": "roof",
	}
	tests := []struct {
		input string
		want  string
	}{
		{input: "solar", want: "solar"},
		{input: " SOLAR ", want: "solar"},
		{input: "apsystems ez1 m (roof)", want: "roof"},
	}
	for _, tt := range tests {
		got, err := resolveNamedID("entry", tt.input, options)
		if err != nil {
			t.Fatalf("resolve %q: %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("resolve %q = %q, want %q", tt.input, got, tt.want)
		}
	}
	if _, err := resolveNamedID("entry", "garage", options); err == nil {
		t.Fatalf("expected error for unknown entry")
	}
}

func TestDialAddr(t *testing.T) {
	for listen, want := range map[string]string{
		"0.0.0.0:9000":  "localhost:9000",
		":9000":         "localhost:9000",
		"10.0.0.5:9000": "10.0.0.5:9000",
	} {
		if got := dialAddr(listen); got != want {
			t.Fatalf("dialAddr(%q) = %q, want %q", listen, got, want)
		}
	}
}
