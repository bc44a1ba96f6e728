package nodeconfig

import "testing"

func TestMissingPortDefaultsTo5000(t *testing.T) {
	cfg, err := Parse([]string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("got port %d, want %d", cfg.Port, DefaultPort)
	}
}

func TestInvalidPortRejected(t *testing.T) {
	if _, err := Parse([]string{"--port", "70000"}); err == nil {
		t.Fatalf("expected an error for an out-of-range port")
	}
	if _, err := Parse([]string{"--port", "0"}); err != nil {
		t.Fatalf("--port 0 should be treated as 'not given' and default, got %v", err)
	}
}

func TestNodeListParsing(t *testing.T) {
	cfg, err := Parse([]string{"--nodes", "a.example:5001,b.example:5002"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(cfg.Nodes))
	}
	if cfg.Nodes[0].String() != "a.example:5001" || cfg.Nodes[1].String() != "b.example:5002" {
		t.Fatalf("unexpected nodes: %+v", cfg.Nodes)
	}
}

func TestInvalidLogLevelRejected(t *testing.T) {
	if _, err := Parse([]string{"--loglevel", "verbose"}); err == nil {
		t.Fatalf("expected an error for an unknown log level")
	}
}

func TestWebInterfaceShorthandFlag(t *testing.T) {
	cfg, err := Parse([]string{"-w"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.EnableWebInterface {
		t.Fatalf("expected -w to enable the web interface")
	}
}
