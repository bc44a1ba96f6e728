// Package nodeconfig parses and validates the CLI surface of spec §6:
// --port/-p, --nodes/-n, --enablewebinterface/-w, --loglocation/-l,
// --loglevel, --help/-h. Grounded on the teacher's config/config.go, which
// centralizes parsed settings into one struct before the rest of the
// program ever sees them — generalized here from GNUnet's JSON-file config
// to the standard `flag` package, matching how cmd/peer_mockup/main.go and
// cmd/gnunet-service-dht-go/main.go parse their own CLI flags.
package nodeconfig

import (
	"flag"
	"fmt"
	"strings"

	"github.com/CaptainCow95/DatabaseV2/internal/applog"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

// DefaultPort is used when --port is omitted (spec §6: "missing port
// defaults to 5000").
const DefaultPort = 5000

// Config is the validated, defaulted view of the CLI consumed by the rest
// of the program.
type Config struct {
	Port               int
	Nodes              []wire.NodeID
	EnableWebInterface bool
	LogLocation        string
	LogLevel           applog.Level
}

var levelNames = map[string]applog.Level{
	"debug":   applog.Debug,
	"info":    applog.Info,
	"warning": applog.Warning,
	"error":   applog.Error,
}

// Parse parses args (normally os.Args[1:]) into a validated Config.
// Invalid values other than a missing port are rejected with an error
// (spec §7 ConfigError: "only the absence of a port is permissive").
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("databasenode", flag.ContinueOnError)

	var (
		port     int
		nodes    string
		webUI    bool
		logLoc   string
		logLevel string
	)
	fs.IntVar(&port, "port", 0, "listen port (default 5000)")
	fs.IntVar(&port, "p", 0, "shorthand for --port")
	fs.StringVar(&nodes, "nodes", "", "comma-separated host:port list of peers to join")
	fs.StringVar(&nodes, "n", "", "shorthand for --nodes")
	fs.BoolVar(&webUI, "enablewebinterface", false, "serve the read-only status page")
	fs.BoolVar(&webUI, "w", false, "shorthand for --enablewebinterface")
	fs.StringVar(&logLoc, "loglocation", "", "file path to write logs to")
	fs.StringVar(&logLoc, "l", "", "shorthand for --loglocation")
	fs.StringVar(&logLevel, "loglevel", "info", "one of debug, info, warning, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{EnableWebInterface: webUI, LogLocation: logLoc}

	if port == 0 {
		applog.Logf(applog.Warning, "[nodeconfig] no --port given, defaulting to %d", DefaultPort)
		port = DefaultPort
	} else if port < 1 || port > 65535 {
		return Config{}, fmt.Errorf("nodeconfig: invalid port %d (must be 1-65535)", port)
	}
	cfg.Port = port

	lvl, ok := levelNames[strings.ToLower(logLevel)]
	if !ok {
		return Config{}, fmt.Errorf("nodeconfig: invalid --loglevel %q (want debug, info, warning or error)", logLevel)
	}
	cfg.LogLevel = lvl

	if nodes != "" {
		for _, raw := range strings.Split(nodes, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			n, err := wire.ParseNodeID(raw)
			if err != nil {
				return Config{}, fmt.Errorf("nodeconfig: invalid --nodes entry %q: %w", raw, err)
			}
			cfg.Nodes = append(cfg.Nodes, n)
		}
	}

	return cfg, nil
}
