// This file is part of DatabaseV2.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CaptainCow95/DatabaseV2/internal/applog"
	"github.com/CaptainCow95/DatabaseV2/internal/chord"
	"github.com/CaptainCow95/DatabaseV2/internal/chunk"
	"github.com/CaptainCow95/DatabaseV2/internal/election"
	"github.com/CaptainCow95/DatabaseV2/internal/httpstatus"
	"github.com/CaptainCow95/DatabaseV2/internal/netengine"
	"github.com/CaptainCow95/DatabaseV2/internal/nodeconfig"
	"github.com/CaptainCow95/DatabaseV2/internal/registry"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

func main() {
	cfg, err := nodeconfig.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "databasenode: "+err.Error())
		os.Exit(1)
	}
	if cfg.LogLocation != "" {
		if err := applog.SetLogFile(cfg.LogLocation); err != nil {
			fmt.Fprintln(os.Stderr, "databasenode: failed to open log file: "+err.Error())
			os.Exit(1)
		}
		defer applog.Close()
	}
	applog.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	self := wire.NewNodeID("localhost", cfg.Port)
	reg := registry.New()
	engine := netengine.New(self, reg)

	electionCore := election.New(engine, self, append([]wire.NodeID{self}, cfg.Nodes...))
	chordCore := chord.New(engine, self)
	chunkTable := chunk.GateToLeader(chunk.New(), func() bool { return electionCore.Snapshot().IsLeader })

	applog.Logf(applog.Info, "[databasenode] local node is %s", self)
	applog.Logf(applog.Debug, "[databasenode] chunk table starts with %d entries", len(chunkTable.Snapshot()))

	engine.Start(ctx)
	go engine.RunMaintenance(ctx)
	go engine.RunHeartbeat(ctx)
	go chordCore.RunStabilize(ctx)
	go electionCore.RunMaintenance(ctx)

	for _, peer := range cfg.Nodes {
		reg.AddDesired(peer)
	}
	chordCore.Join(ctx, cfg.Nodes)

	go func() {
		if err := reg.AcceptLoop(cfg.Port); err != nil {
			applog.Logf(applog.Error, "[databasenode] accept loop failed: %v", err)
		}
	}()

	if cfg.EnableWebInterface {
		status := httpstatus.New(httpstatus.ConnectedFromRegistry(reg))
		if err := status.Start(ctx, cfg.Port+1); err != nil {
			applog.Logf(applog.Warning, "[databasenode] status page failed to start: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 5)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stdinCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			stdinCh <- scanner.Text()
		}
		close(stdinCh)
	}()

loop:
	for {
		select {
		case sig := <-sigCh:
			applog.Logf(applog.Info, "[databasenode] terminating on signal %s", sig)
			break loop
		case line, ok := <-stdinCh:
			if !ok {
				break loop
			}
			if strings.TrimSpace(line) == "exit" {
				applog.Logf(applog.Info, "[databasenode] terminating on 'exit'")
				break loop
			}
		}
	}

	cancel()
	reg.Shutdown()
	applog.Flush()
}
