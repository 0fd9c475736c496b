// Command emberraftd runs a single Raft node backed by an in-memory log
// store and an in-memory key-value state machine, for local experimentation
// with leader election and log replication.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/embermq/embermq/raft"
	"github.com/embermq/embermq/raft/server"
	"github.com/embermq/embermq/raft/store"
	"github.com/embermq/embermq/pkg/logger"
)

// kvState is a trivial in-memory key-value State, split on "=" for mutate
// commands and treating the whole command as a lookup key for queries.
type kvState struct {
	data         map[string]string
	appliedIndex uint64
}

func newKVState() *kvState { return &kvState{data: make(map[string]string)} }

func (s *kvState) AppliedIndex() uint64 { return s.appliedIndex }

func (s *kvState) Mutate(index uint64, command []byte) ([]byte, error) {
	parts := strings.SplitN(string(command), "=", 2)
	if len(parts) == 2 {
		s.data[parts[0]] = parts[1]
	}
	s.appliedIndex = index
	return []byte("ok"), nil
}

func (s *kvState) Query(command []byte) ([]byte, error) {
	return []byte(s.data[string(command)]), nil
}

func main() {
	id := flag.String("id", "node1", "node id")
	peersFlag := flag.String("peers", "", "comma-separated peer ids")
	flag.Parse()

	log := logger.NewSlogLogger(slog.LevelInfo, os.Stdout)
	slog.SetDefault(log.Logger())

	var peers []string
	if *peersFlag != "" {
		peers = strings.Split(*peersFlag, ",")
	}

	raftLog, err := raft.NewLog(store.NewMemory())
	if err != nil {
		slog.Error("failed to build raft log", "error", err)
		os.Exit(1)
	}

	registry := raft.NewLocalRegistry()
	transport := registry.Register(*id, 256)

	state := newKVState()
	srv, err := server.New(*id, peers, raftLog, state, transport)
	if err != nil {
		slog.Error("failed to build raft server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("emberraftd starting", "id", *id, "peers", peers)
	go func() {
		if err := srv.Run(ctx, state); err != nil {
			slog.Error("raft server stopped", "error", err)
		}
	}()

	client := srv.Client()
	go func() {
		time.Sleep(2 * time.Second)
		status, err := client.Status(ctx)
		if err != nil {
			slog.Warn("status request failed", "error", err)
			return
		}
		slog.Info("raft status", "term", status.Term, "leader", status.Leader, "commit_index", status.CommitIndex)
	}()

	<-ctx.Done()
}
