package pubsub

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/Billy-Davies-2/draft-copilot/internal/logger"
)

// EmbeddedNATS runs a NATS server in-process and exposes it as an Upstream.
// Development gets real JetStream semantics without external infrastructure.
type EmbeddedNATS struct {
	*NATSPubSub
	server *server.Server
}

// EmbeddedNATSOptions configures the embedded server.
type EmbeddedNATSOptions struct {
	Port     int    // 0 or -1 picks a random available port
	Subject  string // subject draft events are published on
	StoreDir string // JetStream storage dir; empty keeps it in memory
}

// NewEmbeddedNATS starts an in-process NATS server with JetStream and wires
// a NATSPubSub to it.
func NewEmbeddedNATS(opts EmbeddedNATSOptions) (*EmbeddedNATS, error) {
	port := opts.Port
	if port == 0 {
		port = -1 // random available port
	}

	serverOpts := &server.Options{
		Port:      port,
		JetStream: true,
		NoSigs:    true,
	}
	if opts.StoreDir != "" {
		serverOpts.StoreDir = opts.StoreDir
	}

	ns, err := server.NewServer(serverOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}
	ns.SetLogger(&natsLogger{}, false, false)

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
	}

	ps, err := NewNATSPubSub(ns.ClientURL(), opts.Subject)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}

	return &EmbeddedNATS{NATSPubSub: ps, server: ns}, nil
}

// ServerURL returns the client URL of the embedded server.
func (e *EmbeddedNATS) ServerURL() string {
	return e.server.ClientURL()
}

// Close stops the pubsub and shuts the embedded server down.
func (e *EmbeddedNATS) Close() {
	e.NATSPubSub.Close()
	e.server.Shutdown()
	e.server.WaitForShutdown()
}

// natsLogger routes embedded server logs through the service logger.
type natsLogger struct{}

func (natsLogger) Noticef(format string, v ...any) { logger.Debug(fmt.Sprintf(format, v...)) }
func (natsLogger) Warnf(format string, v ...any)   { logger.Warn(fmt.Sprintf(format, v...)) }
func (natsLogger) Fatalf(format string, v ...any)  { logger.Error(fmt.Sprintf(format, v...)) }
func (natsLogger) Errorf(format string, v ...any)  { logger.Error(fmt.Sprintf(format, v...)) }
func (natsLogger) Debugf(format string, v ...any)  { logger.Debug(fmt.Sprintf(format, v...)) }
func (natsLogger) Tracef(format string, v ...any)  { logger.Debug(fmt.Sprintf(format, v...)) }
