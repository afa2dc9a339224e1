package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nebulamp/netcore/internal/chat"
	"github.com/nebulamp/netcore/internal/core"
	"github.com/nebulamp/netcore/internal/core/data"
	"github.com/nebulamp/netcore/internal/core/debug"
	"github.com/nebulamp/netcore/internal/dispatch"
	"github.com/nebulamp/netcore/internal/packets"
	"github.com/nebulamp/netcore/internal/server"
	"github.com/nebulamp/netcore/internal/session"
)

// Version is reported by the info chat command.
var Version = "dev"

// Controller is the main entrypoint for the server. It's responsible for
// initializing any shared resources (such as database and logging), wiring the
// session together, and running the simulation loop until the context is done.
type Controller struct {
	Config *core.Config

	logger   *logrus.Logger
	registry *prometheus.Registry
	metrics  *core.Metrics
	db       *gorm.DB
	journal  *data.Journal

	packets     *packets.Registry
	dispatcher  *dispatch.Dispatcher
	lifecycle   *session.Lifecycle
	connections *server.Connections

	wg sync.WaitGroup
}

// Start blocks until ctx is cancelled or a component fails to start.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	// Set up the logger, which will be used by all components.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(collectors.NewGoCollector())
	c.metrics = core.NewMetrics(c.registry)

	c.db, err = data.Open(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	c.journal = data.NewJournal(c.db, c.logger, 0)

	ctx, cancel := context.WithCancel(ctx)
	defer c.shutdown()
	defer cancel()

	if err := c.declareSession(); err != nil {
		return err
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debug.StartUtilities(ctx, c.logger,
			fmt.Sprintf("%s:%d", c.Config.Hostname, c.Config.Debugging.HTTPPort),
			debug.Router(c.registry, c.lifecycle.Players()),
		)
	}

	if err := c.startFrontends(ctx); err != nil {
		return err
	}
	c.run(ctx)
	return nil
}

// declareSession builds the packet registry, dispatcher and lifecycle and
// registers every packet handler.
func (c *Controller) declareSession() error {
	c.packets = packets.NewRegistry()
	if err := c.packets.RegisterAll(packets.SessionPackets, chat.Packets); err != nil {
		return err
	}

	c.dispatcher = dispatch.New(dispatch.Config{
		Registry: c.packets,
		Logger:   c.logger,
		Metrics:  c.metrics,
		Trace: func(origin *session.Conn, r packets.Resolved) {
			c.logger.Debugf("[DISPATCH] %s from %s", r.Name, origin)
		},
	})

	ids := session.NewIDAllocator()
	c.lifecycle = session.NewLifecycle(session.LifecycleConfig{
		Registry:    c.packets,
		IDs:         ids,
		Logger:      c.logger,
		Metrics:     c.metrics,
		Journal:     c.journal,
		DepartedTTL: c.Config.DepartedPlayerTTL,
	})
	restored, err := data.RestoreDepartures(c.db, c.lifecycle, c.Config.DepartedPlayerTTL)
	if err != nil {
		return fmt.Errorf("error restoring departed players: %w", err)
	}
	c.logger.Infof("[CONTROLLER] restored %d recently departed players", restored)

	chatServer := &chat.Server{Lifecycle: c.lifecycle, Logger: c.logger, Version: Version}
	if err := errors.Join(
		dispatch.Handle(c.dispatcher, c.lifecycle.HandleHandshake),
		dispatch.Handle(c.dispatcher, c.lifecycle.HandleSyncComplete),
		dispatch.Handle(c.dispatcher, c.lifecycle.HandlePlayerPosition),
		dispatch.Handle(c.dispatcher, c.lifecycle.HandlePing),
		chatServer.Register(c.dispatcher),
	); err != nil {
		return fmt.Errorf("error registering handlers: %w", err)
	}

	c.connections = &server.Connections{
		Config:     c.Config,
		Logger:     c.logger,
		Metrics:    c.metrics,
		Registry:   c.packets,
		IDs:        ids,
		Dispatcher: c.dispatcher,
		Lifecycle:  c.lifecycle,
	}
	return nil
}

// Failure to start one of the frontends is considered terminal.
func (c *Controller) startFrontends(ctx context.Context) error {
	tcp := &server.Frontend{Address: c.Config.ListenAddress(), Connections: c.connections}
	if err := tcp.Start(ctx, &c.wg); err != nil {
		return fmt.Errorf("error starting TCP frontend: %w", err)
	}

	if c.Config.WebsocketPort != 0 {
		ws := &server.WebsocketFrontend{Address: c.Config.WebsocketAddress(), Connections: c.connections}
		if err := ws.Start(ctx, &c.wg); err != nil {
			return fmt.Errorf("error starting websocket frontend: %w", err)
		}
	}
	return nil
}

// run is the simulation loop. Every packet handler and lifecycle change happens
// on this goroutine, once per tick.
func (c *Controller) run(ctx context.Context) {
	ticker := time.NewTicker(c.Config.TickInterval())
	defer ticker.Stop()

	c.logger.Infof("[CONTROLLER] simulating at %d ticks per second", c.Config.TickRate)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.dispatcher.Drain()
		}
	}
}

func (c *Controller) shutdown() {
	c.wg.Wait()
	if c.connections != nil {
		c.connections.Wait()
	}
	// Departures posted by the closing connections still need to be journaled.
	for c.dispatcher != nil && c.dispatcher.Pending() > 0 {
		c.dispatcher.Drain()
	}
	c.journal.Close()
	if err := data.Close(c.db); err != nil {
		c.logger.Warnf("[CONTROLLER] error closing database: %v", err)
	}
	c.logger.Infof("[CONTROLLER] shut down")
}

