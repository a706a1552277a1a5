package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"feedsync/internal/publisher"
	"feedsync/internal/transport"
	"feedsync/internal/wire"
)

// DefaultTickInterval is used when Config.TickInterval is not set
const DefaultTickInterval = 100 * time.Millisecond

// Transport is the duplex connection a session drives
type Transport interface {
	Connect(ctx context.Context) error
	Close()
	Send(data []byte) time.Duration
	Incoming() <-chan []byte
	Status() <-chan transport.Status
}

// Handler receives everything the publisher produces.
// Both methods run on the session goroutine; they may call Activate and
// Deactivate, which take effect on the next tick.
type Handler interface {
	OnMessages(messages []publisher.DataMessage)
	OnAuth(env *wire.Envelope)
}

// ConnectionObserver is notified of transport state changes
type ConnectionObserver interface {
	ConnectionChanged(online bool)
}

// Config holds session settings
type Config struct {
	TickInterval time.Duration
	Publisher    publisher.Config
}

// Options are the session's optional and pluggable collaborators
type Options struct {
	Encoder  publisher.Encoder
	Decoder  publisher.Decoder
	Recorder publisher.Recorder
	Observer ConnectionObserver
}

type commandKind int

const (
	commandActivate commandKind = iota
	commandDeactivate
)

type command struct {
	kind commandKind
	sub  *publisher.Subscription
}

// Session owns a publisher.Manager and its transport. All Manager calls
// happen on one goroutine; other goroutines reach it through Activate and
// Deactivate.
type Session struct {
	manager   *publisher.Manager
	transport Transport
	handler   Handler
	observer  ConnectionObserver
	interval  time.Duration
	logger    zerolog.Logger

	commandsMu sync.Mutex
	commands   []command
	wake       chan struct{}
}

// authForwarder hands Auth envelopes to the session handler
type authForwarder struct {
	handler Handler
}

func (a authForwarder) OnAuthEnvelope(env *wire.Envelope) {
	a.handler.OnAuth(env)
}

// New creates a session
func New(cfg Config, tr Transport, handler Handler, opts Options, logger zerolog.Logger) (*Session, error) {
	if tr == nil {
		return nil, errors.New("transport is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	manager, err := publisher.NewManager(cfg.Publisher, publisher.Collaborators{
		Encoder:  opts.Encoder,
		Decoder:  opts.Decoder,
		Sender:   tr,
		Auth:     authForwarder{handler: handler},
		Recorder: opts.Recorder,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	return &Session{
		manager:   manager,
		transport: tr,
		handler:   handler,
		observer:  opts.Observer,
		interval:  cfg.TickInterval,
		logger:    logger.With().Str("component", "session").Logger(),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Activate schedules sub for activation. Safe for concurrent use.
func (s *Session) Activate(sub *publisher.Subscription) {
	s.enqueue(command{kind: commandActivate, sub: sub})
}

// Deactivate schedules sub for removal. Safe for concurrent use.
func (s *Session) Deactivate(sub *publisher.Subscription) {
	s.enqueue(command{kind: commandDeactivate, sub: sub})
}

func (s *Session) enqueue(cmd command) {
	s.commandsMu.Lock()
	s.commands = append(s.commands, cmd)
	s.commandsMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run connects the transport and drives the publisher until ctx is done or
// the publisher reports a fatal error, which is returned.
func (s *Session) Run(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.transport.Close()
		return nil
	})

	return g.Wait()
}

func (s *Session) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	incoming := s.transport.Incoming()
	status := s.transport.Status()

	s.logger.Info().Dur("tickInterval", s.interval).Msg("Session started")
	defer s.logger.Info().Msg("Session stopped")

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.wake:
			s.runCommands()

		case data, ok := <-incoming:
			if !ok {
				incoming = nil
				continue
			}
			s.manager.EnqueueIncoming(data)

		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			s.statusChanged(st)

		case now := <-ticker.C:
			if err := s.tick(now); err != nil {
				return err
			}
		}
	}
}

func (s *Session) tick(now time.Time) error {
	s.runCommands()

	messages, err := s.manager.Exercise(now)
	if len(messages) > 0 {
		s.handler.OnMessages(messages)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Publisher failed")
		return fmt.Errorf("publisher failed: %w", err)
	}
	return nil
}

func (s *Session) runCommands() {
	s.commandsMu.Lock()
	commands := s.commands
	s.commands = nil
	s.commandsMu.Unlock()

	for _, cmd := range commands {
		switch cmd.kind {
		case commandActivate:
			if err := s.manager.Activate(cmd.sub); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to activate subscription")
			}
		case commandDeactivate:
			s.manager.Deactivate(cmd.sub)
		}
	}
}

func (s *Session) statusChanged(st transport.Status) {
	s.logger.Info().Str("status", st.String()).Msg("Transport status changed")

	switch st {
	case transport.StatusOffline:
		if s.manager.IsOffline() {
			return
		}
		s.manager.Offline()
	case transport.StatusOnline:
		s.manager.Online()
		s.resubscribe()
	}

	if s.observer != nil {
		s.observer.ConnectionChanged(st == transport.StatusOnline)
	}
}

// resubscribe activates inactive subscriptions after a reconnect. One-shot
// requests that already went out and may not be resent are dropped instead;
// their owners were told through the Offlined error.
func (s *Session) resubscribe() {
	resent, dropped := 0, 0
	for _, sub := range s.manager.Subscriptions() {
		if sub.State() != publisher.StateInactive {
			continue
		}
		if sub.ResendAllowed() || !sub.BeenSentAtLeastOnce() {
			if err := s.manager.Activate(sub); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to reactivate subscription")
				continue
			}
			resent++
			continue
		}
		s.manager.Deactivate(sub)
		dropped++
	}

	if resent > 0 || dropped > 0 {
		s.logger.Info().
			Int("resubscribed", resent).
			Int("dropped", dropped).
			Msg("Subscriptions resynchronised")
	}
}
