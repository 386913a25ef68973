package core

import (
	"context"
	"net"
	"time"

	"github.com/hako/durafmt"
	"github.com/remeh/sizedwaitgroup"

	"chatd/config"
	"chatd/internal/chat"
	chaterrors "chatd/internal/errors"
	"chatd/internal/metrics"
	"chatd/internal/retry"
	"chatd/internal/transport"
	"chatd/util"
)

// ServeMode runs the chat server: one listener, one reader goroutine
// per connection, one coordinator goroutine.
type ServeMode struct {
	Address     string
	Opener      transport.Opener
	Chat        chat.Config
	ReadSize    int
	MaxClients  int
	GracePeriod time.Duration
	Logger      *util.Logger
	Metrics     *metrics.Collector

	// Ready, when set, is called with the bound address once the
	// listener is up.
	Ready func(addr net.Addr)
}

// Run binds the listener and serves until ctx is cancelled.
func (m *ServeMode) Run(ctx context.Context) error {
	ln, err := m.Opener.Listen(ctx, m.Address)
	if err != nil {
		return err
	}
	defer ln.Close()

	m.Logger.Info("listening on %s", ln.Addr())
	if m.Ready != nil {
		m.Ready(ln.Addr())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopListener := context.AfterFunc(ctx, func() { ln.Close() })
	defer stopListener()

	// Readers get their own context so that live connections are only
	// torn down after the coordinator has said goodbye to them.
	connCtx, closeConns := context.WithCancel(context.Background())
	defer closeConns()

	queue := chat.NewQueue()
	defer queue.Close()

	coord := chat.New(m.Chat)
	coordDone := make(chan error, 1)
	go func() { coordDone <- coord.Run(ctx, queue.Events()) }()

	readers := sizedwaitgroup.New(m.maxClients())
	acceptErr := m.accept(ctx, ln, queue, connCtx, &readers)

	// ── Shutdown ─────────────────────────────────────────────────────
	cancel()
	err = <-coordDone
	m.Logger.Verbose("shutting down, %d session(s) open", coord.Len())
	coord.Shutdown()
	queue.Close()
	closeConns()
	m.wait(&readers)

	m.Logger.Verbose("metrics: %s", m.Metrics.JSON())
	if acceptErr != nil {
		return acceptErr
	}
	return err
}

// accept hands every inbound connection to a new reader.  Temporary
// accept failures (EMFILE, ECONNABORTED) are retried with backoff;
// any other failure ends the loop.  When MaxClients readers are live,
// accepting pauses until one exits.
func (m *ServeMode) accept(ctx context.Context, ln transport.Listener, queue Pusher,
	connCtx context.Context, readers *sizedwaitgroup.SizedWaitGroup) error {

	backoff := retry.AcceptBackoff()
	backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		m.Metrics.RecordError("accept failed")
		m.Logger.Error("could not accept connection (attempt %d, retrying in %s): %v", attempt, wait, err)
	}
	addr := ln.Addr().String()

	for {
		if err := readers.AddWithContext(ctx); err != nil {
			return nil
		}

		var nc net.Conn
		err := backoff.Do(ctx, func(int) error {
			c, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || chaterrors.Is(err, net.ErrClosed) {
					return retry.Permanent(err)
				}
				werr := chaterrors.Wrap("accept", addr, err)
				if !chaterrors.IsRetryable(werr) {
					return retry.Permanent(werr)
				}
				return werr
			}
			nc = c
			return nil
		})
		if err != nil {
			readers.Done()
			if ctx.Err() != nil || chaterrors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		m.Logger.Debug("accepted %v", m.Logger.Sens(nc.RemoteAddr()))
		r := &reader{
			conn:     nc,
			events:   queue,
			readSize: m.ReadSize,
			log:      m.Logger,
			metrics:  m.Metrics,
		}
		stop := context.AfterFunc(connCtx, func() { nc.Close() })
		go func() {
			defer readers.Done()
			defer stop()
			r.run()
		}()
	}
}

// wait blocks until every reader has exited or the grace period runs
// out.
func (m *ServeMode) wait(readers *sizedwaitgroup.SizedWaitGroup) {
	done := make(chan struct{})
	go func() {
		readers.Wait()
		close(done)
	}()

	if m.GracePeriod <= 0 {
		return
	}
	select {
	case <-done:
	case <-time.After(m.GracePeriod):
		m.Logger.Warn("%d reader(s) still running after %s, giving up",
			m.Metrics.ActiveConnections(), durafmt.Parse(m.GracePeriod).LimitFirstN(2))
	}
}

func (m *ServeMode) maxClients() int {
	if m.MaxClients > 0 {
		return m.MaxClients
	}
	return config.DefaultMaxClients
}
