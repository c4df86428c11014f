package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxNotifyPayload is PostgreSQL's NOTIFY payload limit.
const maxNotifyPayload = 8000

// Postgres is a Bus on PostgreSQL LISTEN/NOTIFY. All events travel on one
// channel; handlers are matched by namespace on the receiving side, so one
// dedicated connection serves every subscription of the bus.
type Postgres struct {
	pool    *pgxpool.Pool
	channel string
	logger  *slog.Logger

	mu        sync.Mutex
	handlers  []handler
	listening bool
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
}

// handler is one registered subscription.
type handler struct {
	ctx       context.Context
	namespace string
	fn        func(Event)
	cancel    context.CancelFunc
}

// PostgresOption configures a Postgres bus.
type PostgresOption func(*Postgres)

// WithChannel sets the NOTIFY channel.
// Default: "memvault_events"
func WithChannel(name string) PostgresOption {
	return func(p *Postgres) {
		p.channel = name
	}
}

// WithLogger sets the logger for listener errors.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) PostgresOption {
	return func(p *Postgres) {
		p.logger = logger
	}
}

// NewPostgres creates a bus on pool. The pool must stay open for the
// lifetime of the bus.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		pool:    pool,
		channel: "memvault_events",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends e with pg_notify.
func (p *Postgres) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return ErrClosed
	}

	payload, err := e.marshal()
	if err != nil {
		return fmt.Errorf("watch: encode event: %w", err)
	}
	if len(payload) > maxNotifyPayload {
		return errors.New("watch: event exceeds PostgreSQL NOTIFY limit of 8000 bytes")
	}

	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload))
	return err
}

// Subscribe registers handler for namespace ("" for all namespaces). The
// first subscription acquires a dedicated connection and issues LISTEN.
func (p *Postgres) Subscribe(ctx context.Context, namespace string, fn func(Event)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	if !p.listening {
		if err := p.startListener(ctx); err != nil {
			return fmt.Errorf("watch: listen on %q: %w", p.channel, err)
		}
	}

	hctx, cancel := context.WithCancel(ctx)
	h := handler{ctx: hctx, namespace: namespace, fn: fn, cancel: cancel}
	p.handlers = append(p.handlers, h)

	go p.watchHandler(h)

	return nil
}

// startListener must be called with p.mu held.
func (p *Postgres) startListener(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		conn.Release()
		cancel()
		return err
	}

	p.listening = true
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.listen(listenCtx, conn)
	return nil
}

// listen waits for notifications and dispatches them to matching handlers.
func (p *Postgres) listen(ctx context.Context, conn *pgxpool.Conn) {
	defer close(p.done)
	defer func() {
		// The connection still has LISTEN active; destroy it rather than
		// returning it to the pool.
		conn.Conn().Close(context.Background())
		conn.Release()
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("watch listener stopped", "channel", p.channel, "error", err)
				p.mu.Lock()
				p.listening = false
				p.mu.Unlock()
			}
			return
		}

		e, err := unmarshalEvent([]byte(n.Payload))
		if err != nil {
			p.logger.Warn("watch: dropping malformed event", "channel", p.channel, "error", err)
			continue
		}

		p.mu.Lock()
		handlers := make([]handler, len(p.handlers))
		copy(handlers, p.handlers)
		p.mu.Unlock()

		for _, h := range handlers {
			if h.ctx.Err() != nil {
				continue
			}
			if h.namespace != "" && h.namespace != e.Namespace {
				continue
			}
			go h.fn(e)
		}
	}
}

// watchHandler removes h once its context ends.
func (p *Postgres) watchHandler(h handler) {
	<-h.ctx.Done()

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, other := range p.handlers {
		if other.ctx == h.ctx {
			p.handlers = append(p.handlers[:i:i], p.handlers[i+1:]...)
			break
		}
	}
}

// Close stops the listener and all handlers.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true

	for _, h := range p.handlers {
		h.cancel()
	}
	p.handlers = nil

	var done chan struct{}
	if p.listening {
		p.cancel()
		done = p.done
		p.listening = false
	}
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}
