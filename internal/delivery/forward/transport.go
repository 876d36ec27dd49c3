// Package forward hands records to a forward-protocol peer (Fluent forward "Forward mode" over TCP).
// The peer's address is resolved lazily, at most once.
package forward

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"fleet-log-router/internal/discovery"
	"fleet-log-router/internal/logger"
	"fleet-log-router/internal/routing/domain"
	telemetryotel "fleet-log-router/internal/telemetry/otel"
)

const defaultTimeout = 60 * time.Second

// message is one Forward mode message: [tag, [[time, record], ...], option].
type message struct {
	_msgpack struct{} `msgpack:",as_array"`
	Tag      string
	Entries  []entry
	Option   option
}

type entry struct {
	_msgpack struct{} `msgpack:",as_array"`
	Time     int64
	Record   domain.Record
}

type option struct {
	Chunk string `msgpack:"chunk,omitempty"`
	Size  int    `msgpack:"size"`
}

type ackResponse struct {
	Ack string `msgpack:"ack"`
}

// Options configures a Transport.
type Options struct {
	// Resolver supplies the peer host. Required.
	Resolver discovery.AddressResolver
	// Port of the peer (default 24224).
	Port int
	// Timeout bounds dialing, writing and waiting for an ack (default 60s).
	Timeout time.Duration
	// RequireAck makes every message carry a chunk id the peer must echo back.
	RequireAck bool
}

// Transport is the forward delivery target.
type Transport struct {
	resolver   discovery.AddressResolver
	port       int
	timeout    time.Duration
	requireAck bool
	inst       *telemetryotel.Instruments
	log        logger.Logger

	resolveOnce sync.Once
	host        string
	resolveErr  error

	mu   sync.Mutex
	conn net.Conn
	dec  *msgpack.Decoder
}

// New returns a Transport. The peer address is not resolved until Prepare or the first Deliver.
func New(opts Options, inst *telemetryotel.Instruments, log logger.Logger) (*Transport, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("%w: forward target needs an address resolver", domain.ErrConfig)
	}
	if opts.Port == 0 {
		opts.Port = 24224
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: forward port %d out of range", domain.ErrConfig, opts.Port)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if inst == nil {
		inst = telemetryotel.NopInstruments()
	}
	return &Transport{
		resolver:   opts.Resolver,
		port:       opts.Port,
		timeout:    opts.Timeout,
		requireAck: opts.RequireAck,
		inst:       inst,
		log:        log.WithComponent("forward"),
	}, nil
}

func (t *Transport) Kind() domain.TargetKind { return domain.TargetForward }

// Prepare resolves the peer host. Resolution runs once; its error, if any, is returned from every
// later call and wraps domain.ErrConfig.
func (t *Transport) Prepare(ctx context.Context) error {
	t.resolveOnce.Do(func() {
		host, err := t.resolver.Resolve(ctx)
		if err == nil && host == "" {
			err = errors.New("resolver returned an empty host")
		}
		if err != nil {
			if !errors.Is(err, domain.ErrConfig) {
				err = fmt.Errorf("%w: %w", domain.ErrConfig, err)
			}
			t.resolveErr = err
			return
		}
		t.host = host
		t.log.Info().Str("host", host).Int("port", t.port).Msg("forwarding host resolved")
	})
	return t.resolveErr
}

// Addr returns the resolved peer address, or "" before a successful Prepare.
func (t *Transport) Addr() string {
	if t.host == "" {
		return ""
	}
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// Deliver sends es to the peer. Consecutive entries sharing a tag go out as one message.
// Nil records are skipped.
func (t *Transport) Deliver(ctx context.Context, es domain.Emission) error {
	if err := t.Prepare(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		tag     string
		pending []entry
	)
	for _, e := range es {
		if e.Record == nil {
			continue
		}
		if len(pending) > 0 && e.Tag != tag {
			if err := t.send(ctx, tag, pending); err != nil {
				return err
			}
			pending = nil
		}
		tag = e.Tag
		pending = append(pending, entry{Time: e.Time.Unix(), Record: e.Record})
	}
	if len(pending) == 0 {
		return nil
	}
	return t.send(ctx, tag, pending)
}

// Close closes the peer connection if one is open.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropConn()
}

func (t *Transport) dropConn() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn, t.dec = nil, nil
	return err
}

func (t *Transport) connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: t.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return fmt.Errorf("forward: dial %s: %w", t.Addr(), err)
	}
	t.conn = conn
	t.dec = msgpack.NewDecoder(conn)
	return nil
}

func (t *Transport) send(ctx context.Context, tag string, entries []entry) (err error) {
	defer func() {
		if err != nil {
			_ = t.dropConn()
			t.inst.BatchFailed(ctx, domain.TargetForward.String())
			t.log.Error().Err(err).Str("tag", tag).Int("records", len(entries)).Msg("forward failed")
		}
	}()

	msg := message{Tag: tag, Entries: entries, Option: option{Size: len(entries)}}
	if t.requireAck {
		id := uuid.New()
		msg.Option.Chunk = base64.StdEncoding.EncodeToString(id[:])
	}
	payload, err := msgpack.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("forward: encode: %w", err)
	}

	if err := t.connect(ctx); err != nil {
		return err
	}
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("forward: set deadline: %w", err)
	}
	if _, err := t.conn.Write(payload); err != nil {
		return fmt.Errorf("forward: write to %s: %w", t.Addr(), err)
	}

	if t.requireAck {
		var resp ackResponse
		if err := t.dec.Decode(&resp); err != nil {
			return fmt.Errorf("forward: read ack from %s: %w", t.Addr(), err)
		}
		if resp.Ack != msg.Option.Chunk {
			return fmt.Errorf("forward: ack mismatch from %s: got %q, want %q", t.Addr(), resp.Ack, msg.Option.Chunk)
		}
	}

	t.inst.BatchSent(ctx, domain.TargetForward.String(), len(entries))
	t.log.Debug().Str("tag", tag).Int("records", len(entries)).Str("addr", t.Addr()).Msg("forwarded")
	return nil
}
