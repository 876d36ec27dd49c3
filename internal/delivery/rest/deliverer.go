// Package rest delivers records to the collection API as JSON batches over authenticated HTTP(S).
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fleet-log-router/internal/logger"
	"fleet-log-router/internal/routing/domain"
	telemetryotel "fleet-log-router/internal/telemetry/otel"
)

const (
	// Path is the collection endpoint on the REST host.
	Path = "/v3/fluent"

	// readTimeout bounds the wait for a response to a single POST.
	readTimeout = 300 * time.Second

	// maxErrorBody is how many characters of a failed response body are kept in the error.
	maxErrorBody = 500

	tagField  = "_tag"
	timeField = "_time"
)

// StatusError is returned when the collection API answers with anything but 200.
type StatusError struct {
	Code string
	Body string // at most maxErrorBody characters
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: bad HTTP response %s: %s", e.Code, e.Body)
}

// Options configures a Deliverer.
type Options struct {
	Host       string
	Port       int
	DN         string
	Password   string
	MaxRecords int
	// ResponseTimeout bounds the wait for response headers once the request is written
	// (default 300s). Ignored when HTTPClient is set.
	ResponseTimeout time.Duration
	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
}

// Deliverer splits emissions into batches of at most MaxRecords and POSTs each batch.
type Deliverer struct {
	endpoint   string
	dn         string
	password   string
	maxRecords int
	client     *http.Client
	inst       *telemetryotel.Instruments
	log        logger.Logger
}

// New validates opts and returns a Deliverer. Validation failures wrap domain.ErrConfig.
func New(opts Options, inst *telemetryotel.Instruments, log logger.Logger) (*Deliverer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: rest host is empty", domain.ErrConfig)
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: rest port %d out of range", domain.ErrConfig, opts.Port)
	}
	if opts.MaxRecords < 1 {
		return nil, fmt.Errorf("%w: max records must be at least 1, got %d", domain.ErrConfig, opts.MaxRecords)
	}
	if opts.DN == "" || opts.Password == "" {
		return nil, fmt.Errorf("%w: rest delivery requires ldap dn and password", domain.ErrConfig)
	}
	client := opts.HTTPClient
	if client == nil {
		client = newClient(opts.ResponseTimeout)
	}
	if inst == nil {
		inst = telemetryotel.NopInstruments()
	}
	d := &Deliverer{
		endpoint:   Endpoint(opts.Host, opts.Port),
		dn:         opts.DN,
		password:   opts.Password,
		maxRecords: opts.MaxRecords,
		client:     client,
		inst:       inst,
		log:        log.WithComponent("rest"),
	}
	d.log.Info().Str("host", opts.Host).Int("port", opts.Port).Msg("rest target configured")
	return d, nil
}

// newClient returns a client whose only deadline is the wait for the response; uploading a large
// batch is not cut short.
func newClient(responseTimeout time.Duration) *http.Client {
	if responseTimeout <= 0 {
		responseTimeout = readTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = responseTimeout
	return &http.Client{Transport: tr}
}

// Endpoint returns the collection URL for host and port. TLS is used exactly when port is 443.
func Endpoint(host string, port int) string {
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: Path}
	if port == 443 {
		u.Scheme = "https"
		u.Host = host
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			u.Host = "[" + host + "]"
		}
	}
	return u.String()
}

func (d *Deliverer) Kind() domain.TargetKind { return domain.TargetRest }

// Deliver sends es in batches of at most maxRecords, in order. Nil records are skipped.
// The first failing batch aborts delivery; earlier batches are already delivered. No final
// request is made when there is nothing left to send.
func (d *Deliverer) Deliver(ctx context.Context, es domain.Emission) error {
	batch := make([]map[string]interface{}, 0, d.maxRecords)
	for _, e := range es {
		if e.Record == nil {
			continue
		}
		batch = append(batch, flatten(e))
		if len(batch) >= d.maxRecords {
			d.log.Debug().Int("records", len(batch)).Msg("splitting send")
			if err := d.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) == 0 {
		return nil
	}
	return d.flush(ctx, batch)
}

// Close drops idle keep-alive connections.
func (d *Deliverer) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// flatten copies the record's fields and adds the tag and the epoch-seconds time.
func flatten(e domain.Entry) map[string]interface{} {
	out := make(map[string]interface{}, len(e.Record)+2)
	for k, v := range e.Record {
		out[k] = v
	}
	out[tagField] = e.Tag
	out[timeField] = e.Time.Unix()
	return out
}

func (d *Deliverer) flush(ctx context.Context, batch []map[string]interface{}) (err error) {
	batchID := uuid.NewString()
	ctx, span := d.inst.Tracer().Start(ctx, "rest.flush", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.size", len(batch)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.inst.BatchFailed(ctx, domain.TargetRest.String())
		}
		span.End()
	}()

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("rest: encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(d.dn, d.password)

	d.log.Info().Str("batch_id", batchID).Int("records", len(batch)).Str("url", d.endpoint).Msg("sending records")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Error().Err(err).Str("batch_id", batchID).Msg("send failed")
		return fmt.Errorf("rest: post %s: %w", d.endpoint, err)
	}
	defer resp.Body.Close()

	code := strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.String("http.status_code", code))
	if code != "200" {
		serr := &StatusError{Code: code, Body: readPrefix(resp.Body, maxErrorBody)}
		d.log.Error().Str("batch_id", batchID).Str("code", serr.Code).Str("body", serr.Body).Msg("bad HTTP response")
		return serr
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	d.inst.BatchSent(ctx, domain.TargetRest.String(), len(batch))
	d.log.Info().Str("batch_id", batchID).Str("code", code).Msg("sent ok")
	return nil
}

// readPrefix returns at most n characters from r.
func readPrefix(r io.Reader, n int) string {
	b, _ := io.ReadAll(io.LimitReader(r, int64(n*utf8.UTFMax)))
	s := string(b)
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
