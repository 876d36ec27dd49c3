package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"fleet-log-router/internal/logger"
	"fleet-log-router/internal/routing/domain"
)

// maxLineBytes bounds a single JSON record read from the input stream.
const maxLineBytes = 1 << 20

// emitter is the part of the router the intake loop drives.
type emitter interface {
	Emit(ctx context.Context, es domain.Emission) error
}

// readRecords decodes one JSON object per line from r and sends them to out until r is exhausted
// or ctx is done. Blank and malformed lines are logged and skipped. out is closed on return.
func readRecords(ctx context.Context, r io.Reader, out chan<- domain.Record, log logger.Logger) error {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := decodeRecord(line)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed input line")
			continue
		}
		if rec == nil {
			continue
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sc.Err()
}

// decodeRecord parses one JSON object. Integers stay exact: they become int64 (or uint64 above
// the int64 range); other numbers become float64.
func decodeRecord(line []byte) (domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec domain.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	for k, v := range rec {
		rec[k] = normalizeNumbers(v)
	}
	return rec, nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return u
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]interface{}:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
		return x
	case []interface{}:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
		return x
	default:
		return v
	}
}

// pump batches records from in and emits them every interval, and once more when in closes or
// ctx is done. Delivery errors are logged; the failed emission is dropped.
func pump(ctx context.Context, in <-chan domain.Record, r emitter, tag string, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending domain.Emission
	emit := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		es := pending
		pending = nil
		if err := r.Emit(ctx, es); err != nil {
			log.Error().Err(err).Int("records", len(es)).Msg("delivery failed")
		}
	}
	final := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		emit(flushCtx)
	}

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				final()
				return
			}
			pending = append(pending, domain.Entry{Tag: tag, Time: time.Now(), Record: rec})
		case <-ticker.C:
			emit(ctx)
		case <-ctx.Done():
			final()
			return
		}
	}
}
