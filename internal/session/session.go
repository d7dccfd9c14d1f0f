// Package session runs the two exchange handshakes against an Exchange
// Service.
//
// In a receiver-initiated exchange the receiver derives a reproducible
// X25519 keypair from a password and publishes its public key in a link; the
// sender answers with an ephemeral keypair and uploads the file sealed under
// the shared secret. In a sender-initiated exchange the sender mixes a random
// link seed with an optional password into a file key and hands the seed to
// the receiver in the link fragment.
//
// Each run is sequential. Chunks are uploaded strictly in order and any
// failure aborts the run with a *StepError naming the failed step.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/blindsend/blindsend/internal/chunker"
	"github.com/blindsend/blindsend/internal/crypto"
	"github.com/blindsend/blindsend/internal/exchange"
	"github.com/blindsend/blindsend/internal/observability"
)

// File is a decrypted exchange payload.
type File struct {
	Name string
	Size int64
	Data []byte
}

// Option configures a session.
type Option func(*base)

// WithChunkSize sets the upload chunk size in bytes. Zero uploads the whole
// envelope as one chunk.
func WithChunkSize(n int64) Option {
	return func(b *base) { b.chunkSize = n }
}

// WithKDFCost sets the Argon2id parallelism and memory cost (KiB) used when
// this side generates fresh KDF parameters.
func WithKDFCost(ops, memLimitKiB int) Option {
	return func(b *base) {
		b.kdfOps = ops
		b.kdfMem = memLimitKiB
	}
}

// WithMaxKDFMemLimit bounds the Argon2id memory cost (KiB) accepted from
// parameters stored on the exchange service. Zero keeps
// crypto.DefaultMaxKDFMemLimit.
func WithMaxKDFMemLimit(kib int) Option {
	return func(b *base) { b.maxKDFMem = kib }
}

func WithPacer(p Pacer) Option {
	return func(b *base) {
		if p != nil {
			b.pacer = p
		}
	}
}

func WithLogger(l *observability.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.log = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(b *base) { b.metrics = m }
}

// base holds what both flows share: the service handle, the chunking and
// pacing policy, and observability.
type base struct {
	svc       exchange.Service
	chunkSize int64
	kdfOps    int
	kdfMem    int
	maxKDFMem int
	pacer     Pacer
	log       *observability.Logger
	metrics   *observability.Metrics
}

func newBase(svc exchange.Service, role string, opts []Option) base {
	b := base{
		svc:    svc,
		kdfOps: crypto.DefaultKDFOps,
		kdfMem: crypto.DefaultKDFMemLimit,
		pacer:  NoPacing{},
		log:    observability.Nop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.log = b.log.WithRole(role)
	return b
}

// sendChunk uploads one chunk and returns whatever link the service answers
// with (only the sender flow's last chunk carries one).
type sendChunk func(ctx context.Context, c exchange.Chunk) (string, error)

// uploadChunks streams envelope through the chunk plan, pacing each chunk,
// and returns the link answered to the last chunk.
func (b *base) uploadChunks(ctx context.Context, sessionID string, envelope []byte, send sendChunk) (string, int, error) {
	ch, err := chunker.NewChunker(bytes.NewReader(envelope), int64(len(envelope)), b.chunkSize)
	if err != nil {
		return "", 0, stepErr("plan chunks", err)
	}
	b.log.UploadStarted(sessionID, int64(len(envelope)), ch.Count())

	var link string
	for {
		d, data, err := ch.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		step := fmt.Sprintf("upload chunk %d", d.SequenceID)
		if err != nil {
			return "", 0, stepErr(step, err)
		}
		if err := b.pacer.Wait(ctx, d.SequenceID, len(data)); err != nil {
			return "", 0, stepErr(step, err)
		}
		got, err := send(ctx, exchange.Chunk{
			SequenceID: d.SequenceID,
			IsLast:     d.IsLast,
			Data:       data,
		})
		if err != nil {
			return "", 0, stepErr(step, err)
		}
		if d.IsLast {
			link = got
		}
		b.log.ChunkUploaded(sessionID, d.SequenceID, len(data), d.IsLast)
	}
	return link, ch.Count(), nil
}

// timed runs fn and records its duration as a crypto operation.
func (b *base) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if b.metrics != nil {
		b.metrics.RecordCryptoOperation(op, time.Since(start).Seconds())
	}
	return err
}

// deriveSeed runs Argon2id and records its cost.
func (b *base) deriveSeed(password []byte, params *crypto.KDFParams) ([]byte, error) {
	var seed []byte
	err := b.timed("derive_seed", func() error {
		var err error
		seed, err = crypto.DeriveSeed(password, params)
		return err
	})
	return seed, err
}

func (b *base) finish(role, sessionID string, start time.Time, err error) {
	if b.metrics != nil {
		b.metrics.RecordSessionComplete(role, err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		var se *StepError
		step := "unknown"
		if errors.As(err, &se) {
			step = se.Step
		}
		b.log.StepFailed(sessionID, step, err)
	}
}

func (b *base) started() time.Time {
	if b.metrics != nil {
		b.metrics.RecordSessionStart()
	}
	return time.Now()
}

func toWireKDF(p *crypto.KDFParams) exchange.KDFParams {
	return exchange.KDFParams{Salt: p.Salt, Ops: p.Ops, MemLimit: p.MemLimit}
}

// fromWireKDF converts parameters read from the service and bounds their
// cost before anything is allocated for them.
func (b *base) fromWireKDF(p exchange.KDFParams) (*crypto.KDFParams, error) {
	params := &crypto.KDFParams{Salt: p.Salt, Ops: p.Ops, MemLimit: p.MemLimit}
	if err := params.ValidateLimit(b.maxKDFMem); err != nil {
		return nil, err
	}
	return params, nil
}
