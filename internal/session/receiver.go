package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blindsend/blindsend/internal/crypto"
	"github.com/blindsend/blindsend/internal/exchange"
	"github.com/blindsend/blindsend/internal/link"
)

const roleReceiverInitiated = "request"

// ReceiverSession drives one receiver-initiated exchange. The receiver calls
// Open and later Download; the sender calls Upload on its own
// ReceiverSession with the link it was given.
type ReceiverSession struct {
	base

	mu    sync.Mutex
	state ReceiverState
}

func NewReceiverSession(svc exchange.Service, opts ...Option) *ReceiverSession {
	return &ReceiverSession{base: newBase(svc, roleReceiverInitiated, opts), state: ReceiverIdle}
}

// State returns the current protocol state.
func (s *ReceiverSession) State() ReceiverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ReceiverSession) advance(to ReceiverState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := transition(receiverTransitions, s.state, to, ReceiverFailed); err != nil {
		return err
	}
	s.state = to
	return nil
}

func (s *ReceiverSession) fail(err error) error {
	s.advance(ReceiverFailed)
	return err
}

// Open registers a new exchange and returns the link to hand to the sender.
// The keypair is derived from password and the fresh KDF parameters, so
// nothing secret needs to be kept until Download.
func (s *ReceiverSession) Open(ctx context.Context, password []byte) (string, error) {
	start := s.started()
	raw, sid, err := s.open(ctx, password)
	s.finish(roleReceiverInitiated, sid, start, err)
	return raw, err
}

func (s *ReceiverSession) open(ctx context.Context, password []byte) (string, string, error) {
	if len(password) == 0 {
		return "", "", stepErr("derive keypair", ErrEmptyPassword)
	}
	if err := s.advance(ReceiverIDRequested); err != nil {
		return "", "", stepErr("request session id", err)
	}
	sid, err := s.svc.IssueSessionID(ctx)
	if err != nil {
		return "", "", s.fail(stepErr("request session id", err))
	}

	params, err := crypto.NewKDFParams(s.kdfOps, s.kdfMem)
	if err != nil {
		return "", sid, s.fail(stepErr("derive keypair", err))
	}
	seed, err := s.deriveSeed(password, params)
	if err != nil {
		return "", sid, s.fail(stepErr("derive keypair", err))
	}
	kp, err := crypto.X25519FromSeed(seed)
	crypto.Zero(seed)
	if err != nil {
		return "", sid, s.fail(stepErr("derive keypair", err))
	}
	publicKey := kp.PublicKey
	kp.Wipe()

	issued, err := s.svc.OpenReceiverSession(ctx, exchange.ReceiverSession{
		SessionID: sid,
		KDF:       toWireKDF(params),
		PublicKey: publicKey[:],
	})
	if err != nil {
		return "", sid, s.fail(stepErr("open session", err))
	}
	if err := s.advance(ReceiverSessionOpened); err != nil {
		return "", sid, s.fail(stepErr("open session", err))
	}
	s.log.SessionOpened(sid, params.Ops, params.MemLimit)

	raw, err := link.Attach(issued, publicKey[:])
	if err != nil {
		return "", sid, s.fail(stepErr("publish link", err))
	}
	if err := s.advance(ReceiverLinkPublished); err != nil {
		return "", sid, s.fail(stepErr("publish link", err))
	}
	s.log.LinkIssued(sid)
	return raw, sid, nil
}

// Upload answers a receiver's link: it seals data under a key agreed with
// the receiver's public key, uploads it in chunks and finalizes the
// exchange with fileName and the plaintext size.
func (s *ReceiverSession) Upload(ctx context.Context, rawLink, fileName string, data []byte) error {
	start := s.started()
	sid, err := s.upload(ctx, rawLink, fileName, data)
	s.finish(roleReceiverInitiated, sid, start, err)
	return err
}

func (s *ReceiverSession) upload(ctx context.Context, rawLink, fileName string, data []byte) (string, error) {
	l, err := link.Parse(rawLink)
	if err != nil {
		return "", s.fail(stepErr("parse link", err))
	}
	if len(l.Material) != crypto.KeySize {
		return l.SessionID, s.fail(stepErr("parse link",
			fmt.Errorf("%w: receiver key must be %d bytes, got %d", link.ErrLinkFormat, crypto.KeySize, len(l.Material))))
	}
	sid := l.SessionID

	uploadID, err := s.svc.PrepareUpload(ctx, sid)
	if err != nil {
		return sid, s.fail(stepErr("prepare upload", err))
	}
	if err := s.advance(ReceiverUploadPrepared); err != nil {
		return sid, s.fail(stepErr("prepare upload", err))
	}

	kp, err := crypto.GenerateX25519()
	if err != nil {
		return sid, s.fail(stepErr("generate keypair", err))
	}
	defer kp.Wipe()
	master, err := crypto.X25519Exchange(&kp.PrivateKey, l.Material)
	if err != nil {
		return sid, s.fail(stepErr("key agreement", err))
	}
	defer crypto.Zero(master)

	var envelope []byte
	err = s.timed("encrypt_file", func() error {
		envelope, err = crypto.EncryptFile(master, data)
		return err
	})
	if err != nil {
		return sid, s.fail(stepErr("encrypt file", err))
	}

	if err := s.svc.InitUpload(ctx, sid, uploadID, int64(len(envelope))); err != nil {
		return sid, s.fail(stepErr("init upload", err))
	}
	began := time.Now()
	_, count, err := s.uploadChunks(ctx, sid, envelope, func(ctx context.Context, c exchange.Chunk) (string, error) {
		return "", s.svc.UploadReceiverChunk(ctx, sid, uploadID, c)
	})
	if err != nil {
		return sid, s.fail(err)
	}
	if err := s.advance(ReceiverChunksUploaded); err != nil {
		return sid, s.fail(stepErr("upload chunks", err))
	}

	err = s.svc.FinalizeUpload(ctx, exchange.Finalize{
		SessionID:       sid,
		SenderPublicKey: kp.PublicKey[:],
		StreamHeader:    envelope[:crypto.NonceSize],
		FileName:        fileName,
		FileSize:        int64(len(data)),
	})
	if err != nil {
		return sid, s.fail(stepErr("finalize upload", err))
	}
	if err := s.advance(ReceiverFinalized); err != nil {
		return sid, s.fail(stepErr("finalize upload", err))
	}
	s.log.UploadFinalized(sid, count, time.Since(began))
	return sid, nil
}

// Download fetches and decrypts the file of a finalized exchange. The
// keypair is rebuilt from password and the stored KDF parameters; a wrong
// password surfaces as crypto.ErrAuthenticationFailed.
func (s *ReceiverSession) Download(ctx context.Context, rawLink string, password []byte) (*File, error) {
	start := s.started()
	sid, f, err := s.download(ctx, rawLink, password)
	s.finish(roleReceiverInitiated, sid, start, err)
	return f, err
}

func (s *ReceiverSession) download(ctx context.Context, rawLink string, password []byte) (string, *File, error) {
	began := time.Now()
	sid, err := link.DecodeSessionID(rawLink)
	if err != nil {
		return "", nil, s.fail(stepErr("parse link", err))
	}

	meta, err := s.svc.ReceiverMetadata(ctx, sid)
	if err != nil {
		return sid, nil, s.fail(stepErr("fetch metadata", err))
	}
	keys, err := s.svc.Keys(ctx, sid)
	if err != nil {
		return sid, nil, s.fail(stepErr("fetch keys", err))
	}

	params, err := s.fromWireKDF(keys.KDF)
	if err != nil {
		return sid, nil, s.fail(stepErr("derive keypair", err))
	}
	seed, err := s.deriveSeed(password, params)
	if err != nil {
		return sid, nil, s.fail(stepErr("derive keypair", err))
	}
	kp, err := crypto.X25519FromSeed(seed)
	crypto.Zero(seed)
	if err != nil {
		return sid, nil, s.fail(stepErr("derive keypair", err))
	}
	defer kp.Wipe()
	master, err := crypto.X25519Exchange(&kp.PrivateKey, keys.SenderPublicKey)
	if err != nil {
		return sid, nil, s.fail(stepErr("key agreement", err))
	}
	defer crypto.Zero(master)

	if meta.FileSize < 0 {
		return sid, nil, s.fail(stepErr("download file",
			fmt.Errorf("%w: negative file size %d", ErrMetadataMismatch, meta.FileSize)))
	}
	envelope, err := s.svc.File(ctx, exchange.ModeReceiver, sid, crypto.EnvelopeSize(meta.FileSize))
	if err != nil {
		return sid, nil, s.fail(stepErr("download file", err))
	}
	if len(envelope) < crypto.NonceSize || !bytes.Equal(envelope[:crypto.NonceSize], keys.StreamHeader) {
		return sid, nil, s.fail(stepErr("download file",
			fmt.Errorf("%w: stream header differs from envelope nonce", ErrMetadataMismatch)))
	}

	var plaintext []byte
	err = s.timed("decrypt_file", func() error {
		plaintext, err = crypto.DecryptFile(master, envelope)
		return err
	})
	if err != nil {
		return sid, nil, s.fail(stepErr("decrypt file", err))
	}
	if int64(len(plaintext)) != meta.FileSize {
		return sid, nil, s.fail(stepErr("decrypt file",
			fmt.Errorf("%w: got %d bytes, expected %d", ErrMetadataMismatch, len(plaintext), meta.FileSize)))
	}
	if err := s.advance(ReceiverDecrypted); err != nil {
		return sid, nil, s.fail(stepErr("decrypt file", err))
	}
	s.log.FileDecrypted(sid, meta.FileSize, time.Since(began))

	return sid, &File{Name: meta.FileName, Size: meta.FileSize, Data: plaintext}, nil
}
