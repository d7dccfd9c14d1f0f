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

const roleSenderInitiated = "send"

// SenderSession drives one sender-initiated exchange. The sender calls Send;
// the receiver calls Receive on its own SenderSession.
type SenderSession struct {
	base

	mu    sync.Mutex
	state SenderState
}

func NewSenderSession(svc exchange.Service, opts ...Option) *SenderSession {
	return &SenderSession{base: newBase(svc, roleSenderInitiated, opts), state: SenderIdle}
}

func (s *SenderSession) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SenderSession) advance(to SenderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := transition(senderTransitions, s.state, to, SenderFailed); err != nil {
		return err
	}
	s.state = to
	return nil
}

func (s *SenderSession) fail(err error) error {
	s.advance(SenderFailed)
	return err
}

// fileKeys derives the metadata key from seed1 alone and the file key from
// seed1 combined with the password seed.
func (s *SenderSession) fileKeys(seed1, password []byte, params *crypto.KDFParams) (metaKey, fileKey []byte, err error) {
	metaKey, err = crypto.DeriveKey(seed1, crypto.ContextFileMeta)
	if err != nil {
		return nil, nil, err
	}
	seed2, err := s.deriveSeed(password, params)
	if err != nil {
		crypto.Zero(metaKey)
		return nil, nil, err
	}
	combined := crypto.CombineSeeds(seed1, seed2)
	crypto.Zero(seed2)
	fileKey, err = crypto.DeriveKey(combined, crypto.ContextFileKey)
	crypto.Zero(combined)
	if err != nil {
		crypto.Zero(metaKey)
		return nil, nil, err
	}
	return metaKey, fileKey, nil
}

// Send seals fileName, its size and data, uploads them and returns the link
// for the receiver. The link fragment carries the random link seed; password
// is optional and, when set, must also be given to the receiver.
func (s *SenderSession) Send(ctx context.Context, password []byte, fileName string, data []byte) (string, error) {
	start := s.started()
	raw, sid, err := s.send(ctx, password, fileName, data)
	s.finish(roleSenderInitiated, sid, start, err)
	return raw, err
}

func (s *SenderSession) send(ctx context.Context, password []byte, fileName string, data []byte) (string, string, error) {
	if len(password) == 0 {
		s.log.Warn("sending without a password, the link alone unlocks the file")
	}

	seed1, err := crypto.RandomBytes(crypto.LinkSeedSize)
	if err != nil {
		return "", "", s.fail(stepErr("generate parameters", err))
	}
	defer crypto.Zero(seed1)
	params, err := crypto.NewKDFParams(s.kdfOps, s.kdfMem)
	if err != nil {
		return "", "", s.fail(stepErr("generate parameters", err))
	}
	metaNonce, err := crypto.RandomBytes(crypto.NonceSize)
	if err != nil {
		return "", "", s.fail(stepErr("generate parameters", err))
	}
	metaKey, fileKey, err := s.fileKeys(seed1, password, params)
	if err != nil {
		return "", "", s.fail(stepErr("generate parameters", err))
	}
	defer crypto.Zero(metaKey)
	defer crypto.Zero(fileKey)
	if err := s.advance(SenderParamsGenerated); err != nil {
		return "", "", s.fail(stepErr("generate parameters", err))
	}

	encMeta, err := crypto.EncryptMetadata(metaKey, metaNonce, fileName, int64(len(data)))
	if err != nil {
		return "", "", s.fail(stepErr("encrypt metadata", err))
	}
	if err := s.advance(SenderMetadataEncrypted); err != nil {
		return "", "", s.fail(stepErr("encrypt metadata", err))
	}

	var envelope []byte
	err = s.timed("encrypt_file", func() error {
		envelope, err = crypto.EncryptFile(fileKey, data)
		return err
	})
	if err != nil {
		return "", "", s.fail(stepErr("encrypt file", err))
	}
	if err := s.advance(SenderFileEncrypted); err != nil {
		return "", "", s.fail(stepErr("encrypt file", err))
	}

	sid, err := s.svc.OpenSenderSession(ctx, exchange.SenderSession{
		KDF:             toWireKDF(params),
		FileEncNonce:    envelope[:crypto.NonceSize],
		MetaEncNonce:    metaNonce,
		EncFileSize:     int64(len(envelope)),
		EncFileMetadata: encMeta,
	})
	if err != nil {
		return "", "", s.fail(stepErr("open session", err))
	}
	if err := s.advance(SenderSessionOpened); err != nil {
		return "", sid, s.fail(stepErr("open session", err))
	}
	s.log.SessionOpened(sid, params.Ops, params.MemLimit)

	began := time.Now()
	issued, count, err := s.uploadChunks(ctx, sid, envelope, func(ctx context.Context, c exchange.Chunk) (string, error) {
		return s.svc.UploadSenderChunk(ctx, sid, c)
	})
	if err != nil {
		return "", sid, s.fail(err)
	}
	if err := s.advance(SenderChunksUploaded); err != nil {
		return "", sid, s.fail(stepErr("upload chunks", err))
	}
	s.log.UploadFinalized(sid, count, time.Since(began))

	raw, err := link.Attach(issued, seed1)
	if err != nil {
		return "", sid, s.fail(stepErr("issue link", err))
	}
	if err := s.advance(SenderLinkIssued); err != nil {
		return "", sid, s.fail(stepErr("issue link", err))
	}
	s.log.LinkIssued(sid)
	return raw, sid, nil
}

// Receive opens a sender-initiated exchange from its link. The metadata is
// readable with the link alone; the file additionally needs the sender's
// password, and a wrong one surfaces as crypto.ErrAuthenticationFailed.
func (s *SenderSession) Receive(ctx context.Context, rawLink string, password []byte) (*File, error) {
	start := s.started()
	sid, f, err := s.receive(ctx, rawLink, password)
	s.finish(roleSenderInitiated, sid, start, err)
	return f, err
}

func (s *SenderSession) receive(ctx context.Context, rawLink string, password []byte) (string, *File, error) {
	began := time.Now()
	l, err := link.Parse(rawLink)
	if err != nil {
		return "", nil, s.fail(stepErr("parse link", err))
	}
	sid, seed1 := l.SessionID, l.Material
	defer crypto.Zero(seed1)

	rec, err := s.svc.SenderMetadata(ctx, sid)
	if err != nil {
		return sid, nil, s.fail(stepErr("fetch metadata", err))
	}
	params, err := s.fromWireKDF(rec.KDF)
	if err != nil {
		return sid, nil, s.fail(stepErr("derive keys", err))
	}
	metaKey, fileKey, err := s.fileKeys(seed1, password, params)
	if err != nil {
		return sid, nil, s.fail(stepErr("derive keys", err))
	}
	defer crypto.Zero(metaKey)
	defer crypto.Zero(fileKey)

	name, size, err := crypto.DecryptMetadata(metaKey, rec.MetaEncNonce, rec.EncFileMetadata)
	if err != nil {
		return sid, nil, s.fail(stepErr("decrypt metadata", err))
	}

	if rec.EncFileSize < crypto.EnvelopeSize(0) {
		return sid, nil, s.fail(stepErr("download file",
			fmt.Errorf("%w: envelope size %d too small", ErrMetadataMismatch, rec.EncFileSize)))
	}
	envelope, err := s.svc.File(ctx, exchange.ModeSender, sid, rec.EncFileSize)
	if err != nil {
		return sid, nil, s.fail(stepErr("download file", err))
	}
	if int64(len(envelope)) != rec.EncFileSize {
		return sid, nil, s.fail(stepErr("download file",
			fmt.Errorf("%w: got %d bytes, expected %d", ErrMetadataMismatch, len(envelope), rec.EncFileSize)))
	}
	if len(envelope) < crypto.NonceSize || !bytes.Equal(envelope[:crypto.NonceSize], rec.FileEncNonce) {
		return sid, nil, s.fail(stepErr("download file",
			fmt.Errorf("%w: file nonce differs from envelope", ErrMetadataMismatch)))
	}

	var plaintext []byte
	err = s.timed("decrypt_file", func() error {
		plaintext, err = crypto.DecryptFile(fileKey, envelope)
		return err
	})
	if err != nil {
		return sid, nil, s.fail(stepErr("decrypt file", err))
	}
	if int64(len(plaintext)) != size {
		return sid, nil, s.fail(stepErr("decrypt file",
			fmt.Errorf("%w: got %d bytes, expected %d", ErrMetadataMismatch, len(plaintext), size)))
	}
	if err := s.advance(SenderDecrypted); err != nil {
		return sid, nil, s.fail(stepErr("decrypt file", err))
	}
	s.log.FileDecrypted(sid, size, time.Since(began))

	return sid, &File{Name: name, Size: size, Data: plaintext}, nil
}
