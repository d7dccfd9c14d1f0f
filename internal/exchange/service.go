// Package exchange defines the Exchange Service collaborator and an HTTP
// client for it.
//
// The service only ever sees public KDF parameters, public keys, nonces and
// ciphertext. Binary fields cross the wire as hex strings inside JSON; file
// ciphertext travels as raw request and response bodies.
package exchange

import "context"

// Mode selects the receiver-initiated ("request") or sender-initiated
// ("send") family of routes.
type Mode int

const (
	ModeReceiver Mode = iota + 1
	ModeSender
)

func (m Mode) String() string {
	switch m {
	case ModeReceiver:
		return "request"
	case ModeSender:
		return "send"
	default:
		return "unknown"
	}
}

// KDFParams mirrors crypto.KDFParams on the wire boundary.
type KDFParams struct {
	Salt     []byte
	Ops      int
	MemLimit int
}

// ReceiverSession is what a receiver registers to obtain an exchange link.
type ReceiverSession struct {
	SessionID string
	KDF       KDFParams
	PublicKey []byte
}

// SenderSession is the public record of a sender-initiated exchange.
type SenderSession struct {
	KDF             KDFParams
	FileEncNonce    []byte
	MetaEncNonce    []byte
	EncFileSize     int64
	EncFileMetadata []byte
}

// Chunk is one sequential piece of an upload.
type Chunk struct {
	SequenceID int
	IsLast     bool
	Data       []byte
}

// Finalize closes a receiver-initiated upload.
type Finalize struct {
	SessionID       string
	SenderPublicKey []byte
	StreamHeader    []byte
	FileName        string
	FileSize        int64
}

// FileMetadata is the plaintext metadata of a receiver-initiated exchange.
type FileMetadata struct {
	FileName string
	FileSize int64
}

// Keys is what a receiver needs to rebuild the master key.
type Keys struct {
	SenderPublicKey []byte
	KDF             KDFParams
	StreamHeader    []byte
}

// Service is the remote store both parties talk to. Every call blocks until
// the service answers or ctx is done; a non-success answer is returned as a
// *TransportError.
type Service interface {
	IssueSessionID(ctx context.Context) (string, error)
	OpenReceiverSession(ctx context.Context, s ReceiverSession) (link string, err error)
	OpenSenderSession(ctx context.Context, s SenderSession) (sessionID string, err error)
	PrepareUpload(ctx context.Context, sessionID string) (uploadID string, err error)
	InitUpload(ctx context.Context, sessionID, uploadID string, totalSize int64) error
	UploadReceiverChunk(ctx context.Context, sessionID, uploadID string, c Chunk) error
	UploadSenderChunk(ctx context.Context, sessionID string, c Chunk) (link string, err error)
	FinalizeUpload(ctx context.Context, f Finalize) error
	ReceiverMetadata(ctx context.Context, sessionID string) (*FileMetadata, error)
	SenderMetadata(ctx context.Context, sessionID string) (*SenderSession, error)
	Keys(ctx context.Context, sessionID string) (*Keys, error)
	// File downloads the stored envelope. A body longer than maxSize is
	// refused; maxSize <= 0 disables the bound.
	File(ctx context.Context, mode Mode, sessionID string, maxSize int64) ([]byte, error)
}
