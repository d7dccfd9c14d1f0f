package relay

import (
	"time"

	"github.com/blindsend/blindsend/internal/exchange"
)

// State is the lifecycle position of an exchange record.
type State int

const (
	StateIssued State = iota + 1
	StateOpened
	StateUploadPrepared
	StateUploading
	StateFinalized
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "ISSUED"
	case StateOpened:
		return "OPENED"
	case StateUploadPrepared:
		return "UPLOAD_PREPARED"
	case StateUploading:
		return "UPLOADING"
	case StateFinalized:
		return "FINALIZED"
	case StateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Receiver-initiated records may re-prepare an upload, which discards any
// parts received so far.
var receiverTransitions = map[State][]State{
	StateIssued:         {StateOpened},
	StateOpened:         {StateUploadPrepared},
	StateUploadPrepared: {StateUploadPrepared, StateUploading},
	StateUploading:      {StateUploadPrepared, StateUploading, StateFinalized},
	StateFinalized:      {},
}

var senderTransitions = map[State][]State{
	StateOpened:    {StateUploading, StateComplete},
	StateUploading: {StateUploading, StateComplete},
	StateComplete:  {},
}

// Record is everything the relay keeps about one exchange. None of it is
// secret: KDF parameters, public keys, nonces and ciphertext metadata.
type Record struct {
	ID    string        `json:"id"`
	Mode  exchange.Mode `json:"mode"`
	State State         `json:"state"`

	KDFSalt     []byte `json:"kdf_salt,omitempty"`
	KDFOps      int    `json:"kdf_ops,omitempty"`
	KDFMemLimit int    `json:"kdf_mem_limit,omitempty"`

	// receiver-initiated
	ReceiverPublicKey []byte `json:"receiver_public_key,omitempty"`
	UploadID          string `json:"upload_id,omitempty"`
	SenderPublicKey   []byte `json:"sender_public_key,omitempty"`
	StreamHeader      []byte `json:"stream_header,omitempty"`
	FileName          string `json:"file_name,omitempty"`
	FileSize          int64  `json:"file_size,omitempty"`

	// sender-initiated
	FileEncNonce    []byte `json:"file_enc_nonce,omitempty"`
	MetaEncNonce    []byte `json:"meta_enc_nonce,omitempty"`
	EncFileMetadata []byte `json:"enc_file_metadata,omitempty"`

	// upload accounting
	DeclaredSize int64  `json:"declared_size,omitempty"`
	NextPart     int    `json:"next_part,omitempty"`
	Received     int64  `json:"received,omitempty"`
	Sealed       bool   `json:"sealed,omitempty"`
	Digest       string `json:"digest,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TransitionTo moves the record to newState if its mode allows it.
func (r *Record) TransitionTo(newState State) error {
	table := receiverTransitions
	if r.Mode == exchange.ModeSender {
		table = senderTransitions
	}

	for _, allowed := range table[r.State] {
		if allowed == newState {
			r.State = newState
			r.UpdatedAt = time.Now()
			return nil
		}
	}
	return &StateError{From: r.State, To: newState}
}

// ResetUpload clears part accounting for a fresh upload.
func (r *Record) ResetUpload(declaredSize int64) {
	r.DeclaredSize = declaredSize
	r.NextPart = 1
	r.Received = 0
	r.Sealed = false
	r.Digest = ""
}

// Expired reports whether the record outlived its TTL at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

func (r *Record) clone() *Record {
	cp := *r
	return &cp
}
