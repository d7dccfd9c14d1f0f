package exchange

import (
	"encoding/hex"
	"fmt"
)

// JSON payloads exchanged with the relay. Binary fields are hex strings.

type LinkIDRequest struct {
	LinkID string `json:"link_id"`
}

type LinkIDResponse struct {
	LinkID string `json:"link_id"`
}

type LinkResponse struct {
	Link string `json:"link"`
}

type UploadIDResponse struct {
	UploadID string `json:"upload_id"`
}

type InitReceiverSessionRequest struct {
	LinkID      string `json:"link_id"`
	KDFSalt     string `json:"kdf_salt"`
	KDFOps      int    `json:"kdf_ops"`
	KDFMemLimit int    `json:"kdf_memory_limit"`
	PublicKey   string `json:"public_key"`
}

// SenderSessionPayload is both the sender's init-session request and the
// sender-flow metadata response.
type SenderSessionPayload struct {
	KDFSalt      string `json:"kdf_salt"`
	KDFOps       int    `json:"kdf_ops"`
	KDFMemLimit  int    `json:"kdf_mem_limit"`
	FileEncNonce string `json:"file_enc_nonce"`
	MetaEncNonce string `json:"meta_enc_nonce"`
	Size         int64  `json:"size"`
	EncFileMeta  string `json:"enc_file_meta"`
}

type InitUploadRequest struct {
	LinkID   string `json:"link_id"`
	UploadID string `json:"upload_id"`
	FileSize int64  `json:"file_size"`
}

type FinishUploadRequest struct {
	LinkID          string `json:"link_id"`
	PublicKey2      string `json:"public_key_2"`
	StreamEncHeader string `json:"stream_enc_header"`
	FileName        string `json:"file_name"`
	FileSize        int64  `json:"file_size"`
}

type ReceiverMetadataResponse struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type KeysResponse struct {
	PublicKey2      string `json:"public_key_2"`
	KDFSalt         string `json:"kdf_salt"`
	KDFOps          int    `json:"kdf_ops"`
	KDFMemLimit     int    `json:"kdf_memory_limit"`
	StreamEncHeader string `json:"stream_enc_header"`
}

// ErrorResponse is the body of every non-2xx relay answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Query parameters of the chunk upload routes.
const (
	QueryPartID    = "part_id"
	QueryChunkSize = "chunk_size"
	QueryLast      = "last"
)

// HeaderContentDigest carries the BLAKE3 digest of a downloaded blob.
const HeaderContentDigest = "X-Content-Blake3"

// EncodeSenderSession converts a sender record to its wire form.
func EncodeSenderSession(s SenderSession) SenderSessionPayload {
	return SenderSessionPayload{
		KDFSalt:      hex.EncodeToString(s.KDF.Salt),
		KDFOps:       s.KDF.Ops,
		KDFMemLimit:  s.KDF.MemLimit,
		FileEncNonce: hex.EncodeToString(s.FileEncNonce),
		MetaEncNonce: hex.EncodeToString(s.MetaEncNonce),
		Size:         s.EncFileSize,
		EncFileMeta:  hex.EncodeToString(s.EncFileMetadata),
	}
}

// Decode converts the wire form back, rejecting malformed hex.
func (p SenderSessionPayload) Decode() (*SenderSession, error) {
	var (
		s   SenderSession
		err error
	)
	if s.KDF.Salt, err = DecodeField("kdf_salt", p.KDFSalt); err != nil {
		return nil, err
	}
	if s.FileEncNonce, err = DecodeField("file_enc_nonce", p.FileEncNonce); err != nil {
		return nil, err
	}
	if s.MetaEncNonce, err = DecodeField("meta_enc_nonce", p.MetaEncNonce); err != nil {
		return nil, err
	}
	if s.EncFileMetadata, err = DecodeField("enc_file_meta", p.EncFileMeta); err != nil {
		return nil, err
	}
	s.KDF.Ops = p.KDFOps
	s.KDF.MemLimit = p.KDFMemLimit
	s.EncFileSize = p.Size
	return &s, nil
}

// Decode converts a keys response, rejecting malformed hex.
func (k KeysResponse) Decode() (*Keys, error) {
	var (
		out Keys
		err error
	)
	if out.SenderPublicKey, err = DecodeField("public_key_2", k.PublicKey2); err != nil {
		return nil, err
	}
	if out.KDF.Salt, err = DecodeField("kdf_salt", k.KDFSalt); err != nil {
		return nil, err
	}
	if out.StreamHeader, err = DecodeField("stream_enc_header", k.StreamEncHeader); err != nil {
		return nil, err
	}
	out.KDF.Ops = k.KDFOps
	out.KDF.MemLimit = k.KDFMemLimit
	return &out, nil
}

// DecodeField hex-decodes a named wire field.
func DecodeField(name, value string) ([]byte, error) {
	b, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("field %s is not hex: %w", name, err)
	}
	return b, nil
}
