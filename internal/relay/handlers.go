package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/blindsend/blindsend/internal/crypto"
	"github.com/blindsend/blindsend/internal/exchange"
)

// loadRecord fetches a live record of the given mode. Expired records and
// records of the other mode are reported as missing.
func (s *Server) loadRecord(ctx context.Context, id string, mode exchange.Mode) (*Record, error) {
	if id == "" {
		return nil, badRequest("link_id is required")
	}
	rec, err := s.records.Get(ctx, id)
	s.observe("get", err)
	if err != nil {
		return nil, err
	}
	if rec.Mode != mode || rec.Expired(s.now()) {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (s *Server) saveRecord(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = s.now()
	err := s.records.Update(ctx, rec)
	s.observe("update", err)
	return err
}

func (s *Server) createRecord(ctx context.Context, rec *Record) error {
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(s.opts.SessionTTL)
	err := s.records.Create(ctx, rec)
	s.observe("create", err)
	return err
}

func decodeSized(name, value string, size int) ([]byte, error) {
	b, err := exchange.DecodeField(name, value)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	if size > 0 && len(b) != size {
		return nil, badRequest("%s must be %d bytes, got %d", name, size, len(b))
	}
	return b, nil
}

func checkKDF(salt []byte, ops, memLimit int) error {
	p := &crypto.KDFParams{Salt: salt, Ops: ops, MemLimit: memLimit}
	if err := p.Validate(); err != nil {
		return badRequest("%v", err)
	}
	return nil
}

func (s *Server) checkDeclaredSize(size int64) error {
	if size <= 0 {
		return badRequest("file size must be positive, got %d", size)
	}
	if size > s.opts.MaxUploadBytes {
		return tooLarge("file size %d exceeds limit of %d bytes", size, s.opts.MaxUploadBytes)
	}
	return nil
}

func (s *Server) handleIssueLinkID(w http.ResponseWriter, r *http.Request) error {
	rec := &Record{
		ID:    uuid.New().String(),
		Mode:  exchange.ModeReceiver,
		State: StateIssued,
	}
	if err := s.createRecord(r.Context(), rec); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, exchange.LinkIDResponse{LinkID: rec.ID})
	return nil
}

func (s *Server) handleInitReceiverSession(w http.ResponseWriter, r *http.Request) error {
	var req exchange.InitReceiverSessionRequest
	if err := readJSON(w, r, &req); err != nil {
		return err
	}
	salt, err := decodeSized("kdf_salt", req.KDFSalt, crypto.SaltSize)
	if err != nil {
		return err
	}
	pk, err := decodeSized("public_key", req.PublicKey, crypto.KeySize)
	if err != nil {
		return err
	}
	if err := checkKDF(salt, req.KDFOps, req.KDFMemLimit); err != nil {
		return err
	}

	unlock := s.locks.Lock(req.LinkID)
	defer unlock()

	rec, err := s.loadRecord(r.Context(), req.LinkID, exchange.ModeReceiver)
	if err != nil {
		return err
	}
	if err := rec.TransitionTo(StateOpened); err != nil {
		return err
	}
	rec.KDFSalt = salt
	rec.KDFOps = req.KDFOps
	rec.KDFMemLimit = req.KDFMemLimit
	rec.ReceiverPublicKey = pk
	if err := s.saveRecord(r.Context(), rec); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, exchange.LinkResponse{Link: s.linkFor(r, rec.ID)})
	return nil
}

func (s *Server) handleInitSenderSession(w http.ResponseWriter, r *http.Request) error {
	var req exchange.SenderSessionPayload
	if err := readJSON(w, r, &req); err != nil {
		return err
	}
	sess, err := req.Decode()
	if err != nil {
		return badRequest("%v", err)
	}
	if err := checkKDF(sess.KDF.Salt, sess.KDF.Ops, sess.KDF.MemLimit); err != nil {
		return err
	}
	if len(sess.FileEncNonce) != crypto.NonceSize || len(sess.MetaEncNonce) != crypto.NonceSize {
		return badRequest("nonces must be %d bytes", crypto.NonceSize)
	}
	if len(sess.EncFileMetadata) <= crypto.TagSize {
		return badRequest("enc_file_meta is too short")
	}
	if err := s.checkDeclaredSize(sess.EncFileSize); err != nil {
		return err
	}

	rec := &Record{
		ID:              uuid.New().String(),
		Mode:            exchange.ModeSender,
		State:           StateOpened,
		KDFSalt:         sess.KDF.Salt,
		KDFOps:          sess.KDF.Ops,
		KDFMemLimit:     sess.KDF.MemLimit,
		FileEncNonce:    sess.FileEncNonce,
		MetaEncNonce:    sess.MetaEncNonce,
		EncFileMetadata: sess.EncFileMetadata,
	}
	rec.ResetUpload(sess.EncFileSize)
	if err := s.createRecord(r.Context(), rec); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, exchange.LinkIDResponse{LinkID: rec.ID})
	return nil
}

func (s *Server) handlePrepareUpload(w http.ResponseWriter, r *http.Request) error {
	var req exchange.LinkIDRequest
	if err := readJSON(w, r, &req); err != nil {
		return err
	}

	unlock := s.locks.Lock(req.LinkID)
	defer unlock()

	rec, err := s.loadRecord(r.Context(), req.LinkID, exchange.ModeReceiver)
	if err != nil {
		return err
	}
	if err := rec.TransitionTo(StateUploadPrepared); err != nil {
		return err
	}
	if rec.UploadID != "" {
		err := s.blobs.Delete(r.Context(), rec.ID)
		s.observe("blob_delete", err)
		if err != nil {
			return err
		}
	}
	rec.UploadID = uuid.New().String()
	rec.ResetUpload(0)
	if err := s.saveRecord(r.Context(), rec); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, exchange.UploadIDResponse{UploadID: rec.UploadID})
	return nil
}

func (s *Server) handleInitUpload(w http.ResponseWriter, r *http.Request) error {
	var req exchange.InitUploadRequest
	if err := readJSON(w, r, &req); err != nil {
		return err
	}
	if err := s.checkDeclaredSize(req.FileSize); err != nil {
		return err
	}

	unlock := s.locks.Lock(req.LinkID)
	defer unlock()

	rec, err := s.loadRecord(r.Context(), req.LinkID, exchange.ModeReceiver)
	if err != nil {
		return err
	}
	if rec.State != StateUploadPrepared {
		return conflict("upload cannot be initialised in state %s", rec.State)
	}
	if req.UploadID == "" || req.UploadID != rec.UploadID {
		return conflict("upload id does not match the prepared upload")
	}
	if rec.DeclaredSize != 0 {
		return conflict("upload already initialised")
	}
	rec.ResetUpload(req.FileSize)
	if err := s.saveRecord(r.Context(), rec); err != nil {
		return err
	}

	w.WriteHeader(http.StatusOK)
	return nil
}

type partQuery struct {
	partID    int
	chunkSize int64
	last      bool
}

func parsePartQuery(r *http.Request) (partQuery, error) {
	q := r.URL.Query()
	var (
		p   partQuery
		err error
	)
	if p.partID, err = strconv.Atoi(q.Get(exchange.QueryPartID)); err != nil || p.partID < 1 {
		return p, badRequest("%s must be a positive integer", exchange.QueryPartID)
	}
	if p.chunkSize, err = strconv.ParseInt(q.Get(exchange.QueryChunkSize), 10, 64); err != nil || p.chunkSize < 1 {
		return p, badRequest("%s must be a positive integer", exchange.QueryChunkSize)
	}
	if p.last, err = strconv.ParseBool(q.Get(exchange.QueryLast)); err != nil {
		return p, badRequest("%s must be a boolean", exchange.QueryLast)
	}
	return p, nil
}

// acceptPart validates and stores one chunk against rec's upload accounting.
// Parts must arrive in order, carry exactly chunk_size bytes, stay within
// the declared size and the last one must complete it.
func (s *Server) acceptPart(w http.ResponseWriter, r *http.Request, rec *Record) (last bool, err error) {
	p, err := parsePartQuery(r)
	if err != nil {
		return false, err
	}
	if rec.Sealed {
		return false, conflict("upload already complete")
	}
	if rec.DeclaredSize == 0 {
		return false, conflict("upload not initialised")
	}
	if p.partID != rec.NextPart {
		return false, conflict("expected part %d, got %d", rec.NextPart, p.partID)
	}
	if rec.Received+p.chunkSize > rec.DeclaredSize {
		return false, badRequest("part %d overruns declared size %d", p.partID, rec.DeclaredSize)
	}
	complete := rec.Received+p.chunkSize == rec.DeclaredSize
	if p.last != complete {
		return false, badRequest("part %d: last=%t but %d of %d bytes would be received",
			p.partID, p.last, rec.Received+p.chunkSize, rec.DeclaredSize)
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.chunkSize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return false, badRequest("part %d body exceeds %s", p.partID, exchange.QueryChunkSize)
		}
		return false, badRequest("failed to read part %d: %v", p.partID, err)
	}
	if int64(len(data)) != p.chunkSize {
		return false, badRequest("part %d carried %d bytes, declared %d", p.partID, len(data), p.chunkSize)
	}

	err = s.blobs.Append(r.Context(), rec.ID, p.partID, data)
	s.observe("blob_append", err)
	if err != nil {
		return false, err
	}
	rec.Received += int64(len(data))
	rec.NextPart++

	if p.last {
		blob, err := s.blobs.Read(r.Context(), rec.ID)
		s.observe("blob_read", err)
		if err != nil {
			return false, err
		}
		rec.Digest = crypto.ContentDigest(blob)
		rec.Sealed = true
	}
	return p.last, nil
}

func (s *Server) handleReceiverChunk(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue(exchange.ParamLinkID)

	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.loadRecord(r.Context(), id, exchange.ModeReceiver)
	if err != nil {
		return err
	}
	if rec.UploadID == "" || r.PathValue(exchange.ParamUploadID) != rec.UploadID {
		return conflict("upload id does not match the prepared upload")
	}
	if err := rec.TransitionTo(StateUploading); err != nil {
		return err
	}
	if _, err := s.acceptPart(w, r, rec); err != nil {
		return err
	}
	if err := s.saveRecord(r.Context(), rec); err != nil {
		return err
	}

	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) handleSenderChunk(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue(exchange.ParamLinkID)

	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.loadRecord(r.Context(), id, exchange.ModeSender)
	if err != nil {
		return err
	}
	if rec.State == StateComplete {
		return conflict("upload already complete")
	}
	last, err := s.acceptPart(w, r, rec)
	if err != nil {
		return err
	}
	next := StateUploading
	if last {
		next = StateComplete
	}
	if err := rec.TransitionTo(next); err != nil {
		return err
	}
	if err := s.saveRecord(r.Context(), rec); err != nil {
		return err
	}

	if !last {
		w.WriteHeader(http.StatusOK)
		return nil
	}
	writeJSON(w, http.StatusOK, exchange.LinkResponse{Link: s.linkFor(r, rec.ID)})
	return nil
}

func (s *Server) handleFinishUpload(w http.ResponseWriter, r *http.Request) error {
	var req exchange.FinishUploadRequest
	if err := readJSON(w, r, &req); err != nil {
		return err
	}
	pk, err := decodeSized("public_key_2", req.PublicKey2, crypto.KeySize)
	if err != nil {
		return err
	}
	header, err := decodeSized("stream_enc_header", req.StreamEncHeader, crypto.NonceSize)
	if err != nil {
		return err
	}
	if req.FileName == "" {
		return badRequest("file_name is required")
	}
	if req.FileSize < 0 {
		return badRequest("file_size must not be negative")
	}

	unlock := s.locks.Lock(req.LinkID)
	defer unlock()

	rec, err := s.loadRecord(r.Context(), req.LinkID, exchange.ModeReceiver)
	if err != nil {
		return err
	}
	if !rec.Sealed {
		return conflict("upload is not complete")
	}
	if err := rec.TransitionTo(StateFinalized); err != nil {
		return err
	}
	rec.SenderPublicKey = pk
	rec.StreamHeader = header
	rec.FileName = req.FileName
	rec.FileSize = req.FileSize
	if err := s.saveRecord(r.Context(), rec); err != nil {
		return err
	}

	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Server) finishedRecord(w http.ResponseWriter, r *http.Request, mode exchange.Mode) (*Record, error) {
	var req exchange.LinkIDRequest
	if err := readJSON(w, r, &req); err != nil {
		return nil, err
	}
	rec, err := s.loadRecord(r.Context(), req.LinkID, mode)
	if err != nil {
		return nil, err
	}
	want := StateFinalized
	if mode == exchange.ModeSender {
		want = StateComplete
	}
	if rec.State != want {
		return nil, conflict("exchange is not ready (state %s)", rec.State)
	}
	return rec, nil
}

func (s *Server) handleReceiverMetadata(w http.ResponseWriter, r *http.Request) error {
	rec, err := s.finishedRecord(w, r, exchange.ModeReceiver)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, exchange.ReceiverMetadataResponse{
		FileName: rec.FileName,
		FileSize: rec.FileSize,
	})
	return nil
}

func (s *Server) handleSenderMetadata(w http.ResponseWriter, r *http.Request) error {
	rec, err := s.finishedRecord(w, r, exchange.ModeSender)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, exchange.EncodeSenderSession(exchange.SenderSession{
		KDF: exchange.KDFParams{
			Salt:     rec.KDFSalt,
			Ops:      rec.KDFOps,
			MemLimit: rec.KDFMemLimit,
		},
		FileEncNonce:    rec.FileEncNonce,
		MetaEncNonce:    rec.MetaEncNonce,
		EncFileSize:     rec.DeclaredSize,
		EncFileMetadata: rec.EncFileMetadata,
	}))
	return nil
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) error {
	rec, err := s.finishedRecord(w, r, exchange.ModeReceiver)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, exchange.KeysResponse{
		PublicKey2:      hex.EncodeToString(rec.SenderPublicKey),
		KDFSalt:         hex.EncodeToString(rec.KDFSalt),
		KDFOps:          rec.KDFOps,
		KDFMemLimit:     rec.KDFMemLimit,
		StreamEncHeader: hex.EncodeToString(rec.StreamHeader),
	})
	return nil
}

func (s *Server) handleFile(mode exchange.Mode) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		rec, err := s.finishedRecord(w, r, mode)
		if err != nil {
			return err
		}
		blob, err := s.blobs.Read(r.Context(), rec.ID)
		s.observe("blob_read", err)
		if err != nil {
			return err
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
		w.Header().Set(exchange.HeaderContentDigest, rec.Digest)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(blob)
		return nil
	}
}
