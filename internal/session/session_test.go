package session_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/blindsend/blindsend/internal/crypto"
	"github.com/blindsend/blindsend/internal/exchange"
	"github.com/blindsend/blindsend/internal/link"
	"github.com/blindsend/blindsend/internal/relay"
	"github.com/blindsend/blindsend/internal/session"
)

var errInjected = errors.New("injected failure")

type sentChunk struct {
	seq    int
	size   int
	isLast bool
}

// recorder wraps a live Service, records chunk uploads and can inject
// failures or corrupt downloads.
type recorder struct {
	exchange.Service

	mu     sync.Mutex
	chunks []sentChunk
	failAt int
	tamper bool
	kdfMem int
}

func (r *recorder) note(c exchange.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, sentChunk{seq: c.SequenceID, size: len(c.Data), isLast: c.IsLast})
	if r.failAt == c.SequenceID {
		return errInjected
	}
	return nil
}

func (r *recorder) UploadReceiverChunk(ctx context.Context, sid, uid string, c exchange.Chunk) error {
	if err := r.note(c); err != nil {
		return err
	}
	return r.Service.UploadReceiverChunk(ctx, sid, uid, c)
}

func (r *recorder) UploadSenderChunk(ctx context.Context, sid string, c exchange.Chunk) (string, error) {
	if err := r.note(c); err != nil {
		return "", err
	}
	return r.Service.UploadSenderChunk(ctx, sid, c)
}

func (r *recorder) File(ctx context.Context, mode exchange.Mode, sid string, maxSize int64) ([]byte, error) {
	data, err := r.Service.File(ctx, mode, sid, maxSize)
	if err == nil && r.tamper && len(data) > 0 {
		data[len(data)-1] ^= 0x01
	}
	return data, err
}

func (r *recorder) Keys(ctx context.Context, sid string) (*exchange.Keys, error) {
	keys, err := r.Service.Keys(ctx, sid)
	if err == nil && r.kdfMem != 0 {
		keys.KDF.MemLimit = r.kdfMem
	}
	return keys, err
}

func (r *recorder) SenderMetadata(ctx context.Context, sid string) (*exchange.SenderSession, error) {
	rec, err := r.Service.SenderMetadata(ctx, sid)
	if err == nil && r.kdfMem != 0 {
		rec.KDF.MemLimit = r.kdfMem
	}
	return rec, err
}

func newService(t *testing.T) *recorder {
	t.Helper()
	srv := relay.NewServer(relay.NewMemoryRecordStore(), relay.NewMemoryBlobStore(), relay.Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := exchange.NewClient(ts.URL)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &recorder{Service: c}
}

func randomFile(t *testing.T, n int) []byte {
	t.Helper()
	b, err := crypto.RandomBytes(n)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestReceiverInitiatedSingleChunk(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	data := randomFile(t, 10240)

	receiver := session.NewReceiverSession(svc)
	raw, err := receiver.Open(ctx, []byte("mypass"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if receiver.State() != session.ReceiverLinkPublished {
		t.Errorf("receiver state = %v, expected LINK_PUBLISHED", receiver.State())
	}
	pk, err := link.DecodeFragment(raw)
	if err != nil || len(pk) != crypto.KeySize {
		t.Fatalf("link fragment = %x, %v", pk, err)
	}

	sender := session.NewReceiverSession(svc)
	if err := sender.Upload(ctx, raw, "report.pdf", data); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if sender.State() != session.ReceiverFinalized {
		t.Errorf("sender state = %v, expected FINALIZED", sender.State())
	}
	want := []sentChunk{{seq: 1, size: int(crypto.EnvelopeSize(10240)), isLast: true}}
	if len(svc.chunks) != 1 || svc.chunks[0] != want[0] {
		t.Errorf("chunks = %+v, expected %+v", svc.chunks, want)
	}

	f, err := receiver.Download(ctx, raw, []byte("mypass"))
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if !bytes.Equal(f.Data, data) {
		t.Error("downloaded bytes differ from the original")
	}
	if f.Name != "report.pdf" || f.Size != 10240 {
		t.Errorf("metadata = %q/%d", f.Name, f.Size)
	}
	if receiver.State() != session.ReceiverDecrypted {
		t.Errorf("receiver state = %v, expected DECRYPTED", receiver.State())
	}
}

func TestSenderInitiatedThreeChunks(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	// 9968 plaintext bytes seal to a 10000-byte envelope
	data := randomFile(t, 9968)

	sender := session.NewSenderSession(svc, session.WithChunkSize(4096))
	raw, err := sender.Send(ctx, nil, "notes-2024.txt", data)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sender.State() != session.SenderLinkIssued {
		t.Errorf("sender state = %v, expected LINK_ISSUED", sender.State())
	}

	want := []sentChunk{
		{seq: 1, size: 4096, isLast: false},
		{seq: 2, size: 4096, isLast: false},
		{seq: 3, size: 1808, isLast: true},
	}
	if len(svc.chunks) != len(want) {
		t.Fatalf("chunks = %+v, expected %+v", svc.chunks, want)
	}
	for i := range want {
		if svc.chunks[i] != want[i] {
			t.Errorf("chunk %d = %+v, expected %+v", i, svc.chunks[i], want[i])
		}
	}

	seed, err := link.DecodeFragment(raw)
	if err != nil || len(seed) != crypto.LinkSeedSize {
		t.Fatalf("link fragment = %x, %v", seed, err)
	}

	receiver := session.NewSenderSession(svc)
	f, err := receiver.Receive(ctx, raw, nil)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(f.Data, data) {
		t.Error("received bytes differ from the original")
	}
	if f.Name != "notes-2024.txt" || f.Size != 9968 {
		t.Errorf("metadata = %q/%d", f.Name, f.Size)
	}
	if receiver.State() != session.SenderDecrypted {
		t.Errorf("receiver state = %v, expected DECRYPTED", receiver.State())
	}
}

func TestReceiverWrongPassword(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	receiver := session.NewReceiverSession(svc)
	raw, err := receiver.Open(ctx, []byte("mypass"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := session.NewReceiverSession(svc).Upload(ctx, raw, "a.bin", []byte("secret payload")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	_, err = receiver.Download(ctx, raw, []byte("not-mypass"))
	if !errors.Is(err, crypto.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}
	var se *session.StepError
	if !errors.As(err, &se) || se.Step != "decrypt file" {
		t.Errorf("Expected step \"decrypt file\", got %v", err)
	}
	if receiver.State() != session.ReceiverFailed {
		t.Errorf("state = %v, expected FAILED", receiver.State())
	}
}

func TestSenderWrongPassword(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	raw, err := session.NewSenderSession(svc).Send(ctx, []byte("hunter2"), "a.bin", []byte("secret payload"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	_, err = session.NewSenderSession(svc).Receive(ctx, raw, []byte("hunter3"))
	if !errors.Is(err, crypto.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}
	var se *session.StepError
	if !errors.As(err, &se) || se.Step != "decrypt file" {
		t.Errorf("metadata should open with the link alone, got %v", err)
	}

	f, err := session.NewSenderSession(svc).Receive(ctx, raw, []byte("hunter2"))
	if err != nil {
		t.Fatalf("Receive with the right password failed: %v", err)
	}
	if string(f.Data) != "secret payload" {
		t.Errorf("data = %q", f.Data)
	}
}

func TestRelayKDFCostIsBounded(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	receiver := session.NewReceiverSession(svc)
	raw, err := receiver.Open(ctx, []byte("mypass"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := session.NewReceiverSession(svc).Upload(ctx, raw, "a.bin", []byte("payload")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	sent, err := session.NewSenderSession(svc).Send(ctx, []byte("hunter2"), "b.bin", []byte("payload"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// About 4 TB of Argon2 memory must be refused, not allocated.
	svc.kdfMem = 4000000000

	_, err = receiver.Download(ctx, raw, []byte("mypass"))
	var se *session.StepError
	if !errors.Is(err, crypto.ErrKDF) || !errors.As(err, &se) || se.Step != "derive keypair" {
		t.Errorf("Download: expected ErrKDF at \"derive keypair\", got %v", err)
	}

	_, err = session.NewSenderSession(svc).Receive(ctx, sent, []byte("hunter2"))
	if !errors.Is(err, crypto.ErrKDF) || !errors.As(err, &se) || se.Step != "derive keys" {
		t.Errorf("Receive: expected ErrKDF at \"derive keys\", got %v", err)
	}
}

func TestMaxKDFMemLimitOption(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	sent, err := session.NewSenderSession(svc, session.WithKDFCost(1, 8192)).Send(ctx, []byte("hunter2"), "b.bin", []byte("payload"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	_, err = session.NewSenderSession(svc, session.WithMaxKDFMemLimit(4096)).Receive(ctx, sent, []byte("hunter2"))
	if !errors.Is(err, crypto.ErrKDF) {
		t.Errorf("Expected ErrKDF below the stored cost, got %v", err)
	}

	f, err := session.NewSenderSession(svc, session.WithMaxKDFMemLimit(8192)).Receive(ctx, sent, []byte("hunter2"))
	if err != nil || string(f.Data) != "payload" {
		t.Errorf("Receive at the stored cost: %v", err)
	}
}

func TestOpenRejectsEmptyPassword(t *testing.T) {
	svc := newService(t)
	_, err := session.NewReceiverSession(svc).Open(context.Background(), nil)
	if !errors.Is(err, session.ErrEmptyPassword) {
		t.Fatalf("Expected ErrEmptyPassword, got %v", err)
	}
}

func TestOpenTwiceIsRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	r := session.NewReceiverSession(svc, session.WithKDFCost(1, 1024))
	if _, err := r.Open(ctx, []byte("pw")); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := r.Open(ctx, []byte("pw")); err == nil {
		t.Error("Expected second Open on the same session to fail")
	}
}

func TestUploadFailureNamesChunk(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	raw, err := session.NewReceiverSession(svc, session.WithKDFCost(1, 1024)).Open(ctx, []byte("pw"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	svc.failAt = 2
	sender := session.NewReceiverSession(svc, session.WithChunkSize(100))
	err = sender.Upload(ctx, raw, "a.bin", make([]byte, 450))
	if !errors.Is(err, errInjected) {
		t.Fatalf("Expected injected error, got %v", err)
	}
	var se *session.StepError
	if !errors.As(err, &se) || se.Step != "upload chunk 2" {
		t.Errorf("Expected step \"upload chunk 2\", got %v", err)
	}
	if sender.State() != session.ReceiverFailed {
		t.Errorf("state = %v, expected FAILED", sender.State())
	}
	if len(svc.chunks) != 2 {
		t.Errorf("uploads attempted = %d, expected 2", len(svc.chunks))
	}
}

func TestUploadRejectsShortKey(t *testing.T) {
	svc := newService(t)
	raw, err := link.EncodeSenderLink("http://relay.example", "abc", make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}
	err = session.NewReceiverSession(svc).Upload(context.Background(), raw, "a.bin", []byte("x"))
	if !errors.Is(err, link.ErrLinkFormat) {
		t.Fatalf("Expected ErrLinkFormat, got %v", err)
	}
}

func TestTamperedDownloadFails(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	raw, err := session.NewSenderSession(svc, session.WithKDFCost(1, 1024)).Send(ctx, []byte("pw"), "a.bin", []byte("payload"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	svc.tamper = true
	_, err = session.NewSenderSession(svc).Receive(ctx, raw, []byte("pw"))
	if !errors.Is(err, crypto.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestStepErrorFormat(t *testing.T) {
	err := &session.StepError{Step: "upload chunk 3", Err: errInjected}
	if !strings.HasPrefix(err.Error(), "upload chunk 3: ") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errInjected) {
		t.Error("StepError should unwrap to its cause")
	}
}
