package exchange

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blindsend/blindsend/internal/crypto"
	"github.com/blindsend/blindsend/internal/observability"
)

const (
	maxJSONResponse = 1 << 20
	maxErrorMessage = 512
)

// Client talks to an Exchange Service over HTTP/1.1, HTTP/2 or HTTP/3.
type Client struct {
	base    string
	http    *http.Client
	tracer  trace.Tracer
	metrics *observability.Metrics
}

var _ Service = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithHTTP3 switches the transport to HTTP/3 over QUIC.
func WithHTTP3(tlsConf *tls.Config) ClientOption {
	return func(c *Client) {
		c.http.Transport = &http3.Transport{TLSClientConfig: tlsConf}
	}
}

// WithTimeout bounds every call, including body transfer.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMetrics records call counts, latencies and transferred bytes.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid exchange service URL %q", baseURL)
	}
	c := &Client{
		base:   strings.TrimRight(u.String(), "/"),
		http:   &http.Client{},
		tracer: otel.Tracer("blindsend-exchange"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases transport resources such as QUIC connections.
func (c *Client) Close() error {
	if closer, ok := c.http.Transport.(io.Closer); ok {
		return closer.Close()
	}
	c.http.CloseIdleConnections()
	return nil
}

type request struct {
	key         RouteKey
	params      map[string]string
	query       url.Values
	body        []byte
	contentType string
}

func jsonRequest(key RouteKey, v any) (*request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, &TransportError{Op: key, Message: "encode request", Err: err}
	}
	return &request{key: key, body: body, contentType: "application/json"}, nil
}

// call performs one request and returns the body of a 2xx response.
func (c *Client) call(ctx context.Context, r *request, limit int64) (http.Header, []byte, error) {
	route, ok := LookupRoute(r.key)
	if !ok {
		return nil, nil, &TransportError{Op: r.key, Message: "unknown route"}
	}

	ctx, span := c.tracer.Start(ctx, "exchange."+string(r.key), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", route.Method),
		attribute.String("exchange.route", route.Path),
	)

	start := time.Now()
	header, body, status, err := c.roundTrip(ctx, route, r, limit)
	if c.metrics != nil {
		c.metrics.RecordExchangeCall(string(r.key), status, time.Since(start).Seconds())
	}
	if status != 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	return header, body, nil
}

func (c *Client) roundTrip(ctx context.Context, route Route, r *request, limit int64) (http.Header, []byte, int, error) {
	target := c.base + route.expand(r.params)
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var reqBody io.Reader
	if r.body != nil {
		reqBody = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, route.Method, target, reqBody)
	if err != nil {
		return nil, nil, 0, &TransportError{Op: r.key, Message: "build request", Err: err}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, 0, &TransportError{Op: r.key, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, resp.StatusCode, &TransportError{Op: r.key, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, resp.StatusCode, &TransportError{
			Op:         r.key,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
	return resp.Header, body, resp.StatusCode, nil
}

func errorMessage(body []byte) string {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return er.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

func (c *Client) callJSON(ctx context.Context, r *request, out any) error {
	_, body, err := c.call(ctx, r, maxJSONResponse)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: r.key, StatusCode: http.StatusOK, Message: "decode response", Err: err}
	}
	return nil
}

func (c *Client) IssueSessionID(ctx context.Context) (string, error) {
	var resp LinkIDResponse
	if err := c.callJSON(ctx, &request{key: Routes.IssueLinkID}, &resp); err != nil {
		return "", err
	}
	if resp.LinkID == "" {
		return "", &TransportError{Op: Routes.IssueLinkID, StatusCode: http.StatusOK, Message: "empty link id"}
	}
	return resp.LinkID, nil
}

func (c *Client) OpenReceiverSession(ctx context.Context, s ReceiverSession) (string, error) {
	r, err := jsonRequest(Routes.InitReceiverSession, InitReceiverSessionRequest{
		LinkID:      s.SessionID,
		KDFSalt:     hex.EncodeToString(s.KDF.Salt),
		KDFOps:      s.KDF.Ops,
		KDFMemLimit: s.KDF.MemLimit,
		PublicKey:   hex.EncodeToString(s.PublicKey),
	})
	if err != nil {
		return "", err
	}
	var resp LinkResponse
	if err := c.callJSON(ctx, r, &resp); err != nil {
		return "", err
	}
	if resp.Link == "" {
		return "", &TransportError{Op: r.key, StatusCode: http.StatusOK, Message: "empty link"}
	}
	return resp.Link, nil
}

func (c *Client) OpenSenderSession(ctx context.Context, s SenderSession) (string, error) {
	r, err := jsonRequest(Routes.InitSenderSession, EncodeSenderSession(s))
	if err != nil {
		return "", err
	}
	var resp LinkIDResponse
	if err := c.callJSON(ctx, r, &resp); err != nil {
		return "", err
	}
	if resp.LinkID == "" {
		return "", &TransportError{Op: r.key, StatusCode: http.StatusOK, Message: "empty link id"}
	}
	return resp.LinkID, nil
}

func (c *Client) PrepareUpload(ctx context.Context, sessionID string) (string, error) {
	r, err := jsonRequest(Routes.PrepareUpload, LinkIDRequest{LinkID: sessionID})
	if err != nil {
		return "", err
	}
	var resp UploadIDResponse
	if err := c.callJSON(ctx, r, &resp); err != nil {
		return "", err
	}
	if resp.UploadID == "" {
		return "", &TransportError{Op: r.key, StatusCode: http.StatusOK, Message: "empty upload id"}
	}
	return resp.UploadID, nil
}

func (c *Client) InitUpload(ctx context.Context, sessionID, uploadID string, totalSize int64) error {
	r, err := jsonRequest(Routes.InitUpload, InitUploadRequest{
		LinkID:   sessionID,
		UploadID: uploadID,
		FileSize: totalSize,
	})
	if err != nil {
		return err
	}
	return c.callJSON(ctx, r, nil)
}

func chunkQuery(ch Chunk) url.Values {
	q := url.Values{}
	q.Set(QueryPartID, strconv.Itoa(ch.SequenceID))
	q.Set(QueryChunkSize, strconv.Itoa(len(ch.Data)))
	q.Set(QueryLast, strconv.FormatBool(ch.IsLast))
	return q
}

func (c *Client) UploadReceiverChunk(ctx context.Context, sessionID, uploadID string, ch Chunk) error {
	r := &request{
		key:         Routes.ReceiverChunk,
		params:      map[string]string{ParamLinkID: sessionID, ParamUploadID: uploadID},
		query:       chunkQuery(ch),
		body:        ch.Data,
		contentType: "application/octet-stream",
	}
	if _, _, err := c.call(ctx, r, maxJSONResponse); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordChunkUploaded(len(ch.Data))
	}
	return nil
}

func (c *Client) UploadSenderChunk(ctx context.Context, sessionID string, ch Chunk) (string, error) {
	r := &request{
		key:         Routes.SenderChunk,
		params:      map[string]string{ParamLinkID: sessionID},
		query:       chunkQuery(ch),
		body:        ch.Data,
		contentType: "application/octet-stream",
	}
	_, body, err := c.call(ctx, r, maxJSONResponse)
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.RecordChunkUploaded(len(ch.Data))
	}
	if !ch.IsLast {
		return "", nil
	}

	var resp LinkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &TransportError{Op: r.key, StatusCode: http.StatusOK, Message: "decode response", Err: err}
	}
	if resp.Link == "" {
		return "", &TransportError{Op: r.key, StatusCode: http.StatusOK, Message: "final chunk answered without a link"}
	}
	return resp.Link, nil
}

func (c *Client) FinalizeUpload(ctx context.Context, f Finalize) error {
	r, err := jsonRequest(Routes.FinishUpload, FinishUploadRequest{
		LinkID:          f.SessionID,
		PublicKey2:      hex.EncodeToString(f.SenderPublicKey),
		StreamEncHeader: hex.EncodeToString(f.StreamHeader),
		FileName:        f.FileName,
		FileSize:        f.FileSize,
	})
	if err != nil {
		return err
	}
	return c.callJSON(ctx, r, nil)
}

func (c *Client) ReceiverMetadata(ctx context.Context, sessionID string) (*FileMetadata, error) {
	r, err := jsonRequest(Routes.ReceiverMetadata, LinkIDRequest{LinkID: sessionID})
	if err != nil {
		return nil, err
	}
	var resp ReceiverMetadataResponse
	if err := c.callJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	return &FileMetadata{FileName: resp.FileName, FileSize: resp.FileSize}, nil
}

func (c *Client) SenderMetadata(ctx context.Context, sessionID string) (*SenderSession, error) {
	r, err := jsonRequest(Routes.SenderMetadata, LinkIDRequest{LinkID: sessionID})
	if err != nil {
		return nil, err
	}
	var resp SenderSessionPayload
	if err := c.callJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	s, err := resp.Decode()
	if err != nil {
		return nil, &TransportError{Op: r.key, StatusCode: http.StatusOK, Message: err.Error(), Err: err}
	}
	return s, nil
}

func (c *Client) Keys(ctx context.Context, sessionID string) (*Keys, error) {
	r, err := jsonRequest(Routes.Keys, LinkIDRequest{LinkID: sessionID})
	if err != nil {
		return nil, err
	}
	var resp KeysResponse
	if err := c.callJSON(ctx, r, &resp); err != nil {
		return nil, err
	}
	k, err := resp.Decode()
	if err != nil {
		return nil, &TransportError{Op: r.key, StatusCode: http.StatusOK, Message: err.Error(), Err: err}
	}
	return k, nil
}

// File downloads the stored ciphertext. When the relay advertises a content
// digest the body is checked against it before being returned.
func (c *Client) File(ctx context.Context, mode Mode, sessionID string, maxSize int64) ([]byte, error) {
	key := Routes.ReceiverFile
	if mode == ModeSender {
		key = Routes.SenderFile
	}
	r, err := jsonRequest(key, LinkIDRequest{LinkID: sessionID})
	if err != nil {
		return nil, err
	}
	var limit int64
	if maxSize > 0 {
		limit = maxSize + 1
	}
	header, body, err := c.call(ctx, r, limit)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && int64(len(body)) > maxSize {
		return nil, &TransportError{
			Op:         key,
			StatusCode: http.StatusOK,
			Message:    "response too large",
			Err:        fmt.Errorf("envelope exceeds expected %d bytes", maxSize),
		}
	}

	if want := header.Get(HeaderContentDigest); want != "" {
		if got := crypto.ContentDigest(body); !strings.EqualFold(got, want) {
			return nil, &TransportError{
				Op:         key,
				StatusCode: http.StatusOK,
				Message:    "content digest mismatch",
				Err:        errors.New("downloaded ciphertext does not match relay digest"),
			}
		}
	}
	if c.metrics != nil {
		c.metrics.RecordDownload(len(body))
	}
	return body, nil
}
