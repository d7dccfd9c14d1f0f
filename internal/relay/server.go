// Package relay is a reference Exchange Service. It stores public session
// records and opaque ciphertext, enforces the upload protocol and never sees
// a key or a plaintext byte.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blindsend/blindsend/internal/exchange"
	"github.com/blindsend/blindsend/internal/observability"
)

const (
	DefaultMaxUploadBytes    = 2 << 30
	DefaultSessionTTL        = 24 * time.Hour
	DefaultRequestsPerMinute = 1200
	DefaultBurst             = 200

	maxJSONBody = 64 << 10
	maxLimiters = 10000
)

// Options tune a Server. Zero values pick the defaults above.
type Options struct {
	// LinkBase prefixes issued links. Empty derives it from the request host.
	LinkBase          string
	MaxUploadBytes    int64
	SessionTTL        time.Duration
	RequestsPerMinute int
	Burst             int
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means rate limiting keys on RemoteAddr.
	TrustedProxies    []netip.Prefix
	Logger            *observability.Logger
	Metrics           *observability.Metrics
}

// Server serves the exchange routes over a record store and a blob store.
type Server struct {
	records RecordStore
	blobs   BlobStore
	opts    Options
	log     *observability.Logger
	metrics *observability.Metrics

	limiters  map[string]*rate.Limiter
	limiterMu sync.Mutex
	locks     keyedMutex

	now func() time.Time
}

func NewServer(records RecordStore, blobs BlobStore, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	log := opts.Logger
	if log == nil {
		log = observability.Nop()
	}
	return &Server{
		records:  records,
		blobs:    blobs,
		opts:     opts,
		log:      log,
		metrics:  opts.Metrics,
		limiters: make(map[string]*rate.Limiter),
		locks:    keyedMutex{locks: make(map[string]*lockEntry)},
		now:      time.Now,
	}
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handler returns the exchange routes. Unknown paths answer 404 and wrong
// methods 405.
func (s *Server) Handler() http.Handler {
	handlers := map[exchange.RouteKey]handlerFunc{
		exchange.Routes.IssueLinkID:         s.handleIssueLinkID,
		exchange.Routes.InitReceiverSession: s.handleInitReceiverSession,
		exchange.Routes.InitSenderSession:   s.handleInitSenderSession,
		exchange.Routes.PrepareUpload:       s.handlePrepareUpload,
		exchange.Routes.InitUpload:          s.handleInitUpload,
		exchange.Routes.ReceiverChunk:       s.handleReceiverChunk,
		exchange.Routes.SenderChunk:         s.handleSenderChunk,
		exchange.Routes.FinishUpload:        s.handleFinishUpload,
		exchange.Routes.ReceiverMetadata:    s.handleReceiverMetadata,
		exchange.Routes.SenderMetadata:      s.handleSenderMetadata,
		exchange.Routes.Keys:                s.handleKeys,
		exchange.Routes.ReceiverFile:        s.handleFile(exchange.ModeReceiver),
		exchange.Routes.SenderFile:          s.handleFile(exchange.ModeSender),
	}

	mux := http.NewServeMux()
	for key, h := range handlers {
		route, _ := exchange.LookupRoute(key)
		mux.Handle(route.Pattern(), s.wrap(key, h))
	}
	return mux
}

func (s *Server) wrap(key exchange.RouteKey, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		if !s.limiter(s.clientIP(r)).Allow() {
			sw.Header().Set("Retry-After", "60")
			writeError(sw, http.StatusTooManyRequests, "rate limit exceeded")
		} else if err := h(sw, r); err != nil {
			status, msg := statusOf(err)
			if status == http.StatusInternalServerError {
				log := s.log
				if id := r.PathValue(exchange.ParamLinkID); id != "" {
					log = log.WithSession(id)
				}
				log.Error(err, "request failed")
			}
			writeError(sw, status, msg)
		}

		if s.metrics != nil {
			s.metrics.RecordRelayRequest(string(key), sw.status)
		}
		s.log.RequestServed(r.Method, string(key), sw.status, time.Since(start))
	})
}

func (s *Server) limiter(ip string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	limiter, exists := s.limiters[ip]
	if !exists {
		if len(s.limiters) >= maxLimiters {
			s.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rate.Limit(float64(s.opts.RequestsPerMinute)/60.0), s.opts.Burst)
		s.limiters[ip] = limiter
	}
	return limiter
}

// Cleanup removes expired records together with their blobs.
func (s *Server) Cleanup(ctx context.Context) (int, error) {
	ids, err := s.records.Expired(ctx, s.now())
	s.observe("expired", err)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		unlock := s.locks.Lock(id)
		if err := s.blobs.Delete(ctx, id); err != nil {
			unlock()
			s.observe("blob_delete", err)
			return removed, err
		}
		err := s.records.Delete(ctx, id)
		unlock()
		s.observe("delete", err)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.log.RecordsExpired(removed)
		if s.metrics != nil {
			s.metrics.RecordRecordsExpired(removed)
		}
	}
	if s.metrics != nil {
		if n, err := s.records.Count(ctx); err == nil {
			s.metrics.SetRecordsActive(n)
		}
	}
	return removed, nil
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *Server) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.log.Error(err, "cleanup failed")
			}
		}
	}
}

// HealthChecks returns store checks for an observability.HealthChecker.
func (s *Server) HealthChecks() map[string]observability.HealthCheckFunc {
	return map[string]observability.HealthCheckFunc{
		"records": observability.StoreCheck("record store", 100*time.Millisecond, s.records.Ping),
		"blobs":   observability.StoreCheck("blob store", 100*time.Millisecond, s.blobs.Ping),
	}
}

func (s *Server) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation(op, err)
	}
}

// linkFor builds the exchange link path (without fragment) for id.
func (s *Server) linkFor(r *http.Request, id string) string {
	base := s.opts.LinkBase
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimRight(base, "/") + "/" + id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, exchange.ErrorResponse{Error: msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// ParseTrustedProxies reads addresses or CIDR prefixes, such as "10.0.0.1"
// or "10.0.0.0/8".
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (s *Server) trusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.opts.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP keys the rate limiter. Forwarding headers count only when the
// direct peer is a trusted proxy; X-Forwarded-For is walked from the right
// and the first untrusted hop wins.
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trusted(host) {
		return host
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !s.trusted(hop) {
				return hop
			}
			host = hop
		}
		return host
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return host
}

// keyedMutex serializes requests touching the same exchange record.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
