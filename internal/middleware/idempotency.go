package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go/jetstream"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Replay bodies above this size are not recorded; a retry runs the
// request again instead.
const maxReplayBody = 1 << 20

// storedResponse is the JSON shape kept in the KV bucket.
type storedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// Idempotency replays recorded responses for repeated mutating requests
// carrying the same Idempotency-Key. Signup retries from flaky clients
// land here: the recorded 201 comes back instead of a second provisioning
// run. Records live in a NATS JetStream KV bucket and expire with its TTL.
func Idempotency(kv jetstream.KeyValue) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyKeyHeader)
			if key == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if entry, err := kv.Get(r.Context(), key); err == nil {
				if replay(w, entry.Value()) {
					return
				}
				slog.Warn("unreadable idempotency record, rerunning request", "key", key)
			}

			tap := newResponseTap(w)
			next.ServeHTTP(tap, r)
			record(r, kv, key, tap)
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// replay writes a stored response. A false return means the record could
// not be decoded and the caller should run the request for real.
func replay(w http.ResponseWriter, raw []byte) bool {
	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		return false
	}
	for name, vals := range stored.Header {
		for _, v := range vals {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
	return true
}

// record stores the captured response under key, best effort.
func record(r *http.Request, kv jetstream.KeyValue, key string, tap *responseTap) {
	if tap.body.Len() > maxReplayBody {
		return
	}
	data, err := json.Marshal(storedResponse{
		Status: tap.status,
		Header: tap.Header().Clone(),
		Body:   tap.body.Bytes(),
	})
	if err != nil {
		return
	}
	if _, err := kv.Put(r.Context(), key, data); err != nil {
		slog.Warn("idempotency record not stored", "key", key, "error", err)
	}
}

// responseTap passes the response through while keeping a copy for the
// replay record.
type responseTap struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func newResponseTap(w http.ResponseWriter) *responseTap {
	return &responseTap{ResponseWriter: w, status: http.StatusOK}
}

func (t *responseTap) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTap) Write(b []byte) (int, error) {
	t.body.Write(b)
	return t.ResponseWriter.Write(b)
}
