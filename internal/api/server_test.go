package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mineproxy/gmp/internal/config"
	"github.com/mineproxy/gmp/internal/work"
	"github.com/mineproxy/gmp/pkg/errors"
	"github.com/mineproxy/gmp/pkg/log"
)

type stubDispatcher struct {
	assignment *work.Assignment
	reason     work.DeclineReason
	outcome    *work.Outcome
	err        error
}

func (d *stubDispatcher) RequestWork(_ context.Context, _ string) (*work.Assignment, work.DeclineReason, error) {
	return d.assignment, d.reason, d.err
}

func (d *stubDispatcher) SubmitSolution(_ context.Context, _ *work.Submission) (*work.Outcome, error) {
	return d.outcome, d.err
}

type stubRegistrar struct {
	minerID string
	key     []byte
}

func (r *stubRegistrar) RegisterMiner(_ context.Context, minerID string, pubKey []byte) error {
	r.minerID = minerID
	r.key = pubKey
	return nil
}

type stubHealth struct{ err error }

func (h *stubHealth) Health(_ context.Context) error { return h.err }

func newTestServer(d *stubDispatcher, reg Registrar, health HealthChecker) *Server {
	cfg := &config.Config{APIBasePath: "/api", APIHost: "127.0.0.1", APIPort: 4202}
	logger := log.New("gmp-test", "test", "error", "text")
	return New(cfg, logger, d, reg, health)
}

func TestHandleWorkDispatched(t *testing.T) {
	d := &stubDispatcher{
		assignment: &work.Assignment{
			Work: &work.Item{
				ID:            "w1",
				Fee:           1.5,
				DispatchCount: 1,
				State:         work.StateDispatched,
				ExpiresAt:     time.Now().Add(time.Minute),
			},
			DispatchID: "d1",
		},
	}
	srv := newTestServer(d, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/work?miner=m1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got work.Assignment
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got.DispatchID != "d1" || got.Work.ID != "w1" {
		t.Errorf("assignment = %+v, want w1/d1", got)
	}
}

func TestHandleWorkDeclined(t *testing.T) {
	d := &stubDispatcher{reason: work.DeclineNoEligibleWork}
	srv := newTestServer(d, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/work?miner=m1", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body["decline"] != string(work.DeclineNoEligibleWork) {
		t.Errorf("decline = %q, want %q", body["decline"], work.DeclineNoEligibleWork)
	}
}

func TestHandleWorkTransientFailure(t *testing.T) {
	d := &stubDispatcher{err: errors.New(errors.ErrorTypeStore, "list_candidates", "redis down")}
	srv := newTestServer(d, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/work?miner=m1", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "try_again") {
		t.Errorf("body = %q, want try_again hint", rec.Body.String())
	}
}

func TestHandleWorkValidation(t *testing.T) {
	srv := newTestServer(&stubDispatcher{}, nil, nil)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"missing miner", http.MethodGet, "/api/work", http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/api/work?miner=m1", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandleSubmission(t *testing.T) {
	d := &stubDispatcher{outcome: &work.Outcome{Status: work.OutcomeAccepted}}
	srv := newTestServer(d, nil, nil)

	body := `{"work_id":"w1","miner_id":"m1","nonce":"deadbeef"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/submission", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got work.Outcome
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got.Status != work.OutcomeAccepted {
		t.Errorf("outcome = %+v, want accepted", got)
	}
}

func TestHandleSubmissionValidation(t *testing.T) {
	srv := newTestServer(&stubDispatcher{outcome: &work.Outcome{Status: work.OutcomeStale}}, nil, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{not json`, http.StatusBadRequest},
		{"missing ids", `{"nonce":"aa"}`, http.StatusBadRequest},
		{"complete", `{"work_id":"w1","miner_id":"m1"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/submission", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandleRegister(t *testing.T) {
	reg := &stubRegistrar{}
	srv := newTestServer(&stubDispatcher{}, reg, nil)

	key := make([]byte, 33)
	key[0] = 0x02
	body, _ := json.Marshal(map[string]string{
		"miner_id": "m1",
		"pub_key":  hex.EncodeToString(key),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/miners", strings.NewReader(string(body))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if reg.minerID != "m1" || len(reg.key) != 33 {
		t.Errorf("registered = %q/%d bytes, want m1/33", reg.minerID, len(reg.key))
	}
}

func TestHandleRegisterValidation(t *testing.T) {
	srv := newTestServer(&stubDispatcher{}, &stubRegistrar{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not hex", `{"miner_id":"m1","pub_key":"zz"}`},
		{"wrong length", `{"miner_id":"m1","pub_key":"02ab"}`},
		{"missing fields", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/miners", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleRegisterDisabled(t *testing.T) {
	srv := newTestServer(&stubDispatcher{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/miners", strings.NewReader(`{"miner_id":"m1","pub_key":"00"}`)))

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&stubDispatcher{}, nil, &stubHealth{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	srv = newTestServer(&stubDispatcher{}, nil, &stubHealth{err: context.DeadlineExceeded})
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
