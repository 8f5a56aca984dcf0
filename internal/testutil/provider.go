package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/vdavid/mailsync/internal/provider"
)

// FakeProvider is a scripted mail API provider served over httptest.
// Full-sync responses are consumed in order (the last one repeats) and delta pages
// are looked up by the deltaToken or pageToken of the request.
type FakeProvider struct {
	server *httptest.Server

	mu          sync.Mutex
	fullSyncs   []provider.FullSyncResponse
	deltaPages  map[string]provider.UpdatedPage
	pages       map[string]provider.UpdatedPage
	failures    map[string]int
	sent        []provider.OutgoingMessage
	requests    []string
	bearers     []string
	rejected    map[string]bool
	tokenStatus int
	tokenBody   string
}

// NewFakeProvider starts a fake provider that is closed when the test finishes.
func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()

	p := &FakeProvider{
		deltaPages:  map[string]provider.UpdatedPage{},
		pages:       map[string]provider.UpdatedPage{},
		failures:    map[string]int{},
		rejected:    map[string]bool{},
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"refreshed-access","token_type":"Bearer","expires_in":3600}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /email/sync", p.authorized(p.handleFullSync))
	mux.HandleFunc("GET /email/sync/updated", p.authorized(p.handleUpdated))
	mux.HandleFunc("POST /email/messages", p.authorized(p.handleSend))
	mux.HandleFunc("POST /auth/token", p.handleToken)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// URL is the provider API base URL.
func (p *FakeProvider) URL() string {
	return p.server.URL
}

// TokenURL is the OAuth token endpoint of the fake provider.
func (p *FakeProvider) TokenURL() string {
	return p.server.URL + "/auth/token"
}

// QueueFullSync appends readiness responses for POST /email/sync.
func (p *FakeProvider) QueueFullSync(responses ...provider.FullSyncResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullSyncs = append(p.fullSyncs, responses...)
}

// SetDeltaPage scripts the page returned for deltaToken.
func (p *FakeProvider) SetDeltaPage(deltaToken string, page provider.UpdatedPage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltaPages[deltaToken] = page
}

// SetPage scripts the page returned for pageToken.
func (p *FakeProvider) SetPage(pageToken string, page provider.UpdatedPage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[pageToken] = page
}

// FailDelta makes requests for deltaToken answer with status. A zero status clears it.
func (p *FakeProvider) FailDelta(deltaToken string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFailure("delta:"+deltaToken, status)
}

// FailPage makes requests for pageToken answer with status.
func (p *FakeProvider) FailPage(pageToken string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFailure("page:"+pageToken, status)
}

// FailSend makes POST /email/messages answer with status.
func (p *FakeProvider) FailSend(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setFailure("send", status)
}

// RejectAccessToken makes every API call made with accessToken answer 401.
func (p *FakeProvider) RejectAccessToken(accessToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected[accessToken] = true
}

// AccessTokens returns the bearer tokens of the API calls received, in order.
func (p *FakeProvider) AccessTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.bearers...)
}

// SetTokenResponse scripts the OAuth token endpoint.
func (p *FakeProvider) SetTokenResponse(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
	p.tokenBody = body
}

// Requests returns a log of the calls received, like "updated delta=D1" or "updated page=P1".
func (p *FakeProvider) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

// Sent returns the messages received by the send endpoint.
func (p *FakeProvider) Sent() []provider.OutgoingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.OutgoingMessage(nil), p.sent...)
}

func (p *FakeProvider) setFailure(key string, status int) {
	if status == 0 {
		delete(p.failures, key)
		return
	}
	p.failures[key] = status
}

func (p *FakeProvider) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		p.mu.Lock()
		p.bearers = append(p.bearers, bearer)
		rejected := bearer == "" || p.rejected[bearer]
		p.mu.Unlock()

		if rejected {
			http.Error(w, `{"code":"token.invalid"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (p *FakeProvider) handleFullSync(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.requests = append(p.requests, "sync daysWithin="+r.URL.Query().Get("daysWithin"))
	resp := provider.FullSyncResponse{Ready: false}
	if len(p.fullSyncs) > 0 {
		resp = p.fullSyncs[0]
		if len(p.fullSyncs) > 1 {
			p.fullSyncs = p.fullSyncs[1:]
		}
	}
	p.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (p *FakeProvider) handleUpdated(w http.ResponseWriter, r *http.Request) {
	deltaToken := r.URL.Query().Get("deltaToken")
	pageToken := r.URL.Query().Get("pageToken")

	p.mu.Lock()
	var key string
	var page provider.UpdatedPage
	var ok bool
	if deltaToken != "" {
		key = "delta:" + deltaToken
		p.requests = append(p.requests, "updated delta="+deltaToken)
		page, ok = p.deltaPages[deltaToken]
	} else {
		key = "page:" + pageToken
		p.requests = append(p.requests, "updated page="+pageToken)
		page, ok = p.pages[pageToken]
	}
	status, failing := p.failures[key]
	p.mu.Unlock()

	if failing {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if !ok {
		http.Error(w, "unknown token", http.StatusBadRequest)
		return
	}
	if page.Records == nil {
		page.Records = []provider.EmailRecord{}
	}
	page.Length = len(page.Records)
	writeJSON(w, http.StatusOK, page)
}

func (p *FakeProvider) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg provider.OutgoingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.requests = append(p.requests, "send")
	status, failing := p.failures["send"]
	if !failing {
		p.sent = append(p.sent, msg)
	}
	count := len(p.sent)
	p.mu.Unlock()

	if failing {
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": "sent-" + strconv.Itoa(count), "threadId": msg.ThreadID})
}

func (p *FakeProvider) handleToken(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	p.requests = append(p.requests, "token")
	status, body := p.tokenStatus, p.tokenBody
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
