package webhook

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"herald/internal/content"
	"herald/internal/coordinator"
	logx "herald/pkg/logx"
)

type captureProcessor struct {
	mu     sync.Mutex
	last   content.Item
	source string
	result coordinator.Result
}

func (p *captureProcessor) ProcessContent(_ context.Context, id, source string, it content.Item) coordinator.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = it
	p.source = source
	return p.result
}

func post(t *testing.T, s *Service, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/observations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Herald-Token", token)
	}
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	return w
}

func TestObservationAccepted(t *testing.T) {
	t.Parallel()
	proc := &captureProcessor{result: coordinator.Result{Action: coordinator.ActionAnnounced}}
	s := New(Config{Token: "secret", Name: "webhook"}, proc, logx.Nop())

	w := post(t, s, "secret", `{
		"source": "scraper",
		"platform": "social_post",
		"category": "retweet",
		"id": "1234567890",
		"url": "https://x.com/u/status/1234567890",
		"author": "@original",
		"reposted_by": "Some Display Name",
		"published_at": "2024-06-01T12:00:00Z"
	}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if proc.source != "scraper" {
		t.Fatalf("source = %q, want payload value", proc.source)
	}
	if proc.last.Platform != content.PlatformSocialPost || proc.last.Category != content.CategoryRetweet {
		t.Fatalf("item = %+v", proc.last)
	}
	if proc.last.PublishedAt.IsZero() {
		t.Fatal("published_at not parsed")
	}
}

func TestObservationAuthorAlias(t *testing.T) {
	t.Parallel()
	proc := &captureProcessor{result: coordinator.Result{Action: coordinator.ActionSkip}}
	s := New(Config{AuthorAliases: map[string]string{"Some Display Name": "@someuser"}}, proc, logx.Nop())

	w := post(t, s, "", `{"id":"1","url":"https://x.com/u/status/1","reposted_by":"Some Display Name"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if proc.last.RepostedBy != "@someuser" {
		t.Fatalf("reposted_by = %q, want alias applied", proc.last.RepostedBy)
	}
}

func TestObservationRejectsBadToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "secret"}, &captureProcessor{}, logx.Nop())
	if w := post(t, s, "wrong", `{"id":"1"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestObservationRejectsMissingIdentity(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &captureProcessor{}, logx.Nop())
	if w := post(t, s, "", `{"author":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestObservationFailedMapsToBadGateway(t *testing.T) {
	t.Parallel()
	proc := &captureProcessor{result: coordinator.Result{
		Action: coordinator.ActionFailed, Reason: coordinator.ReasonAnnounceFailed,
	}}
	s := New(Config{}, proc, logx.Nop())
	if w := post(t, s, "", `{"id":"1"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestStartFailsWhenAddrBusy(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("setup listen: %v", err)
	}
	defer ln.Close()

	s := New(Config{Addr: ln.Addr().String()}, &captureProcessor{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		_ = s.Stop(context.Background())
		t.Fatal("expected bind error for a busy address")
	}
}
