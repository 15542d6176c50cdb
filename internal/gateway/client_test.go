package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/barff/frankd/internal/injector"
)

func newClientPair(t *testing.T, auth *AuthConfig, token string) (*Client, *fakeController) {
	t.Helper()
	ctrl := newFakeController()
	s := NewServer(&Config{}, ctrl, WithAuthConfig(auth))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", token), ctrl
}

func TestClient_RoundTrip(t *testing.T) {
	c, ctrl := newClientPair(t, &AuthConfig{Type: AuthTypeAPIToken, Token: "tok"}, "tok")
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Target != "claude" || len(st.Pollers) != 2 {
		t.Errorf("Status() = %+v", st)
	}

	ps, err := c.PollerStatus(ctx, "issues")
	if err != nil || ps.Name != "issues" || ps.Readiness == nil || !ps.Readiness.Idle {
		t.Errorf("PollerStatus() = %+v, %v", ps, err)
	}

	resp, err := c.Start(ctx, "issues", 2*time.Minute)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if resp.Interval != "2m0s" || ctrl.started["issues"] != 2*time.Minute {
		t.Errorf("Start() = %+v, started = %v", resp, ctrl.started)
	}

	if _, err := c.Stop(ctx, "issues"); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if _, err := c.Trigger(ctx, "heartbeat", 0); err != nil {
		t.Errorf("Trigger() error = %v", err)
	}
	resp, err = c.Trigger(ctx, "heartbeat", 20*time.Minute)
	if err != nil || resp.Interval != "20m0s" || ctrl.started["heartbeat"] != 20*time.Minute {
		t.Errorf("Trigger() with interval = %+v, %v", resp, err)
	}
	if err := c.ReportInput(ctx, true); err != nil {
		t.Errorf("ReportInput() error = %v", err)
	}

	no := false
	if err := c.Inject(ctx, InjectRequest{Text: "hello", AutoSubmit: &no}); err != nil {
		t.Errorf("Inject() error = %v", err)
	}
	if len(ctrl.injected) != 1 || ctrl.injected[0].autoSubmit {
		t.Errorf("injected = %+v", ctrl.injected)
	}

	sum, err := c.State(ctx)
	if err != nil || sum.ProcessedCount != 3 {
		t.Errorf("State() = %+v, %v", sum, err)
	}
}

func TestClient_Errors(t *testing.T) {
	c, ctrl := newClientPair(t, &AuthConfig{Type: AuthTypeAPIToken, Token: "tok"}, "wrong")
	ctx := context.Background()

	_, err := c.Status(ctx)
	var ce *ClientError
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Status() error = %v, want 401 ClientError", err)
	}

	c.token = "tok"
	_, err = c.Trigger(ctx, "bogus", 0)
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusNotFound || ce.Message == "" {
		t.Errorf("Trigger() error = %v, want 404 with message", err)
	}

	ctrl.injectErr = injector.ErrTargetNotAllowed
	err = c.Inject(ctx, InjectRequest{Text: "x", Target: "prod"})
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusForbidden {
		t.Errorf("Inject() error = %v, want 403", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "")
	if err := c.Health(context.Background()); err == nil {
		t.Error("expected connection error")
	}
}
