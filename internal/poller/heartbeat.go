package poller

import (
	"context"
	"log/slog"

	"github.com/barff/frankd/internal/dispatch"
	"github.com/barff/frankd/internal/logging"
)

// Heartbeat injects a fixed command whenever the session is ready.
type Heartbeat struct {
	command string
	target  string
	creds   CredentialSource
	ready   ReadinessChecker
	inject  Injector
}

// NewHeartbeat creates the heartbeat poller.
func NewHeartbeat(command, target string, creds CredentialSource, ready ReadinessChecker, inject Injector) *Heartbeat {
	return &Heartbeat{
		command: command,
		target:  target,
		creds:   creds,
		ready:   ready,
		inject:  inject,
	}
}

// Tick runs one heartbeat cycle.
func (h *Heartbeat) Tick(ctx context.Context) dispatch.Result {
	log := logging.WithContext(ctx)

	_, ok, err := h.creds.Load()
	if err != nil {
		log.Warn("Heartbeat credentials unusable", slog.Any("error", err))
	}
	if !ok {
		log.Debug("Heartbeat not configured")
		return dispatch.Skipped(dispatch.ReasonNotConfigured)
	}

	rs := h.ready.IsReady(ctx)
	if !rs.Ready() {
		r := dispatch.NotReady(rs)
		log.Debug("Heartbeat skipped", slog.String("reason", string(r.Reason)))
		return r
	}

	if err := h.inject.Inject(ctx, h.command, h.target, true); err != nil {
		log.Warn("Heartbeat injection failed", slog.Any("error", err))
		r := dispatch.Failed(dispatch.ReasonInjectFailed, err)
		r.Command = h.command
		r.Readiness = &rs
		return r
	}

	log.Info("Heartbeat sent", slog.String("command", h.command))
	return dispatch.Sent(h.command, nil, rs)
}
