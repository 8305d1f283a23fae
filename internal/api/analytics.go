package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/telemetry"
)

const (
	maxBodyBytes = 64 << 10
	recentLimit  = 100
)

// addressHeaders are consulted in order before the connection peer.
var addressHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
}

// logVisit answers 204 whatever happens, including a panic further down.
func (s *Server) logVisit(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.ObserveDropped(telemetry.DropPanic)
			s.logger.Error("ingest panic recovered", zap.Any("panic", rec))
		}
		w.WriteHeader(http.StatusNoContent)
	}()
	s.ingest(r)
}

func (s *Server) ingest(r *http.Request) {
	telemetry.ObserveReceived()
	now := s.clock.Now()

	sub := decodeSubmission(r.Body)
	sub.SourceAddress = clientAddress(r)
	sub.HeaderUserAgent = r.UserAgent()
	sub.HeaderReferer = r.Referer()
	sub.ReceivedAt = now
	if sub.RequestID == "" {
		sub.RequestID = s.ids.RequestID(sub.SourceAddress, now)
	}

	logger := s.logger.With(zap.String("request_id", sub.RequestID), zap.String("address", sub.SourceAddress))
	if !s.gate.Admit(sub.RequestID) {
		telemetry.ObserveDropped(telemetry.DropDuplicate)
		logger.Debug("duplicate request id")
		return
	}
	if !s.limiter.Allow(sub.SourceAddress, now) {
		telemetry.ObserveDropped(telemetry.DropRateLimited)
		logger.Debug("address within ingest cooldown")
		return
	}
	if err := s.submitter.Submit(beacon.QueueItem{Submission: sub, Enqueued: now}); err != nil {
		logger.Warn("visit dropped", zap.Error(err))
	}
}

// decodeSubmission never fails. Fields with the wrong JSON type are left
// empty and an unreadable body yields an empty submission.
func decodeSubmission(body io.Reader) beacon.Submission {
	var sub beacon.Submission
	if body == nil {
		return sub
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil || len(data) == 0 {
		return sub
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return sub
	}
	// A type mismatch skips only the offending field.
	_ = json.Unmarshal(data, &sub)
	sub.Raw = raw
	return sub
}

func clientAddress(r *http.Request) string {
	for _, h := range addressHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return beacon.UnknownAddress
}

func (s *Server) listVisits(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		s.logger.Debug("retrieval rejected", zap.Error(err))
		s.notFound(w)
		return
	}
	ctx := r.Context()
	if d := s.cfg.Server.RequestTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	events, err := s.store.QueryRecent(ctx, recentLimit)
	if err != nil {
		s.logger.Warn("query recent visits failed", zap.Error(err))
		s.notFound(w)
		return
	}
	if events == nil {
		events = []beacon.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) authorize(r *http.Request) error {
	secret := s.cfg.Auth.AdminSecret
	if secret == "" {
		return fmt.Errorf("admin secret unset: %w", beacon.ErrNotFound)
	}
	if s.store == nil {
		return fmt.Errorf("no record store: %w", beacon.ErrNotFound)
	}
	want := "Bearer " + secret
	got := r.Header.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return fmt.Errorf("authorization mismatch: %w", beacon.ErrNotFound)
	}
	return nil
}
