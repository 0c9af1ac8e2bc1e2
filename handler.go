package ddns

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Handler serves the dynamic DNS update endpoint.
//
// It should be constructed with New.
type Handler struct {
	newProvider    ProviderFactory
	notifier       Notifier
	logger         *slog.Logger
	httpClient     *http.Client
	cloudflareURL  string
	protoHeader    string
	clientIPHeader string
	behindTLSProxy bool
}

const notFound = "Not Found"

// ServeHTTP implements http.Handler.
//
// Requests for /favicon.ico and /robots.txt get 204.
// Requests whose path does not end in /update, and update requests without any credential, get 404.
// A successful update answers 200 with the body "good".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	logger := h.logger.With("request_id", requestID)

	status, err := h.serve(w, r, logger)
	if err != nil {
		status = writeError(w, err)
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "update request failed", "status", status, "kind", KindOf(err).String(), "error", err)
	}
	requestCount.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int, error) {
	if err := requireTransportSecurity(r, h.protoHeader, h.behindTLSProxy); err != nil {
		return 0, err
	}

	path := r.URL.Path
	switch {
	case path == "/favicon.ico" || path == "/robots.txt":
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent, nil
	case !strings.HasSuffix(path, "/update"):
		writeText(w, http.StatusNotFound, notFound)
		return http.StatusNotFound, nil
	case r.Header.Get("Authorization") == "" && r.URL.Query().Get("token") == "":
		// same answer as an unknown route so scanners cannot find the endpoint
		writeText(w, http.StatusNotFound, notFound)
		return http.StatusNotFound, nil
	}

	cred, err := parseCredential(r)
	if err != nil {
		return 0, err
	}
	req, err := parseUpdateRequest(r, cred, h.clientIPHeader)
	if err != nil {
		return 0, err
	}
	logger.Info("update requested", "hostnames", req.Hostnames, "ips", req.IPs, "username", req.Username)

	provider := h.newProvider(req.Token)
	type setLogger interface {
		SetLogger(*slog.Logger)
	}
	if p, ok := provider.(setLogger); ok {
		p.SetLogger(logger)
	}
	updater := NewUpdater(provider, logger)

	ctx := r.Context()
	for _, ip := range req.IPs {
		if err := updater.Update(ctx, req.Hostnames, ip, req.Username); err != nil {
			return 0, err
		}
		h.notify(ctx, logger, changeMessage(ip, req.Hostnames))
	}

	writeText(w, http.StatusOK, "good")
	return http.StatusOK, nil
}

// notify sends text. Failures are logged and counted, never returned.
func (h *Handler) notify(ctx context.Context, logger *slog.Logger, text string) {
	if _, ok := h.notifier.(nopNotifier); ok {
		return
	}
	if err := h.notifier.Notify(ctx, text); err != nil {
		notificationCount.WithLabelValues("error").Inc()
		logger.Warn("notification failed", "error", err)
		return
	}
	notificationCount.WithLabelValues("ok").Inc()
}
