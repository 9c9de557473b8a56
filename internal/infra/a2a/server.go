// File: internal/infra/a2a/server.go
package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ostrid-adapter/internal/domain"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/adapter"
	"ostrid-adapter/internal/infra/logging"
	"ostrid-adapter/internal/usecase"
)

// Subscriber exposes live event streams per conversation context.
type Subscriber interface {
	Subscribe(contextID string) (<-chan *model.JobEvent, func())
}

type identityKey struct{}

func callerFrom(ctx context.Context) *adapter.Identity {
	if id, ok := ctx.Value(identityKey{}).(*adapter.Identity); ok {
		return id
	}
	return &adapter.Identity{Subject: "anonymous"}
}

// Server exposes the message endpoint, the documented REST fallbacks, the
// agent card and the observer stream over HTTP.
type Server struct {
	router    *Router
	lifecycle usecase.LifecycleManager
	decoder   adapter.TokenDecoder
	card      *AgentCard
	streams   Subscriber
	log       zerolog.Logger
}

func NewServer(router *Router, lifecycle usecase.LifecycleManager, decoder adapter.TokenDecoder, card *AgentCard, streams Subscriber, log zerolog.Logger) *Server {
	return &Server{
		router:    router,
		lifecycle: lifecycle,
		decoder:   decoder,
		card:      card,
		streams:   streams,
		log:       log.With().Str("component", "a2a-server").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.traceMiddleware)
	r.Use(s.requestLog)

	r.Get("/.well-known/agent-card.json", s.handleCard)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/a2a/messages", s.handleMessage)

		r.Post("/ostrid/task-job", s.restAction(ActionRaiseTaskJob, ""))
		r.Delete("/ostrid/task-job/{id}", s.handleCancelREST)
		r.Get("/ostrid/task-job/{id}", s.handleGetJob)
		r.Post("/ostrid/discovery", s.restAction(ActionDiscovery, "jobId"))
		r.Post("/ostrid/negotiation", s.restAction(ActionNegotiation, "jobId"))
		r.Post("/ostrid/escrow/confirm", s.restAction(ActionConfirmEscrow, "jobId"))
		r.Post("/ostrid/validation/attest", s.restAction(ActionAttest, "jobId"))
		r.Post("/ostrid/validation/arbitrate", s.handleArbitrate)
		r.Get("/ostrid/observer/events", s.handleObserverEvents)
		r.Get("/ostrid/observer/stream", s.handleObserverStream)
	})

	return r
}

// traceMiddleware reuses the chi request id as the trace id so handler and
// usecase logs line up with the access log.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := middleware.GetReqID(r.Context())
		if tid == "" {
			tid = uuid.NewString()
		}
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), tid)))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logging.With(r.Context(), &s.log)
		start := time.Now()
		ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get("Authorization")
		if hdr == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(hdr, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}
		id, err := s.decoder.Decode(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, domain.ErrExpiredToken) {
				http.Error(w, "Unauthorized: Token expired", http.StatusUnauthorized)
				return
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		ctx := logging.WithSubject(r.Context(), id.Subject)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, identityKey{}, id)))
	})
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, &Result{
			Status: StatusRejected, Code: CodeValidation, Reason: "malformed envelope: " + err.Error(),
		})
		return
	}
	res := s.router.Dispatch(r.Context(), callerFrom(r.Context()), &msg)
	writeJSON(w, statusFor(res), res)
}

// restAction wraps a documented REST endpoint around the message router: the
// body becomes the action payload, so REST calls share the same validation,
// idempotency and result shaping as envelope messages.
func (s *Server) restAction(action Action, jobIDField string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, &Result{
				Status: StatusRejected, Code: CodeValidation, Reason: "malformed body: " + err.Error(),
			})
			return
		}

		jobID := ""
		if jobIDField != "" {
			jobID, _ = body[jobIDField].(string)
		}
		messageID, _ := body["messageId"].(string)
		if messageID == "" {
			messageID = r.Header.Get("Idempotency-Key")
		}
		if messageID == "" {
			messageID = uuid.NewString()
		}
		contextID, _ := body["contextId"].(string)
		if contextID == "" {
			contextID = uuid.NewString()
		}

		payload, _ := json.Marshal(body)
		msg := &Message{
			Kind:      "message",
			MessageID: messageID,
			Role:      "user",
			Parts:     []Part{{Kind: "text", Text: string(action)}},
			ContextID: contextID,
			Extension: Extension{Action: action, JobID: jobID, Payload: payload},
		}
		res := s.router.Dispatch(r.Context(), callerFrom(r.Context()), msg)
		writeJSON(w, statusFor(res), res)
	}
}

func (s *Server) handleCancelREST(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	msg := &Message{
		Kind:      "message",
		MessageID: orNewID(r.Header.Get("Idempotency-Key")),
		Role:      "user",
		Parts:     []Part{{Kind: "text", Text: string(ActionCancel)}},
		ContextID: orNewID(r.URL.Query().Get("contextId")),
		Extension: Extension{Action: ActionCancel, JobID: jobID, Payload: json.RawMessage(`{}`)},
	}
	res := s.router.Dispatch(r.Context(), callerFrom(r.Context()), msg)
	writeJSON(w, statusFor(res), res)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.lifecycle.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Msg("get job")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":        job.ID,
		"state":        string(job.State),
		"cancelReason": string(job.CancelReason),
		"specialistId": job.SpecialistID,
		"escrowRef":    job.EscrowRef,
		"updatedAt":    job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleArbitrate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		JobID    string `json:"jobId"`
		Accepted bool   `json:"accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.JobID == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	caller := callerFrom(r.Context())
	job, err := s.lifecycle.RecordArbitration(r.Context(), body.JobID, caller.Subject, body.Accepted)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "Not Found", http.StatusNotFound)
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			s.log.Error().Err(err).Str("job_id", body.JobID).Msg("record arbitration")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":    job.ID,
		"state":    string(job.State),
		"accepted": body.Accepted,
	})
}

func (s *Server) handleObserverEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		http.Error(w, "jobId is required", http.StatusBadRequest)
		return
	}
	events, err := s.lifecycle.Events(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("job_id", jobID).Msg("list events")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]interface{}{
			"id":        e.ID,
			"jobId":     e.JobID,
			"contextId": e.ContextID,
			"type":      string(e.Type),
			"payload":   e.Payload,
			"at":        e.At.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

// handleObserverStream long-polls the live event bus for one context: it
// returns as soon as at least one event arrives, or empty after the timeout.
func (s *Server) handleObserverStream(w http.ResponseWriter, r *http.Request) {
	contextID := r.URL.Query().Get("contextId")
	if contextID == "" {
		http.Error(w, "contextId is required", http.StatusBadRequest)
		return
	}
	wait := 25 * time.Second
	if ms := r.URL.Query().Get("timeoutMs"); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil && v > 0 && v < time.Minute {
			wait = v
		}
	}

	ch, cancel := s.streams.Subscribe(contextID)
	defer cancel()

	var events []*model.JobEvent
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				s.writeStream(w, events, true)
				return
			}
			events = append(events, e)
			// Drain whatever else is already buffered, then respond.
			for {
				select {
				case e, ok := <-ch:
					if !ok {
						s.writeStream(w, events, true)
						return
					}
					events = append(events, e)
				default:
					s.writeStream(w, events, false)
					return
				}
			}
		case <-timer.C:
			s.writeStream(w, events, false)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeStream(w http.ResponseWriter, events []*model.JobEvent, finished bool) {
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]interface{}{
			"id":      e.ID,
			"jobId":   e.JobID,
			"type":    string(e.Type),
			"payload": e.Payload,
			"at":      e.At.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out, "finished": finished})
}

func statusFor(res *Result) int {
	switch res.Status {
	case StatusAccepted:
		return http.StatusOK
	case StatusDeferred:
		return http.StatusAccepted
	default:
		switch res.Code {
		case CodeNotFound:
			return http.StatusNotFound
		case CodePaymentRequired:
			return http.StatusPaymentRequired
		case CodeRateLimited:
			return http.StatusTooManyRequests
		case CodeProcessing:
			return http.StatusInternalServerError
		default:
			return http.StatusBadRequest
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func orNewID(s string) string {
	if s == "" {
		return uuid.NewString()
	}
	return s
}
