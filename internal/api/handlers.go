package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/identity"
	"github.com/ramkansal/webscout/internal/scraper"
	"github.com/ramkansal/webscout/pkg/plugin"
)

const maxRequestBytes = 1 << 20

// ScrapeRequest is the body of POST /api/scrape.
type ScrapeRequest struct {
	URL            string   `json:"url"`
	Fields         []string `json:"fields"`
	Method         string   `json:"method,omitempty"`
	Class          string   `json:"class,omitempty"`
	ContentType    string   `json:"content_type,omitempty"`
	IncludeContent bool     `json:"include_content,omitempty"`
}

type scrapeResponse struct {
	*plugin.Result
	Content string `json:"content,omitempty"`
}

type failureResponse struct {
	*plugin.ScrapeError
	Message string `json:"error"`
}

type identityView struct {
	Key           string     `json:"key"`
	Label         string     `json:"label"`
	UserAgent     string     `json:"user_agent"`
	InUse         int        `json:"in_use"`
	Blocks        int        `json:"blocks"`
	Cooldown      string     `json:"cooldown,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Retired       bool       `json:"retired"`
}

type methodInfo struct {
	ID            string   `json:"id"`
	Suited        []string `json:"suited"`
	Cost          int      `json:"cost"`
	RendersJS     bool     `json:"renders_js"`
	SolvesCaptcha bool     `json:"solves_captcha"`
	OwnProxy      bool     `json:"own_proxy"`
	Paid          bool     `json:"paid"`
	Available     bool     `json:"available"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		s.respondWithError(w, http.StatusBadRequest, "url is required")
		return
	}

	sreq := scraper.Request{
		URL:         req.URL,
		Fields:      req.Fields,
		Method:      req.Method,
		ContentType: req.ContentType,
	}
	if req.Class != "" {
		cls, err := classifier.ParseClass(req.Class)
		if err != nil {
			s.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		sreq.Class = cls
	}

	key := cacheKey(req)
	if s.cache != nil {
		if body, ok, err := s.cache.Get(r.Context(), key); err != nil {
			s.logger.Warn("cache read failed", zap.Error(err))
		} else if ok {
			w.Header().Set("X-Cache", "HIT")
			s.respondWithRaw(w, http.StatusOK, body)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.scraper.Do(ctx, sreq)
	if err != nil {
		s.respondWithFailure(w, err)
		return
	}

	out := scrapeResponse{Result: res}
	if req.IncludeContent {
		out.Content = string(res.Content)
	}
	body, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("encode result", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not encode result")
		return
	}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
		if err := s.cache.Set(ctx, key, body, s.cacheTTL); err != nil {
			s.logger.Warn("cache write failed", zap.Error(err))
		}
		cancel()
		w.Header().Set("X-Cache", "MISS")
	}
	s.respondWithRaw(w, http.StatusOK, body)
}

// statusFor maps a terminal failure to an HTTP status.
func statusFor(code plugin.ErrorCode) int {
	switch code {
	case plugin.CodeInvalidRequest, plugin.CodeNoMethodAvailable:
		return http.StatusUnprocessableEntity
	case plugin.CodeTimeoutBudgetExceeded:
		return http.StatusGatewayTimeout
	case plugin.CodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) respondWithFailure(w http.ResponseWriter, err error) {
	var se *plugin.ScrapeError
	if !errors.As(err, &se) {
		s.logger.Error("scrape failed", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	code := statusFor(se.Code)
	if se.Code == plugin.CodeCanceled && errors.Is(err, context.DeadlineExceeded) {
		code = http.StatusGatewayTimeout
	}
	s.respondWithJSON(w, code, failureResponse{ScrapeError: se, Message: se.Error()})
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	methods := s.scraper.Methods()
	infos := make([]methodInfo, 0, len(methods))
	for _, m := range methods {
		suited := make([]string, 0, 4)
		for _, c := range m.Suited.Classes() {
			suited = append(suited, c.String())
		}
		infos = append(infos, methodInfo{
			ID:            m.ID,
			Suited:        suited,
			Cost:          m.Cost,
			RendersJS:     m.Caps.RendersJS,
			SolvesCaptcha: m.Caps.SolvesCaptcha,
			OwnProxy:      m.Caps.OwnProxy,
			Paid:          m.Paid(),
			Available:     m.Available(),
		})
	}
	resp := map[string]any{
		"methods": infos,
		"fields":  s.scraper.Fields(),
	}
	if lr := s.scraper.LastResort(); lr != nil {
		resp["last_resort"] = lr.ID
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

// handleIdentities reports the pool in order. Proxy credentials are never
// included.
func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	statuses := s.scraper.Identities()
	views := make([]identityView, 0, len(statuses))
	for _, st := range statuses {
		v := identityView{
			Key:       st.Key,
			Label:     identity.Label(st.Key, st.Identity),
			UserAgent: st.Identity.UserAgent,
			InUse:     st.InUse,
			Blocks:    st.Blocks,
			Retired:   st.Retired,
		}
		if st.Cooldown > 0 {
			v.Cooldown = st.Cooldown.String()
		}
		if !st.CooldownUntil.IsZero() {
			until := st.CooldownUntil
			v.CooldownUntil = &until
		}
		views = append(views, v)
	}
	s.respondWithJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]string{"scraper": "healthy"}

	active := 0
	for _, st := range s.scraper.Identities() {
		if !st.Retired {
			active++
		}
	}
	if active == 0 {
		healthStatus["identities"] = "exhausted"
	} else {
		healthStatus["identities"] = "healthy"
	}

	if s.cache == nil {
		healthStatus["redis"] = "disabled"
	} else if err := s.cache.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	if healthStatus["redis"] == "unhealthy" || healthStatus["identities"] == "exhausted" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		code, response = http.StatusInternalServerError, []byte(`{"error":"encode response"}`)
	}
	s.respondWithRaw(w, code, response)
}

func (s *Server) respondWithRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
