// Package jobservicetest runs an in-memory Lotus job service for tests. Scans
// never progress on their own; tests drive them with SetStatus.
package jobservicetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bl4ck0w1/lotuswatch/pkg/models"
)

const defaultResultLimit = 50

type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	scans     map[string]*scanRecord
	order     []string
	results   []models.ResultSummary
	scripts   []models.Script
	tools     []models.Tool
	secrets   []models.Secret
	health    models.Health
	rejectMsg string
	failCode  int
	calls     map[string]int
}

type scanRecord struct {
	Handle models.ScanHandle
	Status models.ScanStatus
}

func New() *Server {
	s := &Server{
		scans:  make(map[string]*scanRecord),
		calls:  make(map[string]int),
		health: models.Health{Status: "ok", Version: "0.1.0", Name: "Lotus OSINT"},
		scripts: []models.Script{
			{Name: "bbot_scanner.lua", Path: "scripts/bbot_scanner.lua", Description: "BBOT recursive OSINT", Category: "osint", Tools: []string{"bbot"}},
			{Name: "amass_osint.lua", Path: "scripts/amass_osint.lua", Description: "Amass passive enumeration", Category: "subdomain", Tools: []string{"amass"}},
		},
		tools: []models.Tool{
			{Name: "bbot", Description: "Recursive internet scanner", Category: "osint", Install: "pipx install bbot"},
			{Name: "amass", Description: "Attack surface mapping", Category: "subdomain", Install: "go install github.com/owasp-amass/amass/v4/...@master"},
		},
		secrets: []models.Secret{
			{Key: "shodan", DisplayName: "Shodan", EnvVar: "SHODAN_API_KEY", Configured: true, MaskedValue: "abcd****"},
			{Key: "virustotal", DisplayName: "VirusTotal", EnvVar: "VT_API_KEY"},
		},
	}
	s.srv = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countAndFail)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/scan", s.handleCreate)
		r.Get("/scan/{id}", s.handleQuery)
		r.Post("/scan/{id}/stop", s.handleStop)
		r.Get("/results", s.handleResults)
		r.Get("/results/{id}", s.handleResult)
		r.Get("/scripts", s.handleScripts)
		r.Get("/tools", s.handleTools)
		r.Get("/secrets", s.handleSecrets)
	})
	return r
}

func (s *Server) URL() string { return s.srv.URL }

func (s *Server) Close() { s.srv.Close() }

// Calls returns how many requests hit the named operation: create, query,
// stop, results, result, scripts, tools, secrets or health.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// RejectCreates makes every create answer success=false with msg. An empty
// msg restores normal behaviour.
func (s *Server) RejectCreates(msg string) {
	s.mu.Lock()
	s.rejectMsg = msg
	s.mu.Unlock()
}

// FailWith answers every request with the given HTTP status. Zero disables it.
func (s *Server) FailWith(code int) {
	s.mu.Lock()
	s.failCode = code
	s.mu.Unlock()
}

func (s *Server) SetVersion(v string) {
	s.mu.Lock()
	s.health.Version = v
	s.mu.Unlock()
}

// SetStatus overwrites the status of a known scan. It reports false for
// unknown ids.
func (s *Server) SetStatus(id string, state models.ScanState, progress int, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.scans[id]
	if !ok {
		return false
	}
	rec.Status = models.ScanStatus{ID: id, Progress: progress, Message: message, State: state}
	return true
}

// ScanIDs lists created scan ids in creation order.
func (s *Server) ScanIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Forget drops a scan so later queries answer found=false.
func (s *Server) Forget(id string) {
	s.mu.Lock()
	delete(s.scans, id)
	s.mu.Unlock()
}

func (s *Server) Scan(id string) (models.ScanHandle, models.ScanStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.scans[id]
	if !ok {
		return models.ScanHandle{}, models.ScanStatus{}, false
	}
	return rec.Handle, rec.Status, true
}

func (s *Server) AddResult(r models.ResultSummary) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

func (s *Server) countAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[operationFor(r)]++
		code := s.failCode
		s.mu.Unlock()

		if code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func operationFor(r *http.Request) string {
	p := strings.TrimPrefix(r.URL.Path, "/api/")
	parts := strings.Split(p, "/")
	switch {
	case parts[0] == "scan" && len(parts) == 1:
		return "create"
	case parts[0] == "scan" && len(parts) == 3 && parts[2] == "stop":
		return "stop"
	case parts[0] == "scan":
		return "query"
	case parts[0] == "results" && len(parts) > 1:
		return "result"
	default:
		return parts[0]
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	h := s.health
	s.mu.Unlock()
	writeJSON(w, h)
}

type createBody struct {
	Target   string  `json:"target"`
	ScanType string  `json:"scan_type"`
	Script   *string `json:"script"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rejectMsg != "" {
		writeJSON(w, map[string]any{"success": false, "message": s.rejectMsg})
		return
	}

	scanType := body.ScanType
	if scanType == "" {
		scanType = models.ScanTypeOSINT.String()
	}
	script := defaultScript(scanType)
	if body.Script != nil && *body.Script != "" {
		script = *body.Script
	}

	id := uuid.NewString()[:8]
	s.scans[id] = &scanRecord{
		Handle: models.ScanHandle{ID: id, Target: body.Target, ScanType: models.ScanType(scanType), ScriptPath: script},
		Status: models.ScanStatus{ID: id, State: models.ScanStateRunning, Message: "Starting scan..."},
	}
	s.order = append(s.order, id)

	writeJSON(w, map[string]any{
		"success": true,
		"scan_id": id,
		"message": "Scan started for " + body.Target,
	})
}

func defaultScript(scanType string) string {
	switch scanType {
	case "subdomain":
		return "scripts/amass_osint.lua"
	case "vuln":
		return "scripts/finalrecon_scanner.lua"
	case "full":
		return "scripts/threat_intel_scanner.lua"
	default:
		return "scripts/bbot_scanner.lua"
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.scans[id]
	if !ok {
		writeJSON(w, map[string]any{"found": false, "message": "Scan not found"})
		return
	}
	writeJSON(w, map[string]any{
		"found": true,
		"scan": map[string]any{
			"id":       id,
			"status":   rec.Status.State,
			"progress": rec.Status.Progress,
			"message":  rec.Status.Message,
		},
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.scans[id]
	if !ok || rec.Status.State.IsTerminal() {
		writeJSON(w, map[string]any{"success": false, "message": "Scan not found or already completed"})
		return
	}
	rec.Status.State = models.ScanStateStopped
	rec.Status.Message = "Scan stopped by user"
	writeJSON(w, map[string]any{"success": true, "message": "Scan stopped"})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", defaultResultLimit)
	offset := intParam(r, "offset", 0)

	s.mu.Lock()
	all := make([]models.ResultSummary, len(s.results))
	copy(all, s.results)
	s.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	page := []models.ResultSummary{}
	if offset < len(all) {
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		page = all[offset:end]
	}
	writeJSON(w, models.ResultPage{Total: len(all), Limit: limit, Offset: offset, Results: page})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.results {
		if res.ID == id {
			writeJSON(w, map[string]any{"found": true, "result": res})
			return
		}
	}
	writeJSON(w, map[string]any{"found": false, "message": "Result not found"})
}

func (s *Server) handleScripts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{"scripts": s.scripts})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{"tools": s.tools})
}

func (s *Server) handleSecrets(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	configured := 0
	for _, sec := range s.secrets {
		if sec.Configured {
			configured++
		}
	}
	writeJSON(w, models.SecretList{Secrets: s.secrets, TotalConfigured: configured})
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// SampleResult builds a finished result with one finding per severity given.
func SampleResult(id, target string, started time.Time, severities ...string) models.ResultSummary {
	done := started.Add(time.Minute)
	r := models.ResultSummary{
		ID:          id,
		Target:      target,
		Script:      "scripts/bbot_scanner.lua",
		Status:      models.ScanStateCompleted.String(),
		StartedAt:   started,
		CompletedAt: &done,
	}
	for i, sev := range severities {
		r.Findings = append(r.Findings, models.Finding{
			Severity: sev,
			Title:    "finding " + strconv.Itoa(i+1),
			URL:      "https://" + target,
		})
	}
	return r
}
