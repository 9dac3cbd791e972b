// Package main implements a mock generation server for running the
// refinement loop offline. It answers both the Ollama /api/generate API and
// the OpenAI-compatible /v1/chat/completions API from plain text fixture
// files, choosing the fixture by the role of the prompt.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434
//
// Fixture files are named by role: "generate.txt" answers generation
// prompts and "review.txt" answers peer-review prompts.
//
// Sequential fixtures: if numbered files exist (e.g. "review.1.txt",
// "review.2.txt"), the Nth call for that role returns the Nth fixture.
// After the numbered fixtures run out, the base "review.txt" repeats. This
// lets a review list open questions first and none later, so the loop
// converges.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cicciopanzer27/mia/model"
	"github.com/cicciopanzer27/mia/workflow/prompts"
)

// --- Ollama types ---

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// --- Server ---

// capturedRequest stores an incoming prompt for inspection.
type capturedRequest struct {
	Role      model.Role `json:"role"`
	Model     string     `json:"model"`
	Prompt    string     `json:"prompt"`
	CallIndex int        `json:"call_index"` // 1-indexed per-role call number
	Timestamp int64      `json:"timestamp"`
}

type server struct {
	fixtures map[model.Role][]string // role → ordered fixture contents
	calls    atomic.Int64
	logger   *slog.Logger

	mu        sync.Mutex
	roleCalls map[model.Role]int
	requests  map[model.Role][]capturedRequest
}

func newServer(fixtures map[model.Role][]string, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures:  fixtures,
		logger:    logger,
		roleCalls: make(map[model.Role]int),
		requests:  make(map[model.Role][]capturedRequest),
	}
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	for role, seq := range fixtures {
		logger.Info("Loaded fixtures", "role", role, "count", len(seq))
	}

	s := newServer(fixtures, logger)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock LLM server listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	content, ok := s.reply(req.Model, req.Prompt)
	if !ok {
		http.Error(w, fmt.Sprintf(`{"error":"no fixture for role %s"}`, roleOf(req.Prompt)), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(generateResponse{
		Model:     req.Model,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Response:  content,
		Done:      true,
	})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	prompt := lastUserMessage(req.Messages)
	content, ok := s.reply(req.Model, prompt)
	if !ok {
		http.Error(w, fmt.Sprintf("no fixture for role %s", roleOf(prompt)), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	})
}

// reply selects the next fixture for the prompt's role and records the call.
func (s *server) reply(modelName, prompt string) (string, bool) {
	callNum := s.calls.Add(1)
	role := roleOf(prompt)

	seq, ok := s.fixtures[role]
	if !ok || len(seq) == 0 {
		s.logger.Warn("No fixture for role", "call", callNum, "role", role, "model", modelName)
		return "", false
	}

	s.mu.Lock()
	callIndex := s.roleCalls[role]
	s.roleCalls[role]++
	s.requests[role] = append(s.requests[role], capturedRequest{
		Role:      role,
		Model:     modelName,
		Prompt:    prompt,
		CallIndex: callIndex + 1,
		Timestamp: time.Now().UnixMilli(),
	})
	s.mu.Unlock()

	content := seq[len(seq)-1]
	if callIndex < len(seq) {
		content = seq[callIndex]
	}

	s.logger.Info("Served fixture",
		"call", callNum,
		"role", role,
		"model", modelName,
		"call_index", callIndex+1,
		"bytes", len(content))
	return content, true
}

// roleOf classifies a prompt as a peer review or a generation request.
func roleOf(prompt string) model.Role {
	if prompts.IsReviewPrompt(prompt) {
		return model.RoleReview
	}
	return model.RoleGenerate
}

func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// handleStats returns call counts per role.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byRole := make(map[model.Role]int, len(s.roleCalls))
	for role, n := range s.roleCalls {
		byRole[role] = n
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":   s.calls.Load(),
		"calls_by_role": byRole,
	})
}

// handleRequests returns captured prompts.
// Query params:
//   - role: filter by role (optional)
//   - call: filter by call index, 1-indexed (optional)
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	roleFilter := model.Role(r.URL.Query().Get("role"))
	callFilter, callErr := strconv.Atoi(r.URL.Query().Get("call"))

	s.mu.Lock()
	result := make(map[model.Role][]capturedRequest)
	for role, reqs := range s.requests {
		if roleFilter != "" && role != roleFilter {
			continue
		}
		for _, req := range reqs {
			if callErr == nil && req.CallIndex != callFilter {
				continue
			}
			result[role] = append(result[role], req)
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"requests_by_role": result,
	})
}

// numberedFileRe matches files like "review.1.txt".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.txt$`)

// loadFixtures reads the role fixtures in dir. Numbered files come first in
// numeric order, then the base file as the repeating fallback.
func loadFixtures(dir string) (map[model.Role][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	base := make(map[model.Role]string)
	numbered := make(map[model.Role]map[int]string)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		content := strings.TrimSpace(string(data))

		if m := numberedFileRe.FindStringSubmatch(name); m != nil {
			role := model.ParseRole(m[1])
			if role == "" {
				return nil, fmt.Errorf("%s: unknown role %q", name, m[1])
			}
			index, _ := strconv.Atoi(m[2])
			if numbered[role] == nil {
				numbered[role] = make(map[int]string)
			}
			numbered[role][index] = content
			continue
		}

		stem := strings.TrimSuffix(name, ".txt")
		role := model.ParseRole(stem)
		if role == "" {
			return nil, fmt.Errorf("%s: unknown role %q", name, stem)
		}
		base[role] = content
	}

	fixtures := make(map[model.Role][]string)
	for _, role := range []model.Role{model.RoleGenerate, model.RoleReview} {
		var seq []string
		if byIndex, ok := numbered[role]; ok {
			indices := make([]int, 0, len(byIndex))
			for idx := range byIndex {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, byIndex[idx])
			}
		}
		if b, ok := base[role]; ok {
			seq = append(seq, b)
		}
		if len(seq) > 0 {
			fixtures[role] = seq
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
