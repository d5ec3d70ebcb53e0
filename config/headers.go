package config

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"

// Headers holds the request headers shared by both HTTP drivers. The captcha
// collaborator calls SetCookie with refreshed cookies while waves are running,
// so all access goes through the mutex.
type Headers struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewHeaders() *Headers {
	return &Headers{
		values: map[string]string{
			"User-Agent": DefaultUserAgent,
		},
	}
}

func (h *Headers) Set(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values[key] = value
}

func (h *Headers) Get(key string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.values[key]
}

// SetCookie is the single entry point for the external captcha solver to hand
// back fresh cookies.
func (h *Headers) SetCookie(cookie string) {
	h.Set("Cookie", cookie)
}

// Apply copies the current headers onto an outgoing request.
func (h *Headers) Apply(req *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for k, v := range h.values {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
}

// Save persists the headers to conf/headers.json so refreshed cookies survive
// restarts.
func (h *Headers) Save(path string) error {
	h.mu.RLock()
	snapshot := make(map[string]string, len(h.values))
	for k, v := range h.values {
		snapshot[k] = v
	}
	h.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load replaces the headers with the persisted set. Missing file is not an
// error; the defaults stay in place.
func (h *Headers) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	loaded := map[string]string{}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = loaded
	return nil
}
