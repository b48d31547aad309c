package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/okian/patpat/internal/config"
)

const maxConfigBody = 1 << 20

type configEntry struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// ConfigHandler reads and writes configuration key paths.
type ConfigHandler struct {
	store ConfigStore
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(store ConfigStore) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// HandleConfig handles GET and PUT /config/{path}. The path is a key path with
// either "." or "/" separators, e.g. /config/program/main_tps.
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/config/"), "/")
	path = strings.ReplaceAll(path, "/", ".")
	if path == "" {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: missing key path", ErrBadRequest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, ok := h.store.Get(path)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("%w: %s", config.ErrNotFound, path))
			return
		}
		writeJSON(w, http.StatusOK, configEntry{Path: path, Value: v})
	case http.MethodPut:
		var v any
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody)).Decode(&v); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Errorf("%w: %w", ErrBadRequest, err))
				return
			}
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
			return
		}
		v = normalize(v)
		if err := h.store.Set(path, v); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		writeJSON(w, http.StatusOK, configEntry{Path: path, Value: v})
	default:
		http.NotFound(w, r)
	}
}

// normalize turns integral JSON numbers into ints so they compare equal to
// values read from YAML.
func normalize(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int(t)
		}
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = normalize(t[k])
		}
	}
	return v
}
