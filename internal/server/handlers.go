package server

import (
	"encoding/json"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"github.com/conneroisu/sitesmith/internal/build"
	"github.com/conneroisu/sitesmith/internal/server/middleware"
	"github.com/conneroisu/sitesmith/internal/version"
	"github.com/conneroisu/sitesmith/internal/watcher"
)

// assetDirs are served from paths.assets under the same name.
var assetDirs = []string{"css", "js", "images"}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}

// countHandler serves GET /count and PUT /count. Increments go through
// limiter.
func (s *Server) countHandler(limiter *middleware.RateLimiter) http.Handler {
	increment := limiter.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clicks, err := s.counter.Increment()
		if err != nil {
			s.logger.Error(r.Context(), err, "Failed to persist click")
			http.Error(w, "Failed to record click", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, r, http.StatusOK, clicks)
	}))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			s.writeJSON(w, r, http.StatusOK, s.counter.Get())
		case http.MethodPut:
			increment.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, PUT")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Version     string                 `json:"version"`
	Watchers    []watcher.Status       `json:"watchers,omitempty"`
	Builds      *build.MetricsSnapshot `json:"builds,omitempty"`
	SuccessRate float64                `json:"success_rate"`
	Clients     int                    `json:"livereload_clients"`
}

// handleHealth reports "degraded" once any watcher has stopped.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Short(),
		Clients:   s.hub.ClientCount(),
	}

	if s.status != nil {
		health.Watchers = s.status.Statuses()
		for _, st := range health.Watchers {
			if st.State == watcher.StateStopped {
				health.Status = "degraded"
			}
		}
		if metrics := s.status.Metrics(); metrics != nil {
			snap := metrics.GetSnapshot()
			health.Builds = &snap
			health.SuccessRate = metrics.GetSuccessRate()
		}
	}

	s.writeJSON(w, r, http.StatusOK, health)
}

func (s *Server) assetHandler(dir string) http.Handler {
	root := filepath.Join(s.cfg.Paths.Assets, dir)
	return http.StripPrefix("/"+dir+"/", http.FileServer(http.Dir(root)))
}

// siteHandler serves the output tree. Extensionless paths fall back to the
// matching .html file, so /posts/first serves posts/first.html.
func (s *Server) siteHandler() http.Handler {
	root := http.Dir(s.cfg.Paths.Output)
	files := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean("/" + r.URL.Path)
		if p != "/" && path.Ext(p) == "" {
			if f, err := root.Open(p + ".html"); err == nil {
				info, statErr := f.Stat()
				f.Close()
				if statErr == nil && !info.IsDir() {
					r2 := r.Clone(r.Context())
					r2.URL.Path = p + ".html"
					files.ServeHTTP(w, r2)
					return
				}
			}
		}
		files.ServeHTTP(w, r)
	})
}

const liveReloadScript = `(function () {
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  function connect() {
    var ws = new WebSocket(proto + "//" + location.host + "/ws");
    ws.onmessage = function (e) {
      var msg = JSON.parse(e.data);
      if (msg.type === "reload") {
        location.reload();
      } else if (msg.type === "build_error") {
        console.error("sitesmith: " + msg.target + ": " + msg.content);
      }
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();
`

// handleLiveReloadScript serves the client side of /ws. Include it from the
// head fragment with <script src="/livereload.js"></script>.
func handleLiveReloadScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(liveReloadScript))
}
