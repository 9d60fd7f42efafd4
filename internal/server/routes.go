package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Trackers
	mux.HandleFunc("/api/trackers", func(w http.ResponseWriter, r *http.Request) {
		RouteResourceCollection(w, r, s.app.TrackerHandler.ListHandler, s.app.TrackerHandler.CreateHandler)
	})
	mux.HandleFunc("/api/trackers/", s.handleTrackerRoutes)

	// Synchronous fetch-now
	mux.HandleFunc("/api/scrape", s.app.ScrapeHandler.FetchNowHandler)

	// Products
	mux.HandleFunc("/api/products", func(w http.ResponseWriter, r *http.Request) {
		RouteResourceCollection(w, r, s.app.ProductHandler.ListHandler, s.app.ProductHandler.CreateHandler)
	})
	mux.HandleFunc("/api/products/", s.handleProductRoutes)

	// Price history
	mux.HandleFunc("/api/history", s.app.HistoryHandler.GetHandler)

	// Recommendations
	mux.HandleFunc("/api/recommendations/", s.handleRecommendationRoutes)

	// Pricing rules
	mux.HandleFunc("/api/rules", func(w http.ResponseWriter, r *http.Request) {
		RouteResourceCollection(w, r, s.app.RuleHandler.ListHandler, s.app.RuleHandler.CreateHandler)
	})
	mux.HandleFunc("/api/rules/", s.handleRuleRoutes)

	// Queue inspection
	mux.HandleFunc("/api/dlq", s.app.QueueHandler.DLQHandler)
	mux.HandleFunc("/api/queue/stats", s.app.QueueHandler.StatsHandler)

	// Scheduler
	mux.HandleFunc("/api/scheduler/sweep", s.handleSweepTrigger)

	// System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/status", s.app.APIHandler.StatusHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleTrackerRoutes routes /api/trackers/{id} and its subpaths.
func (s *Server) handleTrackerRoutes(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/api/trackers/")
	if id == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	switch action {
	case "":
		RouteResourceItem(w, r,
			func(w http.ResponseWriter, r *http.Request) { s.app.TrackerHandler.GetHandler(w, r, id) },
			nil,
			func(w http.ResponseWriter, r *http.Request) { s.app.TrackerHandler.DeleteHandler(w, r, id) })
	case "scrape":
		RouteByMethod(w, r, MethodRouter{
			"POST": func(w http.ResponseWriter, r *http.Request) { s.app.TrackerHandler.ScrapeHandler(w, r, id) },
		})
	case "revive":
		RouteByMethod(w, r, MethodRouter{
			"POST": func(w http.ResponseWriter, r *http.Request) { s.app.TrackerHandler.ReviveHandler(w, r, id) },
		})
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleProductRoutes routes /api/products/{id}.
func (s *Server) handleProductRoutes(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/api/products/")
	if id == "" || action != "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	RouteByMethod(w, r, MethodRouter{
		"GET": func(w http.ResponseWriter, r *http.Request) { s.app.ProductHandler.GetHandler(w, r, id) },
	})
}

// handleRecommendationRoutes routes /api/recommendations/{product_id}.
func (s *Server) handleRecommendationRoutes(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/api/recommendations/")
	if id == "" || action != "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.app.RecommendationHandler.GetHandler(w, r, id)
}

// handleRuleRoutes routes /api/rules/{id}.
func (s *Server) handleRuleRoutes(w http.ResponseWriter, r *http.Request) {
	id, action := splitResourcePath(r.URL.Path, "/api/rules/")
	if id == "" || action != "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	RouteResourceItem(w, r,
		func(w http.ResponseWriter, r *http.Request) { s.app.RuleHandler.GetHandler(w, r, id) },
		func(w http.ResponseWriter, r *http.Request) { s.app.RuleHandler.UpdateHandler(w, r, id) },
		func(w http.ResponseWriter, r *http.Request) { s.app.RuleHandler.DeleteHandler(w, r, id) })
}

// handleSweepTrigger runs one scheduler sweep on demand.
func (s *Server) handleSweepTrigger(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"POST": func(w http.ResponseWriter, r *http.Request) {
			if err := s.app.Scheduler.TriggerSweepNow(); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"success","message":"sweep completed"}`))
		},
	})
}

// splitResourcePath extracts "{id}" and an optional trailing "{action}" from
// a path under prefix.
func splitResourcePath(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action
}
