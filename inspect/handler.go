package inspect

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func routeParam(r *http.Request) Route {
	if route := Route(r.URL.Query().Get("route")); route != "" {
		return route
	}
	return RouteQuery
}

// Handler serves buffered records.
// GET /debug/inspect?route=query&limit=10
func Handler(insp *Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := routeParam(r)
		limit := 10
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}

		records := insp.Last(route, limit)
		if records == nil {
			records = []Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"route":   string(route),
			"count":   len(records),
			"records": records,
		})
	}
}

// SSEHandler streams records as Server-Sent Events.
// GET /debug/inspect/stream?route=query
func SSEHandler(insp *Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		records, cancel := insp.Subscribe(routeParam(r))
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case rec, ok := <-records:
				if !ok {
					return
				}
				_, _ = w.Write([]byte("data: "))
				_ = enc.Encode(rec)
				_, _ = w.Write([]byte("\n"))
				flusher.Flush()
			}
		}
	}
}
