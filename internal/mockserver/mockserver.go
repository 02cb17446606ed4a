// Package mockserver is a stand-in for the product similarity service, so
// the bundled test can run without the real upstream.
//
// Ids 1-4 resolve to a list of similar products, 500 and 501 fail with a
// server error and every other id is unknown.
package mockserver

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// Product is one entry of a similar-products response.
type Product struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Availability bool    `json:"availability"`
}

// Catalog holds the mocked data.
type Catalog struct {
	Products map[string]Product
	Similar  map[string][]string
	Failing  map[string]bool
}

// DefaultCatalog matches the pools of the bundled similar-products test.
func DefaultCatalog() *Catalog {
	products := map[string]Product{
		"1": {ID: "1", Name: "Shirt", Price: 9.99, Availability: true},
		"2": {ID: "2", Name: "Dress", Price: 19.99, Availability: true},
		"3": {ID: "3", Name: "Blazer", Price: 29.99, Availability: false},
		"4": {ID: "4", Name: "Boots", Price: 39.99, Availability: true},
		"5": {ID: "5", Name: "Scarf", Price: 12.99, Availability: true},
	}
	return &Catalog{
		Products: products,
		Similar: map[string][]string{
			"1": {"2", "3", "4"},
			"2": {"3", "5"},
			"3": {"1", "4", "5"},
			"4": {"1", "2"},
		},
		Failing: map[string]bool{"500": true, "501": true},
	}
}

// Config shapes response timing.
type Config struct {
	// Latency is added to every product response
	Latency time.Duration
	// Jitter adds up to this much random delay on top of Latency
	Jitter time.Duration
}

// Server serves the mocked API.
type Server struct {
	catalog *Catalog
	config  Config
	router  *httprouter.Router

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a mock server over catalog.
func New(catalog *Catalog, cfg Config) *Server {
	s := &Server{
		catalog: catalog,
		config:  cfg,
		router:  httprouter.New(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.router.GET("/product/:id/similar", s.similarHandler)
	s.router.GET("/health", s.healthHandler)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) similarHandler(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if !s.delay(r) {
		return
	}

	id := params.ByName("id")
	if s.catalog.Failing[id] {
		http.Error(w, "Unexpected error", http.StatusInternalServerError)
		return
	}
	ids, ok := s.catalog.Similar[id]
	if !ok {
		http.Error(w, "Product not found", http.StatusNotFound)
		return
	}

	similar := make([]Product, 0, len(ids))
	for _, sid := range ids {
		if p, ok := s.catalog.Products[sid]; ok {
			similar = append(similar, p)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(similar); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("healthy"))
}

// delay sleeps for the configured latency. It returns false when the client
// went away first.
func (s *Server) delay(r *http.Request) bool {
	d := s.config.Latency
	if s.config.Jitter > 0 {
		s.rngMu.Lock()
		d += time.Duration(s.rng.Int63n(int64(s.config.Jitter)))
		s.rngMu.Unlock()
	}
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}
