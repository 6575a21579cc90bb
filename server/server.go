// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the location, the place provider and lookup
// sessions over a JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jcodagnone/placelookup/location"
	"github.com/jcodagnone/placelookup/lookup"
	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/spatial"
)

// Locator is the location provider as seen by the API.
type Locator interface {
	lookup.Locator
	Status() location.Status
}

// Options configures a Server.
type Options struct {
	Session lookup.SessionOptions
	// SigningKey enables bearer authentication on /api when not empty.
	SigningKey []byte
	// SessionIdle closes sessions not used for that long. Zero keeps them
	// until they are deleted.
	SessionIdle time.Duration
}

type liveSession struct {
	session  *lookup.Session
	lastUsed time.Time
}

type Server struct {
	locator  Locator
	provider places.Provider
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*liveSession
}

func NewServer(locator Locator, provider places.Provider, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		locator:  locator,
		provider: provider,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*liveSession),
	}

	if opts.SessionIdle > 0 {
		go s.reapIdle(opts.SessionIdle)
	}

	return s
}

func (s *Server) reapIdle(idle time.Duration) {
	ticker := time.NewTicker(max(idle/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.ExpireIdle(now); n > 0 {
				log.Printf("🧹 Closed %d idle sessions", n)
			}
		}
	}
}

// ExpireIdle closes the sessions last used more than Options.SessionIdle
// before now and returns how many were closed.
func (s *Server) ExpireIdle(now time.Time) int {
	if s.opts.SessionIdle <= 0 {
		return 0
	}

	var expired []*lookup.Session

	s.mu.Lock()
	for id, live := range s.sessions {
		if now.Sub(live.lastUsed) > s.opts.SessionIdle {
			expired = append(expired, live.session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		session.Close()
	}

	return len(expired)
}

// Handler returns the router with every route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	if len(s.opts.SigningKey) > 0 {
		api.Use(bearerAuth(s.opts.SigningKey))
	}

	api.GET("/location", s.getLocation)
	api.GET("/places/search", s.searchPlaces)
	api.GET("/places/reverse", s.reverseGeocode)
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/search", s.openSearch)
	api.GET("/sessions/:id/search", s.getSearch)
	api.PUT("/sessions/:id/search/text", s.changeText)
	api.POST("/sessions/:id/search/select", s.selectPlace)
	api.DELETE("/sessions/:id/search", s.dismissSearch)

	return r
}

// Run serves on addr until ctx is cancelled, then closes every session.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)

	go func() {
		log.Printf("🌐 Serving on http://%s (provider %s)", addr, s.provider.Name())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.Close()

		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)

	s.Close()

	if err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return nil
}

// Close ends every session.
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*liveSession)
	s.mu.Unlock()

	for _, live := range sessions {
		live.session.Close()
	}
}

func (s *Server) getLocation(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.locator.Status())
}

// providerFailure writes the status for an error returned by the place provider.
func providerFailure(ctx *gin.Context, err error) {
	switch {
	case places.IsNoResults(err):
		ctx.JSON(http.StatusNotFound, gin.H{"error": places.ErrNoResults.Error()})
	case errors.Is(err, context.Canceled):
		// The client went away.
		ctx.Status(499)
	default:
		log.Printf("Place provider failed: %v", err)
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// searchRegion reads the optional near and radius query parameters; without
// near the current coordinate is used, if any.
func (s *Server) searchRegion(ctx *gin.Context) (spatial.Region, error) {
	radius := s.opts.Session.Radius

	if v := ctx.Query("radius"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			return spatial.Region{}, fmt.Errorf("invalid radius %q", v)
		}

		radius = r
	}

	if near := ctx.Query("near"); near != "" {
		c, err := spatial.ParseCoordinate(near)
		if err != nil {
			return spatial.Region{}, err
		}

		return spatial.NewRegion(c, radius), nil
	}

	region, _ := s.locator.RegionAround(radius)

	return region, nil
}

func (s *Server) searchPlaces(ctx *gin.Context) {
	text := ctx.Query("text")
	if text == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "text query parameter is required"})

		return
	}

	region, err := s.searchRegion(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	found, err := s.provider.Search(ctx.Request.Context(), text, region)
	if err != nil {
		providerFailure(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, found)
}

func (s *Server) reverseGeocode(ctx *gin.Context) {
	lat, errLat := strconv.ParseFloat(ctx.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(ctx.Query("lng"), 64)
	c := spatial.Coordinate{Lat: lat, Lng: lng}

	if errLat != nil || errLng != nil || !c.Valid() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "valid lat and lng query parameters are required"})

		return
	}

	p, err := s.provider.PlaceFor(ctx.Request.Context(), c)
	if err != nil {
		providerFailure(ctx, err)

		return
	}

	ctx.JSON(http.StatusOK, p)
}

type searchView struct {
	Region spatial.Region `json:"region"`
	lookup.Snapshot
}

type sessionView struct {
	ID string `json:"id"`
	lookup.SessionSnapshot
	Search *searchView `json:"search,omitempty"`
}

func viewOf(id string, session *lookup.Session) sessionView {
	v := sessionView{ID: id, SessionSnapshot: session.Snapshot()}

	if search := session.Search(); search != nil {
		v.Search = &searchView{Region: search.Region(), Snapshot: search.Snapshot()}
	}

	return v
}

func (s *Server) session(ctx *gin.Context) (string, *lookup.Session, bool) {
	id := ctx.Param("id")

	s.mu.Lock()
	live, ok := s.sessions[id]
	if ok {
		live.lastUsed = time.Now()
	}
	s.mu.Unlock()

	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("session %s not found", id)})

		return id, nil, false
	}

	return id, live.session, true
}

// openedSearch returns the open search screen or writes 409.
func openedSearch(ctx *gin.Context, session *lookup.Session) (*lookup.Coordinator, bool) {
	search := session.Search()
	if search == nil {
		ctx.JSON(http.StatusConflict, gin.H{"error": "search is not open"})

		return nil, false
	}

	return search, true
}

func (s *Server) createSession(ctx *gin.Context) {
	id := uuid.NewString()
	session := lookup.NewSession(s.ctx, s.locator, s.provider, s.provider, s.opts.Session)

	s.mu.Lock()
	s.sessions[id] = &liveSession{session: session, lastUsed: time.Now()}
	s.mu.Unlock()

	session.Start()

	ctx.JSON(http.StatusCreated, viewOf(id, session))
}

func (s *Server) getSession(ctx *gin.Context) {
	id, session, ok := s.session(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, viewOf(id, session))
}

func (s *Server) deleteSession(ctx *gin.Context) {
	id, session, ok := s.session(ctx)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	session.Close()

	ctx.Status(http.StatusNoContent)
}

func (s *Server) openSearch(ctx *gin.Context) {
	id, session, ok := s.session(ctx)
	if !ok {
		return
	}

	session.OpenSearch()

	ctx.JSON(http.StatusOK, viewOf(id, session))
}

func (s *Server) getSearch(ctx *gin.Context) {
	_, session, ok := s.session(ctx)
	if !ok {
		return
	}

	search, ok := openedSearch(ctx, session)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, searchView{Region: search.Region(), Snapshot: search.Snapshot()})
}

type textRequest struct {
	Text *string `json:"text" binding:"required"`
}

func (s *Server) changeText(ctx *gin.Context) {
	_, session, ok := s.session(ctx)
	if !ok {
		return
	}

	var req textRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	search, ok := openedSearch(ctx, session)
	if !ok {
		return
	}

	search.OnTextChanged(*req.Text)

	ctx.JSON(http.StatusAccepted, searchView{Region: search.Region(), Snapshot: search.Snapshot()})
}

type selectRequest struct {
	PlaceID string `json:"place_id" binding:"required"`
}

func (s *Server) selectPlace(ctx *gin.Context) {
	id, session, ok := s.session(ctx)
	if !ok {
		return
	}

	var req selectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	if _, ok := openedSearch(ctx, session); !ok {
		return
	}

	if _, ok := session.PickByID(req.PlaceID); !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("place %s is not among the results", req.PlaceID)})

		return
	}

	ctx.JSON(http.StatusOK, viewOf(id, session))
}

func (s *Server) dismissSearch(ctx *gin.Context) {
	_, session, ok := s.session(ctx)
	if !ok {
		return
	}

	session.DismissSearch()

	ctx.Status(http.StatusNoContent)
}
