// internal/httpserver/server.go
//
// HTTP server wiring for the matchbank backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health".
//   - Activity endpoints (optional auth): POST /activity/new, select/place/
//     reset/finish, GET /activity/state, POST /activity/review.
//   - Daily activity endpoints (optional auth): mounted under /daily.
//   - Auth + profile/stat endpoints (require auth): /auth/*, /stats/me,
//     /attempts/mine.
//   - JWT + cookie handling, anonymous session cookie, user CRUD helpers.
//   - Database persistence for attempts and user stats.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Optional auth decorates requests with user context when a valid token
//     is present; routes can still run for guests.
//   - Engine misuse (placing with no selection, selecting a placed word) is
//     not an HTTP error: the response carries applied=false and the
//     unchanged snapshot, mirroring the engine's silent no-op contract.
//   - The answer key (zone groups) is withheld from play-mode responses and
//     only revealed on finish/review.

package httpserver

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/finchley/matchbank/internal/activity"
	"github.com/finchley/matchbank/internal/catalog"
	"github.com/finchley/matchbank/internal/materials"
	"github.com/finchley/matchbank/internal/store"
)

// Server bundles router, in-memory session store, DB handle, and the
// materials image resolver.
type Server struct {
	r         *chi.Mux
	store     store.Store
	db        *sql.DB
	materials materials.Resolver
}

// New constructs a Server, installs middleware, and registers routes.
func New(st store.Store, db *sql.DB, mat materials.Resolver) *Server {
	s := &Server{r: chi.NewRouter(), store: st, db: db, materials: mat}

	// --- middleware ---
	s.r.Use(chimw.RequestID)                 // add X-Request-ID
	s.r.Use(chimw.RealIP)                    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer)                 // recover from panics
	s.r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
	s.r.Use(jsonContentType)                 // default JSON responses
	s.r.Use(corsFromEnv)                     // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"matchbank-go","endpoints":["/health","POST /activity/new","POST /activity/place","/auth/*"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// Activity endpoints — OPTIONAL AUTH (guests can play)
	s.r.With(s.withOptionalAuth()).Post("/activity/new", s.handleNewSession)
	s.r.With(s.withOptionalAuth()).Post("/activity/select", s.handleSelect)
	s.r.With(s.withOptionalAuth()).Post("/activity/place", s.handlePlace)
	s.r.With(s.withOptionalAuth()).Post("/activity/reset", s.handleReset)
	s.r.With(s.withOptionalAuth()).Post("/activity/finish", s.handleFinish)
	s.r.With(s.withOptionalAuth()).Get("/activity/state", s.handleState)

	// Review replays reveal zone groups, so guests stay out: otherwise
	// anyone could fetch the answer key before playing.
	s.r.With(s.requireAuth()).Post("/activity/review", s.handleReview)

	// Daily activity — OPTIONAL AUTH (guests can play; one result per day)
	s.mountDaily(s.r.With(s.withOptionalAuth()))

	// Auth + profile/stats (require auth)
	s.mountAuthRoutes()

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
	})

	// Debug: catalog size
	s.r.Get("/debug/activities", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"activities": catalog.Stats(), "ids": catalog.IDs()})
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFromEnv enables credentialed CORS for a single origin.
// Uses CLIENT_ORIGIN env var; defaults to http://localhost:5173.
func corsFromEnv(next http.Handler) http.Handler {
	origin := os.Getenv("CLIENT_ORIGIN")
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------- ACTIVITY -------------------------------------

// zoneView is the play-mode projection of a zone: layout without the
// acceptable group, so the answer key never reaches a live player.
type zoneView struct {
	Key    string          `json:"key"`
	Coords activity.Coords `json:"coords"`
}

// activityView is the play-mode projection of a definition.
type activityView struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Words    []activity.Word `json:"words"`
	Zones    []zoneView      `json:"zones"`
	ImageURL string          `json:"imageUrl"` // "" when unresolved
}

func viewOf(sess *activity.Session) activityView {
	v := activityView{
		ID:       sess.Def.ID,
		Title:    sess.Def.Title,
		Words:    sess.Def.Words,
		ImageURL: sess.ImageURL,
	}
	for _, z := range sess.Def.Zones {
		v.Zones = append(v.Zones, zoneView{Key: z.Key, Coords: z.Coords})
	}
	return v
}

// newSessionReq/Res payloads for POST /activity/new.
type newSessionReq struct {
	ActivityID string `json:"activityId"` // optional; random pick when empty
	AllowReset bool   `json:"allowReset"` // reset affordance is per-deployment
}
type newSessionRes struct {
	SessionID string            `json:"sessionId"`
	Activity  activityView      `json:"activity"`
	Snapshot  activity.Snapshot `json:"snapshot"`
}

// handleNewSession creates a play session for the requested (or a random)
// activity, resolves its background image, and persists an attempt row
// for the owning user or anonymous id.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req newSessionReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	id := req.ActivityID
	if id == "" {
		id = catalog.RandomID()
	}
	def, ok := catalog.Get(id)
	if !ok {
		http.Error(w, `{"error":"activity_not_found"}`, http.StatusNotFound)
		return
	}

	sess := activity.New(def, activity.Options{AllowReset: req.AllowReset})

	// Background image is best-effort: a session without one is degraded,
	// never broken.
	if url, err := s.materials.ResolveImage(r.Context(), def.BookID, def.SectionPath); err == nil {
		sess.ImageURL = url
	} else {
		log.Warn().Err(err).Str("activity", def.ID).Msg("background image unresolved")
	}

	if err := s.store.Save(r.Context(), sess); err != nil {
		log.Error().Err(err).Msg("save session")
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if me, _ := r.Context().Value(ctxUserKey{}).(*authUser); me != nil {
		_, err := s.db.Exec(`INSERT INTO attempts (id, user_id, activity_id, status, moves, started_at)
		                     VALUES (?,?,?,?,0,?)`, sess.ID, me.ID, def.ID, "playing", now)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sess.ID).Msg("insert user attempt row")
		}
	} else {
		anon := s.ensureAnonID(w, r)
		_, err := s.db.Exec(`INSERT INTO attempts (id, anonymous_id, activity_id, status, moves, started_at)
		                     VALUES (?,?,?,?,0,?)`, sess.ID, anon, def.ID, "playing", now)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sess.ID).Msg("insert anon attempt row")
		}
	}

	_ = json.NewEncoder(w).Encode(newSessionRes{SessionID: sess.ID, Activity: viewOf(sess), Snapshot: sess.Snapshot()})
}

// opRes is the shared response for select/place/reset/state.
type opRes struct {
	Applied  bool              `json:"applied"`
	Snapshot activity.Snapshot `json:"snapshot"`
}

// loadSession decodes a sessionId out of body and fetches the session.
// Writes the error response itself when it returns nil.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request, sessionID string) *activity.Session {
	if sessionID == "" {
		http.Error(w, `{"error":"missing_session_id"}`, http.StatusBadRequest)
		return nil
	}
	sess, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return nil
	}
	return sess
}

// selectReq is the payload for POST /activity/select.
type selectReq struct {
	SessionID string `json:"sessionId"`
	ItemID    string `json:"itemId"`
}

// handleSelect arms a word-bank item for placement.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess := s.loadSession(w, r, req.SessionID)
	if sess == nil {
		return
	}
	applied := sess.Select(req.ItemID)
	_ = json.NewEncoder(w).Encode(opRes{Applied: applied, Snapshot: sess.Snapshot()})
}

// placeReq is the payload for POST /activity/place.
type placeReq struct {
	SessionID string `json:"sessionId"`
	ZoneKey   string `json:"zoneKey"`
}

// handlePlace drops the armed item into a zone and bumps the attempt's
// move counter (best effort, non-fatal if it fails).
func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess := s.loadSession(w, r, req.SessionID)
	if sess == nil {
		return
	}
	applied := sess.Place(req.ZoneKey)
	if applied {
		if _, err := s.db.Exec(`UPDATE attempts SET moves = moves + 1 WHERE id=?`, sess.ID); err != nil {
			log.Warn().Err(err).Msg("update attempt moves")
		}
	}
	_ = json.NewEncoder(w).Encode(opRes{Applied: applied, Snapshot: sess.Snapshot()})
}

// resetReq is the payload for POST /activity/reset.
type resetReq struct {
	SessionID string `json:"sessionId"`
}

// handleReset clears the placement map, where the session allows it.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess := s.loadSession(w, r, req.SessionID)
	if sess == nil {
		return
	}
	applied := sess.Reset()
	_ = json.NewEncoder(w).Encode(opRes{Applied: applied, Snapshot: sess.Snapshot()})
}

// handleState returns the current snapshot without mutating anything.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := s.loadSession(w, r, r.URL.Query().Get("sessionId"))
	if sess == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(opRes{Applied: false, Snapshot: sess.Snapshot()})
}

// finishReq/Res payloads for POST /activity/finish.
type finishReq struct {
	SessionID string `json:"sessionId"`
}
type finishRes struct {
	Result   activity.Result   `json:"result"`
	Zones    []activity.Zone   `json:"zones"` // groups revealed for review rendering
	Snapshot activity.Snapshot `json:"snapshot"`
}

// handleFinish grades the session, flips it to review mode, persists the
// attempt outcome, and (for signed-in users) updates profile stats.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req finishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess := s.loadSession(w, r, req.SessionID)
	if sess == nil {
		return
	}
	res := sess.Finish()
	if err := s.store.Save(r.Context(), sess); err != nil {
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}

	// Persist outcome/history (best effort, non-fatal if it fails).
	// The status guard makes the write idempotent: a repeated finish, or
	// finishing a review session that never had an attempt row, changes
	// nothing and must not bump stats a second time.
	placements, _ := json.Marshal(sess.Snapshot().Placements)
	tx, err := s.db.Begin()
	if err == nil {
		defer func() { _ = tx.Rollback() }()
		var finished int64
		if out, err := tx.Exec(`UPDATE attempts SET status='finished', score=?, placements=?, finished_at=?
		                        WHERE id=? AND status='playing'`,
			res.Score, string(placements), time.Now().UTC().Format(time.RFC3339), sess.ID); err != nil {
			log.Warn().Err(err).Msg("finish attempt")
		} else {
			finished, _ = out.RowsAffected()
		}
		if me, _ := r.Context().Value(ctxUserKey{}).(*authUser); me != nil && finished > 0 {
			perfect := res.Total > 0 && res.Correct == res.Total
			if err := s.bumpStats(tx, me.ID, perfect); err != nil {
				log.Warn().Err(err).Str("user", me.ID).Msg("bump stats")
			}
		}
		_ = tx.Commit()
	}

	_ = json.NewEncoder(w).Encode(finishRes{Result: res, Zones: sess.Def.Zones, Snapshot: sess.Snapshot()})
}

// reviewReq is the payload for POST /activity/review: re-displaying a
// previously recorded run, e.g. a teacher inspecting a student attempt.
type reviewReq struct {
	ActivityID string            `json:"activityId"`
	Placements map[string]string `json:"placements"`
}

// reviewRes carries the graded read-only session.
type reviewRes struct {
	SessionID string            `json:"sessionId"`
	Activity  activityView      `json:"activity"`
	Result    activity.Result   `json:"result"`
	Zones     []activity.Zone   `json:"zones"` // groups revealed for review rendering
	Snapshot  activity.Snapshot `json:"snapshot"`
}

// handleReview builds a read-only session from a caller-supplied
// placement map and returns it fully graded.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	def, ok := catalog.Get(req.ActivityID)
	if !ok {
		http.Error(w, `{"error":"activity_not_found"}`, http.StatusNotFound)
		return
	}
	sess := activity.NewReview(def, req.Placements)
	if url, err := s.materials.ResolveImage(r.Context(), def.BookID, def.SectionPath); err == nil {
		sess.ImageURL = url
	}
	if err := s.store.Save(r.Context(), sess); err != nil {
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}
	res := sess.Finish() // already review mode; grades in place
	_ = json.NewEncoder(w).Encode(reviewRes{
		SessionID: sess.ID,
		Activity:  viewOf(sess),
		Result:    res,
		Zones:     sess.Def.Zones,
		Snapshot:  sess.Snapshot(),
	})
}

// ------------------------------- AUTH --------------------------------------

// Request payloads for signup/login.
type signupReq struct{ Username, Password string }
type loginReq struct{ Username, Password string }

// authUser is placed into request context by auth middleware.
type authUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// mountAuthRoutes registers authentication + gated routes (/auth/*, /stats/me, /attempts/mine).
func (s *Server) mountAuthRoutes() {
	s.r.Post("/auth/signup", s.handleSignup)
	s.r.Post("/auth/login", s.handleLogin)
	s.r.Post("/auth/logout", s.handleLogout)

	// Current user (gated)
	s.r.With(s.requireAuth()).Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
		if me == nil {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(me)
	})

	// Stats (gated)
	s.r.With(s.requireAuth()).Get("/stats/me", func(w http.ResponseWriter, r *http.Request) {
		me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
		if me == nil {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		u, err := s.findUserByID(me.ID)
		if err != nil {
			http.Error(w, `{"error":"not_found"}`, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":             u.ID,
			"attemptsPlayed": u.AttemptsPlayed,
			"perfects":       u.Perfects,
			"streak":         u.Streak,
		})
	})

	// Recent attempts (gated)
	s.r.With(s.requireAuth()).Get("/attempts/mine", func(w http.ResponseWriter, r *http.Request) {
		me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
		if me == nil {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		rows, err := s.db.Query(`SELECT id, activity_id, status, moves, COALESCE(score,0), started_at, COALESCE(finished_at,'')
		                         FROM attempts WHERE user_id=? ORDER BY started_at DESC LIMIT 50`, me.ID)
		if err != nil {
			http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type attemptRow struct {
			ID         string  `json:"id"`
			ActivityID string  `json:"activityId"`
			Status     string  `json:"status"`
			Moves      int     `json:"moves"`
			Score      float64 `json:"score"`
			StartedAt  string  `json:"startedAt"`
			FinishedAt string  `json:"finishedAt,omitempty"`
		}
		out := []attemptRow{}
		for rows.Next() {
			var a attemptRow
			if err := rows.Scan(&a.ID, &a.ActivityID, &a.Status, &a.Moves, &a.Score, &a.StartedAt, &a.FinishedAt); err == nil {
				out = append(out, a)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}

// handleSignup creates a new user, signs a JWT, sets auth cookie, and claims anon history.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body signupReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid_json"}`, http.StatusBadRequest)
		return
	}
	u, err := s.createUser(body.Username, body.Password)
	if err != nil {
		if err.Error() == "username taken" {
			http.Error(w, `{"error":"Username taken"}`, http.StatusConflict)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	tok, exp, err := s.signJWT(u.ID, u.Username)
	if err != nil {
		http.Error(w, `{"error":"sign_failed"}`, http.StatusInternalServerError)
		return
	}
	s.setAuthCookie(w, tok, exp)
	// Attach any anonymous attempts to the new account
	s.claimAnonAttempts(s.ensureAnonID(w, r), u.ID)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": u.ID, "username": u.Username, "createdAt": u.CreatedAt})
}

// handleLogin authenticates user, sets cookie, and claims anon history.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid_json"}`, http.StatusBadRequest)
		return
	}
	u, err := s.findUserByUsername(strings.TrimSpace(body.Username))
	if err != nil || !checkPassword(u.PasswordHash, body.Password) {
		http.Error(w, `{"error":"Invalid username or password"}`, http.StatusUnauthorized)
		return
	}
	tok, exp, err := s.signJWT(u.ID, u.Username)
	if err != nil {
		http.Error(w, `{"error":"sign_failed"}`, http.StatusInternalServerError)
		return
	}
	s.setAuthCookie(w, tok, exp)
	s.claimAnonAttempts(s.ensureAnonID(w, r), u.ID)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": u.ID, "username": u.Username})
}

// handleLogout clears the auth cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearAuthCookie(w)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// --------------------------- optional auth ---------------------------------

// withOptionalAuth decorates requests with user context if a valid JWT is present.
// It never 401s; used for routes where guests are allowed.
func (s *Server) withOptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := bearerOrCookie(r); tok != "" {
				claims := jwt.MapClaims{}
				if t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
					return []byte(getEnv("JWT_SECRET", "dev_secret_change_me")), nil
				}); err == nil && t.Valid {
					if id, _ := claims["id"].(string); id != "" {
						if u, err := s.findUserByID(id); err == nil {
							ctx := context.WithValue(r.Context(), ctxUserKey{}, &authUser{ID: u.ID, Username: u.Username})
							r = r.WithContext(ctx)
						}
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

const anonCookieName = "matchbank_anon"

// ensureAnonID returns an existing anon cookie or sets a new one.
// Used to associate guest attempts with a stable identifier.
func (s *Server) ensureAnonID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(anonCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := genID()
	http.SetCookie(w, &http.Cookie{
		Name:     anonCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("APP_ENV") == "production",
		SameSite: func() http.SameSite {
			if os.Getenv("APP_ENV") == "production" {
				return http.SameSiteNoneMode
			}
			return http.SameSiteLaxMode
		}(),
		Expires: time.Now().Add(180 * 24 * time.Hour),
	})
	return id
}

// claimAnonAttempts transfers any anonymous attempts to a user account after auth.
func (s *Server) claimAnonAttempts(anonID, userID string) {
	if anonID == "" || userID == "" {
		return
	}
	if _, err := s.db.Exec(`UPDATE attempts SET user_id=?, anonymous_id=NULL WHERE anonymous_id=?`, userID, anonID); err != nil {
		log.Warn().Err(err).Msg("claim anon attempts")
	}
}

// ------------------------ auth helpers & users -----------------------------

// userRow matches the users table shape.
type userRow struct {
	ID             string
	Username       string
	PasswordHash   string
	CreatedAt      time.Time
	AttemptsPlayed int
	Perfects       int
	Streak         int
}

// createUser validates input, checks uniqueness, hashes password, and inserts a new user.
func (s *Server) createUser(username, pw string) (*userRow, error) {
	username = normalizeUsername(username)
	if err := validateSignup(username, pw); err != nil {
		return nil, err
	}
	var exists int
	_ = s.db.QueryRow(`SELECT 1 FROM users WHERE lower(username)=lower(?)`, username).Scan(&exists)
	if exists == 1 {
		return nil, errors.New("username taken")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	id := genID()
	if _, err := s.db.Exec(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?,?,?,?)`,
		id, username, string(h), now); err != nil {
		return nil, err
	}
	return &userRow{ID: id, Username: username, PasswordHash: string(h), CreatedAt: mustParse(now)}, nil
}

// findUserByUsername/ID load a user row or return an error if missing.
func (s *Server) findUserByUsername(username string) (*userRow, error) {
	row := s.db.QueryRow(`SELECT id, username, password_hash, created_at, attempts_played, perfects, streak
	                      FROM users WHERE lower(username)=lower(?)`, username)
	return scanUser(row)
}
func (s *Server) findUserByID(id string) (*userRow, error) {
	row := s.db.QueryRow(`SELECT id, username, password_hash, created_at, attempts_played, perfects, streak
	                      FROM users WHERE id=?`, id)
	return scanUser(row)
}

// scanUser converts a *sql.Row into a userRow.
func scanUser(row *sql.Row) (*userRow, error) {
	var u userRow
	var created string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created, &u.AttemptsPlayed, &u.Perfects, &u.Streak); err != nil {
		return nil, err
	}
	u.CreatedAt = mustParse(created)
	return &u, nil
}

// mustParse parses RFC3339 timestamps; on error returns zero time.
func mustParse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// checkPassword is a bcrypt verifier.
func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// normalizeUsername trims whitespace; adjust here if you want stricter rules.
func normalizeUsername(u string) string {
	return strings.TrimSpace(u)
}

// validateSignup enforces basic username/password rules.
func validateSignup(u, p string) error {
	if len(u) < 3 || len(u) > 24 {
		return errors.New("username must be 3–24 chars")
	}
	for _, r := range u {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return errors.New("username: letters, numbers, underscore only")
		}
	}
	if len(p) < 8 || len(p) > 100 {
		return errors.New("password must be 8–100 chars")
	}
	return nil
}

// genID creates a 22-char URL-safe, crypto-random identifier (no padding).
func genID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	s := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b[:])
	if len(s) > 22 {
		return s[:22]
	}
	return s
}

// bumpStats increments attempts played; updates perfects and streak based on result (within tx).
func (s *Server) bumpStats(tx *sql.Tx, userID string, perfect bool) error {
	var ap, perfects, streak int
	row := tx.QueryRow(`SELECT attempts_played, perfects, streak FROM users WHERE id=?`, userID)
	if err := row.Scan(&ap, &perfects, &streak); err != nil {
		return err
	}
	ap++
	if perfect {
		perfects++
		streak++
	} else {
		streak = 0
	}
	_, err := tx.Exec(`UPDATE users SET attempts_played=?, perfects=?, streak=? WHERE id=?`, ap, perfects, streak, userID)
	return err
}

// ------------------------------ JWT & cookies ------------------------------

// signJWT creates an HS256 JWT with id/username and a configurable expiry (JWT_EXPIRES_DAYS; default 14).
func (s *Server) signJWT(id, username string) (string, time.Time, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev_secret_change_me"
	}
	days := 14
	if v := os.Getenv("JWT_EXPIRES_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = n
		}
	}
	exp := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       id,
		"username": username,
		"exp":      exp.Unix(),
		"iat":      time.Now().Unix(),
	})
	ss, err := t.SignedString([]byte(secret))
	return ss, exp, err
}

// setAuthCookie writes the auth token cookie with appropriate security attributes.
func (s *Server) setAuthCookie(w http.ResponseWriter, token string, exp time.Time) {
	name := getEnv("COOKIE_NAME", "matchbank_token")
	secure := os.Getenv("APP_ENV") == "production"
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode // required for third-party contexts when Secure
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Expires:  exp,
	})
}

// clearAuthCookie deletes the auth token cookie.
func (s *Server) clearAuthCookie(w http.ResponseWriter) {
	name := getEnv("COOKIE_NAME", "matchbank_token")
	secure := os.Getenv("APP_ENV") == "production"
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		MaxAge:   -1,
	})
}

// bearerOrCookie extracts a bearer token from Authorization header or auth cookie.
func bearerOrCookie(r *http.Request) string {
	// Authorization: Bearer <token>
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(getEnv("COOKIE_NAME", "matchbank_token")); err == nil {
		return c.Value
	}
	return ""
}

// ---------------------------- auth middleware ------------------------------

// ctxUserKey is the context key type for storing authUser.
type ctxUserKey struct{}

// requireAuth enforces a valid JWT and injects authUser into request context.
func (s *Server) requireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerOrCookie(r)
			if tokenStr == "" {
				http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
				return
			}
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(getEnv("JWT_SECRET", "dev_secret_change_me")), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			id, _ := claims["id"].(string)
			username, _ := claims["username"].(string)
			if id == "" || username == "" {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			// Ensure user still exists
			if _, err := s.findUserByID(id); err != nil {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserKey{}, &authUser{ID: id, Username: username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ------------------------------- small util --------------------------------

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
