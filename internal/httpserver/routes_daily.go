// internal/httpserver/routes_daily.go
//
// HTTP routes for the "Daily Activity" mode.
// Exposes three endpoints under /daily:
//   - POST /daily/new         → start today's featured activity (creates or reuses session)
//   - POST /daily/finish      → grade today's run and record the result
//   - GET  /daily/leaderboard → fetch top 20 results for today (or a given date)
//
// Each owner gets one recorded result per day (enforced by DB + in-memory
// session). The featured activity is chosen deterministically from date +
// salt, so every player sorts the same words on the same day. Placement
// itself goes through the regular /activity/select and /activity/place
// endpoints: daily sessions live in the same shared session store.

package httpserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/finchley/matchbank/internal/activity"
	"github.com/finchley/matchbank/internal/catalog"
	"github.com/finchley/matchbank/internal/daily"
)

// dailyServer wraps dependencies for /daily endpoints.
type dailyServer struct {
	srv      *Server
	store    *daily.Store
	salt     string
	sessions map[string]*dailySession // active sessions keyed by userID|date
	mu       sync.Mutex               // guards sessions
}

// dailySession holds transient in-memory state for an in-progress daily run.
type dailySession struct {
	SessionID  string
	UserID     string
	Date       string
	ActivityID string
	Start      time.Time
	Finished   bool
}

// mountDaily registers all /daily routes.
func (s *Server) mountDaily(r chi.Router) {
	dd := &dailyServer{
		srv:      s,
		store:    daily.NewStore(s.db),
		salt:     getEnv("DAILY_SALT", "local_dev_salt"),
		sessions: make(map[string]*dailySession),
	}
	r.Route("/daily", func(r chi.Router) {
		r.Post("/new", dd.handleNew)
		r.Post("/finish", dd.handleFinish)
		r.Get("/leaderboard", dd.handleLeaderboard)
	})
}

// dateKeyNow returns today's date key and the id of the featured activity.
func (d *dailyServer) dateKeyNow() (date string, activityID string) {
	now := time.Now().UTC()
	date = daily.DateKey(now)
	ids := catalog.IDs()
	if len(ids) == 0 {
		return date, ""
	}
	return date, ids[daily.ActivityIndex(now, d.salt, len(ids))]
}

// userIDWithAnon returns the authenticated user ID if logged in,
// otherwise ensures an anonymous ID via Server.ensureAnonID.
func (d *dailyServer) userIDWithAnon(w http.ResponseWriter, r *http.Request) (string, bool) {
	if me, _ := r.Context().Value(ctxUserKey{}).(*authUser); me != nil {
		return me.ID, true
	}
	return d.srv.ensureAnonID(w, r), true
}

// -----------------------------------------------------------------------------
// /daily/new

// dailyNewRes is returned by /daily/new.
type dailyNewRes struct {
	SessionID string             `json:"sessionId"`
	Date      string             `json:"date"`
	Played    bool               `json:"played"`
	Activity  *activityView      `json:"activity,omitempty"`
	Snapshot  *activity.Snapshot `json:"snapshot,omitempty"`
}

// handleNew creates or reuses a daily session for the current date.
// - If the owner already has a DB row for today → return Played=true.
// - Otherwise create/reuse a session in the shared store and return it.
// Daily runs never carry the reset affordance: one pass, then grading.
func (d *dailyServer) handleNew(w http.ResponseWriter, r *http.Request) {
	uid, ok := d.userIDWithAnon(w, r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	date, actID := d.dateKeyNow()
	if actID == "" {
		http.Error(w, `{"error":"empty_catalog"}`, http.StatusServiceUnavailable)
		return
	}

	// Check if already played (persisted in DB).
	if played, err := d.store.AlreadyPlayed(r.Context(), uid, date); err == nil && played {
		_ = json.NewEncoder(w).Encode(dailyNewRes{Date: date, Played: true})
		return
	}

	// Reuse session in memory.
	key := uid + "|" + date
	d.mu.Lock()
	if ds, ok := d.sessions[key]; ok {
		d.mu.Unlock()
		if sess, err := d.srv.store.Get(r.Context(), ds.SessionID); err == nil {
			view, snap := viewOf(sess), sess.Snapshot()
			_ = json.NewEncoder(w).Encode(dailyNewRes{SessionID: ds.SessionID, Date: date, Activity: &view, Snapshot: &snap})
			return
		}
		// Session store lost it (restart); fall through and recreate.
		d.mu.Lock()
		delete(d.sessions, key)
	}
	d.mu.Unlock()

	def, ok := catalog.Get(actID)
	if !ok {
		http.Error(w, `{"error":"activity_not_found"}`, http.StatusInternalServerError)
		return
	}
	sess := activity.New(def, activity.Options{})
	if url, err := d.srv.materials.ResolveImage(r.Context(), def.BookID, def.SectionPath); err == nil {
		sess.ImageURL = url
	} else {
		log.Warn().Err(err).Str("activity", def.ID).Msg("daily background image unresolved")
	}
	if err := d.srv.store.Save(r.Context(), sess); err != nil {
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}

	d.mu.Lock()
	d.sessions[key] = &dailySession{
		SessionID:  sess.ID,
		UserID:     uid,
		Date:       date,
		ActivityID: actID,
		Start:      time.Now(),
	}
	d.mu.Unlock()

	view, snap := viewOf(sess), sess.Snapshot()
	_ = json.NewEncoder(w).Encode(dailyNewRes{SessionID: sess.ID, Date: date, Activity: &view, Snapshot: &snap})
}

// -----------------------------------------------------------------------------
// /daily/finish

// dailyFinishReq is the request payload for /daily/finish.
type dailyFinishReq struct {
	SessionID string `json:"sessionId"`
}

// dailyFinishRes is the response payload for /daily/finish.
type dailyFinishRes struct {
	Result activity.Result `json:"result"`
	Zones  []activity.Zone `json:"zones"`
	State  string          `json:"state"` // finished | locked
}

// handleFinish grades today's daily session and records the result.
// - Rejects if no session or a session id mismatch.
// - A second finish for the same day reports "locked" without re-recording.
func (d *dailyServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	uid, ok := d.userIDWithAnon(w, r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var p dailyFinishReq
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.SessionID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	date, _ := d.dateKeyNow()
	key := uid + "|" + date
	d.mu.Lock()
	ds, ok := d.sessions[key]
	d.mu.Unlock()
	if !ok || ds.SessionID != p.SessionID {
		http.Error(w, "no session", http.StatusConflict)
		return
	}
	if ds.Finished {
		_ = json.NewEncoder(w).Encode(dailyFinishRes{State: "locked"})
		return
	}

	sess, err := d.srv.store.Get(r.Context(), ds.SessionID)
	if err != nil {
		http.Error(w, "no session", http.StatusConflict)
		return
	}
	res := sess.Finish()

	d.mu.Lock()
	ds.Finished = true
	d.mu.Unlock()

	elapsed := int(time.Since(ds.Start).Milliseconds())
	if err := d.store.InsertResult(r.Context(), daily.Result{
		UserID: uid, Date: date, Activity: ds.ActivityID,
		Score: res.Score, Moves: sess.Moves(), ElapsedMs: elapsed,
	}); err != nil {
		log.Warn().Err(err).Str("user", uid).Msg("insert daily result")
	}

	_ = json.NewEncoder(w).Encode(dailyFinishRes{Result: res, Zones: sess.Def.Zones, State: "finished"})
}

// -----------------------------------------------------------------------------
// /daily/leaderboard

// lbRes is returned by /daily/leaderboard.
type lbRes struct {
	Date string        `json:"date"`
	Top  []daily.LBRow `json:"top"`
}

// handleLeaderboard returns the leaderboard for the given date (default today).
func (d *dailyServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date, _ = d.dateKeyNow()
	}
	rows, err := d.store.Leaderboard(r.Context(), date, 20)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(lbRes{Date: date, Top: rows})
}
