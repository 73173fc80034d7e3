package handlers

import (
	"net/http"

	"github.com/gorilla/sessions"

	"toybox-api/config"
)

const (
	sessionName   = "storefront-session"
	planIDSession = "plan_id"
)

// PlanSession keeps the shopper's selected plan in a signed cookie.
type PlanSession struct {
	store sessions.Store
}

func NewPlanSession(cfg config.SessionConfig) *PlanSession {
	store := sessions.NewCookieStore([]byte(cfg.Secret))
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   cfg.Domain,
		MaxAge:   cfg.MaxAge,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &PlanSession{store: store}
}

func NewPlanSessionFromStore(store sessions.Store) *PlanSession {
	return &PlanSession{store: store}
}

// PlanID returns the selected plan, zero when none is selected or the cookie is unreadable.
func (p *PlanSession) PlanID(r *http.Request) int64 {
	session, err := p.store.Get(r, sessionName)
	if err != nil {
		return 0
	}
	id, _ := session.Values[planIDSession].(int64)
	return id
}

func (p *PlanSession) SetPlanID(w http.ResponseWriter, r *http.Request, planID int64) error {
	// A tampered or stale cookie still yields a fresh session we can write to.
	session, _ := p.store.Get(r, sessionName)
	if planID == 0 {
		delete(session.Values, planIDSession)
	} else {
		session.Values[planIDSession] = planID
	}
	return session.Save(r, w)
}
