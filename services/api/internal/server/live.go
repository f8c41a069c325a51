package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"plantcare/internal/util"
	"plantcare/pkg/domain"
	"plantcare/pkg/events"
	"plantcare/services/api/internal/app"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

var (
	errLivePath      = errors.New("invalid live path")
	errLiveForbidden = errors.New("live path outside your records")
)

type liveMessage struct {
	Type      string            `json:"type"`
	Path      string            `json:"path,omitempty"`
	Plants    []app.PlantView   `json:"plants,omitempty"`
	Plant     *app.PlantView    `json:"plant,omitempty"`
	Waterings []domain.Watering `json:"waterings,omitempty"`
	User      *domain.User      `json:"user,omitempty"`
	Change    *events.Change    `json:"change,omitempty"`
}

type liveView int

const (
	viewPlants liveView = iota
	viewUser
	viewPlant
	viewWaterings
)

// liveTarget is the record a socket watches: the user document, the plant
// collection, one plant or one plant's waterings.
type liveTarget struct {
	view    liveView
	path    string
	plantID string
}

// parseLiveTarget resolves the path query parameter. An empty path watches
// the plant collection.
func parseLiveTarget(raw string, userID string) (liveTarget, error) {
	root := domain.UserPath(userID)
	path := strings.Trim(strings.TrimSpace(raw), "/")
	if path == "" {
		return liveTarget{view: viewPlants, path: root + "/plants"}, nil
	}
	if !strings.HasPrefix(path, "users/") {
		return liveTarget{}, errLivePath
	}
	if !domain.IsUnder(path, root) {
		return liveTarget{}, errLiveForbidden
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
	if rest == "" {
		return liveTarget{view: viewUser, path: root}, nil
	}
	parts := strings.Split(rest, "/")
	if parts[0] != "plants" {
		return liveTarget{}, errLivePath
	}
	switch {
	case len(parts) == 1:
		return liveTarget{view: viewPlants, path: path}, nil
	case parts[1] == "":
		return liveTarget{}, errLivePath
	case len(parts) == 2:
		ref := domain.PlantRef{UserID: userID, PlantID: parts[1]}
		return liveTarget{view: viewPlant, path: ref.Path(), plantID: ref.PlantID}, nil
	case len(parts) == 3 && parts[2] == "waterings":
		ref := domain.PlantRef{UserID: userID, PlantID: parts[1]}
		return liveTarget{view: viewWaterings, path: ref.WateringsPath(), plantID: ref.PlantID}, nil
	}
	return liveTarget{}, errLivePath
}

// watches reports whether a stored change can alter the target's snapshot.
// Plant changes also refresh a waterings view so a deleted plant is noticed.
func (t liveTarget) watches(change events.Change) bool {
	switch t.view {
	case viewUser:
		return change.Path == t.path
	case viewWaterings:
		return domain.IsUnder(change.Path, strings.TrimSuffix(t.path, "/waterings"))
	default:
		return domain.IsUnder(change.Path, t.path)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimRight(r.Header.Get("Origin"), "/")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// liveToken accepts a bearer header or, since browsers cannot set headers
// on websocket requests, an access_token query parameter.
func liveToken(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// handleLive pushes a snapshot of the record named by the path query
// parameter over a websocket: once on connect and again after every change
// below it. Upload progress on watched plants is forwarded as it happens.
// Session changes are forwarded too, and the socket closes once its token
// is revoked.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token := liveToken(r)
	user, err := s.app.UserFromToken(r.Context(), token)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	target, err := parseLiveTarget(r.URL.Query().Get("path"), user.ID)
	switch {
	case errors.Is(err, errLiveForbidden):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub, err := s.app.Subscribe(ctx, user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	logger := util.LoggerFromContext(r.Context()).With("user_id", user.ID, "live_path", target.path)
	logger.Info("live subscription opened")
	defer logger.Info("live subscription closed")

	// The read side only handles control frames; its failure ends the session.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := s.sendSnapshot(ctx, conn, user, target); err != nil {
		logger.Warn("live snapshot failed", "err", err)
		return
	}
	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		case change, ok := <-sub.C():
			if !ok {
				return
			}
			if change.Kind == events.SignedIn || change.Kind == events.SignedOut {
				if err := writeLive(conn, liveMessage{Type: "session", Change: &change}); err != nil {
					return
				}
				if _, err := s.app.UserFromToken(ctx, token); err != nil {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"),
						time.Now().Add(liveWriteWait))
					return
				}
				continue
			}
			if change.Kind == events.Uploading {
				if domain.IsUnder(change.Path, target.path) {
					if err := writeLive(conn, liveMessage{Type: "progress", Path: change.Path, Change: &change}); err != nil {
						return
					}
				}
				continue
			}
			if !target.watches(change) {
				continue
			}
			if err := s.sendSnapshot(ctx, conn, user, target); err != nil {
				logger.Warn("live snapshot failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn, user domain.User, target liveTarget) error {
	msg := liveMessage{Type: "snapshot", Path: target.path}
	var err error
	switch target.view {
	case viewUser:
		var current domain.User
		if current, err = s.app.CurrentUser(ctx, user); err == nil {
			msg.User = &current
		}
	case viewPlant:
		var plant app.PlantView
		if plant, err = s.app.GetPlant(ctx, user, target.plantID); err == nil {
			msg.Plant = &plant
		}
	case viewWaterings:
		msg.Waterings, err = s.app.ListWaterings(ctx, user, target.plantID)
	default:
		msg.Plants, err = s.app.ListPlants(ctx, user)
	}
	if errors.Is(err, app.ErrPlantNotFound) {
		return writeLive(conn, liveMessage{Type: "deleted", Path: target.path})
	}
	if err != nil {
		return err
	}
	return writeLive(conn, msg)
}

func writeLive(conn *websocket.Conn, msg liveMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(msg)
}
