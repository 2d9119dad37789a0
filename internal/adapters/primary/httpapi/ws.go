package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NoahRocket/X/internal/core/domain"
	"github.com/NoahRocket/X/internal/core/services"
)

// wsCommand is what the client may send: view changes only. Mutations go
// through the REST endpoints so they share one error surface.
type wsCommand struct {
	Action string `json:"action"` // "set_sort" | "toggle_tag" | "refresh"
	Sort   string `json:"sort,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

type wsFeedFrame struct {
	Type      string          `json:"type"`
	Posts     []domain.Post   `json:"posts"`
	Sort      domain.SortMode `json:"sort"`
	Tag       string          `json:"tag"`
	Remaining int             `json:"remaining"`
}

type wsErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleWS is the mounted feed view: the session lives exactly as long as
// the connection, so closing the tab tears down the realtime listener and a
// remount builds a fresh one. No dangling sessions, no duplicates.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	sess := s.registry.Attach(ViewerID(r.Context()))
	defer s.registry.Detach(sess)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	loadErr := sess.Load(ctx)
	remaining := 0
	if loadErr == nil {
		remaining, _ = sess.Remaining(ctx)
	}
	cancel()
	if loadErr != nil {
		slog.Error("feed load failed", "error", loadErr)
		_ = conn.WriteJSON(wsErrorFrame{Type: "error", Error: "failed to load feed"})
		return
	}

	if err := s.writeFeed(conn, sess, remaining); err != nil {
		return
	}

	// Reader goroutine: detects close, forwards view commands. Buffered so a
	// command arriving as the writer exits is dropped, not deadlocked.
	cmds := make(chan wsCommand, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var cmd wsCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			select {
			case cmds <- cmd:
			default:
			}
		}
	}()

	for {
		select {
		case ev := <-sess.Events():
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case cmd := <-cmds:
			switch cmd.Action {
			case "set_sort":
				sess.SetSort(domain.SortMode(cmd.Sort))
			case "toggle_tag":
				sess.ToggleTag(cmd.Tag)
			case "refresh":
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				if err := sess.Load(ctx); err != nil {
					slog.Warn("feed refresh failed", "error", err)
				}
				cancel()
			}
			if err := s.writeFeed(conn, sess, remaining); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) writeFeed(conn *websocket.Conn, sess *services.Session, remaining int) error {
	return conn.WriteJSON(wsFeedFrame{
		Type:      "feed",
		Posts:     sess.View(),
		Sort:      sess.Sort(),
		Tag:       sess.ActiveTag(),
		Remaining: remaining,
	})
}
