package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avoncourt/voxform/internal/agent"
	"github.com/avoncourt/voxform/internal/protocol"
	"github.com/avoncourt/voxform/internal/provider"
	"github.com/avoncourt/voxform/internal/runtime"
	"github.com/avoncourt/voxform/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 2 << 20
)

// handleChatWS upgrades to a websocket bound to one session. Inbound
// user_message / user_audio frames run turns; each turn streams
// turn_started, agent_reply, record_updated, and turn_complete back. One
// turn runs at a time per socket; frames arriving mid-turn are answered
// with the conflict code.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.rt.GetState(r.Context(), sessionID); err != nil {
		respondMapped(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	var (
		turnMu sync.Mutex
		busy   bool
		turnWG sync.WaitGroup
	)

	runTurn := func(run func(context.Context) (*runtime.TurnOutput, error)) {
		turnMu.Lock()
		if busy {
			turnMu.Unlock()
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      protocol.CodeConflict,
				Retryable: true,
				Detail:    "a turn is already in progress on this connection",
			})
			return
		}
		busy = true
		turnMu.Unlock()

		turnID := uuid.NewString()
		send(protocol.TurnStarted{
			Type:      protocol.TypeTurnStarted,
			SessionID: sessionID,
			TurnID:    turnID,
		})

		turnWG.Add(1)
		go func() {
			defer turnWG.Done()
			defer func() {
				turnMu.Lock()
				busy = false
				turnMu.Unlock()
			}()

			out, err := run(ctx)
			if err != nil {
				code, retryable := wsErrorCode(err)
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      code,
					Retryable: retryable,
					Detail:    err.Error(),
				})
				return
			}

			send(protocol.AgentReply{
				Type:        protocol.TypeAgentReply,
				SessionID:   sessionID,
				TurnID:      turnID,
				Text:        out.Reply,
				Transcript:  out.UserText,
				AudioBase64: out.AudioBase64,
				AudioFormat: out.AudioFormat,
			})
			send(protocol.RecordUpdated{
				Type:       protocol.TypeRecordUpdated,
				SessionID:  sessionID,
				TurnID:     turnID,
				Record:     out.Record,
				DroppedOps: out.DroppedOps,
			})
			send(protocol.TurnComplete{
				Type:       protocol.TypeTurnComplete,
				SessionID:  sessionID,
				TurnID:     turnID,
				Completion: out.Completion,
				Cost:       out.Cost,
				StageMS:    out.StageMS(),
			})
		}()
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      protocol.CodeBadMessage,
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		switch m := parsed.(type) {
		case protocol.UserMessage:
			runTurn(func(ctx context.Context) (*runtime.TurnOutput, error) {
				return s.rt.StartTurn(ctx, sessionID, m.Text)
			})
		case protocol.UserAudio:
			runTurn(func(ctx context.Context) (*runtime.TurnOutput, error) {
				return s.rt.VoiceTurn(ctx, sessionID, m.AudioBase64)
			})
		}
	}

	cancel()
	turnWG.Wait()
	<-writerDone
}

func wsErrorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return protocol.CodeNotFound, false
	case errors.Is(err, session.ErrConflict):
		return protocol.CodeConflict, true
	case errors.Is(err, agent.ErrEmptyInput), errors.Is(err, runtime.ErrEmptyTranscript):
		return protocol.CodeEmptyInput, false
	default:
		var pe *provider.Error
		if errors.As(err, &pe) {
			return protocol.CodeProvider, pe.Retryable
		}
		return protocol.CodeInternal, false
	}
}
