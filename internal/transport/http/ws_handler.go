package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// WSHandler drives an attempt interactively over a websocket: the client
// starts or resumes a session, answers questions and receives timer pushes
// without polling.
type WSHandler struct {
	engine   *app.Engine
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine) *WSHandler {
	return &WSHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	QuizID    string `json:"quizId"`
	SessionID string `json:"sessionId"` // resume an existing session
}

type wsAnswerPayload struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds,omitempty"`
	Text       string   `json:"text,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type sessionPayload struct {
	SessionID string `json:"sessionId"`
	Attempt   int    `json:"attempt"`
}

// ServeWS upgrades the request and runs the attempt loop until the client
// disconnects or the session reaches a terminal status.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	timerDone := make(chan struct{})
	timerStarted := make(chan string, 1)

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// Push timer status every few seconds once a session is active, so
	// clients can render a countdown without polling.
	go func() {
		defer close(timerDone)
		var sessionID string
		select {
		case sessionID = <-timerStarted:
		case <-closeSignals:
			return
		}
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				status, err := h.engine.TimerStatus(r.Context(), sessionID, userID)
				if err != nil {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "timerStatus", Payload: status}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	var sessionID string
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("invalid start payload")
				continue
			}
			if payload.SessionID != "" {
				// resume: serve whatever the session is currently at
				sessionID = payload.SessionID
				question, result, err := h.engine.CurrentQuestion(r.Context(), sessionID, userID)
				if err != nil {
					send <- errorMessage(err.Error())
					continue
				}
				h.sendProgress(send, question, result)
			} else {
				state, question, err := h.engine.Start(r.Context(), payload.QuizID, userID)
				if err != nil {
					send <- errorMessage(err.Error())
					continue
				}
				sessionID = state.ID
				send <- outboundMessage[any]{Type: "session", Payload: sessionPayload{SessionID: state.ID, Attempt: state.Attempt}}
				send <- outboundMessage[any]{Type: "question", Payload: question}
			}
			select {
			case timerStarted <- sessionID:
			default:
			}
		case "answer":
			if sessionID == "" {
				send <- errorMessage("no active session")
				continue
			}
			var payload wsAnswerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("invalid answer payload")
				continue
			}
			question, result, err := h.engine.SubmitAnswer(r.Context(), sessionID, userID, payload.QuestionID, domain.AnswerSubmission{
				OptionIDs: payload.OptionIDs,
				Text:      payload.Text,
			})
			if err != nil {
				send <- errorMessage(err.Error())
				continue
			}
			h.sendProgress(send, question, result)
		case "timer":
			if sessionID == "" {
				send <- errorMessage("no active session")
				continue
			}
			status, err := h.engine.TimerStatus(r.Context(), sessionID, userID)
			if err != nil {
				send <- errorMessage(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "timerStatus", Payload: status}
		case "complete":
			if sessionID == "" {
				send <- errorMessage("no active session")
				continue
			}
			result, err := h.engine.Complete(r.Context(), sessionID, userID, domain.ReasonClientFinished)
			if err != nil {
				send <- errorMessage(err.Error())
				continue
			}
			send <- outboundMessage[any]{Type: "result", Payload: result}
		default:
			send <- errorMessage("unsupported message type")
		}
	}

	close(closeSignals)
	<-timerDone
	close(send)
	<-writerDone
}

func (h *WSHandler) sendProgress(send chan<- outboundMessage[any], question *domain.QuestionView, result *domain.SessionResult) {
	if result != nil {
		send <- outboundMessage[any]{Type: "result", Payload: result}
		return
	}
	if question != nil {
		send <- outboundMessage[any]{Type: "question", Payload: question}
	}
}

func errorMessage(message string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}}
}
