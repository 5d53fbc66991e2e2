package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Handler exposes the session lifecycle over JSON. The caller's identity
// comes from the X-User-ID header; ownership is enforced by the engine.
type Handler struct {
	engine *app.Engine
}

func NewHandler(engine *app.Engine) *Handler {
	return &Handler{engine: engine}
}

// Register mounts the session routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.startSession)
	mux.HandleFunc("GET /sessions/{id}/question", h.currentQuestion)
	mux.HandleFunc("POST /sessions/{id}/answers", h.submitAnswer)
	mux.HandleFunc("POST /sessions/{id}/complete", h.completeSession)
	mux.HandleFunc("GET /sessions/{id}/timer", h.timerStatus)
}

type startRequest struct {
	QuizID string `json:"quizId"`
}

type startResponse struct {
	SessionID string              `json:"sessionId"`
	Attempt   int                 `json:"attempt"`
	Question  domain.QuestionView `json:"question"`
}

type answerRequest struct {
	QuestionID string   `json:"questionId"`
	OptionIDs  []string `json:"optionIds,omitempty"`
	Text       string   `json:"text,omitempty"`
}

type completeRequest struct {
	Reason domain.CompletionReason `json:"reason,omitempty"`
}

// progressResponse carries either the next question or the final result.
type progressResponse struct {
	Question *domain.QuestionView  `json:"question,omitempty"`
	Result   *domain.SessionResult `json:"result,omitempty"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	state, question, err := h.engine.Start(r.Context(), req.QuizID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		SessionID: state.ID,
		Attempt:   state.Attempt,
		Question:  question,
	})
}

func (h *Handler) currentQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	question, result, err := h.engine.CurrentQuestion(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Question: question, Result: result})
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
		http.Error(w, "missing questionId", http.StatusBadRequest)
		return
	}

	question, result, err := h.engine.SubmitAnswer(r.Context(), r.PathValue("id"), userID, req.QuestionID, domain.AnswerSubmission{
		OptionIDs: req.OptionIDs,
		Text:      req.Text,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Question: question, Result: result})
}

func (h *Handler) completeSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	req := completeRequest{Reason: domain.ReasonClientFinished}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = domain.ReasonClientFinished
	}

	result, err := h.engine.Complete(r.Context(), r.PathValue("id"), userID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{Result: result})
}

func (h *Handler) timerStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	status, err := h.engine.TimerStatus(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPolicyViolation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPersistence):
		// recoverable: the session stays in progress and the sweeper retries
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
