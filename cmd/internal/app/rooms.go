package app

import (
	"log/slog"
	"net/http"
	"strings"

	"parley/cmd/internal/chat"
)

// chatHandler exposes the conversation engine over JSON.
type chatHandler struct {
	log    *slog.Logger
	engine *chat.Engine
}

type createRoomRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type roomsResponse struct {
	Rooms []chat.Room `json:"rooms"`
	Count int         `json:"count"`
}

type activeRequest struct {
	RoomID *string `json:"room_id"`
}

type activeResponse struct {
	RoomID *string    `json:"room_id"`
	View   *chat.View `json:"view,omitempty"`
}

type sendMessageRequest struct {
	Content   string `json:"content"`
	Kind      string `json:"kind"`
	ImageData string `json:"image_data"`
}

type historyResponse struct {
	Started bool        `json:"started"`
	Cursor  chat.Cursor `json:"cursor"`
}

func (h *chatHandler) register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, wrap(fn))
	}
	route("GET /rooms", h.handleListRooms)
	route("POST /rooms", h.handleCreateRoom)
	route("DELETE /rooms/{id}", h.handleDeleteRoom)
	route("GET /active", h.handleGetActive)
	route("PUT /active", h.handleSetActive)
	route("POST /rooms/{id}/messages", h.handleSendMessage)
	route("POST /rooms/{id}/history", h.handleLoadHistory)
}

func (h *chatHandler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	var rooms []chat.Room
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		rooms = h.engine.SearchRooms(q)
	} else {
		rooms = h.engine.Rooms()
	}
	if rooms == nil {
		rooms = []chat.Room{}
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: rooms, Count: len(rooms)})
}

func (h *chatHandler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	room, err := h.engine.CreateRoom(req.Title, req.Description)
	if err != nil {
		h.writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *chatHandler) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteRoom(r.PathValue("id")); err != nil {
		h.writeChatError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *chatHandler) handleGetActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.active())
}

func (h *chatHandler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	id := ""
	if req.RoomID != nil {
		id = *req.RoomID
	}
	if err := h.engine.ActivateRoom(id); err != nil {
		h.writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.active())
}

func (h *chatHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	kind := chat.Kind(req.Kind)
	if kind == "" {
		kind = chat.KindText
	}
	msg, err := h.engine.Append(chat.AppendInput{
		RoomID:    r.PathValue("id"),
		Content:   req.Content,
		Kind:      kind,
		Sender:    chat.SenderUser,
		ImageData: req.ImageData,
	})
	if err != nil {
		h.writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *chatHandler) handleLoadHistory(w http.ResponseWriter, r *http.Request) {
	started, err := h.engine.LoadOlderPage(r.PathValue("id"))
	if err != nil {
		h.writeChatError(w, r, err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	writeJSON(w, status, historyResponse{Started: started, Cursor: h.engine.Cursor()})
}

func (h *chatHandler) active() activeResponse {
	view, ok := h.engine.View()
	if !ok {
		return activeResponse{}
	}
	id := view.Room.ID
	return activeResponse{RoomID: &id, View: &view}
}

func (h *chatHandler) writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case chat.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case chat.IsInvalidState(err):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		h.log.Error("http.chat.fail", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
