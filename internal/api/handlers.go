package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/topicchat/server/internal/interests"
	"github.com/topicchat/server/internal/server"
	"github.com/topicchat/server/internal/store"
	"github.com/topicchat/server/internal/types"
)

const (
	defaultRoomListLimit = 20
	maxRoomListLimit     = 100
	maxSearchResults     = 50
	minSearchQueryLen    = 2
)

type CreateRoomRequest struct {
	Title     string   `json:"title" validate:"required,min=3,max=100"`
	Topic     string   `json:"topic" validate:"required,min=10,max=200"`
	Interests []string `json:"interests" validate:"required,min=1,max=5,dive,required"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=500"`
}

type UpdateProfileRequest struct {
	Interests []string `json:"interests" validate:"required,max=5,dive,required"`
}

func (s *TopicChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *TopicChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Println(errResp.Error())
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// sanitizeContent trims whitespace and drops control characters so a
// message body is plain printable text before length validation.
func sanitizeContent(content string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, content)

	return strings.TrimSpace(cleaned)
}

func validateInterestTags(tags []string) ([]string, *ApiError) {
	tags = lo.Uniq(lo.Map(tags, func(t string, _ int) string {
		return strings.ToLower(strings.TrimSpace(t))
	}))

	for _, tag := range tags {
		if !interests.IsKnown(tag) {
			return nil, NewValidationError("unknown interest: " + tag)
		}
	}

	return tags, nil
}

func (s *TopicChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, NewValidationError("invalid room: "+err.Error()))
		return
	}

	tags, errResp := validateInterestTags(req.Interests)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	room, err := s.rooms.CreateRoom(r.Context(), store.CreateRoomParams{
		Title:           strings.TrimSpace(req.Title),
		Topic:           strings.TrimSpace(req.Topic),
		CreatorId:       identity.UserId,
		CreatorUsername: identity.Username,
		Interests:       tags,
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	if err := s.users.AddToActiveChats(r.Context(), identity.UserId, room.Id); err != nil {
		s.log.Println("add to active chats:", err)
	}

	s.dispatcher.RoomCreated(r.Context(), room)

	s.writeJson(w, http.StatusCreated, room)
}

// pageSlice clips a full result set to the requested window.
func pageSlice[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (s *TopicChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	limit := defaultRoomListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > maxRoomListLimit {
			s.writeError(w, NewValidationError("limit must be between 1 and "+strconv.Itoa(maxRoomListLimit)))
			return
		}
		limit = parsed
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			s.writeError(w, NewValidationError("offset must be a non-negative integer"))
			return
		}
		offset = parsed
	}

	var (
		rooms []types.ChatRoom
		err   error
	)
	if tagsParam := r.URL.Query().Get("interests"); tagsParam != "" {
		tags, errResp := validateInterestTags(strings.Split(tagsParam, ","))
		if errResp != nil {
			s.writeError(w, errResp)
			return
		}
		rooms, err = s.rooms.GetRoomsByInterests(r.Context(), tags)
	} else {
		rooms, err = s.rooms.GetActiveRooms(r.Context())
	}
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, pageSlice(rooms, offset, limit))
}

func (s *TopicChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *TopicChatApp) searchRooms(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < minSearchQueryLen {
		s.writeError(w, NewValidationError("search query must be at least 2 characters"))
		return
	}

	rooms, err := s.rooms.SearchRooms(r.Context(), query)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, pageSlice(rooms, 0, maxSearchResults))
}

func (s *TopicChatApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId := r.PathValue("id")
	if err := s.rooms.JoinRoom(r.Context(), roomId, identity.UserId); err != nil {
		s.writeError(w, storeError(err))
		return
	}

	if err := s.users.AddToActiveChats(r.Context(), identity.UserId, roomId); err != nil {
		s.log.Println("add to active chats:", err)
	}

	s.dispatcher.UserJoined(r.Context(), roomId, identity.UserId, identity.Username)

	room, err := s.rooms.GetRoom(r.Context(), roomId)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *TopicChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId := r.PathValue("id")
	if err := s.rooms.LeaveRoom(r.Context(), roomId, identity.UserId); err != nil {
		s.writeError(w, storeError(err))
		return
	}

	if err := s.users.RemoveFromActiveChats(r.Context(), identity.UserId, roomId); err != nil {
		s.log.Println("remove from active chats:", err)
	}

	s.dispatcher.UserLeft(r.Context(), roomId, identity.UserId, identity.Username)

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *TopicChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId := r.PathValue("id")
	if err := s.rooms.DeleteRoom(r.Context(), roomId, identity.UserId); err != nil {
		s.writeError(w, storeError(err))
		return
	}

	if err := s.messages.DeleteAllMessages(r.Context(), roomId); err != nil {
		s.log.Println("delete room messages:", err)
	}

	if err := s.users.RemoveFromActiveChats(r.Context(), identity.UserId, roomId); err != nil {
		s.log.Println("remove from active chats:", err)
	}

	s.dispatcher.RoomDeleted(r.Context(), roomId, identity.UserId, identity.Username)

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *TopicChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId := r.PathValue("id")
	if _, err := s.rooms.GetRoom(r.Context(), roomId); err != nil {
		s.writeError(w, storeError(err))
		return
	}

	isMember, err := s.rooms.IsParticipant(r.Context(), roomId, identity.UserId)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}
	if !isMember {
		s.writeError(w, NewForbiddenError())
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxRoomListLimit {
			s.writeError(w, NewValidationError("limit must be between 1 and "+strconv.Itoa(maxRoomListLimit)))
			return
		}
	}

	var before time.Time
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		ms, err := strconv.ParseInt(beforeStr, 10, 64)
		if err != nil || ms < 0 {
			s.writeError(w, NewValidationError("before must be a unix millisecond timestamp"))
			return
		}
		before = time.UnixMilli(ms).UTC()
	}

	messages, err := s.messages.GetMessages(r.Context(), roomId, limit, before)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *TopicChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId := r.PathValue("id")
	if _, err := s.rooms.GetRoom(r.Context(), roomId); err != nil {
		s.writeError(w, storeError(err))
		return
	}

	isMember, err := s.rooms.IsParticipant(r.Context(), roomId, identity.UserId)
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}
	if !isMember {
		s.writeError(w, NewForbiddenError())
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Content = sanitizeContent(req.Content)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, NewValidationError("invalid message: "+err.Error()))
		return
	}

	msg, err := s.messages.CreateMessage(r.Context(), store.CreateMessageParams{
		RoomId:   roomId,
		UserId:   identity.UserId,
		Username: identity.Username,
		Content:  req.Content,
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	if err := s.rooms.TouchActivity(r.Context(), roomId, msg.Timestamp); err != nil {
		s.log.Println("touch activity:", err)
	}

	s.dispatcher.MessageSent(r.Context(), msg)

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *TopicChatApp) listInterests(w http.ResponseWriter, r *http.Request) {
	catalog := interests.All()
	for i := range catalog {
		count, err := s.rooms.CountRoomsByInterest(r.Context(), catalog[i].Id)
		if err != nil {
			s.writeError(w, storeError(err))
			return
		}
		catalog[i].ChatRoomCount = count
	}

	s.writeJson(w, http.StatusOK, catalog)
}

func (s *TopicChatApp) getProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	profile, err := s.users.CreateOrUpdateProfile(r.Context(), store.UpsertProfileParams{
		UserId:   identity.UserId,
		Username: identity.Username,
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	profile.ActiveChats = s.reconcileActiveChats(r, identity.UserId, profile.ActiveChats)

	s.writeJson(w, http.StatusOK, profile)
}

// reconcileActiveChats drops rooms that have been deleted or gone
// inactive since the user joined them.
func (s *TopicChatApp) reconcileActiveChats(r *http.Request, userId string, chats []string) []string {
	return lo.Filter(chats, func(roomId string, _ int) bool {
		room, err := s.rooms.GetRoom(r.Context(), roomId)
		if err == nil && room.IsActive {
			return true
		}

		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Println("reconcile active chats:", err)
			return true
		}

		if err := s.users.RemoveFromActiveChats(r.Context(), userId, roomId); err != nil {
			s.log.Println("remove stale active chat:", err)
		}
		return false
	})
}

func (s *TopicChatApp) updateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, NewValidationError("invalid profile: "+err.Error()))
		return
	}

	tags, errResp := validateInterestTags(req.Interests)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	profile, err := s.users.CreateOrUpdateProfile(r.Context(), store.UpsertProfileParams{
		UserId:    identity.UserId,
		Username:  identity.Username,
		Interests: tags,
	})
	if err != nil {
		s.writeError(w, storeError(err))
		return
	}

	s.writeJson(w, http.StatusOK, profile)
}

func (s *TopicChatApp) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *TopicChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(identity.UserId, identity.Username, conn, s.cs, s.log)

	s.cs.RegisterChan <- client
	go client.Write()
	go client.Read()
}
