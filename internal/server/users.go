package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"punchd/internal/punch"
	"punchd/internal/store"
	"punchd/pkg/httpx"
	logx "punchd/pkg/logx"
)

// putUserRequest is the upsert body. Password is plaintext on the wire
// and sealed before it touches the store; omitting it on update keeps
// the stored credential.
type putUserRequest struct {
	Password   string `json:"password" validate:"omitempty,min=1"`
	LoginTime  string `json:"login_time" validate:"required"`
	LogoutTime string `json:"logout_time" validate:"required"`
	Weekdays   []int  `json:"weekdays" validate:"required,min=1,dive,min=1,max=7"`
}

// userResponse never carries credentials, sealed or otherwise.
type userResponse struct {
	ID         string             `json:"id"`
	LoginTime  string             `json:"login_time"`
	LogoutTime string             `json:"logout_time"`
	Weekdays   []int              `json:"weekdays"`
	Today      *punch.TodayStatus `json:"today,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type listUsersResponse struct {
	Users []userResponse `json:"users"`
	Total int            `json:"total"`
}

func toUserResponse(u punch.User) userResponse {
	return userResponse{
		ID:         u.ID,
		LoginTime:  u.LoginTime,
		LogoutTime: u.LogoutTime,
		Weekdays:   u.Weekdays,
		Today:      u.Today,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ReadAll()
	if err != nil {
		s.log.Error("list users", logx.Err(err))
		httpx.WriteInternalError(w, "failed to read users")
		return
	}
	resp := listUsersResponse{Users: make([]userResponse, 0, len(users)), Total: len(users)}
	for _, u := range users {
		resp.Users = append(resp.Users, toUserResponse(u))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := s.users.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteNotFound(w, "user not found")
		return
	}
	if err != nil {
		s.log.Error("get user", logx.String("id", id), logx.Err(err))
		httpx.WriteInternalError(w, "failed to read user")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req putUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httpx.WriteBadRequest(w, err.Error())
		return
	}

	u := punch.User{
		ID:         id,
		LoginTime:  req.LoginTime,
		LogoutTime: req.LogoutTime,
		Weekdays:   req.Weekdays,
	}
	if req.Password != "" {
		sealed, err := s.box.Seal(req.Password)
		if err != nil {
			s.log.Error("seal password", logx.String("id", id), logx.Err(err))
			httpx.WriteInternalError(w, "failed to store credentials")
			return
		}
		u.Password = sealed
	} else {
		// Keep the existing credential on update.
		prev, err := s.users.Get(id)
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteBadRequest(w, "password is required for a new user")
			return
		}
		if err != nil {
			s.log.Error("get user", logx.String("id", id), logx.Err(err))
			httpx.WriteInternalError(w, "failed to read user")
			return
		}
		u.Password = prev.Password
	}
	if err := u.Validate(); err != nil {
		httpx.WriteBadRequest(w, err.Error())
		return
	}

	saved, created, err := s.users.Upsert(u)
	if err != nil {
		s.log.Error("upsert user", logx.String("id", id), logx.Err(err))
		httpx.WriteInternalError(w, "failed to save user")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, toUserResponse(saved))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.users.Delete(id)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteNotFound(w, "user not found")
		return
	}
	if err != nil {
		s.log.Error("delete user", logx.String("id", id), logx.Err(err))
		httpx.WriteInternalError(w, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
