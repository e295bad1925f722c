package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"rpan_bot/internal/index"
	"rpan_bot/internal/model"
	"rpan_bot/internal/settings"
)

const maxBodyBytes = 64 << 10

type createSettingRequest struct {
	ChannelID string `json:"channel_id" validate:"required,numeric,max=20"`
	Username  string `json:"username" validate:"omitempty,max=23"`
}

type updateSettingRequest struct {
	Usernames  []string `json:"usernames" validate:"dive,required"`
	Keywords   []string `json:"keywords" validate:"dive,required"`
	Subreddits []string `json:"subreddits" validate:"dive,required"`
	CustomText string   `json:"custom_text"`
}

type prefixesRequest struct {
	Prefixes []string `json:"prefixes" validate:"required,min=1,dive,required"`
}

type settingResponse struct {
	ID         int64     `json:"id"`
	LocalID    int       `json:"local_id,omitempty"`
	GuildID    string    `json:"guild_id"`
	ChannelID  string    `json:"channel_id"`
	Usernames  []string  `json:"usernames"`
	Keywords   []string  `json:"keywords"`
	Subreddits []string  `json:"subreddits"`
	CustomText string    `json:"custom_text"`
	CreatedAt  time.Time `json:"created_at"`
}

type prefixesResponse struct {
	Prefixes []string `json:"prefixes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toResponse leaves out the webhook URL, which is a credential.
func toResponse(s model.NotificationSetting, local int) settingResponse {
	return settingResponse{
		ID:         s.ID,
		LocalID:    local,
		GuildID:    s.GuildID,
		ChannelID:  s.ChannelID,
		Usernames:  nonNil(s.Usernames),
		Keywords:   nonNil(s.KeywordFilters),
		Subreddits: nonNil(s.SubredditFilters),
		CustomText: s.CustomText,
		CreatedAt:  s.CreatedAt,
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// guildID reads and checks the {guild} path value.
func (s *Server) guildID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("guild")
	if err := s.validate.Var(id, "required,numeric,max=20"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid guild id")
		return "", false
	}
	return id, true
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	guildID, ok := s.guildID(w, r)
	if !ok {
		return
	}
	list, err := s.index.SettingsForGuild(r.Context(), guildID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]settingResponse, len(list))
	for i, setting := range list {
		out[i] = toResponse(setting, i+1)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSetting(w http.ResponseWriter, r *http.Request) {
	guildID, ok := s.guildID(w, r)
	if !ok {
		return
	}
	var req createSettingRequest
	if !s.decode(w, r, &req) {
		return
	}

	setting, err := s.provisioner.SetupNotifications(r.Context(), guildID, req.ChannelID, req.Username, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger(r.Context()).Info("setting created from dashboard", "guild_id", guildID, "channel_id", setting.ChannelID)
	writeJSON(w, http.StatusCreated, toResponse(setting, 0))
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	guildID, ok := s.guildID(w, r)
	if !ok {
		return
	}
	setting, err := s.settings.Get(r.Context(), guildID, r.PathValue("channel"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(setting, 0))
}

func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	guildID, ok := s.guildID(w, r)
	if !ok {
		return
	}
	var req updateSettingRequest
	if !s.decode(w, r, &req) {
		return
	}

	setting, err := s.settings.Replace(r.Context(), guildID, r.PathValue("channel"), settings.Update{
		Usernames:  req.Usernames,
		Keywords:   req.Keywords,
		Subreddits: req.Subreddits,
		CustomText: req.CustomText,
	}, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(setting, 0))
}

// handleDeleteSetting is idempotent: deleting a missing setting is not an error.
func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	guildID, ok := s.guildID(w, r)
	if !ok {
		return
	}
	if _, err := s.settings.DeleteByChannel(r.Context(), guildID, r.PathValue("channel")); err != nil && !errors.Is(err, settings.ErrNotFound) {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPrefixes(w http.ResponseWriter, r *http.Request) {
	guildID, ok := s.guildID(w, r)
	if !ok {
		return
	}
	prefixes, err := s.settings.Prefixes(r.Context(), guildID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefixesResponse{Prefixes: prefixes})
}

func (s *Server) handlePutPrefixes(w http.ResponseWriter, r *http.Request) {
	guildID, ok := s.guildID(w, r)
	if !ok {
		return
	}
	var req prefixesRequest
	if !s.decode(w, r, &req) {
		return
	}
	prefixes, err := s.settings.ReplacePrefixes(r.Context(), guildID, req.Prefixes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefixesResponse{Prefixes: prefixes})
}

func (s *Server) handleDeletePrefixes(w http.ResponseWriter, r *http.Request) {
	guildID, ok := s.guildID(w, r)
	if !ok {
		return
	}
	if err := s.settings.ResetPrefixes(r.Context(), guildID); err != nil && !errors.Is(err, settings.ErrNoCustomPrefixes) {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefixesResponse{Prefixes: s.settings.DefaultPrefixes()})
}

// decode reads a JSON body into v and validates it, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid field "+verrs[0].Field()+": "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// fail maps service errors to a status. Rejections carry their message; system errors do not.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, settings.ErrNotFound), errors.Is(err, index.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, settings.ErrChannelTaken), errors.Is(err, settings.ErrAlreadyAdded),
		errors.Is(err, settings.ErrPrefixConflict):
		writeError(w, http.StatusConflict, err.Error())
	case settings.IsRejected(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger(r.Context()).Error("dashboard request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
