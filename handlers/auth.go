package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"superviseme/config"
	"superviseme/github"
	"superviseme/middleware"
	"superviseme/models"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuthHandler struct {
	config *config.Config
	db     *gorm.DB
	logger *slog.Logger
	github *github.Client
	oauth  *oauth2.Config
}

func NewAuthHandler(cfg *config.Config, db *gorm.DB, logger *slog.Logger, gh *github.Client, oauth *oauth2.Config) *AuthHandler {
	return &AuthHandler{
		config: cfg,
		db:     db,
		logger: logger,
		github: gh,
		oauth:  oauth,
	}
}

type registerRequest struct {
	Email       string      `json:"email" validate:"required,email"`
	Password    string      `json:"password" validate:"required,min=5"`
	Role        models.Role `json:"role" validate:"required,oneof=student supervisor"`
	DisplayName string      `json:"displayName"`
	Specialty   string      `json:"specialty"`
	InviteCode  string      `json:"inviteCode"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=5"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type inviteRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type githubAuthRequest struct {
	Code         string `json:"code" validate:"required"`
	CodeVerifier string `json:"codeVerifier"`
}

// AuthResponse carries a freshly issued identity token.
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

var (
	errEmailTaken    = errors.New("email already registered")
	errInviteInvalid = errors.New("invite code is invalid, expired or already used")
)

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	email := models.NormalizeEmail(req.Email)
	user := models.User{
		Email:        email,
		DisplayName:  req.DisplayName,
		Specialty:    req.Specialty,
		PasswordHash: string(hashedPassword),
		Role:         req.Role,
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		tx.Model(&models.User{}).Where("email = ?", email).Count(&count)
		if count > 0 {
			return errEmailTaken
		}

		// supervisors join by invitation only
		var invite models.Invite
		if user.IsSupervisor() {
			if req.InviteCode == "" {
				return errInviteInvalid
			}
			if err := tx.Where("code = ?", req.InviteCode).First(&invite).Error; err != nil {
				return errInviteInvalid
			}
			if !invite.Admits(email) || invite.Role != models.RoleSupervisor {
				return errInviteInvalid
			}
			// claim the code; a concurrent registration may have used it since the read
			claim := tx.Model(&invite).Where("used = ?", false).Update("used", true)
			if claim.Error != nil {
				return claim.Error
			}
			if claim.RowsAffected == 0 {
				return errInviteInvalid
			}
		}

		return tx.Create(&user).Error
	})
	switch {
	case errors.Is(err, errEmailTaken):
		respondError(w, r, h.logger, http.StatusConflict, "Email already registered", nil)
		return
	case errors.Is(err, errInviteInvalid):
		respondError(w, r, h.logger, http.StatusForbidden, "Invite code is invalid, expired or already used", nil)
		return
	case err != nil:
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	h.issueToken(w, r, http.StatusCreated, &user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", models.NormalizeEmail(req.Email)).First(&user).Error; err != nil {
		respondError(w, r, h.logger, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respondError(w, r, h.logger, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	h.issueToken(w, r, http.StatusOK, &user)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	var user models.User
	if err := h.db.First(&user, "uid = ?", claims.UID).Error; err != nil {
		respondError(w, r, h.logger, http.StatusNotFound, "User not found", nil)
		return
	}
	respondSuccess(w, http.StatusOK, &user)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	var user models.User
	if err := h.db.First(&user, "uid = ?", claims.UID).Error; err != nil {
		respondError(w, r, h.logger, http.StatusNotFound, "User not found", nil)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		respondError(w, r, h.logger, http.StatusUnauthorized, "Current password is incorrect", nil)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to hash password", err)
		return
	}

	user.PasswordHash = string(hashedPassword)
	user.MustChangePassword = false
	if err := h.db.Model(&user).Updates(map[string]interface{}{
		"password_hash":        user.PasswordHash,
		"must_change_password": false,
	}).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to update password", err)
		return
	}

	// the old token still says a password change is required
	h.issueToken(w, r, http.StatusOK, &user)
}

func (h *AuthHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	var invites []models.Invite
	if err := h.db.Where("created_by = ?", claims.UID).Order("created_at desc").Find(&invites).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to load invites", err)
		return
	}
	respondSuccess(w, http.StatusOK, invites)
}

func (h *AuthHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	code, err := models.GenerateInviteCode()
	if err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to generate invite code", err)
		return
	}

	invite := models.Invite{
		Code:      code,
		Email:     models.NormalizeEmail(req.Email),
		Role:      models.RoleSupervisor,
		CreatedBy: claims.UID,
		ExpiresAt: time.Now().Add(h.config.InviteExpiration),
	}

	if err := h.db.Create(&invite).Error; err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to create invite", err)
		return
	}

	respondSuccess(w, http.StatusCreated, &invite)
}

// GitHubAuth completes the GitHub OAuth flow for the current user and
// records the GitHub login it proves.
func (h *AuthHandler) GitHubAuth(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetUserFromContext(r.Context())

	if h.oauth == nil || h.oauth.ClientID == "" {
		respondError(w, r, h.logger, http.StatusServiceUnavailable, "GitHub OAuth is not configured", nil)
		return
	}

	var req githubAuthRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	var opts []oauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}
	token, err := h.oauth.Exchange(r.Context(), req.Code, opts...)
	if err != nil {
		respondError(w, r, h.logger, http.StatusBadGateway, "GitHub code exchange failed", err)
		return
	}

	githubID, login, err := h.github.WithToken(token.AccessToken).AuthenticatedUser(r.Context())
	if err != nil {
		respondError(w, r, h.logger, http.StatusBadGateway, "Failed to load GitHub profile", err)
		return
	}

	scope, _ := token.Extra("scope").(string)
	account := models.GitHubAccount{
		UserUID:  claims.UID,
		GitHubID: githubID,
		Login:    login,
		Scope:    scope,
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_uid"}},
			DoUpdates: clause.AssignmentColumns([]string{"github_id", "login", "scope", "updated_at"}),
		}).Create(&account).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("uid = ?", claims.UID).Update("github_login", login).Error
	})
	if err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to link GitHub account", err)
		return
	}

	h.logger.Info("github account linked", slog.String("uid", claims.UID), slog.String("login", login))
	respondSuccess(w, http.StatusOK, &account)
}

func (h *AuthHandler) issueToken(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, err := middleware.GenerateToken(user, h.config.JWTExpiration)
	if err != nil {
		respondError(w, r, h.logger, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}
	respondSuccess(w, status, AuthResponse{Token: token, User: user})
}
