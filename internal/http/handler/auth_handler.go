package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dlbhoang/shop-dunk/internal/config"
	"github.com/dlbhoang/shop-dunk/internal/domain"
	"github.com/dlbhoang/shop-dunk/internal/http/middleware"
	"github.com/dlbhoang/shop-dunk/internal/service"
)

const sessionCookieName = "jwt"

// AuthHandler maps the auth flows onto HTTP.
type AuthHandler struct {
	Auth *service.AuthService
	Cfg  config.Config
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, cfg config.Config) *AuthHandler {
	return &AuthHandler{Auth: auth, Cfg: cfg}
}

type signupRequest struct {
	FullName        string `json:"fullName" binding:"required"`
	Gender          string `json:"gender" binding:"omitempty,oneof=male female"`
	DateOfBirth     string `json:"dateOfBirth" binding:"omitempty,datetime=2006-01-02"`
	Email           string `json:"email" binding:"required,email"`
	PhoneNumber     string `json:"phoneNumber" binding:"required,vnmobile"`
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" binding:"required,eqfield=Password"`
}

// Signup registers a user and logs it straight in.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.ErrValidation("Missing or invalid signup fields."))
		return
	}

	in := service.SignupInput{
		FullName:    req.FullName,
		Gender:      domain.Gender(req.Gender),
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Username:    req.Username,
		Password:    req.Password,
	}
	if req.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			h.respondError(c, domain.ErrValidation("dateOfBirth must be YYYY-MM-DD."))
			return
		}
		in.DateOfBirth = &dob
	}

	result, err := h.Auth.Signup(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setSessionCookie(c, result.Token)
	c.JSON(http.StatusCreated, result)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates with username or email plus password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.ErrValidation("Please provide username and password."))
		return
	}

	result, err := h.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setSessionCookie(c, result.Token)
	c.JSON(http.StatusOK, result)
}

// Logout overwrites the session cookie with an expired placeholder.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetCookie(sessionCookieName, "loggedout", 10, "/", "", h.Cfg.IsProduction(), true)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ForgotPassword starts the self-service reset flow. The response never
// reveals whether the email belongs to an account.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.ErrValidation("A valid email is required."))
		return
	}

	resetURLBase := fmt.Sprintf("%s://%s/api/v1/users/resetPassword", schemeOnly(c.Request), c.Request.Host)
	if err := h.Auth.ForgotPassword(c.Request.Context(), req.Email, resetURLBase); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "If that account exists, a reset email is on its way.",
	})
}

type resetPasswordRequest struct {
	Password        string `json:"password" binding:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" binding:"required,eqfield=Password"`
}

// ResetPassword redeems the emailed token and sets a new password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.ErrValidation("Password and matching passwordConfirm are required."))
		return
	}

	result, err := h.Auth.ResetPassword(c.Request.Context(), c.Param("token"), req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setSessionCookie(c, result.Token)
	c.JSON(http.StatusOK, result)
}

type updatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent" binding:"required"`
	Password        string `json:"password" binding:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" binding:"required,eqfield=Password"`
}

// UpdatePassword changes the authenticated user's password.
func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		h.respondError(c, domain.ErrUnauthenticated("You are not logged in. Please log in to get access."))
		return
	}

	var req updatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.ErrValidation("passwordCurrent, password, and matching passwordConfirm are required."))
		return
	}

	result, err := h.Auth.UpdatePassword(c.Request.Context(), user.ID, req.PasswordCurrent, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setSessionCookie(c, result.Token)
	c.JSON(http.StatusOK, result)
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		h.respondError(c, domain.ErrUnauthenticated("You are not logged in. Please log in to get access."))
		return
	}

	profile, err := h.Auth.Profile(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

// ListUsers returns all active users; restricted to admins by the router.
func (h *AuthHandler) ListUsers(c *gin.Context) {
	users, err := h.Auth.ListUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// setSessionCookie mirrors the issued token into the jwt cookie. The
// cookie lifetime is configured separately from the token TTL.
func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	maxAge := int(h.Cfg.CookieTTL().Seconds())
	c.SetCookie(sessionCookieName, token, maxAge, "/", "", h.Cfg.IsProduction(), true)
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		c.JSON(authErr.Status, gin.H{
			"error":             authErr.Code,
			"error_description": authErr.Description,
		})
		return
	}

	zap.L().Error("unhandled auth failure",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":             "server_error",
		"error_description": "Something went wrong.",
	})
}

func schemeOnly(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme
}
