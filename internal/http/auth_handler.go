package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbot-app/internal/auth"
	"chatbot-app/internal/workspace"
)

// AuthHandler atiende los formularios de sign-in, sign-up y sign-out.
type AuthHandler struct {
	logger       *zap.Logger
	registry     *workspace.Registry
	provider     auth.Provider
	limiter      auth.RateLimiter
	cookieSecure bool
}

// NewAuthHandler crea el handler; limiter nil no limita.
func NewAuthHandler(logger *zap.Logger, registry *workspace.Registry, provider auth.Provider, limiter auth.RateLimiter, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		logger:       logger,
		registry:     registry,
		provider:     provider,
		limiter:      limiter,
		cookieSecure: cookieSecure,
	}
}

type credentialsForm struct {
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required"`
}

// SignInPage maneja GET /sign-in. Con sesión válida va directo al chat.
func (h *AuthHandler) SignInPage(c *gin.Context) {
	if id, err := c.Cookie(sessionCookie); err == nil && id != "" {
		if _, err := h.registry.Get(c.Request.Context(), id); err == nil {
			c.Redirect(http.StatusFound, "/")
			return
		}
	}
	c.HTML(http.StatusOK, "sign_in.html", gin.H{"notice": c.Query("notice"), "email": ""})
}

// SignIn maneja POST /sign-in.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusBadRequest, "sign_in.html", gin.H{"error": "Enter a valid email and password.", "email": form.Email})
		return
	}
	email := strings.ToLower(strings.TrimSpace(form.Email))

	if h.limiter != nil && !h.limiter.Allow(c.Request.Context(), email) {
		h.logger.Warn("sign-in rate limited", zap.String("email", email))
		c.HTML(http.StatusTooManyRequests, "sign_in.html", gin.H{"error": "Too many attempts. Try again later.", "email": email})
		return
	}

	id, err := h.registry.SignIn(c.Request.Context(), email, form.Password)
	if err != nil {
		status, msg := signInError(err)
		if status == http.StatusBadGateway {
			h.logger.Error("sign-in failed", zap.String("email", email), zap.Error(err))
		}
		c.HTML(status, "sign_in.html", gin.H{"error": msg, "email": email})
		return
	}

	setSessionCookie(c, id, h.cookieSecure)
	c.Redirect(http.StatusFound, "/")
}

func signInError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password."
	case errors.Is(err, auth.ErrEmailNotVerified):
		return http.StatusForbidden, "Verify your email before signing in."
	default:
		return http.StatusBadGateway, "Sign in is unavailable right now."
	}
}

// SignUpPage maneja GET /sign-up.
func (h *AuthHandler) SignUpPage(c *gin.Context) {
	c.HTML(http.StatusOK, "sign_up.html", gin.H{"email": ""})
}

// SignUp maneja POST /sign-up.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusBadRequest, "sign_up.html", gin.H{"error": "Enter a valid email and password.", "email": form.Email})
		return
	}
	email := strings.ToLower(strings.TrimSpace(form.Email))

	issued, err := h.provider.SignUp(c.Request.Context(), email, form.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			c.HTML(http.StatusConflict, "sign_up.html", gin.H{"error": "An account with that email already exists.", "email": email})
			return
		}
		var perr *auth.ProviderError
		if errors.As(err, &perr) && perr.Status >= 400 && perr.Status < 500 && perr.Message != "" {
			c.HTML(http.StatusBadRequest, "sign_up.html", gin.H{"error": perr.Message, "email": email})
			return
		}
		h.logger.Error("sign-up failed", zap.String("email", email), zap.Error(err))
		c.HTML(http.StatusBadGateway, "sign_up.html", gin.H{"error": "Sign up is unavailable right now.", "email": email})
		return
	}

	if issued == nil {
		c.Redirect(http.StatusFound, "/sign-in?notice=verify")
		return
	}
	id, err := h.registry.Adopt(c.Request.Context(), *issued)
	if err != nil {
		h.logger.Error("adopt session failed", zap.String("email", email), zap.Error(err))
		c.Redirect(http.StatusFound, "/sign-in")
		return
	}
	setSessionCookie(c, id, h.cookieSecure)
	c.Redirect(http.StatusFound, "/")
}

// SignOut maneja POST /sign-out.
func (h *AuthHandler) SignOut(c *gin.Context) {
	if id, err := c.Cookie(sessionCookie); err == nil && id != "" {
		if err := h.registry.SignOut(c.Request.Context(), id); err != nil {
			h.logger.Warn("provider sign-out failed", zap.Error(err))
		}
	}
	clearSessionCookie(c, h.cookieSecure)
	c.Redirect(http.StatusFound, "/sign-in")
}
