package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/email"
	"github.com/parleychat/parley/internal/security"
	"github.com/parleychat/parley/internal/storage"
	log "github.com/sirupsen/logrus"
)

const otpExpiry = 10 * time.Minute

// AuthHandler serves signup, login, logout, verification, and account
// endpoints.
type AuthHandler struct {
	store               storage.Store
	middleware          *auth.Middleware
	emailer             email.Sender
	requireVerification bool
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(store storage.Store, middleware *auth.Middleware, emailer email.Sender, requireVerification bool) *AuthHandler {
	return &AuthHandler{
		store:               store,
		middleware:          middleware,
		emailer:             emailer,
		requireVerification: requireVerification,
	}
}

func userJSON(id, emailAddr string, isVerified bool) gin.H {
	return gin.H{"id": id, "email": emailAddr, "isVerified": isVerified}
}

// Signup registers a new account. Depending on configuration the account is
// auto-verified or sent an OTP.
func (h *AuthHandler) Signup(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	emailAddr := strings.ToLower(strings.TrimSpace(body.Email))
	if emailAddr == "" || !strings.Contains(emailAddr, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid email required"})
		return
	}
	if len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	ctx := c.Request.Context()
	if _, errExisting := h.store.GetUserByEmail(ctx, emailAddr); errExisting == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	} else if !errors.Is(errExisting, storage.ErrNotFound) {
		log.WithError(errExisting).Error("signup: lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	passwordHash, errHash := security.HashSecret(body.Password)
	if errHash != nil {
		log.WithError(errHash).Error("signup: hash failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	user, errCreate := h.store.CreateUser(ctx, emailAddr, passwordHash)
	if errCreate != nil {
		if errors.Is(errCreate, storage.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		log.WithError(errCreate).Error("signup: create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	if !h.requireVerification {
		if errMark := h.store.MarkUserVerified(ctx, user.ID); errMark != nil {
			log.WithError(errMark).Error("signup: auto-verify failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
			return
		}
		if errCookie := h.middleware.SetSessionCookie(c, user.ID, user.Email); errCookie != nil {
			log.WithError(errCookie).Error("signup: session cookie failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "account created",
			"user":    userJSON(user.ID, user.Email, true),
		})
		return
	}

	otp, errOtp := security.GenerateOTP()
	if errOtp != nil {
		log.WithError(errOtp).Error("signup: otp generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}
	otpHash, errHash := security.HashSecret(otp)
	if errHash != nil {
		log.WithError(errHash).Error("signup: otp hash failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}
	if _, errVerification := h.store.CreateEmailVerification(ctx, user.ID, otpHash, time.Now().UTC().Add(otpExpiry)); errVerification != nil {
		log.WithError(errVerification).Error("signup: store verification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}
	if errSend := h.emailer.SendOTP(ctx, user.Email, otp); errSend != nil {
		log.WithError(errSend).Error("signup: otp mail failed")
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "account created, verification code sent",
		"user":    userJSON(user.ID, user.Email, false),
	})
}

// VerifyOTP completes email verification. Wrong or expired codes leave the
// pending state unchanged.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var body struct {
		Email string `json:"email"`
		Otp   string `json:"otp"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	emailAddr := strings.ToLower(strings.TrimSpace(body.Email))
	otp := strings.TrimSpace(body.Otp)
	if emailAddr == "" || otp == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and otp required"})
		return
	}

	ctx := c.Request.Context()
	user, errUser := h.store.GetUserByEmail(ctx, emailAddr)
	if errUser != nil {
		if errors.Is(errUser, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.WithError(errUser).Error("verify: lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify"})
		return
	}
	if user.IsVerified {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email already verified"})
		return
	}

	verification, errFind := h.store.FindEmailVerification(ctx, user.ID)
	if errFind != nil {
		if errors.Is(errFind, storage.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no valid code found, request a new one"})
			return
		}
		log.WithError(errFind).Error("verify: find failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify"})
		return
	}
	if !security.CompareSecret(verification.OtpHash, otp) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code"})
		return
	}

	if errMark := h.store.MarkVerificationUsed(ctx, verification.ID); errMark != nil {
		log.WithError(errMark).Error("verify: mark used failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify"})
		return
	}
	if errMark := h.store.MarkUserVerified(ctx, user.ID); errMark != nil {
		log.WithError(errMark).Error("verify: mark verified failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify"})
		return
	}
	if errCookie := h.middleware.SetSessionCookie(c, user.ID, user.Email); errCookie != nil {
		log.WithError(errCookie).Error("verify: session cookie failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "email verified",
		"user":    userJSON(user.ID, user.Email, true),
	})
}

// Login authenticates with email and password and sets the session cookie.
func (h *AuthHandler) Login(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	emailAddr := strings.ToLower(strings.TrimSpace(body.Email))

	ctx := c.Request.Context()
	user, errUser := h.store.GetUserByEmail(ctx, emailAddr)
	if errUser != nil {
		if errors.Is(errUser, storage.ErrNotFound) {
			// Same response as a wrong password; do not reveal which failed.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		log.WithError(errUser).Error("login: lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to login"})
		return
	}
	if !security.CompareSecret(user.PasswordHash, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if h.requireVerification && !user.IsVerified {
		c.JSON(http.StatusForbidden, gin.H{"error": "email not verified"})
		return
	}

	if errCookie := h.middleware.SetSessionCookie(c, user.ID, user.Email); errCookie != nil {
		log.WithError(errCookie).Error("login: session cookie failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to login"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "login successful",
		"user":    userJSON(user.ID, user.Email, user.IsVerified),
	})
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.middleware.ClearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	user, errUser := h.store.GetUserByID(c.Request.Context(), principal.UserID)
	if errUser != nil {
		if errors.Is(errUser, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.WithError(errUser).Error("me: lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(user.ID, user.Email, user.IsVerified)})
}

// DeleteAccount removes the authenticated user's account.
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if errDelete := h.store.DeleteUser(c.Request.Context(), principal.UserID); errDelete != nil {
		if errors.Is(errDelete, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.WithError(errDelete).Error("delete account failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete account"})
		return
	}
	h.middleware.ClearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}
