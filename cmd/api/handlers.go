package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/auth"
	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type markReadRequest struct {
	CounterpartID int64  `json:"counterpartId" binding:"required,gt=0"`
	ProductID     *int64 `json:"productId" binding:"omitempty,gt=0"`
}

// register hashes the password, stores the user and returns a JWT.
func (s *Server) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		s.internalError(c, "failed to hash password", err)
		return
	}

	user, err := s.users.CreateUser(c.Request.Context(), req.Email, hashed)
	if errors.Is(err, data.ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}
	if err != nil {
		s.internalError(c, "failed to create user", err)
		return
	}

	s.issueToken(c, http.StatusCreated, user)
}

// login checks credentials and returns a JWT.
func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.users.GetUserByEmail(c.Request.Context(), req.Email)
	if errors.Is(err, data.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		s.internalError(c, "failed to load user", err)
		return
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	s.issueToken(c, http.StatusOK, user)
}

func (s *Server) issueToken(c *gin.Context, status int, user *data.User) {
	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		s.internalError(c, "failed to generate token", err)
		return
	}
	c.JSON(status, tokenResponse{Token: token, UserID: user.ID, ExpiresAt: expiresAt})
}

// history returns the conversation with ?with=<id>, optionally scoped by
// ?productId=<id>.
func (s *Server) history(c *gin.Context) {
	claims := claimsFrom(c)
	with, err := strconv.ParseInt(c.Query("with"), 10, 64)
	if err != nil || with <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid with parameter"})
		return
	}
	productID, err := optionalID(c.Query("productId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid productId parameter"})
		return
	}

	msgs, err := s.svc.History(c.Request.Context(), claims.UserID, with, productID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) conversations(c *gin.Context) {
	claims := claimsFrom(c)
	convs, err := s.svc.Conversations(c.Request.Context(), claims.UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) markRead(c *gin.Context) {
	claims := claimsFrom(c)
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := s.svc.MarkRead(c.Request.Context(), claims.UserID, req.CounterpartID, req.ProductID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (s *Server) presence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": id, "online": s.svc.IsOnline(id)})
}

func (s *Server) healthz(c *gin.Context) {
	users, channels := s.reg.Stats()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "onlineUsers": users, "channels": channels})
}

// writeError maps store and service errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *data.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, data.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		s.internalError(c, "request failed", err)
	}
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.log.Error(msg, "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func optionalID(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New("invalid id")
	}
	return &id, nil
}
