package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/ecohome/pkg/session"
)

// maxEventsLimit は認証イベントの取得件数の上限。
const maxEventsLimit = 200

// updateProfileRequest はプロフィール更新のリクエストボディ。
type updateProfileRequest struct {
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Extra     map[string]string `json:"extra"`
}

// handleSession は現在のセッション状態を返すハンドラを返す。状態の確定は待たない。
func (s *Server) handleSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := s.session(c).gate.Current()
		c.JSON(http.StatusOK, gin.H{
			"status":    state.Status.String(),
			"user":      state.Profile,
			"synthetic": state.Synthetic,
		})
	}
}

// handleGetMe は認証済みユーザーのプロフィールを返すハンドラを返す。
func (s *Server) handleGetMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := s.session(c).gate.Current()
		if state.Profile == nil {
			abortWithError(c, session.ErrNotAuthenticated)
			return
		}
		c.JSON(http.StatusOK, state.Profile)
	}
}

// handleUpdateMe は認証済みユーザーのプロフィールを更新するハンドラを返す。
func (s *Server) handleUpdateMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストの形式が正しくありません。"})
			return
		}

		profile, err := s.session(c).gate.UpdateProfile(c.Request.Context(), session.ProfileUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Extra:     req.Extra,
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

// handleEvents は認証済みユーザー自身の認証イベントを新しい順に返すハンドラを返す。
func (s *Server) handleEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitは正の整数で指定してください。"})
			return
		}
		limit = min(limit, maxEventsLimit)

		events, err := s.session(c).client.Events(c.Request.Context(), limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
	}
}
