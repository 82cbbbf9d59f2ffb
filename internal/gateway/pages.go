package gateway

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/ecohome/pkg/navigation"
	"github.com/nao1215/ecohome/pkg/session"
)

// guardPage はページへのナビゲーションをゲートで判定するミドルウェアを返す。
// 認証状態が確定するまで応答を保留し、転送と判定された場合は302で転送する。
func (s *Server) guardPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		bs := s.session(c)
		intent := s.table.Intent(c.Request.URL.RequestURI())

		d, err := bs.gate.Guard(c.Request.Context(), intent)
		if err != nil {
			log.Printf("[Gateway] 認証状態の確定を待てませんでした: path=%s, error=%v", intent.Target, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "ログイン状態を確認できませんでした。再読み込みしてください。",
			})
			return
		}
		if !d.Allowed() {
			c.Redirect(http.StatusFound, d.Location)
			c.Abort()
			return
		}
		c.Next()
	}
}

// handlePage はページの描画に必要な情報を返すハンドラを返す。
func (s *Server) handlePage(route navigation.Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := s.session(c).gate.Current()
		c.JSON(http.StatusOK, gin.H{
			"page": route.Name,
			"path": c.Request.URL.RequestURI(),
			"user": state.Profile,
		})
	}
}

// requireAuth はAPIを認証済みのセッションに限定するミドルウェアを返す。
// ページと同じく認証状態の確定を待ち、未認証なら401を返す。
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		bs := s.session(c)
		intent := session.Intent{Target: c.Request.URL.RequestURI(), RequiresAuth: true}

		d, err := bs.gate.Guard(c.Request.Context(), intent)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "ログイン状態を確認できませんでした。再読み込みしてください。",
			})
			return
		}
		if !d.Allowed() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    session.UserMessage(session.ErrNotAuthenticated),
				"location": d.Location,
			})
			return
		}
		c.Next()
	}
}
