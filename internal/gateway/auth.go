package gateway

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/nao1215/ecohome/internal/identity"
	"github.com/nao1215/ecohome/pkg/middleware"
	"github.com/nao1215/ecohome/pkg/session"
)

const (
	// oauthStateCookie は認可リクエストのstateを保持するCookie名。
	oauthStateCookie = "ecohome_oauth_state"
	// oauthVerifierCookie はPKCEのコード検証子を保持するCookie名。
	oauthVerifierCookie = "ecohome_oauth_verifier"
	// oauthRedirectCookie はサインイン後の遷移先を保持するCookie名。
	oauthRedirectCookie = "ecohome_oauth_redirect"
	// oauthCookieTTL は認可フロー中のCookieの有効期間。
	oauthCookieTTL = 10 * time.Minute
)

// loginRequest はメールアドレスとパスワードでのサインインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	// Redirect はサインイン後の遷移先。相対パスのみ有効。
	Redirect string `json:"redirect"`
}

// registerRequest はサインアップのリクエストボディ。
type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Redirect  string `json:"redirect"`
}

// handleLogin はメールアドレスとパスワードでサインインするハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスとパスワードを入力してください。"})
			return
		}

		bs := s.session(c)
		profile, err := bs.gate.SignIn(c.Request.Context(), req.Email, req.Password)
		s.metrics.ObserveAuth(string(session.OpSignIn), err)
		if err != nil {
			abortWithError(c, err)
			return
		}

		s.setTokenCookie(c, bs)
		c.JSON(http.StatusOK, gin.H{
			"user":     profile,
			"redirect": session.SafeRedirect(req.Redirect, s.paths.Landing),
		})
	}
}

// handleRegister はアカウントを作成してサインインするハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスとパスワードを入力してください。"})
			return
		}

		bs := s.session(c)
		seed := session.ProfileSeed{Email: req.Email, FirstName: req.FirstName, LastName: req.LastName}
		profile, err := bs.gate.SignUp(c.Request.Context(), seed, req.Password)
		s.metrics.ObserveAuth(string(session.OpSignUp), err)
		if err != nil {
			abortWithError(c, err)
			return
		}

		s.setTokenCookie(c, bs)
		c.JSON(http.StatusCreated, gin.H{
			"user":     profile,
			"redirect": session.SafeRedirect(req.Redirect, s.paths.Landing),
		})
	}
}

// handleLogout はサインアウトするハンドラを返す。
// Identity Providerが失敗してもセッショントークンのCookieは削除する。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.session(c).gate.SignOut(c.Request.Context())
		s.metrics.ObserveAuth(string(session.OpSignOut), err)
		middleware.ClearCookie(c, middleware.TokenCookie, s.cookies)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "signed_out", "redirect": s.paths.SignIn})
	}
}

// handleFederatedLogin は外部IdPの認可コードフローを開始するハンドラを返す。
func (s *Server) handleFederatedLogin(f identity.Federation) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := uuid.NewString()
		verifier := oauth2.GenerateVerifier()
		redirect := session.SafeRedirect(c.Query("redirect"), s.paths.Landing)

		opts := s.cookies
		opts.MaxAge = int(oauthCookieTTL.Seconds())
		middleware.SetCookie(c, oauthStateCookie, state, opts)
		middleware.SetCookie(c, oauthVerifierCookie, verifier, opts)
		middleware.SetCookie(c, oauthRedirectCookie, redirect, opts)

		c.Redirect(http.StatusFound, f.AuthCodeURL(state, verifier))
	}
}

// handleFederatedCallback は外部IdPからのコールバックを処理するハンドラを返す。
// 失敗した場合はエラーの種類を付けてサインイン画面へ転送する。
func (s *Server) handleFederatedCallback(f identity.Federation) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := c.Cookie(oauthStateCookie)
		if err != nil || state == "" || c.Query("state") != state {
			c.JSON(http.StatusBadRequest, gin.H{"error": "認証リクエストが無効です。もう一度お試しください。"})
			return
		}
		verifier, _ := c.Cookie(oauthVerifierCookie)
		redirect, _ := c.Cookie(oauthRedirectCookie)
		for _, name := range []string{oauthStateCookie, oauthVerifierCookie, oauthRedirectCookie} {
			middleware.ClearCookie(c, name, s.cookies)
		}

		bs := s.session(c)
		cred := session.FederatedCredential{
			Provider: f.Name(),
			Code:     c.Query("code"),
			Verifier: verifier,
			Error:    c.Query("error"),
		}
		_, err = bs.gate.SignInWithFederated(c.Request.Context(), cred)
		s.metrics.ObserveAuth(string(session.OpSignInFederated), err)
		if err != nil {
			log.Printf("[Gateway] %sでのサインインに失敗: %v", f.Name(), err)
			c.Redirect(http.StatusFound, s.paths.SignIn+"?error="+url.QueryEscape(errorCode(err)))
			return
		}

		s.setTokenCookie(c, bs)
		c.Redirect(http.StatusFound, session.SafeRedirect(redirect, s.paths.Landing))
	}
}

// setTokenCookie はサインイン中のセッショントークンをCookieに設定する。
func (s *Server) setTokenCookie(c *gin.Context, bs *browserSession) {
	token, expiresAt := bs.client.Token()
	if token == "" {
		return
	}
	opts := s.cookies
	opts.MaxAge = int(time.Until(expiresAt).Seconds())
	middleware.SetCookie(c, middleware.TokenCookie, token, opts)
}

// statusFor はエラーに対応するHTTPステータスコードを返す。
func statusFor(err error) int {
	if errors.Is(err, session.ErrNotAuthenticated) {
		return http.StatusUnauthorized
	}

	var ie *session.IdentityError
	if errors.As(err, &ie) {
		switch ie.Reason {
		case session.ReasonInvalidCredentials:
			return http.StatusUnauthorized
		case session.ReasonEmailInUse:
			return http.StatusConflict
		case session.ReasonInvalidInput, session.ReasonCancelled:
			return http.StatusBadRequest
		case session.ReasonUnavailable:
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}

	var pe *session.ProfileStoreError
	if errors.As(err, &pe) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorCode はエラーをサインイン画面に渡す分類コードに変換する。
func errorCode(err error) string {
	var ie *session.IdentityError
	if errors.As(err, &ie) {
		return string(ie.Reason)
	}
	var pe *session.ProfileStoreError
	if errors.As(err, &pe) {
		return string(session.ReasonUnavailable)
	}
	return string(session.ReasonUnknown)
}

// abortWithError はエラーを利用者向けのメッセージに変換して応答する。
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[Gateway] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": session.UserMessage(err)})
}
