package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/nao1215/ecohome/pkg/session"
)

// GoogleIssuer はGoogleのOIDC発行者URL。
const GoogleIssuer = "https://accounts.google.com"

// FederatedConfig は外部IdP（OIDC）の設定。
type FederatedConfig struct {
	// Provider はIdPの名前（google等）。
	Provider string
	// Issuer はOIDCの発行者URL。
	Issuer string
	// ClientID はOAuth2クライアントID。
	ClientID string
	// ClientSecret はOAuth2クライアントシークレット。
	ClientSecret string
	// RedirectURL は認可コードを受け取るコールバックURL。
	RedirectURL string
	// Scopes は要求するスコープ。空の場合はopenid, profile, email。
	Scopes []string
}

// Enabled は必要な設定が揃っているかどうかを返す。
func (c FederatedConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// FederatedIdentity は外部IdPが検証したアイデンティティ。
type FederatedIdentity struct {
	// Subject はIdP内の一意なユーザー識別子。
	Subject string
	// Email はメールアドレス。
	Email string
	// EmailVerified はIdPがメールアドレスを検証済みかどうか。
	EmailVerified bool
	// Name は表示名。
	Name string
	// Picture はアバター画像のURL。
	Picture string
}

// Federation は外部IdPとの認可コードフローを行う。
type Federation interface {
	// Name はIdPの名前を返す。
	Name() string
	// AuthCodeURL は認可エンドポイントのURLを返す。verifierはPKCEのコード検証子。
	AuthCodeURL(state, verifier string) string
	// Exchange は認可コードをトークンに交換し、IDトークンを検証する。
	Exchange(ctx context.Context, code, verifier string) (FederatedIdentity, error)
}

// OIDC はOpenID Connectの認可コードフロー（PKCE付き）を実装する。
type OIDC struct {
	name         string
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewOIDC は発行者のディスカバリーを行ってOIDCを生成する。
func NewOIDC(ctx context.Context, cfg FederatedConfig) (*OIDC, error) {
	if !cfg.Enabled() {
		return nil, errors.New("OIDCのクライアントID・シークレット・リダイレクトURLは必須です")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = GoogleIssuer
	}
	if cfg.Provider == "" {
		cfg.Provider = "google"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("OIDCプロバイダーのディスカバリーに失敗: issuer=%s: %w", cfg.Issuer, err)
	}

	return &OIDC{
		name: cfg.Provider,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Name はIdPの名前を返す。
func (o *OIDC) Name() string {
	return o.name
}

// AuthCodeURL は認可エンドポイントのURLを返す。
func (o *OIDC) AuthCodeURL(state, verifier string) string {
	return o.oauth2Config.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange は認可コードをトークンに交換し、IDトークンを検証してアイデンティティを返す。
func (o *OIDC) Exchange(ctx context.Context, code, verifier string) (FederatedIdentity, error) {
	token, err := o.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "access_denied" {
			return FederatedIdentity{}, session.NewIdentityError(session.ReasonCancelled, err)
		}
		return FederatedIdentity{}, session.NewIdentityError(session.ReasonUnknown, fmt.Errorf("トークン交換に失敗: %w", err))
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return FederatedIdentity{}, session.NewIdentityError(session.ReasonUnknown, errors.New("トークンレスポンスにid_tokenがありません"))
	}

	idToken, err := o.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return FederatedIdentity{}, session.NewIdentityError(session.ReasonUnknown, fmt.Errorf("IDトークンの検証に失敗: %w", err))
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return FederatedIdentity{}, session.NewIdentityError(session.ReasonUnknown, fmt.Errorf("IDトークンのクレーム解析に失敗: %w", err))
	}

	return FederatedIdentity{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
