package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nao1215/ecohome/pkg/event"
	"github.com/nao1215/ecohome/pkg/session"
)

// ProviderPassword はメールアドレスとパスワードによる認証方式名。
const ProviderPassword = "password"

// Client はブラウザセッション1つ分のIdentity Provider。session.IdentityProviderを実装する。
// 保存済みのセッショントークンから状態を復元し、サインイン・サインアウトのたびに購読者へ通知する。
type Client struct {
	directory   *Directory
	tokens      *Tokens
	federations map[string]Federation

	// mu は以下のフィールドを保護する。
	mu sync.Mutex
	// token は現在のセッショントークン。
	token string
	// expiresAt はtokenの有効期限。
	expiresAt time.Time
	// principal はサインイン中のプリンシパル。未認証ならnil。
	principal *session.Principal
	// version はサインイン・サインアウトのたびに増える。復元結果が古くなったかの判定に使う。
	version int
	// restored は初期状態の復元が完了したかどうか。
	restored bool
	// subscribers は購読者。
	subscribers map[int]chan session.IdentityEvent
	// nextID は次に払い出す購読者ID。
	nextID int

	restoreOnce sync.Once
}

// NewClient は新しいClientを生成する。tokenはブラウザに保存されていたセッショントークン（無ければ空）。
func NewClient(directory *Directory, tokens *Tokens, token string, federations ...Federation) *Client {
	c := &Client{
		directory:   directory,
		tokens:      tokens,
		federations: make(map[string]Federation, len(federations)),
		token:       token,
		subscribers: make(map[int]chan session.IdentityEvent),
	}
	for _, f := range federations {
		c.federations[f.Name()] = f
	}
	return c
}

// Subscribe はセッション変更通知のチャネルを返す。
// 初期状態は非同期に復元され、復元が終わると必ず1回通知される。
// チャネルは最新の通知のみを保持する。
func (c *Client) Subscribe(ctx context.Context) (<-chan session.IdentityEvent, func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	ch := make(chan session.IdentityEvent, 1)
	c.subscribers[id] = ch
	if c.restored {
		ch <- c.currentEventLocked()
	}
	c.mu.Unlock()

	c.restoreOnce.Do(func() {
		go c.restore(context.WithoutCancel(ctx))
	})

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if ch, ok := c.subscribers[id]; ok {
				close(ch)
				delete(c.subscribers, id)
			}
		})
	}
}

// restore は保存済みのトークンからプリンシパルを復元し、購読者へ初期状態を通知する。
// トークンが無効な場合やユーザーが見つからない場合は未認証として扱う。
func (c *Client) restore(ctx context.Context) {
	c.mu.Lock()
	token := c.token
	version := c.version
	c.mu.Unlock()

	var principal *session.Principal
	var expiresAt time.Time
	if token != "" {
		p, exp, err := c.resolveToken(ctx, token)
		if err != nil {
			log.Printf("[Identity] セッションを復元できませんでした: %v", err)
		} else {
			principal = &p
			expiresAt = exp
			c.record(ctx, p.ID, event.TypeSessionRestored, p.Provider, event.SessionRestoredData{ExpiresAt: exp})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.restored = true
	// 復元中にサインイン・サインアウトされた場合はそちらを優先する
	if c.version == version {
		c.principal = principal
		c.expiresAt = expiresAt
		if principal == nil {
			c.token = ""
		}
	}
	c.publishLocked()
}

// resolveToken はトークンを検証し、ディレクトリの最新の情報でプリンシパルを組み立てる。
func (c *Client) resolveToken(ctx context.Context, token string) (session.Principal, time.Time, error) {
	claims, err := c.tokens.Parse(token)
	if err != nil {
		return session.Principal{}, time.Time{}, err
	}
	user, err := c.directory.UserByID(ctx, claims.UserID)
	if err != nil {
		return session.Principal{}, time.Time{}, fmt.Errorf("user_id=%s: %w", claims.UserID, err)
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return user.Principal(claims.Provider), exp, nil
}

// SignInWithPassword はメールアドレスとパスワードで認証する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (session.Principal, error) {
	user, err := c.directory.Authenticate(ctx, email, password)
	if err != nil {
		var ie *session.IdentityError
		if errors.As(err, &ie) && ie.Reason == session.ReasonInvalidCredentials {
			c.record(ctx, "", event.TypeSignInFailed, ProviderPassword, event.SignInFailedData{Email: email, Reason: string(ie.Reason)})
		}
		return session.Principal{}, err
	}

	p := user.Principal(ProviderPassword)
	if err := c.signIn(p); err != nil {
		return session.Principal{}, err
	}
	c.record(ctx, p.ID, event.TypeSignedIn, p.Provider, event.SignedInData{Email: p.Email})
	return p, nil
}

// SignInWithFederated は外部IdPの認可コードでサインインする。
func (c *Client) SignInWithFederated(ctx context.Context, cred session.FederatedCredential) (session.Principal, error) {
	if cred.Error != "" {
		if cred.Error == "access_denied" {
			return session.Principal{}, session.NewIdentityError(session.ReasonCancelled, fmt.Errorf("%sでの認証が中断されました", cred.Provider))
		}
		return session.Principal{}, session.NewIdentityError(session.ReasonUnknown, fmt.Errorf("%sがエラーを返しました: %s", cred.Provider, cred.Error))
	}

	fed, ok := c.federations[cred.Provider]
	if !ok {
		return session.Principal{}, session.NewIdentityError(session.ReasonUnavailable, fmt.Errorf("%sでのサインインは設定されていません", cred.Provider))
	}
	if cred.Code == "" {
		return session.Principal{}, session.NewIdentityError(session.ReasonInvalidInput, errors.New("認可コードがありません"))
	}

	fi, err := fed.Exchange(ctx, cred.Code, cred.Verifier)
	if err != nil {
		return session.Principal{}, err
	}
	user, linked, err := c.directory.LinkFederated(ctx, fed.Name(), fi)
	if err != nil {
		return session.Principal{}, err
	}

	p := user.Principal(fed.Name())
	if fi.Picture != "" {
		p.Claims = map[string]string{"picture": fi.Picture}
	}
	if err := c.signIn(p); err != nil {
		return session.Principal{}, err
	}
	c.record(ctx, p.ID, event.TypeSignedIn, p.Provider, event.SignedInData{Email: p.Email, Linked: linked})
	return p, nil
}

// SignUpWithPassword はアカウントを作成し、そのままサインインする。
func (c *Client) SignUpWithPassword(ctx context.Context, seed session.ProfileSeed, password string) (session.Principal, error) {
	user, err := c.directory.Register(ctx, seed.Email, password, seed.DisplayName())
	if err != nil {
		return session.Principal{}, err
	}

	p := user.Principal(ProviderPassword)
	if err := c.signIn(p); err != nil {
		return session.Principal{}, err
	}
	c.record(ctx, p.ID, event.TypeSignedUp, p.Provider, event.SignedUpData{Email: p.Email, DisplayName: p.DisplayName})
	return p, nil
}

// SignOut は現在のセッションを終了する。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	prev := c.principal
	c.principal = nil
	c.token = ""
	c.expiresAt = time.Time{}
	c.version++
	c.publishLocked()
	c.mu.Unlock()

	if prev != nil {
		c.record(ctx, prev.ID, event.TypeSignedOut, prev.Provider, event.Empty{})
	}
	return nil
}

// UpdateDisplayName はディレクトリの表示名を更新する。セッション変更としては通知しない。
func (c *Client) UpdateDisplayName(ctx context.Context, p session.Principal, name string) error {
	if err := c.directory.SetDisplayName(ctx, p.ID, name); err != nil {
		return err
	}

	c.mu.Lock()
	provider := p.Provider
	if c.principal != nil && c.principal.ID == p.ID {
		c.principal.DisplayName = name
		provider = c.principal.Provider
	}
	c.mu.Unlock()

	c.record(ctx, p.ID, event.TypeProfileUpdated, provider, event.ProfileUpdatedData{DisplayName: name})
	return nil
}

// Token は現在のセッショントークンと有効期限を返す。未認証なら空文字列。
func (c *Client) Token() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.expiresAt
}

// Principal はサインイン中のプリンシパルを返す。
func (c *Client) Principal() (session.Principal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		return session.Principal{}, false
	}
	return *c.principal, true
}

// Events はサインイン中のユーザーの認証イベントを返す。
func (c *Client) Events(ctx context.Context, limit int) ([]event.Event, error) {
	p, ok := c.Principal()
	if !ok {
		return nil, session.ErrNotAuthenticated
	}
	return c.directory.Events(ctx, p.ID, limit)
}

// signIn はトークンを発行してプリンシパルを切り替え、購読者へ通知する。
func (c *Client) signIn(p session.Principal) error {
	token, expiresAt, err := c.tokens.Issue(p)
	if err != nil {
		return session.NewIdentityError(session.ReasonUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cp := p
	c.principal = &cp
	c.token = token
	c.expiresAt = expiresAt
	c.version++
	c.publishLocked()
	return nil
}

// publishLocked は現在の状態を購読者へ通知する。復元前は通知しない。
func (c *Client) publishLocked() {
	if !c.restored {
		return
	}
	ev := c.currentEventLocked()
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}

func (c *Client) currentEventLocked() session.IdentityEvent {
	if c.principal == nil {
		return session.IdentityEvent{}
	}
	cp := *c.principal
	return session.IdentityEvent{Principal: &cp}
}

// record は認証イベントを記録する。記録の失敗は認証処理を失敗させない。
func (c *Client) record(ctx context.Context, userID string, typ event.Type, provider string, data any) {
	ev, err := event.New(userID, typ, provider, data)
	if err != nil {
		log.Printf("[Identity] 認証イベントの生成に失敗: type=%s, error=%v", typ, err)
		return
	}
	if err := c.directory.Record(ctx, ev); err != nil {
		log.Printf("[Identity] %v: type=%s, user_id=%s", err, typ, userID)
	}
}
