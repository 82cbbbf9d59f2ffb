package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/ecohome/pkg/event"
	"github.com/nao1215/ecohome/pkg/session"
)

// stubFederation は固定のアイデンティティを返すFederation。
type stubFederation struct {
	identity FederatedIdentity
	err      error
}

func (s stubFederation) Name() string { return "google" }

func (s stubFederation) AuthCodeURL(state, _ string) string {
	return "https://accounts.example.com/authorize?state=" + state
}

func (s stubFederation) Exchange(_ context.Context, _, _ string) (FederatedIdentity, error) {
	return s.identity, s.err
}

// nextEvent は購読チャネルから1件受け取る。
func nextEvent(t *testing.T, ch <-chan session.IdentityEvent) session.IdentityEvent {
	t.Helper()

	select {
	case ev, ok := <-ch:
		require.True(t, ok, "購読チャネルが閉じられた")
		return ev
	case <-time.After(time.Second):
		t.Fatal("通知が届かない")
		return session.IdentityEvent{}
	}
}

func TestClient_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("トークンが無い場合は未認証を1回通知する", func(t *testing.T) {
		t.Parallel()

		c := NewClient(newTestDirectory(t), NewTokens("secret", 0), "")
		events, unsubscribe := c.Subscribe(context.Background())
		defer unsubscribe()

		ev := nextEvent(t, events)
		assert.Nil(t, ev.Principal)

		select {
		case ev := <-events:
			t.Fatalf("余分な通知が届いた: %+v", ev)
		case <-time.After(20 * time.Millisecond):
		}
	})

	t.Run("有効なトークンからプリンシパルを復元する", func(t *testing.T) {
		t.Parallel()

		d := newTestDirectory(t)
		tokens := NewTokens("secret", 0)
		user, err := d.Register(context.Background(), "alice@example.com", "secret123", "Alice")
		require.NoError(t, err)
		token, _, err := tokens.Issue(user.Principal(ProviderPassword))
		require.NoError(t, err)

		c := NewClient(d, tokens, token)
		events, unsubscribe := c.Subscribe(context.Background())
		defer unsubscribe()

		ev := nextEvent(t, events)
		require.NotNil(t, ev.Principal)
		assert.Equal(t, user.ID, ev.Principal.ID)
		assert.Equal(t, "Alice", ev.Principal.DisplayName)

		got, _ := c.Token()
		assert.Equal(t, token, got)

		require.Eventually(t, func() bool {
			evs, err := d.Events(context.Background(), user.ID, 10)
			return err == nil && len(evs) == 1 && evs[0].EventType == event.TypeSessionRestored
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("無効なトークンは未認証として扱いトークンを破棄する", func(t *testing.T) {
		t.Parallel()

		c := NewClient(newTestDirectory(t), NewTokens("secret", 0), "broken-token")
		events, unsubscribe := c.Subscribe(context.Background())
		defer unsubscribe()

		assert.Nil(t, nextEvent(t, events).Principal)
		token, _ := c.Token()
		assert.Empty(t, token)
	})

	t.Run("削除済みユーザーのトークンは未認証として扱う", func(t *testing.T) {
		t.Parallel()

		tokens := NewTokens("secret", 0)
		token, _, err := tokens.Issue(session.Principal{ID: "deleted-user", Provider: ProviderPassword})
		require.NoError(t, err)

		c := NewClient(newTestDirectory(t), tokens, token)
		events, unsubscribe := c.Subscribe(context.Background())
		defer unsubscribe()

		assert.Nil(t, nextEvent(t, events).Principal)
	})

	t.Run("復元後に購読した場合も現在の状態を受け取る", func(t *testing.T) {
		t.Parallel()

		c := NewClient(newTestDirectory(t), NewTokens("secret", 0), "")
		first, unsubscribe := c.Subscribe(context.Background())
		defer unsubscribe()
		nextEvent(t, first)

		second, unsubscribe2 := c.Subscribe(context.Background())
		defer unsubscribe2()
		assert.Nil(t, nextEvent(t, second).Principal)
	})

	t.Run("購読解除でチャネルが閉じられる", func(t *testing.T) {
		t.Parallel()

		c := NewClient(newTestDirectory(t), NewTokens("secret", 0), "")
		events, unsubscribe := c.Subscribe(context.Background())
		nextEvent(t, events)
		unsubscribe()
		unsubscribe()

		_, ok := <-events
		assert.False(t, ok)
	})
}

func TestClient_SignInAndOut(t *testing.T) {
	t.Parallel()

	t.Run("サインインとサインアウトのたびに通知する", func(t *testing.T) {
		t.Parallel()

		d := newTestDirectory(t)
		_, err := d.Register(context.Background(), "bob@example.com", "secret123", "Bob Stone")
		require.NoError(t, err)

		c := NewClient(d, NewTokens("secret", 0), "")
		events, unsubscribe := c.Subscribe(context.Background())
		defer unsubscribe()
		assert.Nil(t, nextEvent(t, events).Principal)

		p, err := c.SignInWithPassword(context.Background(), "bob@example.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, "Bob Stone", p.DisplayName)
		assert.Equal(t, ProviderPassword, p.Provider)

		ev := nextEvent(t, events)
		require.NotNil(t, ev.Principal)
		assert.Equal(t, p.ID, ev.Principal.ID)

		token, expiresAt := c.Token()
		assert.NotEmpty(t, token)
		assert.True(t, expiresAt.After(time.Now()))

		require.NoError(t, c.SignOut(context.Background()))
		assert.Nil(t, nextEvent(t, events).Principal)
		token, _ = c.Token()
		assert.Empty(t, token)

		evs, err := d.Events(context.Background(), p.ID, 10)
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.Equal(t, event.TypeSignedOut, evs[0].EventType)
		assert.Equal(t, event.TypeSignedIn, evs[1].EventType)
	})

	t.Run("パスワード誤りはReasonInvalidCredentialsで通知しない", func(t *testing.T) {
		t.Parallel()

		d := newTestDirectory(t)
		_, err := d.Register(context.Background(), "bob@example.com", "secret123", "Bob")
		require.NoError(t, err)

		c := NewClient(d, NewTokens("secret", 0), "")
		events, unsubscribe := c.Subscribe(context.Background())
		defer unsubscribe()
		nextEvent(t, events)

		_, err = c.SignInWithPassword(context.Background(), "bob@example.com", "nope-nope")
		requireReason(t, err, session.ReasonInvalidCredentials)

		select {
		case ev := <-events:
			t.Fatalf("失敗時に通知された: %+v", ev)
		case <-time.After(20 * time.Millisecond):
		}
		_, ok := c.Principal()
		assert.False(t, ok)
	})

	t.Run("サインアップで登録してサインインする", func(t *testing.T) {
		t.Parallel()

		c := NewClient(newTestDirectory(t), NewTokens("secret", 0), "")
		p, err := c.SignUpWithPassword(context.Background(), session.ProfileSeed{Email: "nora@example.com", FirstName: "Nora", LastName: "Ng"}, "secret123")
		require.NoError(t, err)
		assert.Equal(t, "nora@example.com", p.Email)
		assert.Equal(t, "Nora Ng", p.DisplayName)

		got, ok := c.Principal()
		require.True(t, ok)
		assert.Equal(t, p.ID, got.ID)
	})

	t.Run("未認証でのサインアウトはイベントを記録しない", func(t *testing.T) {
		t.Parallel()

		c := NewClient(newTestDirectory(t), NewTokens("secret", 0), "")
		require.NoError(t, c.SignOut(context.Background()))
		_, err := c.Events(context.Background(), 10)
		require.ErrorIs(t, err, session.ErrNotAuthenticated)
	})
}

func TestClient_SignInWithFederated(t *testing.T) {
	t.Parallel()

	t.Run("外部IdPのアイデンティティでサインインする", func(t *testing.T) {
		t.Parallel()

		fed := stubFederation{identity: FederatedIdentity{
			Subject: "g-1", Email: "grace@example.com", EmailVerified: true,
			Name: "Grace Hopper", Picture: "https://example.com/g.png",
		}}
		c := NewClient(newTestDirectory(t), NewTokens("secret", 0), "", fed)

		p, err := c.SignInWithFederated(context.Background(), session.FederatedCredential{Provider: "google", Code: "code"})
		require.NoError(t, err)
		assert.Equal(t, "grace@example.com", p.Email)
		assert.Equal(t, "Grace Hopper", p.DisplayName)
		assert.Equal(t, "google", p.Provider)
		assert.Equal(t, "https://example.com/g.png", p.Claims["picture"])
	})

	tests := []struct {
		name string
		fed  Federation
		cred session.FederatedCredential
		want session.Reason
	}{
		{
			name: "access_deniedはキャンセル",
			fed:  stubFederation{},
			cred: session.FederatedCredential{Provider: "google", Error: "access_denied"},
			want: session.ReasonCancelled,
		},
		{
			name: "その他のコールバックエラー",
			fed:  stubFederation{},
			cred: session.FederatedCredential{Provider: "google", Error: "server_error"},
			want: session.ReasonUnknown,
		},
		{
			name: "設定されていないIdP",
			fed:  stubFederation{},
			cred: session.FederatedCredential{Provider: "github", Code: "code"},
			want: session.ReasonUnavailable,
		},
		{
			name: "認可コードが無い",
			fed:  stubFederation{},
			cred: session.FederatedCredential{Provider: "google"},
			want: session.ReasonInvalidInput,
		},
		{
			name: "トークン交換の失敗",
			fed:  stubFederation{err: session.NewIdentityError(session.ReasonUnknown, errors.New("invalid_grant"))},
			cred: session.FederatedCredential{Provider: "google", Code: "code"},
			want: session.ReasonUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewClient(newTestDirectory(t), NewTokens("secret", 0), "", tt.fed)
			_, err := c.SignInWithFederated(context.Background(), tt.cred)
			requireReason(t, err, tt.want)
		})
	}
}

func TestClient_UpdateDisplayName(t *testing.T) {
	t.Parallel()

	d := newTestDirectory(t)
	c := NewClient(d, NewTokens("secret", 0), "")
	p, err := c.SignUpWithPassword(context.Background(), session.ProfileSeed{Email: "ivy@example.com", FirstName: "Ivy"}, "secret123")
	require.NoError(t, err)

	require.NoError(t, c.UpdateDisplayName(context.Background(), p, "Ivy League"))

	got, ok := c.Principal()
	require.True(t, ok)
	assert.Equal(t, "Ivy League", got.DisplayName)

	user, err := d.UserByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ivy League", user.DisplayName)
}

// TestClient_WithGate はゲートとクライアントを組み合わせたセッションの流れを検証する。
func TestClient_WithGate(t *testing.T) {
	t.Parallel()

	d := newTestDirectory(t)
	tokens := NewTokens("secret", 0)
	store := newMemoryStore()

	c := NewClient(d, tokens, "")
	g := session.NewGate(c, store)
	g.Start(context.Background())
	defer g.Close()

	dashboard := session.Intent{Target: "/dashboard", RequiresAuth: true}
	decision, err := g.Guard(context.Background(), dashboard)
	require.NoError(t, err)
	assert.Equal(t, "/login?redirect=/dashboard", decision.Location)

	profile, err := g.SignUp(context.Background(), session.ProfileSeed{Email: "jo@example.com", FirstName: "Jo", LastName: "March"}, "secret123")
	require.NoError(t, err)
	assert.Equal(t, "March", profile.LastName)

	decision, err = g.Guard(context.Background(), dashboard)
	require.NoError(t, err)
	assert.True(t, decision.Allowed())

	// 同じトークンを持つ新しいブラウザセッションは認証済みで復元される
	token, _ := c.Token()
	restored := session.NewGate(NewClient(d, tokens, token), store)
	restored.Start(context.Background())
	defer restored.Close()

	state, err := restored.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, session.StatusAuthenticated, state.Status)
	assert.Equal(t, "Jo", state.Profile.FirstName)
}

// TestClient_SignUpKeepsSeedName はサインアップ直後の購読通知でseedの名前が失われないことを検証する。
func TestClient_SignUpKeepsSeedName(t *testing.T) {
	t.Parallel()

	d := newTestDirectory(t)
	tokens := NewTokens("secret", 0)
	store := newMemoryStore()

	for i := range 20 {
		g := session.NewGate(NewClient(d, tokens, ""), store)
		g.Start(context.Background())

		state, err := g.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, session.StatusUnauthenticated, state.Status)

		seed := session.ProfileSeed{Email: fmt.Sprintf("mary%d@example.com", i), FirstName: "Mary Ann", LastName: "Smith"}
		profile, err := g.SignUp(context.Background(), seed, "secret123")
		require.NoError(t, err)

		stored, err := store.Get(context.Background(), profile.ID)
		require.NoError(t, err)
		assert.Equal(t, "Mary Ann", stored.FirstName, "run %d", i)
		assert.Equal(t, "Smith", stored.LastName, "run %d", i)

		g.Close()
		cur := g.Current()
		require.Equal(t, session.StatusAuthenticated, cur.Status)
		assert.Equal(t, "Mary Ann", cur.Profile.FirstName, "run %d", i)
	}
}
