package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/nao1215/ecohome/internal/identity"
	"github.com/nao1215/ecohome/pkg/httpclient"
)

// TestPages_Unauthenticated は未認証のブラウザのナビゲーションを検証する。
func TestPages_Unauthenticated(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	tests := []struct {
		name     string
		path     string
		wantPage string
		location string
	}{
		{name: "保護ルートはサインインへ転送され元のパスが保持されること", path: "/dashboard", location: "/login?redirect=/dashboard"},
		{name: "クエリ付きの保護ルートはエスケープして保持されること", path: "/report?id=42", location: "/login?redirect=/report%3Fid%3D42"},
		{name: "補助金ページも保護されていること", path: "/rebates", location: "/login?redirect=/rebates"},
		{name: "サインイン画面は表示できること", path: "/login", wantPage: "login"},
		{name: "登録画面は表示できること", path: "/register", wantPage: "register"},
		{name: "公開ルートは表示できること", path: "/", wantPage: "home"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var page pageResponse
			err := newBrowser(ts).GetJSON(context.Background(), tt.path, &page)
			if tt.location != "" {
				assertRedirect(t, err, tt.location)
				return
			}
			if err != nil {
				t.Fatalf("GetJSON()でエラーが発生: %v", err)
			}
			if page.Page != tt.wantPage {
				t.Errorf("page = %q, want %q", page.Page, tt.wantPage)
			}
			if page.User != nil {
				t.Errorf("未認証ではuserはnullであるべき: %+v", page.User)
			}
		})
	}
}

// TestPages_Authenticated は認証済みのブラウザのナビゲーションを検証する。
func TestPages_Authenticated(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	b := newBrowser(ts)
	profile := register(t, b, "alice@example.com", "Alice", "Van Der Berg")
	ctx := context.Background()

	t.Run("サインイン画面はランディングへ転送されること", func(t *testing.T) {
		assertRedirect(t, b.GetJSON(ctx, "/login", nil), "/dashboard")
	})

	t.Run("登録画面もランディングへ転送されること", func(t *testing.T) {
		assertRedirect(t, b.GetJSON(ctx, "/register", nil), "/dashboard")
	})

	t.Run("保護ルートはプロフィール付きで表示できること", func(t *testing.T) {
		var page pageResponse
		if err := b.GetJSON(ctx, "/bill-analysis", &page); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if page.Page != "bill-analysis" {
			t.Errorf("page = %q, want %q", page.Page, "bill-analysis")
		}
		if page.User == nil || page.User.ID != profile.ID {
			t.Fatalf("user = %+v, want id %q", page.User, profile.ID)
		}
		if page.User.FirstName != "Alice" || page.User.LastName != "Van Der Berg" {
			t.Errorf("name = %q %q, want %q %q", page.User.FirstName, page.User.LastName, "Alice", "Van Der Berg")
		}
	})

	t.Run("公開ルートもプロフィール付きで表示できること", func(t *testing.T) {
		var page pageResponse
		if err := b.GetJSON(ctx, "/", &page); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if page.User == nil {
			t.Error("認証済みではuserが設定されるべき")
		}
	})
}

// TestPages_RestoreFromToken は保存済みのセッショントークンからの復元を検証する。
func TestPages_RestoreFromToken(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t)
	profile := register(t, newBrowser(ts), "restore@example.com", "Ken", "Sato")

	user, err := s.directory.UserByID(context.Background(), profile.ID)
	if err != nil {
		t.Fatalf("ユーザーの取得に失敗: %v", err)
	}
	token, _, err := s.tokens.Issue(user.Principal(identity.ProviderPassword))
	if err != nil {
		t.Fatalf("トークンの発行に失敗: %v", err)
	}

	t.Run("有効なトークンを持つ新しいブラウザは最初のナビゲーションから認証済みとなること", func(t *testing.T) {
		t.Parallel()

		ctx := httpclient.WithToken(context.Background(), token)
		var page pageResponse
		if err := newBrowser(ts).GetJSON(ctx, "/dashboard", &page); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if page.User == nil || page.User.ID != profile.ID {
			t.Errorf("user = %+v, want id %q", page.User, profile.ID)
		}
	})

	t.Run("有効なトークンを持つ新しいブラウザのサインイン画面はランディングへ転送されること", func(t *testing.T) {
		t.Parallel()

		ctx := httpclient.WithToken(context.Background(), token)
		assertRedirect(t, newBrowser(ts).GetJSON(ctx, "/login", nil), "/dashboard")
	})

	t.Run("不正なトークンは未認証として扱われること", func(t *testing.T) {
		t.Parallel()

		ctx := httpclient.WithToken(context.Background(), "not-a-token")
		assertRedirect(t, newBrowser(ts).GetJSON(ctx, "/dashboard", nil), "/login?redirect=/dashboard")
	})
}

// TestPages_SignOut はサインアウト後のナビゲーションを検証する。
func TestPages_SignOut(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	b := newBrowser(ts)
	register(t, b, "signout@example.com", "Yui", "Tanaka")
	ctx := context.Background()

	if err := b.GetJSON(ctx, "/dashboard", nil); err != nil {
		t.Fatalf("サインアウト前の保護ルートでエラーが発生: %v", err)
	}

	var resp struct {
		Status   string `json:"status"`
		Redirect string `json:"redirect"`
	}
	if err := b.PostJSON(ctx, "/auth/logout", nil, &resp); err != nil {
		t.Fatalf("サインアウトに失敗: %v", err)
	}
	if resp.Status != "signed_out" || resp.Redirect != "/login" {
		t.Errorf("response = %+v", resp)
	}

	assertRedirect(t, b.GetJSON(ctx, "/dashboard", nil), "/login?redirect=/dashboard")

	var page pageResponse
	if err := b.GetJSON(ctx, "/login", &page); err != nil {
		t.Fatalf("サインイン画面でエラーが発生: %v", err)
	}
	if page.Page != "login" {
		t.Errorf("page = %q, want %q", page.Page, "login")
	}
}

// TestPages_ExpiredSessionIsRestored は破棄されたセッションがトークンCookieから復元されることを検証する。
func TestPages_ExpiredSessionIsRestored(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t)
	b := newBrowser(ts)
	profile := register(t, b, "idle@example.com", "Mio", "Ito")

	s.sessions.mu.Lock()
	s.sessions.now = func() time.Time { return time.Now().Add(time.Hour) }
	s.sessions.mu.Unlock()
	if n := s.sessions.expire(); n != 1 {
		t.Fatalf("破棄したセッション数 = %d, want 1", n)
	}

	var page pageResponse
	if err := b.GetJSON(context.Background(), "/dashboard", &page); err != nil {
		t.Fatalf("GetJSON()でエラーが発生: %v", err)
	}
	if page.User == nil || page.User.ID != profile.ID {
		t.Errorf("user = %+v, want id %q", page.User, profile.ID)
	}
	if got := s.sessions.Len(); got != 1 {
		t.Errorf("セッション数 = %d, want 1", got)
	}
}
