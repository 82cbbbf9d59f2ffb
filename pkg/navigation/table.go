package navigation

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/ecohome/pkg/session"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Route はルート1件の定義。
type Route struct {
	// Name はルート名。
	Name string `yaml:"name" json:"name"`
	// Path はルートのパス。
	Path string `yaml:"path" json:"path"`
	// RequiresAuth は認証済みでなければ遷移できないことを表す。
	RequiresAuth bool `yaml:"requires_auth" json:"requires_auth"`
	// RedirectIfAuthenticated は認証済みならランディングへ転送することを表す。
	RedirectIfAuthenticated bool `yaml:"redirect_if_authenticated" json:"redirect_if_authenticated"`
}

// Table はルートテーブル。
type Table struct {
	// SignIn はサインインルートの名前。
	SignIn string `yaml:"sign_in" json:"sign_in"`
	// Landing は認証済みユーザーの転送先ルートの名前。
	Landing string `yaml:"landing" json:"landing"`
	// Routes はルート一覧。
	Routes []Route `yaml:"routes" json:"routes"`

	byPath map[string]int
	byName map[string]int
}

// Default は埋め込みのroutes.yamlからテーブルを生成する。
func Default() (*Table, error) {
	return Parse(defaultRoutes)
}

// Load はファイルからテーブルを読み込む。pathが空なら埋め込みのテーブルを返す。
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ルート定義の読み込みに失敗: %w", err)
	}
	return Parse(data)
}

// Parse はYAMLからテーブルを生成して検証する。
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("ルート定義のパースに失敗: %w", err)
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

// index は検証しながら索引を作る。
func (t *Table) index() error {
	if len(t.Routes) == 0 {
		return errors.New("ルートが1件も定義されていません")
	}

	t.byPath = make(map[string]int, len(t.Routes))
	t.byName = make(map[string]int, len(t.Routes))
	for i, r := range t.Routes {
		if r.Name == "" {
			return fmt.Errorf("%d番目のルートに名前がありません", i+1)
		}
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("ルート %s のパスは/で始まる必要があります: %q", r.Name, r.Path)
		}
		if _, ok := t.byName[r.Name]; ok {
			return fmt.Errorf("ルート名が重複しています: %s", r.Name)
		}
		if _, ok := t.byPath[r.Path]; ok {
			return fmt.Errorf("ルートのパスが重複しています: %s", r.Path)
		}
		t.byName[r.Name] = i
		t.byPath[r.Path] = i
	}

	signIn, ok := t.ByName(t.SignIn)
	if !ok {
		return fmt.Errorf("サインインルートが見つかりません: %q", t.SignIn)
	}
	if signIn.RequiresAuth {
		return fmt.Errorf("サインインルート %s に認証を要求することはできません", signIn.Name)
	}
	landing, ok := t.ByName(t.Landing)
	if !ok {
		return fmt.Errorf("ランディングルートが見つかりません: %q", t.Landing)
	}
	if landing.RedirectIfAuthenticated {
		return fmt.Errorf("ランディングルート %s は認証済みで転送されるため使えません", landing.Name)
	}
	return nil
}

// ByPath はパスに一致するルートを返す。
func (t *Table) ByPath(path string) (Route, bool) {
	i, ok := t.byPath[path]
	if !ok {
		return Route{}, false
	}
	return t.Routes[i], true
}

// ByName は名前に一致するルートを返す。
func (t *Table) ByName(name string) (Route, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Route{}, false
	}
	return t.Routes[i], true
}

// Paths はゲートが使う転送先のパスを返す。
func (t *Table) Paths() session.Paths {
	signIn, _ := t.ByName(t.SignIn)
	landing, _ := t.ByName(t.Landing)
	return session.Paths{SignIn: signIn.Path, Landing: landing.Path}
}

// Intent はクエリを含むフルパスからナビゲーション1回分の意図を組み立てる。
// テーブルに無いパスは公開ルートとして扱う。
func (t *Table) Intent(fullPath string) session.Intent {
	path := fullPath
	if u, err := url.Parse(fullPath); err == nil {
		path = u.Path
	}

	intent := session.Intent{Target: fullPath}
	if r, ok := t.ByPath(path); ok {
		intent.RequiresAuth = r.RequiresAuth
		intent.RedirectIfAuthenticated = r.RedirectIfAuthenticated
	}
	return intent
}

// Protected は保護ルートのみを返す。
func (t *Table) Protected() []Route {
	var routes []Route
	for _, r := range t.Routes {
		if r.RequiresAuth {
			routes = append(routes, r)
		}
	}
	return routes
}
