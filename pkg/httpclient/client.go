package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// Client はゲートウェイ用のHTTPクライアント。
// Cookieを保持し、同じブラウザセッションとしてリクエストを送る。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先ゲートウェイのベースURL。
	baseURL string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithTimeout はリクエストのタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithoutRedirect はリダイレクトを追跡せず、3xxをStatusErrorとして返すようにする。
// ナビゲーションガードの判定結果を確認する場合に使う。
func WithoutRedirect() Option {
	return func(c *Client) {
		c.httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// New は新しいゲートウェイ用HTTPクライアントを生成する。
// baseURLには接続先のベースURL（例: "http://localhost:8080"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	// cookiejar.Newはオプションがnilならエラーを返さない
	jar, _ := cookiejar.New(nil)
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError は2xx以外のレスポンスを表す。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Location はリダイレクト先。リダイレクト以外では空。
	Location string
	// Message はレスポンスの "error" フィールド。無ければボディそのもの。
	Message string
}

func (e *StatusError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("HTTPエラー: status=%d, location=%s", e.StatusCode, e.Location)
	}
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Message)
}

// StatusCode はエラーがStatusErrorならそのステータスコードを返す。それ以外は0。
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// PutJSON は指定パスにJSONボディでPUTリクエストを送信する。
func (c *Client) PutJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// Health はゲートウェイのヘルスチェックを呼び出す。
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.GetJSON(ctx, "/health", &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("ヘルスチェックが異常を返しました: status=%q", body.Status)
	}
	return nil
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// コンテキストのトークンはCookieより優先される
	if token, ok := ctx.Value(contextKeyToken).(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

func newStatusError(resp *http.Response) *StatusError {
	respBody, _ := io.ReadAll(resp.Body)
	se := &StatusError{
		StatusCode: resp.StatusCode,
		Location:   resp.Header.Get("Location"),
		Message:    string(respBody),
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &payload) == nil && payload.Error != "" {
		se.Message = payload.Error
	}
	return se
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyToken はコンテキストにセッショントークンを格納するためのキー。
const contextKeyToken contextKey = "session_token"

// WithToken はコンテキストにセッショントークンを設定する。
// 設定したトークンは Bearer トークンとして送信される。
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKeyToken, token)
}
