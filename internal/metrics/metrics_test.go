package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/ecohome/pkg/session"
)

// scrape は/metricsの出力を返す。
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	t.Run("ゲートの動作を記録できる", func(t *testing.T) {
		t.Parallel()

		m := New()
		var _ session.Metrics = m

		m.ObserveTransition(session.StatusUnknown, session.StatusAuthenticated)
		m.ObserveDecision(
			session.Intent{Target: "/dashboard", RequiresAuth: true},
			session.Decision{Outcome: session.OutcomeRedirect, Location: "/login?redirect=/dashboard"},
		)
		m.ObserveResolveWait(30 * time.Millisecond)

		body := scrape(t, m)
		assert.Contains(t, body, `ecohome_session_transitions_total{from="unknown",to="authenticated"} 1`)
		assert.Contains(t, body, `ecohome_navigation_decisions_total{outcome="redirect",protected="true"} 1`)
		assert.Contains(t, body, `ecohome_session_resolve_wait_seconds_count 1`)
	})

	t.Run("セッション数と認証操作を記録できる", func(t *testing.T) {
		t.Parallel()

		m := New()
		m.ActiveSessions.Set(3)
		m.ExpiredSessions.Inc()
		m.ObserveAuth("sign_in", nil)
		m.ObserveAuth("sign_in", errors.New("bad password"))
		m.ObserveAuth("sign_in", errors.New("bad password"))

		body := scrape(t, m)
		assert.Contains(t, body, "ecohome_active_sessions 3")
		assert.Contains(t, body, "ecohome_expired_sessions_total 1")
		assert.Contains(t, body, `ecohome_auth_operations_total{operation="sign_in",result="success"} 1`)
		assert.Contains(t, body, `ecohome_auth_operations_total{operation="sign_in",result="failure"} 2`)
	})

	t.Run("インスタンスごとに独立したレジストリを持つ", func(t *testing.T) {
		t.Parallel()

		a := New()
		b := New()
		a.ExpiredSessions.Inc()
		assert.Contains(t, scrape(t, b), "ecohome_expired_sessions_total 0")
	})
}
