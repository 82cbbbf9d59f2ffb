package session

import (
	"context"
	"errors"
	"log"
	"maps"
	"sync"
	"time"
)

// Gate はブラウザセッション1つ分の認証状態を保持し、すべてのナビゲーションを判定する。
// アプリケーション起動時（セッション開始時）にNewGateで生成し、終了時にCloseする。
type Gate struct {
	// identity はIdentity Provider。
	identity IdentityProvider
	// store はProfile Store。
	store ProfileStore
	// metrics は動作記録のフック。
	metrics Metrics
	// paths は転送先のパス。
	paths Paths
	// policy はUnknown状態でのナビゲーションの扱い。
	policy WaitPolicy
	// resolveTimeout は初回確定を待つ上限。0なら無期限。
	resolveTimeout time.Duration
	// now は現在時刻の取得関数。
	now func() time.Time

	// ops は認証操作と購読通知の処理を直列化する。
	// プロフィールの新規作成が同じユーザーに対して二重に行われないようにする。
	// muより先に取得する。
	ops sync.Mutex

	// mu は以下のフィールドを保護する。
	mu sync.Mutex
	// state は現在のセッション状態。
	state State
	// resolved は初回の状態確定時にクローズされる。
	resolved chan struct{}
	// observers は状態変更の通知先。
	observers map[int]chan State
	// nextObserverID は次に払い出すオブザーバーID。
	nextObserverID int
	// started はStartが呼ばれたかどうか。
	started bool
	// closed はCloseが呼ばれたかどうか。
	closed bool
	// cancel はイベントループを停止する。
	cancel context.CancelFunc
	// done はイベントループの終了時にクローズされる。
	done chan struct{}
}

// NewGate は新しいGateを生成する。状態はUnknownから始まる。
func NewGate(identity IdentityProvider, store ProfileStore, opts ...Option) *Gate {
	g := &Gate{
		identity:  identity,
		store:     store,
		metrics:   noopMetrics{},
		paths:     DefaultPaths,
		policy:    WaitAlways,
		now:       time.Now,
		state:     State{Status: StatusUnknown},
		resolved:  make(chan struct{}),
		observers: make(map[int]chan State),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start はIdentity Providerを購読し、通知を単一のゴルーチンで消費するループを開始する。
// 2回目以降の呼び出しは何もしない。
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started || g.closed {
		g.mu.Unlock()
		return
	}
	g.started = true
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	events, unsubscribe := g.identity.Subscribe(ctx)
	go g.run(ctx, events, unsubscribe)

	if g.resolveTimeout > 0 {
		go g.watchResolution(ctx)
	}
}

// run はIdentity Providerからの通知を順に処理する。
func (g *Gate) run(ctx context.Context, events <-chan IdentityEvent, unsubscribe func()) {
	defer close(g.done)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.OnSessionChange(ctx, ev)
		}
	}
}

// watchResolution は初回確定が上限時間内に行われなかった場合に合成状態を適用する。
func (g *Gate) watchResolution(ctx context.Context) {
	timer := time.NewTimer(g.resolveTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-g.resolved:
	case <-timer.C:
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.state.Status == StatusUnknown {
			log.Printf("[Session] %s以内に認証状態が確定しなかったため未認証として扱います", g.resolveTimeout)
			g.applyLocked(State{Status: StatusUnauthenticated, Synthetic: true})
		}
	}
}

// Close はイベントループを停止し、すべてのオブザーバーのチャネルを閉じる。
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	started := g.started
	cancel := g.cancel
	g.mu.Unlock()

	if started {
		cancel()
		<-g.done
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ch := range g.observers {
		close(ch)
		delete(g.observers, id)
	}
}

// Current は現在の状態を返す。待機はしない。
func (g *Gate) Current() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.clone()
}

// Wait は状態がUnknownから確定するまで待ち、確定後の状態を返す。
// 一度確定した状態がUnknownに戻ることはない。
func (g *Gate) Wait(ctx context.Context) (State, error) {
	start := g.now()
	select {
	case <-g.resolved:
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	g.metrics.ObserveResolveWait(g.now().Sub(start))
	return g.Current(), nil
}

// Guard はナビゲーション1回分を判定する。初回の読み込みを含むすべての遷移で呼び出す。
// 状態がUnknownの間は確定まで待機し、推測で通過させない。
// 返されるエラーは呼び出し側のコンテキストの終了のみ。
func (g *Gate) Guard(ctx context.Context, intent Intent) (Decision, error) {
	var state State
	if g.policy == WaitProtectedOnly && !intent.Protected() {
		state = g.Current()
	} else {
		s, err := g.Wait(ctx)
		if err != nil {
			return Decision{}, err
		}
		state = s
	}

	d := Evaluate(state, intent, g.paths)
	g.metrics.ObserveDecision(intent, d)
	return d, nil
}

// Subscribe は状態変更を受け取るチャネルを返す。
// チャネルには登録時点の状態がまず送られ、以降は最新の状態のみが保持される。
func (g *Gate) Subscribe() (<-chan State, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan State, 1)
	if g.closed {
		close(ch)
		return ch, func() {}
	}

	id := g.nextObserverID
	g.nextObserverID++
	g.observers[id] = ch
	ch <- g.state.clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if c, ok := g.observers[id]; ok {
				close(c)
				delete(g.observers, id)
			}
		})
	}
}

// OnSessionChange はIdentity Providerからの通知を処理する。
// プリンシパルがあればプロフィールを取得（無ければ作成）してAuthenticatedに遷移する。
// 取得・作成に失敗した場合はUnauthenticatedに遷移する（フェイルクローズ）。
func (g *Gate) OnSessionChange(ctx context.Context, ev IdentityEvent) State {
	g.ops.Lock()
	defer g.ops.Unlock()

	if ev.Principal == nil {
		g.apply(Unauthenticated())
		return g.Current()
	}

	profile, err := g.loadOrCreate(ctx, *ev.Principal)
	if err != nil {
		log.Printf("[Session] %s: プロフィールの取得に失敗したため未認証として扱います: user_id=%s, error=%v", OpSessionChange, ev.Principal.ID, err)
		g.apply(Unauthenticated())
		return g.Current()
	}

	g.apply(Authenticated(profile))
	return g.Current()
}

// SignIn はメールアドレスとパスワードでサインインする。
// 成功時は購読通知を待たずにAuthenticatedへ遷移する。失敗時は状態を変更しない。
func (g *Gate) SignIn(ctx context.Context, email, password string) (Profile, error) {
	g.ops.Lock()
	defer g.ops.Unlock()

	p, err := g.identity.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Profile{}, wrapIdentity(OpSignIn, err)
	}
	return g.authenticate(ctx, p)
}

// SignInWithFederated は外部IdPの認証結果でサインインする。
func (g *Gate) SignInWithFederated(ctx context.Context, cred FederatedCredential) (Profile, error) {
	g.ops.Lock()
	defer g.ops.Unlock()

	p, err := g.identity.SignInWithFederated(ctx, cred)
	if err != nil {
		return Profile{}, wrapIdentity(OpSignInFederated, err)
	}
	return g.authenticate(ctx, p)
}

// SignUp はアカウントを作成し、入力されたプロフィールでドキュメントを作成してサインインする。
// ドキュメントは既存の有無にかかわらずseedの内容で上書きする。
func (g *Gate) SignUp(ctx context.Context, seed ProfileSeed, password string) (Profile, error) {
	g.ops.Lock()
	defer g.ops.Unlock()

	p, err := g.identity.SignUpWithPassword(ctx, seed, password)
	if err != nil {
		return Profile{}, wrapIdentity(OpSignUp, err)
	}

	if name := seed.DisplayName(); name != "" {
		if err := g.identity.UpdateDisplayName(ctx, p, name); err != nil {
			return Profile{}, wrapIdentity(OpSignUp, err)
		}
		p.DisplayName = name
	}

	profile := g.newProfile(p, &seed)
	if err := g.store.Set(ctx, p.ID, profile, false); err != nil {
		return Profile{}, &ProfileStoreError{Op: "set", ID: p.ID, Err: err}
	}
	log.Printf("[Session] サインアップのプロフィールを作成しました: user_id=%s", p.ID)
	g.apply(Authenticated(profile))
	return profile.Clone(), nil
}

// authenticate はプロフィールを取得または作成し、Authenticatedへ遷移する。
// 呼び出し側がopsを保持していること。
func (g *Gate) authenticate(ctx context.Context, p Principal) (Profile, error) {
	profile, err := g.loadOrCreate(ctx, p)
	if err != nil {
		return Profile{}, err
	}
	g.apply(Authenticated(profile))
	return profile.Clone(), nil
}

// SignOut はIdentity Providerでサインアウトし、Unauthenticatedへ遷移してプロフィールを破棄する。
// Identity Providerが失敗した場合も手元の状態は破棄し、エラーを返す。
func (g *Gate) SignOut(ctx context.Context) error {
	g.ops.Lock()
	defer g.ops.Unlock()

	err := g.identity.SignOut(ctx)
	g.apply(Unauthenticated())
	if err != nil {
		return wrapIdentity(OpSignOut, err)
	}
	return nil
}

// UpdateProfile は現在のユーザーのプロフィールを更新する。
// プロバイダーの表示名を更新し、ドキュメントをマージ保存した後に再取得して状態へ反映する。
func (g *Gate) UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error) {
	g.ops.Lock()
	defer g.ops.Unlock()

	cur := g.Current()
	if cur.Status != StatusAuthenticated || cur.Profile == nil {
		return Profile{}, ErrNotAuthenticated
	}
	id := cur.Profile.ID

	next := cur.Profile.Clone()
	if update.FirstName != "" {
		next.FirstName = update.FirstName
	}
	if update.LastName != "" {
		next.LastName = update.LastName
	}

	p := Principal{ID: id, Email: cur.Profile.Email}
	if err := g.identity.UpdateDisplayName(ctx, p, next.DisplayName()); err != nil {
		return Profile{}, wrapIdentity(OpUpdateProfile, err)
	}

	patch := Profile{
		ID:        id,
		FirstName: update.FirstName,
		LastName:  update.LastName,
		UpdatedAt: g.now().UTC(),
		Extra:     maps.Clone(update.Extra),
	}
	if err := g.store.Set(ctx, id, patch, true); err != nil {
		return Profile{}, &ProfileStoreError{Op: "set", ID: id, Err: err}
	}

	updated, err := g.store.Get(ctx, id)
	if err != nil {
		return Profile{}, &ProfileStoreError{Op: "get", ID: id, Err: err}
	}
	updated.ID = id
	if updated.Email == "" {
		updated.Email = cur.Profile.Email
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// 更新中に別ユーザーへ切り替わった、またはサインアウトした場合は反映しない
	if g.state.Status != StatusAuthenticated || g.state.Profile == nil || g.state.Profile.ID != id {
		return Profile{}, ErrNotAuthenticated
	}
	g.applyLocked(Authenticated(updated))
	return updated.Clone(), nil
}

// loadOrCreate はプロフィールを取得し、存在しなければプリンシパルの属性から作成して保存する。
// 呼び出し側がopsを保持していること。
func (g *Gate) loadOrCreate(ctx context.Context, p Principal) (Profile, error) {
	doc, err := g.store.Get(ctx, p.ID)
	switch {
	case err == nil:
		doc.ID = p.ID
		if doc.Email == "" {
			doc.Email = p.Email
		}
		return doc, nil
	case errors.Is(err, ErrProfileNotFound):
	default:
		return Profile{}, &ProfileStoreError{Op: "get", ID: p.ID, Err: err}
	}

	profile := g.newProfile(p, nil)
	if err := g.store.Set(ctx, p.ID, profile, false); err != nil {
		return Profile{}, &ProfileStoreError{Op: "set", ID: p.ID, Err: err}
	}
	log.Printf("[Session] プロフィールを新規作成しました: user_id=%s", p.ID)
	return profile, nil
}

// newProfile は新規作成するプロフィールを組み立てる。
// seedが指定された場合は名前とメールアドレスをseedから取る。
func (g *Gate) newProfile(p Principal, seed *ProfileSeed) Profile {
	now := g.now().UTC()
	first, last := splitDisplayName(p.DisplayName)
	email := p.Email
	if seed != nil {
		first, last = seed.FirstName, seed.LastName
		if seed.Email != "" {
			email = seed.Email
		}
	}

	var extra map[string]string
	if p.Provider != "" || len(p.Claims) > 0 {
		extra = maps.Clone(p.Claims)
		if extra == nil {
			extra = make(map[string]string, 1)
		}
		if p.Provider != "" {
			extra["provider"] = p.Provider
		}
	}

	return Profile{
		ID:        p.ID,
		Email:     email,
		FirstName: first,
		LastName:  last,
		CreatedAt: now,
		UpdatedAt: now,
		Extra:     extra,
	}
}

// apply は状態を遷移させる。同一状態の再適用は何もしない。
func (g *Gate) apply(next State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.applyLocked(next)
}

// applyLocked はmuを保持した状態で遷移を行い、オブザーバーへ通知する。
func (g *Gate) applyLocked(next State) {
	if g.state.Equal(next) {
		return
	}
	prev := g.state.Status
	g.state = next.clone()

	if next.Resolved() {
		select {
		case <-g.resolved:
		default:
			close(g.resolved)
		}
	}

	for _, ch := range g.observers {
		// 受信側が遅れている場合は古い状態を捨てて最新のみを残す
		select {
		case <-ch:
		default:
		}
		ch <- g.state.clone()
	}

	g.metrics.ObserveTransition(prev, next.Status)
}
