package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeIdentity はテスト用のIdentity Provider。
// 通知はemitで任意のタイミングに発行する。
type fakeIdentity struct {
	mu sync.Mutex
	// events は購読者へ渡すチャネル。
	events chan IdentityEvent
	// subscribed はSubscribeが呼ばれた回数。
	subscribed int
	// unsubscribed はUnsubscribeが呼ばれた回数。
	unsubscribed int
	// principal はサインイン系操作が返すプリンシパル。
	principal Principal
	// signInErr はサインイン系操作が返すエラー。
	signInErr error
	// signOutErr はSignOutが返すエラー。
	signOutErr error
	// displayNameErr はUpdateDisplayNameが返すエラー。
	displayNameErr error
	// displayNames はUpdateDisplayNameに渡された表示名。
	displayNames []string
	// signOuts はSignOutが呼ばれた回数。
	signOuts int
	// lastCredential は最後に渡された外部IdPの認証結果。
	lastCredential FederatedCredential
	// emitOnSignIn がtrueの場合、サインイン系操作の内部で購読通知を発行する。
	emitOnSignIn bool
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{events: make(chan IdentityEvent, 16)}
}

func (f *fakeIdentity) emit(p *Principal) {
	f.events <- IdentityEvent{Principal: p}
}

func (f *fakeIdentity) Subscribe(_ context.Context) (<-chan IdentityEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed++
	return f.events, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed++
	}
}

func (f *fakeIdentity) SignInWithPassword(_ context.Context, _, _ string) (Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return Principal{}, f.signInErr
	}
	f.publishLocked(f.principal)
	return f.principal, nil
}

func (f *fakeIdentity) SignInWithFederated(_ context.Context, cred FederatedCredential) (Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCredential = cred
	if f.signInErr != nil {
		return Principal{}, f.signInErr
	}
	return f.principal, nil
}

func (f *fakeIdentity) SignUpWithPassword(_ context.Context, seed ProfileSeed, _ string) (Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return Principal{}, f.signInErr
	}
	p := f.principal
	p.Email = seed.Email
	p.DisplayName = seed.DisplayName()
	f.publishLocked(p)
	return p, nil
}

// publishLocked はemitOnSignInが有効な場合にプリンシパルを通知する。
func (f *fakeIdentity) publishLocked(p Principal) {
	if f.emitOnSignIn {
		f.events <- IdentityEvent{Principal: &p}
	}
}

func (f *fakeIdentity) SignOut(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	return f.signOutErr
}

func (f *fakeIdentity) UpdateDisplayName(_ context.Context, _ Principal, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.displayNameErr != nil {
		return f.displayNameErr
	}
	f.displayNames = append(f.displayNames, name)
	return nil
}

func (f *fakeIdentity) subscriptions() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed, f.unsubscribed
}

// fakeStore はテスト用のインメモリProfile Store。
type fakeStore struct {
	mu sync.Mutex
	// docs は保存済みのプロフィール。
	docs map[string]Profile
	// gets はGetの呼び出し回数。
	gets int
	// sets はSetの呼び出し回数。
	sets int
	// merges はmerge=trueでのSetの呼び出し回数。
	merges int
	// getErr はGetが返すエラー。
	getErr error
	// setErr はSetが返すエラー。
	setErr error
	// block が設定されている場合、Getはクローズされるまで待機する。
	block chan struct{}
}

var errStoreDown = errors.New("store down")

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]Profile)}
}

func (s *fakeStore) Get(ctx context.Context, id string) (Profile, error) {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Profile{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return Profile{}, s.getErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return doc.Clone(), nil
}

func (s *fakeStore) Set(_ context.Context, id string, doc Profile, merge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	if !merge {
		s.docs[id] = doc.Clone()
		return nil
	}

	s.merges++
	cur := s.docs[id]
	cur.ID = id
	if doc.Email != "" {
		cur.Email = doc.Email
	}
	if doc.FirstName != "" {
		cur.FirstName = doc.FirstName
	}
	if doc.LastName != "" {
		cur.LastName = doc.LastName
	}
	if !doc.UpdatedAt.IsZero() {
		cur.UpdatedAt = doc.UpdatedAt
	}
	if len(doc.Extra) > 0 {
		if cur.Extra == nil {
			cur.Extra = make(map[string]string)
		}
		for k, v := range doc.Extra {
			cur.Extra[k] = v
		}
	}
	s.docs[id] = cur
	return nil
}

func (s *fakeStore) counts() (gets, sets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.sets
}

func (s *fakeStore) put(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[p.ID] = p.Clone()
}

func (s *fakeStore) doc(id string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.docs[id]
	return p, ok
}

// recordingMetrics はMetricsの呼び出しを記録する。
type recordingMetrics struct {
	mu          sync.Mutex
	transitions []Status
	decisions   []Decision
	waits       int
}

func (m *recordingMetrics) ObserveTransition(_, to Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func (m *recordingMetrics) ObserveDecision(_ Intent, d Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
}

func (m *recordingMetrics) ObserveResolveWait(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits++
}
