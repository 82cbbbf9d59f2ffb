package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("SignedInDataでイベントを正常に生成できること", func(t *testing.T) {
		t.Parallel()

		data := SignedInData{Email: "alice@example.com"}

		before := time.Now().UTC()
		ev, err := New("user-1", TypeSignedIn, "password", data)
		after := time.Now().UTC()

		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if ev == nil {
			t.Fatal("New()がnilを返した")
		}

		// UUIDが生成されていること
		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.UserID != "user-1" {
			t.Errorf("UserID = %q, want %q", ev.UserID, "user-1")
		}
		if ev.EventType != TypeSignedIn {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeSignedIn)
		}
		if ev.Provider != "password" {
			t.Errorf("Provider = %q, want %q", ev.Provider, "password")
		}

		// CreatedAtが呼び出し前後の範囲内であること
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", ev.CreatedAt, before, after)
		}

		var decoded SignedInData
		if err := json.Unmarshal(ev.Data, &decoded); err != nil {
			t.Fatalf("Dataのデシリアライズに失敗: %v", err)
		}
		if decoded.Email != data.Email {
			t.Errorf("Data.Email = %q, want %q", decoded.Email, data.Email)
		}
	})

	t.Run("データを持たないイベントは空オブジェクトになること", func(t *testing.T) {
		t.Parallel()

		ev, err := New("user-2", TypeSignedOut, "password", Empty{})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if string(ev.Data) != "{}" {
			t.Errorf("Data = %s, want {}", ev.Data)
		}
	})

	t.Run("連続して生成したイベントのIDが異なること", func(t *testing.T) {
		t.Parallel()

		ev1, err := New("user-3", TypeSignedOut, "google", Empty{})
		if err != nil {
			t.Fatalf("1回目のNew()でエラーが発生: %v", err)
		}
		ev2, err := New("user-3", TypeSignedOut, "google", Empty{})
		if err != nil {
			t.Fatalf("2回目のNew()でエラーが発生: %v", err)
		}
		if ev1.ID == ev2.ID {
			t.Errorf("異なるイベントが同じIDを持っている: %q", ev1.ID)
		}
	})

	t.Run("不明なイベント種別でエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ev, err := New("user-4", Type("MediaUploaded"), "password", Empty{})
		if err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
		if ev != nil {
			t.Error("エラー時にnilでないEventが返った")
		}
	})

	t.Run("シリアライズ不可能なデータでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		// json.Marshalでエラーになるチャネル型を渡す
		ev, err := New("user-5", TypeSignedIn, "password", make(chan int))
		if err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
		if ev != nil {
			t.Error("エラー時にnilでないEventが返った")
		}
	})
}

// TestDecodeData はDecodeData関数でイベントデータを正しくデシリアライズできることを検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("SignedUpDataを正しくデコードできること", func(t *testing.T) {
		t.Parallel()

		original := SignedUpData{Email: "nora@example.com", DisplayName: "Nora Ng"}
		ev, err := New("user-10", TypeSignedUp, "password", original)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		decoded, err := DecodeData[SignedUpData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if *decoded != original {
			t.Errorf("decoded = %+v, want %+v", *decoded, original)
		}
	})

	t.Run("SessionRestoredDataの時刻を正しくデコードできること", func(t *testing.T) {
		t.Parallel()

		expires := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		ev, err := New("user-11", TypeSessionRestored, "google", SessionRestoredData{ExpiresAt: expires})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		decoded, err := DecodeData[SessionRestoredData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if !decoded.ExpiresAt.Equal(expires) {
			t.Errorf("ExpiresAt = %v, want %v", decoded.ExpiresAt, expires)
		}
	})

	t.Run("不正なJSONデータでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ev := &Event{Data: json.RawMessage(`{invalid json`)}

		decoded, err := DecodeData[SignInFailedData](ev)
		if err == nil {
			t.Fatal("DecodeData()がエラーを返すべきだが、nilが返った")
		}
		if decoded != nil {
			t.Error("エラー時にnilでないデータが返った")
		}
	})
}

// TestType_Valid は既知のイベント種別の判定を検証する。
func TestType_Valid(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeSignedIn, TypeSignedUp, TypeSignedOut, TypeSessionRestored, TypeProfileUpdated, TypeSignInFailed} {
		if !typ.Valid() {
			t.Errorf("%s が不明な種別と判定された", typ)
		}
	}
	if Type("PasswordChanged").Valid() {
		t.Error("PasswordChanged が既知の種別と判定された")
	}
}
