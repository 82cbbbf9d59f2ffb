// Package profile はユーザーIDをキーとするプロフィールドキュメントのストアを提供する。
package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/nao1215/ecohome/internal/database"
	"github.com/nao1215/ecohome/pkg/session"
)

// Store はSQLiteに保存するProfile Store。session.ProfileStoreを実装する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queries はprofilesテーブルのクエリ。
	queries *Queries
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, queries: NewQueries(db)}
}

// Get はプロフィールを取得する。存在しない場合はsession.ErrProfileNotFoundを返す。
func (s *Store) Get(ctx context.Context, id string) (session.Profile, error) {
	row, err := s.queries.GetProfile(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Profile{}, session.ErrProfileNotFound
	}
	if err != nil {
		return session.Profile{}, fmt.Errorf("プロフィールの取得に失敗: %w", err)
	}
	return fromRow(row)
}

// Set はプロフィールを保存する。
// mergeがfalseの場合は丸ごと置き換え、trueの場合は空でないフィールドのみ上書きしてextraはキー単位でマージする。
func (s *Store) Set(ctx context.Context, id string, doc session.Profile, merge bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := s.queries.WithTx(tx)
	next := doc.Clone()
	next.ID = id

	if merge {
		row, err := q.GetProfile(ctx, id)
		switch {
		case err == nil:
			cur, err := fromRow(row)
			if err != nil {
				return err
			}
			next = overlay(cur, doc)
		case errors.Is(err, sql.ErrNoRows):
			if next.CreatedAt.IsZero() {
				next.CreatedAt = next.UpdatedAt
			}
		default:
			return fmt.Errorf("プロフィールの取得に失敗: %w", err)
		}
	}

	row, err := toRow(next)
	if err != nil {
		return err
	}
	if err := q.UpsertProfile(ctx, row); err != nil {
		return fmt.Errorf("プロフィールの保存に失敗: %w", err)
	}
	return tx.Commit()
}

// overlay はcurにpatchの空でないフィールドを重ねる。
func overlay(cur, patch session.Profile) session.Profile {
	next := cur.Clone()
	if patch.Email != "" {
		next.Email = patch.Email
	}
	if patch.FirstName != "" {
		next.FirstName = patch.FirstName
	}
	if patch.LastName != "" {
		next.LastName = patch.LastName
	}
	if !patch.CreatedAt.IsZero() && next.CreatedAt.IsZero() {
		next.CreatedAt = patch.CreatedAt
	}
	if !patch.UpdatedAt.IsZero() {
		next.UpdatedAt = patch.UpdatedAt
	}
	if len(patch.Extra) > 0 {
		if next.Extra == nil {
			next.Extra = make(map[string]string, len(patch.Extra))
		}
		maps.Copy(next.Extra, patch.Extra)
	}
	return next
}

func toRow(p session.Profile) (Row, error) {
	extra := "{}"
	if len(p.Extra) > 0 {
		b, err := json.Marshal(p.Extra)
		if err != nil {
			return Row{}, fmt.Errorf("拡張フィールドのシリアライズに失敗: %w", err)
		}
		extra = string(b)
	}
	return Row{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Extra:     extra,
		CreatedAt: database.FormatTime(p.CreatedAt),
		UpdatedAt: database.FormatTime(p.UpdatedAt),
	}, nil
}

func fromRow(r Row) (session.Profile, error) {
	createdAt, err := database.ParseTime(r.CreatedAt)
	if err != nil {
		return session.Profile{}, err
	}
	updatedAt, err := database.ParseTime(r.UpdatedAt)
	if err != nil {
		return session.Profile{}, err
	}

	var extra map[string]string
	if r.Extra != "" && r.Extra != "{}" {
		if err := json.Unmarshal([]byte(r.Extra), &extra); err != nil {
			return session.Profile{}, fmt.Errorf("拡張フィールドのデシリアライズに失敗: %w", err)
		}
	}

	return session.Profile{
		ID:        r.ID,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Extra:     extra,
	}, nil
}
