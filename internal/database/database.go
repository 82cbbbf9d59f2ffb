// Package database はSQLiteデータベースへの接続とスキーマ管理を提供する。
//
// ユーザー、プロフィール、認証イベントの各テーブルは1つのデータベースファイルに置く。
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nao1215/ecohome/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// TimeLayout はTEXT列に保存する時刻の書式。
// 文字列順で時刻順に並ぶよう、UTCかつ固定桁で保存する。
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Open はSQLiteデータベースを開く。親ディレクトリが無ければ作成する。
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("データベースディレクトリの作成に失敗: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	return db, nil
}

// Migrate は未適用のマイグレーションを適用し、適用した件数を返す。
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	n, err := migration.Run(ctx, db, migrationsFS, "migrations")
	if err != nil {
		return n, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return n, nil
}

// OpenAndMigrate はデータベースを開いてマイグレーションを適用する。
func OpenAndMigrate(ctx context.Context, path string) (*sql.DB, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// FormatTime は時刻をTEXT列に保存する形式に変換する。
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime はTEXT列の時刻を読み取る。空文字列はゼロ値になる。
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("時刻の解析に失敗: %q: %w", s, err)
	}
	return t, nil
}
