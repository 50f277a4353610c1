// Package dbtest はPostgreSQLを使うテストのための接続ヘルパーを提供する。
//
// 接続先の決定順:
//  1. 環境変数 TEST_DATABASE_URL
//  2. testcontainersで起動する使い捨てのpostgres:16-alpine（パッケージ内で1つを共有）
//  3. どちらも利用できない場合はテストをスキップする
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresUser     = "courtside"
	postgresPassword = "courtside"
	postgresDB       = "courtside_test"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// resetSQL は全テーブルとマイグレーション履歴を削除する。
const resetSQL = `
	DROP TABLE IF EXISTS teams CASCADE;
	DROP TABLE IF EXISTS sessions CASCADE;
	DROP TABLE IF EXISTS users CASCADE;
	DROP TABLE IF EXISTS roles CASCADE;
	DROP TABLE IF EXISTS schema_migrations CASCADE;
`

// Open はテスト用データベースに接続し、空のスキーマにリセットして返す。
// マイグレーションは呼び出し側で適用する。
func Open(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		if testing.Short() {
			t.Skip("TEST_DATABASE_URL is not set and -short disables containers")
		}
		containerOnce.Do(func() {
			containerURL, containerErr = startContainer()
		})
		if containerErr != nil {
			t.Skipf("テスト用データベースを用意できません（スキップ）: %v", containerErr)
		}
		dbURL = containerURL
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}

	if _, err := db.Exec(resetSQL); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}

	return db, dbURL
}

// startContainer はPostgreSQLコンテナを起動して接続URLを返す。
// コンテナはtestcontainersのリーパーがプロセス終了後に破棄する。
func startContainer() (url string, err error) {
	// Dockerが存在しない環境ではtestcontainersがpanicすることがある
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("container provider unavailable: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDB,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, host, port.Port(), postgresDB), nil
}
