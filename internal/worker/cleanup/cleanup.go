// Package cleanup は不要になった認証データの定期削除ジョブを提供する。
// 失効済みで保持期間を過ぎたリフレッシュトークンと、一定期間使われていない
// セッションを削除する。セッションに紐付くトークンはCASCADE削除で消える。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultRefreshTokenRetention は失効済みリフレッシュトークンの保持期間の既定値。
	DefaultRefreshTokenRetention = 7 * 24 * time.Hour
	// DefaultSessionIdleTTL はセッションの無操作期限の既定値。
	DefaultSessionIdleTTL = 30 * 24 * time.Hour
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder はクリーンアップ結果の記録先。metrics.Collectorが実装する。
type Recorder interface {
	RecordCleanup(refreshTokens, sessions int64)
	RecordCleanupFailure()
}

// 失効後retentionを過ぎたトークン。失効時にupdated_atが更新される。
const deleteRevokedTokensQuery = `DELETE FROM auth_refresh_token
WHERE revoked = true AND updated_at < now() - $1::interval`

// idleTTLより前に作成され、その期間内にトークンが発行されていないセッション。
// トークン発行に失敗して残ったセッションもここで回収される。
const deleteIdleSessionsQuery = `DELETE FROM auth_session s
WHERE s.created_at < now() - $1::interval
  AND NOT EXISTS (
    SELECT 1 FROM auth_refresh_token t
    WHERE t.session_id = s.id AND t.created_at >= now() - $1::interval
  )`

// Result は1回の実行で削除した件数。
type Result struct {
	RefreshTokens int64
	Sessions      int64
}

// Job は認証データのクリーンアップジョブ。
// 冪等な削除処理のみを行うため、複数のworkerが同時に実行しても安全。
type Job struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder

	RefreshTokenRetention time.Duration
	SessionIdleTTL        time.Duration
}

// NewJob は新しいJobを生成する。保持期間は既定値で初期化される。
func NewJob(db Executor, logger *slog.Logger, recorder Recorder) *Job {
	return &Job{
		db:                    db,
		logger:                logger,
		recorder:              recorder,
		RefreshTokenRetention: DefaultRefreshTokenRetention,
		SessionIdleTTL:        DefaultSessionIdleTTL,
	}
}

// Run はクリーンアップを1回実行する。
// 削除対象がない場合でもエラーにならない。
func (j *Job) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	tokens, err := j.exec(ctx, deleteRevokedTokensQuery, j.RefreshTokenRetention)
	if err != nil {
		j.fail(err, "refresh_tokens")
		return res, fmt.Errorf("failed to delete revoked refresh tokens: %w", err)
	}
	res.RefreshTokens = tokens

	sessions, err := j.exec(ctx, deleteIdleSessionsQuery, j.SessionIdleTTL)
	if err != nil {
		j.fail(err, "sessions")
		return res, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	res.Sessions = sessions

	if j.recorder != nil {
		j.recorder.RecordCleanup(res.RefreshTokens, res.Sessions)
	}
	j.logger.Info("cleanup completed",
		slog.Int64("deleted_refresh_tokens", res.RefreshTokens),
		slog.Int64("deleted_sessions", res.Sessions),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// Start は起動直後に1回実行し、以後intervalごとに実行する。ctxがキャンセルされるまでブロックする。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (j *Job) exec(ctx context.Context, query string, age time.Duration) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, toInterval(age))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (j *Job) fail(err error, target string) {
	if j.recorder != nil {
		j.recorder.RecordCleanupFailure()
	}
	j.logger.Error("cleanup step failed",
		slog.String("target", target),
		slog.String("error", err.Error()),
	)
}

// toInterval はPostgreSQLのinterval文字列に変換する。
func toInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d/time.Second))
}
