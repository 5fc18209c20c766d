package password

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// Hasher はサービス層が利用するパスワードハッシュのインターフェース。
type Hasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, encoded, password string) (bool, error)
}

// Observer はプール処理時間の観測先。metrics.Collectorが実装する。
type Observer interface {
	ObservePasswordWork(op string, d time.Duration)
}

// Pool はハッシュ処理を同時実行数size以下のgoroutineで実行するワーカープール。
// 空きがない場合は呼び出し側がctxのキャンセルまで待機する。
type Pool struct {
	sem      *semaphore.Weighted
	params   Params
	observer Observer
}

// PoolOption はPoolの設定関数。
type PoolOption func(*Pool)

// WithParams はargon2idのパラメータを指定する。
func WithParams(p Params) PoolOption {
	return func(pl *Pool) {
		pl.params = p
	}
}

// WithObserver は処理時間の観測先を指定する。
func WithObserver(o Observer) PoolOption {
	return func(pl *Pool) {
		pl.observer = o
	}
}

// NewPool はPoolを生成する。sizeが0以下の場合はGOMAXPROCSを使用する。
func NewPool(size int, opts ...PoolOption) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		params: DefaultParams,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Hash はプール上でパスワードをハッシュする。
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	type result struct {
		hash string
		err  error
	}
	res, err := run(ctx, p, "hash", func() result {
		h, err := HashWithParams(password, p.params)
		return result{hash: h, err: err}
	})
	if err != nil {
		return "", err
	}
	return res.hash, res.err
}

// Verify はプール上でハッシュとパスワードを比較する。
func (p *Pool) Verify(ctx context.Context, encoded, password string) (bool, error) {
	return run(ctx, p, "verify", func() bool {
		return Verify(encoded, password)
	})
}

// run はスロットを確保してfnを別goroutineで実行し、完了またはctxのキャンセルを待つ。
// キャンセルされた場合もfnは最後まで実行され、その後スロットを返却する。
func run[T any](ctx context.Context, p *Pool, op string, fn func() T) (T, error) {
	var zero T

	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan T, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()

	select {
	case v := <-done:
		if p.observer != nil {
			p.observer.ObservePasswordWork(op, time.Since(start))
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// compile-time interface check
var _ Hasher = (*Pool)(nil)
