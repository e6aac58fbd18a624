// Package locker предоставляет взаимное исключение по ключу кластера.
//
// Мутации одного кластера выполняются строго по очереди, мутации разных
// кластеров не блокируют друг друга. Ожидание блокировки ограничено.
package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLockTimeout возвращается, если блокировку не удалось получить за отведённое время.
// Ошибка временная: запрос можно повторить.
var ErrLockTimeout = errors.New("lock wait timeout")

// Locker выдаёт блокировку по ключу. Release идемпотентна.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Local реализует блокировку в пределах одного процесса.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyLock
	wait  time.Duration
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocal создаёт локальный Locker. Неположительное wait означает ожидание
// до отмены контекста.
func NewLocal(wait time.Duration) *Local {
	return &Local{
		locks: make(map[string]*keyLock),
		wait:  wait,
	}
}

// Acquire захватывает блокировку ключа.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case kl.ch <- struct{}{}:
	case <-timeout:
		l.unref(key, kl)
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *Local) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size возвращает число ключей, по которым кто-то держит или ждёт блокировку.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
