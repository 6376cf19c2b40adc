// Package memory хранит все данные в памяти процесса.
// Используется в тестах и при STORAGE=memory.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/avc/pointledger/internal/domain"
)

// Store хранит состояние всех репозиториев
type Store struct {
	mu sync.Mutex

	users       map[int64]domain.User
	stores      map[int64]domain.Store
	managers    map[[2]int64]struct{}
	keys        map[int64]domain.WebhookKey
	lots        map[int64]domain.PointLot
	entries     []domain.LedgerEntry
	transfers   map[int64]domain.Transfer
	accounts    map[int64]domain.DepositAccount
	depositTxs  map[int64]domain.DepositTransaction
	rules       map[int64]domain.AutoChargeRule
	claims      map[int64]domain.Claim
	findings    map[int64]domain.DuplicateFinding
	reconciling map[int64]domain.ReconciliationItem

	seq atomic.Int64

	accountLocks sync.Map // ключ блокировки -> *sync.Mutex
}

// New создает пустое хранилище
func New() *Store {
	return &Store{
		users:       make(map[int64]domain.User),
		stores:      make(map[int64]domain.Store),
		managers:    make(map[[2]int64]struct{}),
		keys:        make(map[int64]domain.WebhookKey),
		lots:        make(map[int64]domain.PointLot),
		transfers:   make(map[int64]domain.Transfer),
		accounts:    make(map[int64]domain.DepositAccount),
		depositTxs:  make(map[int64]domain.DepositTransaction),
		rules:       make(map[int64]domain.AutoChargeRule),
		claims:      make(map[int64]domain.Claim),
		findings:    make(map[int64]domain.DuplicateFinding),
		reconciling: make(map[int64]domain.ReconciliationItem),
	}
}

// nextID выдает идентификаторы, общие для всех таблиц
func (s *Store) nextID() int64 {
	return s.seq.Add(1)
}

// Repositories возвращает репозитории вне транзакции
func (s *Store) Repositories() *domain.Repositories {
	return (&repo{s: s}).all()
}

// WithinTx реализует domain.TxManager.
// Блокировки счетов - мьютексы, захватываемые в каноническом порядке.
// При ошибке fn изменения откатываются по журналу отмены в обратном порядке.
func (s *Store) WithinTx(ctx context.Context, locks domain.Locks, fn func(ctx context.Context, repos *domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keys := locks.Keys()
	for _, key := range keys {
		m, _ := s.accountLocks.LoadOrStore(key, &sync.Mutex{})
		m.(*sync.Mutex).Lock()
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			m, _ := s.accountLocks.Load(keys[i])
			m.(*sync.Mutex).Unlock()
		}
	}()

	r := &repo{s: s, undo: &undoLog{}}
	if err := fn(ctx, r.all()); err != nil {
		s.mu.Lock()
		r.undo.rollback()
		s.mu.Unlock()
		return err
	}
	return nil
}

// undoLog накапливает обратные операции единицы работы
type undoLog struct {
	ops []func()
}

func (l *undoLog) rollback() {
	for i := len(l.ops) - 1; i >= 0; i-- {
		l.ops[i]()
	}
	l.ops = nil
}

// repo реализует все репозитории поверх Store.
// Внутри единицы работы каждая запись сопровождается обратной операцией.
type repo struct {
	s    *Store
	undo *undoLog
}

func (r *repo) all() *domain.Repositories {
	return &domain.Repositories{
		Users:     r,
		Stores:    r,
		Points:    r,
		Ledger:    r,
		Transfers: r,
		Deposits:  r,
		Claims:    r,
	}
}

// onRollback регистрирует обратную операцию. Вызывается под s.mu.
func (r *repo) onRollback(op func()) {
	if r.undo != nil {
		r.undo.ops = append(r.undo.ops, op)
	}
}

// restore возвращает предыдущее значение ключа или удаляет его, если значения не было
func restore[K comparable, V any](m map[K]V, key K, prev V, existed bool) func() {
	return func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	}
}

var _ domain.TxManager = (*Store)(nil)
