package domain

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// UserRepository определяет методы для работы с пользователями
type UserRepository interface {
	CreateUser(ctx context.Context, login, passwordHash string, role Role) (*User, error)
	GetUserByLogin(ctx context.Context, login string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
}

// StoreRepository определяет методы для работы с магазинами и их webhook ключами
type StoreRepository interface {
	CreateStore(ctx context.Context, s *Store) error
	GetStore(ctx context.Context, id int64) (*Store, error)
	ListStores(ctx context.Context) ([]*Store, error)
	CreateWebhookKey(ctx context.Context, k *WebhookKey) error
	GetWebhookKey(ctx context.Context, key string) (*WebhookKey, error)
	TouchWebhookKey(ctx context.Context, keyID int64, at time.Time) error
	AddStoreManager(ctx context.Context, storeID, userID int64) error
	IsStoreManager(ctx context.Context, storeID, userID int64) (bool, error)
}

// PointRepository определяет методы для работы с партиями баллов
type PointRepository interface {
	// ActiveLots возвращает непросроченные по флагу партии с ненулевым остатком
	ActiveLots(ctx context.Context, userID int64) ([]*PointLot, error)
	InsertLot(ctx context.Context, lot *PointLot) error
	UpdateLotQuantity(ctx context.Context, lotID, quantity int64) error
	// MarkLotExpired переводит партию в просроченные, только если она еще не просрочена
	MarkLotExpired(ctx context.Context, lotID int64) (bool, error)
	DueForExpiry(ctx context.Context, now time.Time, limit int) ([]*PointLot, error)
}

// LedgerRepository определяет методы для работы с журналом баллов
type LedgerRepository interface {
	AppendEntry(ctx context.Context, entry *LedgerEntry) error
	// ListEntries возвращает страницу журнала в порядке убывания времени.
	// Если after не nil, страница начинается строго после этой записи.
	ListEntries(ctx context.Context, userID int64, rng TimeRange, after *LedgerEntry, limit int) ([]*LedgerEntry, error)
}

// TransferRepository определяет методы для работы с переводами
type TransferRepository interface {
	CreateTransfer(ctx context.Context, t *Transfer) error
	GetTransfer(ctx context.Context, id int64) (*Transfer, error)
	// UpdateTransferStatus меняет статус только у перевода в статусе pending
	UpdateTransferStatus(ctx context.Context, t *Transfer) error
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Transfer, error)
	ListTransfersByUser(ctx context.Context, userID int64) ([]*Transfer, error)
}

// DepositRepository определяет методы для работы с депозитами магазинов
type DepositRepository interface {
	// GetAccount возвращает депозит магазина, создавая пустой при первом обращении
	GetAccount(ctx context.Context, storeID int64) (*DepositAccount, error)
	UpdateBalance(ctx context.Context, storeID, balance int64) error
	InsertDepositTransaction(ctx context.Context, t *DepositTransaction) error
	GetDepositTransaction(ctx context.Context, id int64) (*DepositTransaction, error)
	ListDepositTransactions(ctx context.Context, storeID int64, limit int) ([]*DepositTransaction, error)
	// SumDepositTransactions возвращает сумму операций типа txType (с комиссией) начиная с since
	SumDepositTransactions(ctx context.Context, storeID int64, txType DepositTxType, since time.Time) (int64, error)
	// SumDepositFees возвращает сумму удержанных комиссий начиная с since
	SumDepositFees(ctx context.Context, storeID int64, since time.Time) (int64, error)
	GetAutoChargeRule(ctx context.Context, storeID int64) (*AutoChargeRule, error)
	UpsertAutoChargeRule(ctx context.Context, rule *AutoChargeRule) error
	TouchAutoChargeRule(ctx context.Context, storeID int64, at time.Time) error
	// ListAutoChargeCandidates возвращает магазины с включенным правилом и балансом ниже порога
	ListAutoChargeCandidates(ctx context.Context) ([]int64, error)
}

// ClaimRepository определяет методы для работы с заявками, находками и очередью сверки
type ClaimRepository interface {
	// CreateClaim возвращает ErrDuplicateOrder, если активная заявка с таким заказом уже есть
	CreateClaim(ctx context.Context, c *Claim) error
	GetClaim(ctx context.Context, id int64) (*Claim, error)
	GetActiveClaimByOrderID(ctx context.Context, orderID string) (*Claim, error)
	// UpdateClaim сохраняет заявку, только если ее текущий статус равен from
	UpdateClaim(ctx context.Context, c *Claim, from ClaimStatus) error
	ListClaims(ctx context.Context, filter ClaimFilter) ([]*Claim, error)

	FindSimilarClaims(ctx context.Context, userID, storeID int64, minAmount, maxAmount float64, from, to time.Time) ([]*Claim, error)
	// CountClaims возвращает число заявок под фильтр и id самой свежей из них
	CountClaims(ctx context.Context, filter ClaimCountFilter) (int, *int64, error)

	InsertFinding(ctx context.Context, f *DuplicateFinding) error
	ListFindings(ctx context.Context, claimID int64, unresolvedOnly bool) ([]*DuplicateFinding, error)
	ResolveFinding(ctx context.Context, id, resolvedBy int64, note string, at time.Time) error
	FindingStats(ctx context.Context, since time.Time) (*FindingStats, error)

	InsertReconciliation(ctx context.Context, item *ReconciliationItem) error
	GetReconciliation(ctx context.Context, id int64) (*ReconciliationItem, error)
	ListReconciliation(ctx context.Context, unresolvedOnly bool) ([]*ReconciliationItem, error)
	// ResolveReconciliation закрывает только открытый элемент, закрытый дает ErrInvalidStateTransition
	ResolveReconciliation(ctx context.Context, id, resolvedBy int64, at time.Time) error
	ReopenReconciliation(ctx context.Context, id int64) error
}

// Repositories объединяет репозитории, работающие поверх одного соединения или транзакции
type Repositories struct {
	Users     UserRepository
	Stores    StoreRepository
	Points    PointRepository
	Ledger    LedgerRepository
	Transfers TransferRepository
	Deposits  DepositRepository
	Claims    ClaimRepository
}

// Locks перечисляет счета, которые блокируются на время единицы работы
type Locks struct {
	Users  []int64
	Stores []int64
}

// Keys возвращает ключи блокировок в каноническом порядке: сначала пользователи, затем магазины,
// внутри группы по возрастанию id, без повторов. Все единицы работы захватывают блокировки
// в этом порядке, поэтому взаимных блокировок не возникает.
func (l Locks) Keys() []string {
	keys := make([]string, 0, len(l.Users)+len(l.Stores))
	for _, id := range sortedUnique(l.Users) {
		keys = append(keys, fmt.Sprintf("user:%d", id))
	}
	for _, id := range sortedUnique(l.Stores) {
		keys = append(keys, fmt.Sprintf("store:%d", id))
	}
	return keys
}

func sortedUnique(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

// TxManager выполняет fn атомарно, удерживая блокировки счетов из locks.
// Если fn возвращает ошибку, все изменения откатываются.
type TxManager interface {
	WithinTx(ctx context.Context, locks Locks, fn func(ctx context.Context, repos *Repositories) error) error
}
