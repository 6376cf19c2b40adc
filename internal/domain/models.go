package domain

import "time"

// Rank представляет ранг пользователя, от него зависит комиссия за перевод
type Rank string

const (
	RankBronze   Rank = "bronze"
	RankSilver   Rank = "silver"
	RankGold     Rank = "gold"
	RankPlatinum Rank = "platinum"
	RankDiamond  Rank = "diamond"
)

// Role представляет роль пользователя
type Role string

const (
	RoleUser         Role = "user"
	RoleStoreManager Role = "store_manager"
	RoleAdmin        Role = "admin"
)

// User представляет пользователя системы
type User struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	PasswordHash string    `json:"-"` // Не отправляем хеш в JSON
	Role         Role      `json:"role"`
	Rank         Rank      `json:"rank"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store представляет магазин-партнера
type Store struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Active             bool      `json:"active"`
	CardPaymentEnabled bool      `json:"card_payment_enabled"`
	CreatedAt          time.Time `json:"created_at"`
}

// WebhookKey представляет ключ партнера для webhook уведомлений о покупках
type WebhookKey struct {
	ID                 int64      `json:"id"`
	StoreID            int64      `json:"store_id"`
	Key                string     `json:"-"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	Active             bool       `json:"active"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
}

// PointLot представляет партию баллов с собственным сроком действия
type PointLot struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"-"`
	Quantity  int64     `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	SourceRef string    `json:"source_ref"`
	Expired   bool      `json:"expired"`
}

// EntryKind представляет тип записи в журнале баллов
type EntryKind string

const (
	EntryGrant       EntryKind = "grant"
	EntryPayment     EntryKind = "payment"
	EntryTransferOut EntryKind = "transfer_out"
	EntryTransferIn  EntryKind = "transfer_in"
	EntryExpire      EntryKind = "expire"
	EntryRefund      EntryKind = "refund"
)

// LedgerEntry представляет неизменяемую запись журнала баллов
type LedgerEntry struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"-"`
	StoreID       *int64    `json:"store_id,omitempty"`
	Delta         int64     `json:"delta"`
	Kind          EntryKind `json:"kind"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	ReferenceID   string    `json:"reference_id"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TimeRange ограничивает выборку по времени, нулевые границы не применяются
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Balance представляет баланс пользователя.
// Current совпадает с суммой записей журнала, Available исключает партии с истекшим сроком,
// которые еще не обработал фоновый процесс.
type Balance struct {
	Current      int64       `json:"current"`
	Available    int64       `json:"available"`
	ExpiringSoon int64       `json:"expiring_soon"`
	Lots         []*PointLot `json:"lots"`
}

// TransferStatus представляет статус перевода баллов
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferDeclined  TransferStatus = "declined"
	TransferExpired   TransferStatus = "expired"
	TransferCancelled TransferStatus = "cancelled"
)

// Transfer представляет перевод баллов между пользователями
type Transfer struct {
	ID          int64          `json:"id"`
	SenderID    int64          `json:"sender_id"`
	RecipientID int64          `json:"recipient_id"`
	Amount      int64          `json:"amount"`
	Fee         int64          `json:"fee"`
	Message     string         `json:"message,omitempty"`
	Status      TransferStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// DepositAccount представляет предоплаченный депозит магазина
type DepositAccount struct {
	StoreID   int64     `json:"store_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DepositTxType представляет тип операции по депозиту
type DepositTxType string

const (
	DepositCharge      DepositTxType = "charge"
	DepositConsumption DepositTxType = "consumption"
	DepositAutoCharge  DepositTxType = "auto_charge"
	DepositRefund      DepositTxType = "refund"
)

// DepositTxCompleted - статус проведенной операции по депозиту
const DepositTxCompleted = "completed"

// DepositTransaction представляет операцию по депозиту магазина
type DepositTransaction struct {
	ID            int64         `json:"id"`
	StoreID       int64         `json:"store_id"`
	Reference     string        `json:"reference"`
	Type          DepositTxType `json:"type"`
	Amount        int64         `json:"amount"`
	Fee           int64         `json:"fee"`
	BalanceBefore int64         `json:"balance_before"`
	BalanceAfter  int64         `json:"balance_after"`
	PaymentMethod string        `json:"payment_method"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
	Status        string        `json:"status"`
	Description   string        `json:"description,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Gross возвращает сумму операции вместе с комиссией
func (t *DepositTransaction) Gross() int64 {
	return t.Amount + t.Fee
}

// DepositSummary представляет сводку по депозиту магазина
type DepositSummary struct {
	Account        *DepositAccount       `json:"account"`
	Recent         []*DepositTransaction `json:"recent_transactions"`
	MonthCharged   int64                 `json:"month_charged"`
	MonthConsumed  int64                 `json:"month_consumed"`
	MonthFees      int64                 `json:"month_fees"`
	AutoChargeRule *AutoChargeRule       `json:"auto_charge_rule,omitempty"`
}

// ClaimStatus представляет статус заявки на начисление баллов
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimApproved  ClaimStatus = "approved"
	ClaimRejected  ClaimStatus = "rejected"
	ClaimCompleted ClaimStatus = "completed"
	ClaimFailed    ClaimStatus = "failed"
)

// ClaimSource представляет способ подачи заявки
type ClaimSource string

const (
	ClaimSourceReceipt ClaimSource = "receipt"
	ClaimSourceWebhook ClaimSource = "webhook"
)

// PaymentMethod представляет способ оплаты начисленных баллов магазином
type PaymentMethod string

const (
	PaymentCard    PaymentMethod = "card"
	PaymentDeposit PaymentMethod = "deposit"
)

// Claim представляет заявку на начисление баллов за покупку в интернет-магазине
type Claim struct {
	ID               int64         `json:"id"`
	UserID           int64         `json:"user_id"`
	StoreID          int64         `json:"store_id"`
	Source           ClaimSource   `json:"source"`
	Amount           float64       `json:"amount"`
	ExternalOrderID  string        `json:"external_order_id"`
	PurchasedAt      time.Time     `json:"purchased_at"`
	RequestHash      string        `json:"-"`
	Status           ClaimStatus   `json:"status"`
	PointsToAward    int64         `json:"points_to_award"`
	PointsAwarded    int64         `json:"points_awarded"`
	PaymentMethod    PaymentMethod `json:"payment_method,omitempty"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	DepositTxID      *int64        `json:"deposit_transaction_id,omitempty"`
	RejectionReason  string        `json:"rejection_reason,omitempty"`
	ProcessedBy      *int64        `json:"processed_by,omitempty"`
	IPAddress        string        `json:"-"`
	UserAgent        string        `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// ClaimFilter ограничивает выборку заявок
type ClaimFilter struct {
	UserID  int64
	StoreID int64
	Status  ClaimStatus
	Limit   int
}

// ClaimCountFilter описывает выборку для эвристик детектора дубликатов
type ClaimCountFilter struct {
	UserID  int64
	StoreID int64
	Amount  *float64
	Since   time.Time
}

// FindingType представляет тип подозрения на дубликат
type FindingType string

const (
	FindingOrderID      FindingType = "order_id"
	FindingPatternMatch FindingType = "pattern_match"
	FindingSuspicious   FindingType = "suspicious"
)

// Severity представляет важность находки
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DuplicateFinding связывает новую заявку с ранее поданной, носит рекомендательный характер
type DuplicateFinding struct {
	ID              int64          `json:"id"`
	ClaimID         int64          `json:"claim_id"`
	OriginalClaimID *int64         `json:"original_claim_id,omitempty"`
	Type            FindingType    `json:"type"`
	Severity        Severity       `json:"severity"`
	Details         map[string]any `json:"details"`
	Resolved        bool           `json:"resolved"`
	ResolvedBy      *int64         `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNote  string         `json:"resolution_note,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// FindingStats представляет статистику находок за период
type FindingStats struct {
	Total          int            `json:"total"`
	Resolved       int            `json:"resolved"`
	ResolutionRate float64        `json:"resolution_rate"`
	Breakdown      map[string]int `json:"breakdown"`
	PeriodDays     int            `json:"period_days"`
}

// ReconciliationItem представляет расхождение между оплатой и начислением, требующее ручного разбора
type ReconciliationItem struct {
	ID            int64         `json:"id"`
	ClaimID       int64         `json:"claim_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentRef    string        `json:"payment_reference,omitempty"`
	DepositTxID   *int64        `json:"deposit_transaction_id,omitempty"`
	Amount        int64         `json:"amount"`
	Error         string        `json:"error"`
	Resolved      bool          `json:"resolved"`
	ResolvedBy    *int64        `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Notification представляет уведомление для внешней службы рассылки
type Notification struct {
	Kind     string `json:"kind"`
	UserID   int64  `json:"user_id,omitempty"`
	StoreID  int64  `json:"store_id,omitempty"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
}
