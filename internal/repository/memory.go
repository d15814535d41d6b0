package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/treeledger/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется, когда DATABASE_URI не задан, и в тестах.
//
// Транзакции сериализуются writeMu и накапливают изменения в буфере; буфер
// переносится в основное состояние под mu только при успешном завершении.
// Читатели берут только mu и поэтому не ждут выполняющуюся транзакцию.
type MemoryRepository struct {
	writeMu sync.Mutex

	mu           sync.RWMutex
	users        map[int64]model.User
	logins       map[string]int64
	nextUserID   int64
	accounts     map[int64]model.Account
	purchases    map[int64]model.Purchase
	certificates map[int64]model.Certificate
	counters     map[string]int64
	protocol     *model.ProtocolState
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[int64]model.User),
		logins:       make(map[string]int64),
		accounts:     make(map[int64]model.Account),
		purchases:    make(map[int64]model.Purchase),
		certificates: make(map[int64]model.Certificate),
		counters:     make(map[string]int64),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// CreateUser создаёт нового пользователя.
func (r *MemoryRepository) CreateUser(_ context.Context, login string, passwordHash []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.logins[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
	}
	r.nextUserID++
	id := r.nextUserID
	r.users[id] = model.User{
		ID:           id,
		Login:        login,
		PasswordHash: append([]byte(nil), passwordHash...),
		CreatedAt:    time.Now().UTC(),
	}
	r.logins[login] = id
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.logins[login]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := r.users[id]
	return &u, nil
}

// EnsureProtocol записывает начальные параметры протокола, если они ещё не сохранены.
func (r *MemoryRepository) EnsureProtocol(_ context.Context, state model.ProtocolState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.protocol == nil {
		s := state
		r.protocol = &s
	}
	return nil
}

// WithinTx выполняет fn в одной транзакции. Ошибка fn откатывает все изменения.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx := &memTx{
		repo:         r,
		accounts:     make(map[int64]model.Account),
		purchases:    make(map[int64]model.Purchase),
		certificates: make(map[int64]model.Certificate),
		counters:     make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}

	r.commit(tx)
	return nil
}

func (r *MemoryRepository) commit(tx *memTx) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range tx.accounts {
		r.accounts[id] = a
	}
	for id, p := range tx.purchases {
		r.purchases[id] = p
	}
	for id, c := range tx.certificates {
		r.certificates[id] = c
	}
	for name, v := range tx.counters {
		r.counters[name] = v
	}
	if tx.protocol != nil {
		s := *tx.protocol
		r.protocol = &s
	}
}

// GetProtocol возвращает текущее состояние протокола.
func (r *MemoryRepository) GetProtocol(_ context.Context) (*model.ProtocolState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.protocol == nil {
		return nil, ErrProtocolNotInitialized
	}
	s := *r.protocol
	return &s, nil
}

// GetAccount возвращает аккаунт пользователя. Для пользователя без записи возвращается нулевой аккаунт.
func (r *MemoryRepository) GetAccount(_ context.Context, userID int64) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[userID]
	if !ok {
		return &model.Account{UserID: userID}, nil
	}
	return &a, nil
}

// CountPurchasesByUser возвращает количество покупок реальных деревьев пользователя.
func (r *MemoryRepository) CountPurchasesByUser(_ context.Context, userID int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.countPurchasesLocked(userID), nil
}

func (r *MemoryRepository) countPurchasesLocked(userID int64) int64 {
	var n int64
	for _, p := range r.purchases {
		if p.BuyerID == userID {
			n++
		}
	}
	return n
}

// GetPurchase возвращает покупку по идентификатору.
func (r *MemoryRepository) GetPurchase(_ context.Context, id int64) (*model.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.purchases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) selectPurchases(match func(model.Purchase) bool) []model.Purchase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Purchase
	for _, p := range r.purchases {
		if match(p) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// GetPurchasesByUser возвращает покупки пользователя в порядке создания.
func (r *MemoryRepository) GetPurchasesByUser(_ context.Context, userID int64) ([]model.Purchase, error) {
	return r.selectPurchases(func(p model.Purchase) bool { return p.BuyerID == userID }), nil
}

// GetPendingPurchases возвращает ещё не сертифицированные покупки в порядке создания.
func (r *MemoryRepository) GetPendingPurchases(_ context.Context, afterID int64, limit int) ([]model.Purchase, error) {
	res := r.selectPurchases(func(p model.Purchase) bool { return !p.Certified && p.ID > afterID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// GetCertificate возвращает сертификат по идентификатору.
func (r *MemoryRepository) GetCertificate(_ context.Context, id int64) (*model.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.certificates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// GetCertificatesByOwner возвращает сертификаты владельца.
func (r *MemoryRepository) GetCertificatesByOwner(_ context.Context, ownerID int64) ([]model.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Certificate
	for _, c := range r.certificates {
		if c.OwnerID == ownerID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// memTx накапливает изменения одной транзакции MemoryRepository.
type memTx struct {
	repo *MemoryRepository

	accounts     map[int64]model.Account
	purchases    map[int64]model.Purchase
	certificates map[int64]model.Certificate
	counters     map[string]int64
	protocol     *model.ProtocolState
}

func (t *memTx) Protocol(ctx context.Context) (*model.ProtocolState, error) {
	if t.protocol != nil {
		s := *t.protocol
		return &s, nil
	}
	return t.repo.GetProtocol(ctx)
}

func (t *memTx) LockProtocol(ctx context.Context) (*model.ProtocolState, error) {
	return t.Protocol(ctx)
}

func (t *memTx) SaveProtocol(_ context.Context, s *model.ProtocolState) error {
	cp := *s
	t.protocol = &cp
	return nil
}

func (t *memTx) LockAccount(ctx context.Context, userID int64) (*model.Account, error) {
	if a, ok := t.accounts[userID]; ok {
		return &a, nil
	}
	return t.repo.GetAccount(ctx, userID)
}

func (t *memTx) SaveAccount(_ context.Context, a *model.Account) error {
	t.accounts[a.UserID] = *a
	return nil
}

func (t *memTx) CountPurchasesByUser(_ context.Context, userID int64) (int64, error) {
	t.repo.mu.RLock()
	n := t.repo.countPurchasesLocked(userID)
	for id, p := range t.purchases {
		if _, committed := t.repo.purchases[id]; !committed && p.BuyerID == userID {
			n++
		}
	}
	t.repo.mu.RUnlock()
	return n, nil
}

func (t *memTx) NextID(_ context.Context, sequence string) (int64, error) {
	v, ok := t.counters[sequence]
	if !ok {
		t.repo.mu.RLock()
		v = t.repo.counters[sequence]
		t.repo.mu.RUnlock()
	}
	v++
	t.counters[sequence] = v
	return v, nil
}

func (t *memTx) InsertPurchase(ctx context.Context, p *model.Purchase) error {
	if _, err := t.LockPurchase(ctx, p.ID); err == nil {
		return fmt.Errorf("insert purchase: duplicate id %d", p.ID)
	}
	t.purchases[p.ID] = *p
	return nil
}

func (t *memTx) LockPurchase(ctx context.Context, id int64) (*model.Purchase, error) {
	if p, ok := t.purchases[id]; ok {
		return &p, nil
	}
	return t.repo.GetPurchase(ctx, id)
}

func (t *memTx) SavePurchase(ctx context.Context, p *model.Purchase) error {
	if _, err := t.LockPurchase(ctx, p.ID); err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	t.purchases[p.ID] = *p
	return nil
}

func (t *memTx) InsertCertificate(ctx context.Context, c *model.Certificate) error {
	if _, ok := t.certificates[c.ID]; ok {
		return fmt.Errorf("insert certificate: duplicate id %d", c.ID)
	}
	if _, err := t.repo.GetCertificate(ctx, c.ID); err == nil {
		return fmt.Errorf("insert certificate: duplicate id %d", c.ID)
	}
	t.certificates[c.ID] = *c
	return nil
}
