package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет только операции чтения и регистрацию: транзакции с переводами
// средств не повторяются никогда.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
			login, passwordHash,
		).Scan(&id)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	var u model.User
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
			login,
		).Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// EnsureProtocol записывает начальные параметры протокола, если они ещё не сохранены.
func (r *PostgresRepository) EnsureProtocol(ctx context.Context, state model.ProtocolState) error {
	c := state.Config
	_, err := r.pool.Exec(ctx,
		`INSERT INTO protocol (id, cooldown_seconds, min_purchase_unit_price, premium_tree_price,
		     points_per_water, streak_bonus_per_day, max_streak_bonus_days, points_per_redeemed_tree,
		     beneficiary, paused)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		int64(c.Cooldown/time.Second), c.MinPurchaseUnitPrice, c.PremiumTreePrice,
		c.PointsPerWater, c.StreakBonusPerDay, c.MaxStreakBonusDays, c.PointsPerRedeemedTree,
		c.Beneficiary, state.Paused,
	)
	if err != nil {
		return fmt.Errorf("ensure protocol: %w", err)
	}
	return nil
}

// WithinTx выполняет fn в одной транзакции. Ошибка fn откатывает все изменения.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const protocolColumns = `cooldown_seconds, min_purchase_unit_price, premium_tree_price, points_per_water,
	streak_bonus_per_day, max_streak_bonus_days, points_per_redeemed_tree, beneficiary,
	paused, premium_sold, premium_revenue`

func scanProtocol(row pgx.Row) (*model.ProtocolState, error) {
	var (
		s               model.ProtocolState
		cooldownSeconds int64
	)
	err := row.Scan(
		&cooldownSeconds, &s.Config.MinPurchaseUnitPrice, &s.Config.PremiumTreePrice,
		&s.Config.PointsPerWater, &s.Config.StreakBonusPerDay, &s.Config.MaxStreakBonusDays,
		&s.Config.PointsPerRedeemedTree, &s.Config.Beneficiary,
		&s.Paused, &s.PremiumSold, &s.PremiumRevenue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProtocolNotInitialized
		}
		return nil, fmt.Errorf("scan protocol: %w", err)
	}
	s.Config.Cooldown = time.Duration(cooldownSeconds) * time.Second
	return &s, nil
}

// GetProtocol возвращает текущее состояние протокола.
func (r *PostgresRepository) GetProtocol(ctx context.Context) (*model.ProtocolState, error) {
	var s *model.ProtocolState
	err := r.withRetry(ctx, func() error {
		var err error
		s, err = scanProtocol(r.pool.QueryRow(ctx, `SELECT `+protocolColumns+` FROM protocol WHERE id = 1`))
		return err
	})
	return s, err
}

const accountColumns = `user_id, virtual_trees, premium_trees, points, has_free_claim,
	last_water_time, streak, total_water_count`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.UserID, &a.VirtualTrees, &a.PremiumTrees, &a.Points, &a.HasFreeClaim,
		&a.LastWaterTime, &a.Streak, &a.TotalWaterCount)
	if err != nil {
		return nil, err
	}
	if a.LastWaterTime != nil {
		t := a.LastWaterTime.UTC()
		a.LastWaterTime = &t
	}
	return &a, nil
}

// GetAccount возвращает аккаунт пользователя. Для пользователя без записи возвращается нулевой аккаунт.
func (r *PostgresRepository) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	var a *model.Account
	err := r.withRetry(ctx, func() error {
		var err error
		a, err = scanAccount(r.pool.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Account{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// CountPurchasesByUser возвращает количество покупок реальных деревьев пользователя.
func (r *PostgresRepository) CountPurchasesByUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchases WHERE buyer_id = $1`, userID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return n, nil
}

const purchaseColumns = `id, buyer_id, species_id, project_id, amount_paid, created_at,
	processed, certified, COALESCE(certificate_id, 0)`

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	var p model.Purchase
	err := row.Scan(&p.ID, &p.BuyerID, &p.SpeciesID, &p.ProjectID, &p.AmountPaid, &p.CreatedAt,
		&p.Processed, &p.Certified, &p.CertificateID)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (r *PostgresRepository) queryPurchases(ctx context.Context, sql string, args ...any) ([]model.Purchase, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	var res []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetPurchase возвращает покупку по идентификатору.
func (r *PostgresRepository) GetPurchase(ctx context.Context, id int64) (*model.Purchase, error) {
	var p *model.Purchase
	err := r.withRetry(ctx, func() error {
		var err error
		p, err = scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

// GetPurchasesByUser возвращает покупки пользователя в порядке создания.
func (r *PostgresRepository) GetPurchasesByUser(ctx context.Context, userID int64) ([]model.Purchase, error) {
	var res []model.Purchase
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = r.queryPurchases(ctx,
			`SELECT `+purchaseColumns+` FROM purchases WHERE buyer_id = $1 ORDER BY id`, userID)
		return err
	})
	return res, err
}

// GetPendingPurchases возвращает ещё не сертифицированные покупки в порядке создания.
func (r *PostgresRepository) GetPendingPurchases(ctx context.Context, afterID int64, limit int) ([]model.Purchase, error) {
	var res []model.Purchase
	err := r.withRetry(ctx, func() error {
		var err error
		res, err = r.queryPurchases(ctx,
			`SELECT `+purchaseColumns+` FROM purchases
			 WHERE NOT certified AND id > $1
			 ORDER BY id
			 LIMIT $2`, afterID, limit)
		return err
	})
	return res, err
}

const certificateColumns = `id, owner_id, purchase_id, metadata_ref, external_ref, issued_at`

func scanCertificate(row pgx.Row) (*model.Certificate, error) {
	var c model.Certificate
	if err := row.Scan(&c.ID, &c.OwnerID, &c.PurchaseID, &c.MetadataRef, &c.ExternalRef, &c.IssuedAt); err != nil {
		return nil, err
	}
	c.IssuedAt = c.IssuedAt.UTC()
	return &c, nil
}

// GetCertificate возвращает сертификат по идентификатору.
func (r *PostgresRepository) GetCertificate(ctx context.Context, id int64) (*model.Certificate, error) {
	var c *model.Certificate
	err := r.withRetry(ctx, func() error {
		var err error
		c, err = scanCertificate(r.pool.QueryRow(ctx,
			`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return c, nil
}

// GetCertificatesByOwner возвращает сертификаты владельца.
func (r *PostgresRepository) GetCertificatesByOwner(ctx context.Context, ownerID int64) ([]model.Certificate, error) {
	var res []model.Certificate
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+certificateColumns+` FROM certificates WHERE owner_id = $1 ORDER BY id`, ownerID)
		if err != nil {
			return fmt.Errorf("select certificates: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			c, err := scanCertificate(rows)
			if err != nil {
				return fmt.Errorf("scan certificate: %w", err)
			}
			res = append(res, *c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// pgTx реализует Tx поверх транзакции pgx. Блокировки строк держатся до commit/rollback.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Protocol(ctx context.Context) (*model.ProtocolState, error) {
	return scanProtocol(t.tx.QueryRow(ctx, `SELECT `+protocolColumns+` FROM protocol WHERE id = 1 FOR SHARE`))
}

func (t *pgTx) LockProtocol(ctx context.Context) (*model.ProtocolState, error) {
	return scanProtocol(t.tx.QueryRow(ctx, `SELECT `+protocolColumns+` FROM protocol WHERE id = 1 FOR UPDATE`))
}

func (t *pgTx) SaveProtocol(ctx context.Context, s *model.ProtocolState) error {
	c := s.Config
	_, err := t.tx.Exec(ctx,
		`UPDATE protocol SET cooldown_seconds = $1, min_purchase_unit_price = $2, premium_tree_price = $3,
		     points_per_water = $4, streak_bonus_per_day = $5, max_streak_bonus_days = $6,
		     points_per_redeemed_tree = $7, beneficiary = $8, paused = $9,
		     premium_sold = $10, premium_revenue = $11
		 WHERE id = 1`,
		int64(c.Cooldown/time.Second), c.MinPurchaseUnitPrice, c.PremiumTreePrice, c.PointsPerWater,
		c.StreakBonusPerDay, c.MaxStreakBonusDays, c.PointsPerRedeemedTree, c.Beneficiary,
		s.Paused, s.PremiumSold, s.PremiumRevenue,
	)
	if err != nil {
		return fmt.Errorf("update protocol: %w", err)
	}
	return nil
}

func (t *pgTx) LockAccount(ctx context.Context, userID int64) (*model.Account, error) {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID,
	); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	a, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return a, nil
}

func (t *pgTx) SaveAccount(ctx context.Context, a *model.Account) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET virtual_trees = $2, premium_trees = $3, points = $4, has_free_claim = $5,
		     last_water_time = $6, streak = $7, total_water_count = $8
		 WHERE user_id = $1`,
		a.UserID, a.VirtualTrees, a.PremiumTrees, a.Points, a.HasFreeClaim,
		a.LastWaterTime, a.Streak, a.TotalWaterCount,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (t *pgTx) CountPurchasesByUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM purchases WHERE buyer_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return n, nil
}

func (t *pgTx) NextID(ctx context.Context, sequence string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = $1 RETURNING value`, sequence,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next %s id: %w", sequence, err)
	}
	return id, nil
}

func (t *pgTx) InsertPurchase(ctx context.Context, p *model.Purchase) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO purchases (id, buyer_id, species_id, project_id, amount_paid, created_at, processed, certified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.BuyerID, p.SpeciesID, p.ProjectID, p.AmountPaid, p.CreatedAt, p.Processed, p.Certified,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (t *pgTx) LockPurchase(ctx context.Context, id int64) (*model.Purchase, error) {
	p, err := scanPurchase(t.tx.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock purchase: %w", err)
	}
	return p, nil
}

func (t *pgTx) SavePurchase(ctx context.Context, p *model.Purchase) error {
	var certificateID *int64
	if p.CertificateID != 0 {
		certificateID = &p.CertificateID
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE purchases SET processed = $2, certified = $3, certificate_id = $4 WHERE id = $1`,
		p.ID, p.Processed, p.Certified, certificateID,
	)
	if err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	return nil
}

func (t *pgTx) InsertCertificate(ctx context.Context, c *model.Certificate) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO certificates (id, owner_id, purchase_id, metadata_ref, external_ref, issued_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.OwnerID, c.PurchaseID, c.MetadataRef, c.ExternalRef, c.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}
