// Package model содержит доменные сущности сервиса treeledger.
package model

import (
	"math"
	"time"
)

// User представляет зарегистрированного пользователя системы лояльности.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Account объединяет баланс пользователя и состояние его растения.
// Запись создаётся лениво при первом обращении и никогда не удаляется.
type Account struct {
	UserID       int64
	VirtualTrees int64
	PremiumTrees int64
	Points       int64
	HasFreeClaim bool

	// LastWaterTime равен nil, пока пользователь ни разу не поливал.
	LastWaterTime   *time.Time
	Streak          int64
	TotalWaterCount int64
}

// PlantState возвращает срез состояния растения.
func (a *Account) PlantState() PlantState {
	return PlantState{
		LastWaterTime:   a.LastWaterTime,
		Streak:          a.Streak,
		TotalWaterCount: a.TotalWaterCount,
	}
}

// PlantState описывает серию поливов пользователя.
type PlantState struct {
	LastWaterTime   *time.Time `json:"last_water_time,omitempty"`
	Streak          int64      `json:"streak"`
	TotalWaterCount int64      `json:"total_water_count"`
}

// PurchaseStatus описывает этап обработки покупки реального дерева.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "PENDING"
	PurchaseStatusProcessed PurchaseStatus = "PROCESSED"
	PurchaseStatusCertified PurchaseStatus = "CERTIFIED"
)

// Purchase описывает одну единицу купленного реального дерева.
type Purchase struct {
	ID            int64
	BuyerID       int64
	SpeciesID     int64
	ProjectID     int64
	AmountPaid    int64
	CreatedAt     time.Time
	Processed     bool
	Certified     bool
	CertificateID int64
}

// Status возвращает текущий этап жизненного цикла покупки.
func (p *Purchase) Status() PurchaseStatus {
	switch {
	case p.Certified:
		return PurchaseStatusCertified
	case p.Processed:
		return PurchaseStatusProcessed
	default:
		return PurchaseStatusPending
	}
}

// Certificate описывает невзаимозаменяемый сертификат, выпущенный на одну покупку.
type Certificate struct {
	ID          int64
	OwnerID     int64
	PurchaseID  int64
	MetadataRef string
	ExternalRef string
	IssuedAt    time.Time
}

// ProtocolConfig содержит настраиваемые параметры протокола.
// Суммы указаны в минимальных единицах валюты платежа.
type ProtocolConfig struct {
	Cooldown              time.Duration
	MinPurchaseUnitPrice  int64
	PremiumTreePrice      int64
	PointsPerWater        int64
	StreakBonusPerDay     int64
	MaxStreakBonusDays    int64
	PointsPerRedeemedTree int64
	Beneficiary           string
}

// Верхние границы параметров протокола. В их пределах расчёты кулдауна,
// цен и начислений очков укладываются в int64.
const (
	// MaxCooldown допускает сложение момента полива с удвоенным кулдауном.
	MaxCooldown = time.Duration(math.MaxInt64/int64(2*time.Second)) * time.Second

	// MaxUnitPrice ограничивает цену так, чтобы цена, умноженная на
	// наибольшее количество деревьев в одной покупке (100), не переполнялась.
	MaxUnitPrice int64 = math.MaxInt64 / 100

	MaxPointsPerWater    int64 = 1_000_000
	MaxStreakBonusPerDay int64 = 1_000_000
	MaxStreakBonusDays   int64 = 3650
	MaxPointsPerRedeemed int64 = 1_000_000_000
)

// ProtocolState хранит глобальное состояние протокола: параметры, паузу и статистику премиум-продаж.
type ProtocolState struct {
	Config         ProtocolConfig
	Paused         bool
	PremiumSold    int64
	PremiumRevenue int64
}

// ForestSummary содержит сводку по лесу пользователя.
type ForestSummary struct {
	VirtualTrees int64 `json:"virtual_trees"`
	PremiumTrees int64 `json:"premium_trees"`
	RealTrees    int64 `json:"real_trees"`
	TotalTrees   int64 `json:"total_trees"`
	Points       int64 `json:"points"`
	HasFreeClaim bool  `json:"has_free_claim"`
}

// WaterPreview описывает расчёт результата полива без изменения состояния.
type WaterPreview struct {
	Eligible      bool
	TimeRemaining time.Duration
	Streak        int64
	BasePoints    int64
	StreakBonus   int64
	Earned        int64
}

// WaterResult описывает результат успешного полива.
type WaterResult struct {
	Streak          int64
	Earned          int64
	Points          int64
	TotalWaterCount int64
	WateredAt       time.Time
}

// PremiumStats содержит статистику продаж премиум-деревьев.
type PremiumStats struct {
	TotalSold    int64 `json:"total_sold"`
	TotalRevenue int64 `json:"total_revenue"`
	UnitPrice    int64 `json:"unit_price"`
}

// PremiumReceipt описывает результат покупки премиум-деревьев.
type PremiumReceipt struct {
	Quantity     int64
	Price        int64
	Refund       int64
	VirtualTrees int64
	PremiumTrees int64
}

// Param задаёт имя изменяемого параметра протокола.
type Param string

const (
	ParamCooldown              Param = "cooldown"
	ParamMinPurchaseUnitPrice  Param = "min_purchase_unit_price"
	ParamPremiumTreePrice      Param = "premium_tree_price"
	ParamPointsPerWater        Param = "points_per_water"
	ParamStreakBonusPerDay     Param = "streak_bonus_per_day"
	ParamMaxStreakBonusDays    Param = "max_streak_bonus_days"
	ParamPointsPerRedeemedTree Param = "points_per_redeemed_tree"
)

// Params перечисляет все изменяемые числовые параметры протокола.
var Params = []Param{
	ParamCooldown,
	ParamMinPurchaseUnitPrice,
	ParamPremiumTreePrice,
	ParamPointsPerWater,
	ParamStreakBonusPerDay,
	ParamMaxStreakBonusDays,
	ParamPointsPerRedeemedTree,
}
