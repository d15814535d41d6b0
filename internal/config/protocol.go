package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/treeledger/internal/model"
)

// Duration оборачивает time.Duration для чтения строк вида "24h" из YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML разбирает длительность в формате time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// ProtocolFile описывает формат файла с начальными параметрами протокола.
type ProtocolFile struct {
	Cooldown              Duration `yaml:"cooldown"`
	MinPurchaseUnitPrice  int64    `yaml:"min_purchase_unit_price"`
	PremiumTreePrice      int64    `yaml:"premium_tree_price"`
	PointsPerWater        int64    `yaml:"points_per_water"`
	StreakBonusPerDay     int64    `yaml:"streak_bonus_per_day"`
	MaxStreakBonusDays    int64    `yaml:"max_streak_bonus_days"`
	PointsPerRedeemedTree int64    `yaml:"points_per_redeemed_tree"`
	Beneficiary           string   `yaml:"beneficiary"`
}

// DefaultProtocol возвращает встроенные параметры протокола.
func DefaultProtocol() model.ProtocolConfig {
	return model.ProtocolConfig{
		Cooldown:              24 * time.Hour,
		MinPurchaseUnitPrice:  1000,
		PremiumTreePrice:      500,
		PointsPerWater:        10,
		StreakBonusPerDay:     5,
		MaxStreakBonusDays:    7,
		PointsPerRedeemedTree: 500,
		Beneficiary:           "beneficiary",
	}
}

// LoadProtocol читает параметры протокола из YAML-файла. Поля, отсутствующие в файле,
// берутся из DefaultProtocol. Пустой путь или отсутствующий файл дают встроенные значения.
func LoadProtocol(path string) (model.ProtocolConfig, error) {
	def := DefaultProtocol()
	if strings.TrimSpace(path) == "" {
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return def, nil
		}
		return model.ProtocolConfig{}, fmt.Errorf("read protocol file: %w", err)
	}

	pf := ProtocolFile{
		Cooldown:              Duration{def.Cooldown},
		MinPurchaseUnitPrice:  def.MinPurchaseUnitPrice,
		PremiumTreePrice:      def.PremiumTreePrice,
		PointsPerWater:        def.PointsPerWater,
		StreakBonusPerDay:     def.StreakBonusPerDay,
		MaxStreakBonusDays:    def.MaxStreakBonusDays,
		PointsPerRedeemedTree: def.PointsPerRedeemedTree,
		Beneficiary:           def.Beneficiary,
	}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return model.ProtocolConfig{}, fmt.Errorf("decode protocol file: %w", err)
	}

	cfg := model.ProtocolConfig{
		Cooldown:              pf.Cooldown.Duration,
		MinPurchaseUnitPrice:  pf.MinPurchaseUnitPrice,
		PremiumTreePrice:      pf.PremiumTreePrice,
		PointsPerWater:        pf.PointsPerWater,
		StreakBonusPerDay:     pf.StreakBonusPerDay,
		MaxStreakBonusDays:    pf.MaxStreakBonusDays,
		PointsPerRedeemedTree: pf.PointsPerRedeemedTree,
		Beneficiary:           strings.TrimSpace(pf.Beneficiary),
	}
	if err := validateProtocol(cfg); err != nil {
		return model.ProtocolConfig{}, err
	}
	return cfg, nil
}

func validateProtocol(c model.ProtocolConfig) error {
	switch {
	case c.Cooldown < time.Second || c.Cooldown > model.MaxCooldown:
		return fmt.Errorf("cooldown must be between 1s and %s, got %s", model.MaxCooldown, c.Cooldown)
	case c.Cooldown%time.Second != 0:
		return fmt.Errorf("cooldown must be a whole number of seconds, got %s", c.Cooldown)
	case c.MinPurchaseUnitPrice <= 0 || c.MinPurchaseUnitPrice > model.MaxUnitPrice:
		return fmt.Errorf("min_purchase_unit_price must be in [1, %d]", model.MaxUnitPrice)
	case c.PremiumTreePrice <= 0 || c.PremiumTreePrice > model.MaxUnitPrice:
		return fmt.Errorf("premium_tree_price must be in [1, %d]", model.MaxUnitPrice)
	case c.PointsPerRedeemedTree <= 0 || c.PointsPerRedeemedTree > model.MaxPointsPerRedeemed:
		return fmt.Errorf("points_per_redeemed_tree must be in [1, %d]", model.MaxPointsPerRedeemed)
	case c.PointsPerWater < 0 || c.StreakBonusPerDay < 0 || c.MaxStreakBonusDays < 0:
		return errors.New("point weights must not be negative")
	case c.PointsPerWater > model.MaxPointsPerWater:
		return fmt.Errorf("points_per_water must not exceed %d", model.MaxPointsPerWater)
	case c.StreakBonusPerDay > model.MaxStreakBonusPerDay:
		return fmt.Errorf("streak_bonus_per_day must not exceed %d", model.MaxStreakBonusPerDay)
	case c.MaxStreakBonusDays > model.MaxStreakBonusDays:
		return fmt.Errorf("max_streak_bonus_days must not exceed %d", model.MaxStreakBonusDays)
	case c.Beneficiary == "":
		return errors.New("beneficiary must not be empty")
	}
	return nil
}
