package airdrop

import (
	"strings"
	"sync"

	apperrors "airdrop/internal/errors"
	"airdrop/internal/validation"
	"airdrop/pkg/models"

	"github.com/sirupsen/logrus"
)

// SettingsStore 当前代币设置，只通过显式编辑修改
type SettingsStore struct {
	mu        sync.RWMutex
	settings  models.AirdropSettings
	validator *validation.Validator
	onChange  []func(models.AirdropSettings)
}

// NewSettingsStore 用初始设置创建
func NewSettingsStore(initial models.AirdropSettings, logger *logrus.Logger) *SettingsStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &SettingsStore{
		settings:  initial,
		validator: validation.NewValidator(logger, false),
	}
}

// Get 当前设置的副本
func (s *SettingsStore) Get() models.AirdropSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// GasPrice gas价格上限(gwei)
func (s *SettingsStore) GasPrice() string {
	return s.Get().GasPrice
}

// Set 校验后替换设置，校验失败时设置不变
func (s *SettingsStore) Set(next models.AirdropSettings) (models.AirdropSettings, error) {
	next.TokenAddress = strings.TrimSpace(next.TokenAddress)
	next.TokenSymbol = strings.TrimSpace(next.TokenSymbol)
	next.TotalAmount = strings.TrimSpace(next.TotalAmount)
	next.GasPrice = strings.TrimSpace(next.GasPrice)

	result := s.validator.ValidateSettings(&next)
	if !result.Valid {
		if len(result.Errors) > 0 {
			return s.Get(), result.Errors[0].WithComponent("settings")
		}
		return s.Get(), apperrors.NewAirdropError(apperrors.ErrorTypeValidation, apperrors.SeverityLow,
			apperrors.CodeInvalidSettings, "设置无效").WithComponent("settings")
	}

	s.mu.Lock()
	s.settings = next
	listeners := append([]func(models.AirdropSettings){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// OnChange 注册设置变更回调，例如写回数据库
func (s *SettingsStore) OnChange(fn func(models.AirdropSettings)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}
