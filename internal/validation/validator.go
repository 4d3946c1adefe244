package validation

import (
	"fmt"
	"strings"

	"airdrop/internal/errors"
	"airdrop/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Validator 数据验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下警告也视为无效
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                   `json:"valid"`
	Errors   []*errors.AirdropError `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	DataType string                 `json:"data_type"`
}

func newResult(dataType string) *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		DataType: dataType,
		Errors:   make([]*errors.AirdropError, 0),
		Warnings: make([]string, 0),
	}
}

func (r *ValidationResult) addError(err error, code, message string) {
	r.Valid = false
	if ae, ok := errors.As(err); ok {
		r.Errors = append(r.Errors, ae)
		return
	}
	r.Errors = append(r.Errors, errors.WrapError(err, errors.ErrorTypeValidation,
		errors.SeverityMedium, code, message))
}

// NewValidator 创建数据验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.AddRule(NewAddressValidationRule())
	v.AddRule(NewAmountValidationRule())
	v.AddRule(NewSettingsValidationRule())

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateRecipient 校验单个接收方
func (v *Validator) ValidateRecipient(entry *models.RecipientEntry) *ValidationResult {
	result := newResult("recipient")
	if entry == nil {
		result.addError(fmt.Errorf("接收方为空"), errors.CodeBlankField, "接收方为空")
		return result
	}

	if err := v.rules["address"].Validate(entry.Address); err != nil {
		result.addError(err, errors.CodeInvalidAddress, "地址格式无效")
	}
	if err := v.rules["amount"].Validate(entry.Amount); err != nil {
		// 金额在提交时才解析，这里只给出警告
		result.Warnings = append(result.Warnings, err.Error())
	}

	v.applyStrict(result)
	return result
}

// ValidateList 校验整个列表，重复地址只给出警告，不去重
func (v *Validator) ValidateList(entries []models.RecipientEntry) *ValidationResult {
	result := newResult("recipient_list")
	seen := make(map[string]int, len(entries))

	for i := range entries {
		entry := &entries[i]
		r := v.ValidateRecipient(entry)
		for _, e := range r.Errors {
			result.Valid = false
			result.Errors = append(result.Errors, e.WithContext("row", i+1))
		}
		for _, w := range r.Warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("第%d行: %s", i+1, w))
		}

		key := strings.ToLower(entry.Address)
		if first, dup := seen[key]; dup {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("第%d行地址与第%d行重复: %s", i+1, first, ShortAddress(entry.Address)))
		} else {
			seen[key] = i + 1
		}
	}

	v.applyStrict(result)
	return result
}

// ValidateSettings 校验代币设置
func (v *Validator) ValidateSettings(settings *models.AirdropSettings) *ValidationResult {
	result := newResult("settings")
	if err := v.rules["settings"].Validate(settings); err != nil {
		result.addError(err, errors.CodeInvalidSettings, "代币设置无效")
	}
	if settings != nil && settings.TokenSymbol == "" {
		result.Warnings = append(result.Warnings, "代币符号为空，将使用链上symbol")
	}
	v.applyStrict(result)
	return result
}

func (v *Validator) applyStrict(result *ValidationResult) {
	if v.strictMode && len(result.Warnings) > 0 {
		result.Valid = false
	}
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}
	if !IsValidAddress(addr) {
		return errors.NewAirdropError(errors.ErrorTypeValidation, errors.SeverityLow,
			errors.CodeInvalidAddress, "地址格式无效").WithContext("address", addr)
	}
	return nil
}

// AmountValidationRule 金额验证规则
type AmountValidationRule struct{}

func NewAmountValidationRule() *AmountValidationRule {
	return &AmountValidationRule{}
}

func (r *AmountValidationRule) Name() string {
	return "amount"
}

func (r *AmountValidationRule) Description() string {
	return "转账金额验证规则"
}

func (r *AmountValidationRule) Validate(data interface{}) error {
	amount, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}
	d, err := ParseAmount(amount)
	if err != nil {
		return err
	}
	if !d.IsPositive() {
		return fmt.Errorf("金额必须大于0: %s", amount)
	}
	return nil
}

// SettingsValidationRule 代币设置验证规则
type SettingsValidationRule struct{}

func NewSettingsValidationRule() *SettingsValidationRule {
	return &SettingsValidationRule{}
}

func (r *SettingsValidationRule) Name() string {
	return "settings"
}

func (r *SettingsValidationRule) Description() string {
	return "代币设置验证规则"
}

func (r *SettingsValidationRule) Validate(data interface{}) error {
	s, ok := data.(*models.AirdropSettings)
	if !ok || s == nil {
		return fmt.Errorf("数据类型不是代币设置")
	}

	if !IsValidAddress(s.TokenAddress) {
		return errors.NewAirdropError(errors.ErrorTypeValidation, errors.SeverityMedium,
			errors.CodeInvalidSettings, "代币合约地址无效").WithContext("token_address", s.TokenAddress)
	}
	if s.TokenDecimals < 0 || s.TokenDecimals > 36 {
		return errors.NewAirdropError(errors.ErrorTypeValidation, errors.SeverityMedium,
			errors.CodeInvalidSettings, fmt.Sprintf("代币精度超出范围: %d", s.TokenDecimals))
	}
	if s.GasPrice != "" {
		gp, err := decimal.NewFromString(s.GasPrice)
		if err != nil || gp.IsNegative() {
			return errors.NewAirdropError(errors.ErrorTypeValidation, errors.SeverityMedium,
				errors.CodeInvalidSettings, fmt.Sprintf("gas价格无效: %s", s.GasPrice))
		}
	}
	if s.TotalAmount != "" {
		if _, err := ParseAmount(s.TotalAmount); err != nil {
			return errors.NewAirdropError(errors.ErrorTypeValidation, errors.SeverityMedium,
				errors.CodeInvalidSettings, fmt.Sprintf("总量无效: %s", s.TotalAmount))
		}
	}
	return nil
}

// RuleNames 已注册的规则
func (v *Validator) RuleNames() []string {
	names := make([]string, 0, len(v.rules))
	for name := range v.rules {
		names = append(names, name)
	}
	return names
}
