package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"waitlist_backend/internal/models"
)

// Policy содержит настраиваемые пороги и коэффициенты движка листа ожидания.
type Policy struct {
	DefaultConfirmationMinutes int                `yaml:"default_confirmation_minutes"`
	DefaultProcessingTime      time.Duration      `yaml:"default_processing_time"`
	LongQueuePosition          int                `yaml:"long_queue_position"`
	LongWait                   time.Duration      `yaml:"long_wait"`
	TierMultipliers            map[string]float64 `yaml:"tier_multipliers"`
	LowConfidenceSamples       int                `yaml:"low_confidence_samples"`
	HighConfidenceSamples      int                `yaml:"high_confidence_samples"`
	ReminderBefore             time.Duration      `yaml:"reminder_before"`
	ChainOnConfirm             bool               `yaml:"chain_on_confirm"`
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultConfirmationMinutes: models.DefaultConfirmationTimeLimit,
		DefaultProcessingTime:      30 * time.Minute,
		LongQueuePosition:          10,
		LongWait:                   60 * time.Minute,
		TierMultipliers: map[string]float64{
			models.PriorityExternal.String():        1.5,
			models.PriorityStudent.String():         1.0,
			models.PriorityTeacher.String():         0.7,
			models.PriorityProgramDirector.String(): 0.5,
			models.PriorityAdmin.String():           0.3,
		},
		LowConfidenceSamples:  5,
		HighConfidenceSamples: 10,
		ReminderBefore:        3 * time.Minute,
	}
}

// Multiplier возвращает коэффициент уровня; неизвестный уровень не масштабируется.
func (p Policy) Multiplier(priority models.Priority) float64 {
	if m, ok := p.TierMultipliers[priority.String()]; ok && m > 0 {
		return m
	}
	return 1.0
}

// LoadPolicy читает YAML-файл поверх значений по умолчанию.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

func (p Policy) Validate() error {
	if p.DefaultConfirmationMinutes < 1 {
		return fmt.Errorf("policy: default_confirmation_minutes must be >= 1")
	}
	if p.DefaultProcessingTime <= 0 {
		return fmt.Errorf("policy: default_processing_time must be positive")
	}
	if p.LowConfidenceSamples > p.HighConfidenceSamples {
		return fmt.Errorf("policy: low_confidence_samples exceeds high_confidence_samples")
	}
	for name := range p.TierMultipliers {
		if _, err := models.ParsePriority(name); err != nil {
			return fmt.Errorf("policy: tier_multipliers: %w", err)
		}
	}
	return nil
}
