package logging

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LoggerManager управляет логгерами компонентов поверх общего zap-логгера
type LoggerManager struct {
	mu      sync.RWMutex
	base    *zap.Logger
	loggers map[string]*Logger
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = NewLoggerManager(zap.NewNop())
	})
	return globalManager
}

// NewLoggerManager создаёт менеджер с заданным базовым логгером.
func NewLoggerManager(base *zap.Logger) *LoggerManager {
	return &LoggerManager{
		base:    base,
		loggers: make(map[string]*Logger),
	}
}

// Init перестраивает глобальный менеджер по конфигурации.
// Уже выданные логгеры продолжают писать в старый базовый логгер.
func Init(cfg Config) error {
	base, err := Build(cfg)
	if err != nil {
		return err
	}
	GetLoggerManager().Reset(base)
	return nil
}

// Reset меняет базовый логгер и забывает выданные логгеры.
func (lm *LoggerManager) Reset(base *zap.Logger) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.base = base
	lm.loggers = make(map[string]*Logger)
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) *Logger {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Проверяем еще раз на случай race condition
	if logger, exists := lm.loggers[component]; exists {
		return logger
	}

	logger := NewLogger(component, lm.base)
	lm.loggers[component] = logger
	return logger
}

// SyncAll сбрасывает буферы всех логгеров
func (lm *LoggerManager) SyncAll() error {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("logger %s: %w", component, err))
		}
	}
	return errors.Join(errs...)
}

// Удобные функции для получения логгеров
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().GetLogger(component)
}

func GetStorageLogger() *Logger {
	return GetComponentLogger("storage")
}

func GetCodecLogger() *Logger {
	return GetComponentLogger("codec")
}

func GetMergeLogger() *Logger {
	return GetComponentLogger("merge")
}

func GetCacheLogger() *Logger {
	return GetComponentLogger("cache")
}
