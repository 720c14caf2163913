package models

import "errors"

var (
	// ErrNotFound: пользователь, подписка или платёж не найдены.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySubscribed: у пользователя уже есть действующий доступ.
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrTrialAlreadyUsed: пробный период уже был использован.
	ErrTrialAlreadyUsed = errors.New("trial already used")
	// ErrInvariantViolation: операция нарушает инвариант модели.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrProviderUnavailable: платёжный провайдер не ответил или ответил некорректно.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrStorageFailure: ошибка хранилища.
	ErrStorageFailure = errors.New("storage failure")
	// ErrEmailTaken: почта уже зарегистрирована.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials: неверная почта или пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
