package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL: срок жизни ключа, если хранилищу не передали свой.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что оформление по ключу ещё идёт.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: заказ оформлен, ответ сохранён для повторов.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: попытка завершилась отказом; повтор вернёт тот же отказ.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// Final сообщает, что ответ по ключу уже зафиксирован.
func (s IdempotencyStatus) Final() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord хранит состояние попытки оформления с idempotency-key.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	// StatusCode: gRPC-код, с которым завершилась попытка.
	StatusCode int
	Status     IdempotencyStatus
	TTLAt      time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NormalizeIdempotencyKey обрезает пробелы и отвергает пустой ключ.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrIdempotencyKeyRequired
	}
	return key, nil
}

// NewProcessingRecord собирает запись для только что занятого ключа.
// Нулевой ttlAt заменяется на now+DefaultIdempotencyTTL.
func NewProcessingRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key, err := NormalizeIdempotencyKey(key)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Conflict возвращает ошибку повторного занятия ключа запросом с хешем requestHash.
func (r IdempotencyRecord) Conflict(requestHash string) error {
	if r.RequestHash != strings.TrimSpace(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Finish фиксирует итог попытки.
func (r IdempotencyRecord) Finish(status IdempotencyStatus, responseBody []byte, statusCode int, now time.Time) IdempotencyRecord {
	r.Status = status
	r.ResponseBody = append([]byte(nil), responseBody...)
	r.StatusCode = statusCode
	r.UpdatedAt = now
	return r
}

// ExpiredBy сообщает, что срок записи истёк к моменту before.
func (r IdempotencyRecord) ExpiredBy(before time.Time) bool {
	return !r.TTLAt.After(before)
}

// Clone копирует запись вместе с телом ответа.
func (r IdempotencyRecord) Clone() IdempotencyRecord {
	r.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return r
}
