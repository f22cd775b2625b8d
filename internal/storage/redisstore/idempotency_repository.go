// Package redisstore хранит ключи идемпотентности в Redis, чтобы повтор
// PlaceOrder распознавался всеми репликами витрины.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultKeyPrefix = "storefront:idempotency:"
	// minTTL не даёт Redis отвергнуть запись с уже истёкшим сроком.
	minTTL    = time.Second
	opTimeout = 3 * time.Second
	scanBatch = 100
)

type record struct {
	Key          string    `json:"key"`
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	StatusCode   int       `json:"status_code"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func fromDomain(rec domain.IdempotencyRecord) record {
	return record{
		Key:          rec.Key,
		RequestHash:  rec.RequestHash,
		ResponseBody: rec.ResponseBody,
		StatusCode:   rec.StatusCode,
		Status:       string(rec.Status),
		TTLAt:        rec.TTLAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func (r record) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          r.Key,
		RequestHash:  r.RequestHash,
		ResponseBody: r.ResponseBody,
		StatusCode:   r.StatusCode,
		Status:       domain.IdempotencyStatus(r.Status),
		TTLAt:        r.TTLAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// IdempotencyRepository — Redis-реализация domain.IdempotencyRepository.
// Запись живёт до TTLAt: Redis удаляет её сам, DeleteExpired нужен для ключей,
// срок которых сдвинули назад.
type IdempotencyRepository struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option настраивает репозиторий.
type Option func(*IdempotencyRepository)

// WithKeyPrefix задаёт префикс ключей Redis.
func WithKeyPrefix(prefix string) Option {
	return func(r *IdempotencyRepository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(r *IdempotencyRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewIdempotencyRepository создаёт репозиторий поверх готового клиента.
func NewIdempotencyRepository(client redis.UniversalClient, opts ...Option) *IdempotencyRepository {
	r := &IdempotencyRepository{
		client: client,
		prefix: defaultKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping проверяет доступность Redis; используется readiness-пробой.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// CreateProcessing атомарно занимает ключ через SET NX.
func (r *IdempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := r.now()
	rec, err := domain.NewProcessingRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	payload, err := json.Marshal(fromDomain(rec))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	created, err := r.client.SetNX(ctx, r.redisKey(rec.Key), payload, ttlFor(rec.TTLAt, now)).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("redis setnx idempotency key: %w", err)
	}
	if !created {
		existing, getErr := r.Get(rec.Key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		return existing, existing.Conflict(rec.RequestHash)
	}
	return rec, nil
}

// Get возвращает запись по ключу.
func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rec, err := r.load(ctx, r.client, r.redisKey(key))
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return rec.toDomain(), nil
}

// MarkDone сохраняет ответ успешно обработанного запроса.
func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, statusCode int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, statusCode)
}

// MarkFailed сохраняет ответ запроса, завершившегося ошибкой.
func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, statusCode int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, statusCode)
}

// DeleteExpired проходит ключи по SCAN и удаляет записи с TTLAt <= before.
func (r *IdempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		if limit > 0 && removed >= limit {
			break
		}
		redisKey := iter.Val()
		rec, err := r.load(ctx, r.client, redisKey)
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if !rec.toDomain().ExpiredBy(before) {
			continue
		}
		n, err := r.client.Del(ctx, redisKey).Result()
		if err != nil {
			return removed, fmt.Errorf("redis delete idempotency key: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan idempotency keys: %w", err)
	}
	return removed, nil
}

// finish меняет статус под WATCH, чтобы не затереть параллельное обновление.
func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, responseBody []byte, statusCode int) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	redisKey := r.redisKey(key)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := r.load(ctx, tx, redisKey)
		if err != nil {
			return err
		}

		done := rec.toDomain().Finish(status, responseBody, statusCode, r.now())
		payload, err := json.Marshal(fromDomain(done))
		if err != nil {
			return fmt.Errorf("marshal idempotency record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return fmt.Errorf("redis update idempotency key: %w", err)
		}
		return nil
	}, redisKey)
}

// getter покрывает и клиент, и транзакцию под WATCH.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *IdempotencyRepository) load(ctx context.Context, cmd getter, redisKey string) (record, error) {
	data, err := cmd.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("redis get idempotency key: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	if !domain.IdempotencyStatus(rec.Status).Valid() {
		return record{}, fmt.Errorf("invalid idempotency status %q for key %s", rec.Status, rec.Key)
	}
	return rec, nil
}

func (r *IdempotencyRepository) redisKey(key string) string {
	return r.prefix + key
}

func ttlFor(ttlAt, now time.Time) time.Duration {
	ttl := ttlAt.Sub(now)
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
