package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/DuesFox/app/models"
)

const memberCacheKeyPrefix = "member:"

// DefaultMemberCacheTTL bounds staleness if an invalidation is ever lost.
const DefaultMemberCacheTTL = 10 * time.Minute

// cachedMemberRepository serves GetByID from Redis. List and the locked
// read always go to the database.
type cachedMemberRepository struct {
	next MemberRepository
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedMemberRepository wraps next with a read-through cache for single
// member lookups. A nil client returns next unchanged.
func NewCachedMemberRepository(next MemberRepository, rdb *redis.Client, ttl time.Duration) MemberRepository {
	if rdb == nil {
		return next
	}
	if ttl <= 0 {
		ttl = DefaultMemberCacheTTL
	}
	return &cachedMemberRepository{next: next, rdb: rdb, ttl: ttl}
}

func MemberCacheKey(id int64) string {
	return fmt.Sprintf("%s%d", memberCacheKeyPrefix, id)
}

func (r *cachedMemberRepository) List(ctx context.Context) ([]models.Member, error) {
	return r.next.List(ctx)
}

func (r *cachedMemberRepository) GetByID(ctx context.Context, id int64) (*models.Member, error) {
	key := MemberCacheKey(id)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var member models.Member
		if jerr := json.Unmarshal(raw, &member); jerr == nil {
			return &member, nil
		}
		log.Warnf("[Directory] Dropping undecodable cache entry %s", key)
		r.invalidate(ctx, id)
	case !errors.Is(err, redis.Nil):
		log.Warnf("[Directory] Cache read failed for %s: %v", key, err)
	}

	member, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if payload, jerr := json.Marshal(member); jerr == nil {
		if serr := r.rdb.Set(ctx, key, payload, r.ttl).Err(); serr != nil {
			log.Warnf("[Directory] Cache write failed for %s: %v", key, serr)
		}
	}
	return member, nil
}

func (r *cachedMemberRepository) Create(ctx context.Context, member *models.Member) error {
	if err := r.next.Create(ctx, member); err != nil {
		return err
	}
	r.invalidate(ctx, member.ID)
	return nil
}

func (r *cachedMemberRepository) UpdateBillingFields(ctx context.Context, id int64, update *models.BillingUpdate) error {
	if err := r.next.UpdateBillingFields(ctx, id, update); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *cachedMemberRepository) WithMemberLock(ctx context.Context, id int64, fn func(tx MemberRepository, member *models.Member) error) error {
	err := r.next.WithMemberLock(ctx, id, fn)
	// invalidate on rollback too
	r.invalidate(ctx, id)
	return err
}

func (r *cachedMemberRepository) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

func (r *cachedMemberRepository) invalidate(ctx context.Context, id int64) {
	if err := r.rdb.Del(context.WithoutCancel(ctx), MemberCacheKey(id)).Err(); err != nil {
		log.Warnf("[Directory] Cache invalidation failed for member %d: %v", id, err)
	}
}
