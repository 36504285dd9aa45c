package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/familyportal/devicelink/internal/model"
	redisclient "github.com/familyportal/devicelink/internal/redis"
	"github.com/familyportal/devicelink/internal/util"
)

// createScript inserts the hash only if the key is absent and arms the pending TTL.
var createScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 1 then
    return 0
end
redis.call('HSET', key, 'id', ARGV[1], 'status', 'pending', 'created_at', ARGV[2])
redis.call('PEXPIRE', key, ARGV[3])
return 1
`)

// markLinkedScript is the pending->linked compare-and-swap. It returns 0 when
// the key is gone or older than the cutoff, -1 when already linked and the
// full hash on success.
var markLinkedScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
    return 0
end
if redis.call('HGET', key, 'status') == 'linked' then
    return -1
end
if tonumber(redis.call('HGET', key, 'created_at')) < tonumber(ARGV[9]) then
    return 0
end
redis.call('HSET', key,
    'status', 'linked',
    'linked_at', ARGV[1],
    'token', ARGV[2],
    'token_expires_at', ARGV[3],
    'sub', ARGV[4],
    'email', ARGV[5],
    'name', ARGV[6],
    'picture', ARGV[7])
redis.call('PEXPIRE', key, ARGV[8])
return redis.call('HGETALL', key)
`)

// redisPairingRepo shares codes between server instances. Key TTLs do the
// sweeping, so DeleteExpired has nothing to remove.
type redisPairingRepo struct {
	client    *redis.Client
	sealer    *util.Sealer
	lifetimes Lifetimes
}

func NewRedisPairingCodeRepository(client *redis.Client, sealer *util.Sealer, lifetimes Lifetimes) PairingCodeRepository {
	return &redisPairingRepo{
		client:    client,
		sealer:    sealer,
		lifetimes: lifetimes,
	}
}

func (r *redisPairingRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	created, err := createScript.Run(ctx, r.client,
		[]string{redisclient.PairingKey(params.Code)},
		params.ID,
		strconv.FormatInt(params.CreatedAt.UnixMilli(), 10),
		r.lifetimes.PendingTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("create pairing code: %w", err)
	}
	if created == 0 {
		return nil, ErrConflict
	}

	return &model.PairingCode{
		ID:        params.ID,
		Code:      params.Code,
		Status:    model.PairingStatusPending,
		CreatedAt: time.UnixMilli(params.CreatedAt.UnixMilli()),
	}, nil
}

func (r *redisPairingRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	fields, err := r.client.HGetAll(ctx, redisclient.PairingKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("find pairing code: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return r.decode(code, fields)
}

func (r *redisPairingRepo) MarkLinked(ctx context.Context, params model.MarkLinkedParams) (*model.PairingCode, error) {
	sealed, err := r.sealer.Seal(params.Credential.Token)
	if err != nil {
		return nil, fmt.Errorf("seal credential: %w", err)
	}

	res, err := markLinkedScript.Run(ctx, r.client,
		[]string{redisclient.PairingKey(params.Code)},
		strconv.FormatInt(params.LinkedAt.UnixMilli(), 10),
		sealed,
		strconv.FormatInt(params.Credential.ExpiresAt.UnixMilli(), 10),
		params.Identity.Subject,
		params.Identity.Email,
		params.Identity.Name,
		params.Identity.Picture,
		r.lifetimes.LinkedGrace.Milliseconds(),
		strconv.FormatInt(params.LinkedAt.Add(-r.lifetimes.PendingTTL).UnixMilli(), 10),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("mark pairing code linked: %w", err)
	}

	switch v := res.(type) {
	case int64:
		if v == -1 {
			return nil, ErrAlreadyLinked
		}
		return nil, ErrNotFound
	case []interface{}:
		fields := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			k, _ := v[i].(string)
			val, _ := v[i+1].(string)
			fields[k] = val
		}
		return r.decode(params.Code, fields)
	default:
		return nil, fmt.Errorf("mark pairing code linked: unexpected script result %T", res)
	}
}

func (r *redisPairingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (r *redisPairingRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisPairingRepo) decode(code string, fields map[string]string) (*model.PairingCode, error) {
	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}

	pc := &model.PairingCode{
		ID:        fields["id"],
		Code:      code,
		Status:    model.PairingStatus(fields["status"]),
		CreatedAt: createdAt,
	}

	if !pc.IsLinked() {
		return pc, nil
	}

	linkedAt, err := parseMillis(fields["linked_at"])
	if err != nil {
		return nil, fmt.Errorf("decode linked_at: %w", err)
	}
	expiresAt, err := parseMillis(fields["token_expires_at"])
	if err != nil {
		return nil, fmt.Errorf("decode token_expires_at: %w", err)
	}
	token, err := r.sealer.Open(fields["token"])
	if err != nil {
		return nil, fmt.Errorf("open credential: %w", err)
	}

	pc.LinkedAt = &linkedAt
	pc.Credential = &model.Credential{Token: token, ExpiresAt: expiresAt}
	pc.Identity = &model.Identity{
		Subject: fields["sub"],
		Email:   fields["email"],
		Name:    fields["name"],
		Picture: fields["picture"],
	}
	return pc, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
