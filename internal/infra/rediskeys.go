package infra

import "fmt"

const (
	// RedisNamespace isolates this project's keys in a shared Redis.
	RedisNamespace = "capgov"
)

// State keys
const (
	RedisKeyQuotaPrefix = RedisNamespace + ":quota:" // + bucket key
)

// Pub/Sub channels
const (
	// RedisChanPolicyUpdate broadcasts kill-switch / exemption changes so
	// peer gateway instances refresh their in-memory policy aggregate.
	RedisChanPolicyUpdate = RedisNamespace + ":policy:update"
)

// QuotaRedisKey builds the counter key for one bucket.
func QuotaRedisKey(bucketKey string) string {
	return fmt.Sprintf("%s%s", RedisKeyQuotaPrefix, bucketKey)
}
