package redis

// Redis key naming conventions for durable data.
// All keys are prefixed with "durable:" to avoid collisions.

const keyPrefix = "durable:"

// lockKey returns the key of a claim: durable:lock:{key}
func lockKey(key string) string { return keyPrefix + "lock:" + key }
