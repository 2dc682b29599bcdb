// Package redis implements lock.Locker on Redis. Claims are plain string
// keys set with NX and a PX lease; renewal and release run as Lua scripts
// so that only the owner token can touch its claim.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	locker := redis.NewLocker(client)
//	eng, err := engine.New(pgStore, blobs, locker)
package redis
