// Package cli is the cobra command tree behind durablectl. Configuration
// comes from a YAML file and DURABLE_* environment variables via viper, for
// example DURABLE_POSTGRES_DSN or DURABLE_ENGINE_LOCK_LEASE=90s.
//
//	postgres:
//	  dsn: postgres://durable@localhost/durable
//	redis:
//	  addr: localhost:6379
//	mongo:
//	  uri: mongodb://localhost:27017
//	engine:
//	  reentry_concurrency: 20
//	  summary_codec: msgpack
package cli
