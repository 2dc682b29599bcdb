// Package mongo implements fallback.BlobStore on MongoDB. Each summary is a
// single document keyed by its blob path and indexed by workflow instance,
// so a store that lives apart from the primary database can still accept
// progress while the primary is down.
//
// The caller owns the *mongo.Database lifecycle:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	blobs := mongostore.New(client.Database("durable"))
//	blobs.Migrate(ctx)
//	eng, err := engine.New(pgStore, blobs, locker)
package mongo
