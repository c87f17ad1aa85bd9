package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoTimeouts bound how long the driver waits for the target database.
// Bulk upserts over slow links can legitimately take minutes, so the socket
// timeout is generous while server selection stays short enough to surface an
// unreachable replica quickly.
type MongoTimeouts struct {
	Socket          time.Duration
	ServerSelection time.Duration
}

// OpenTarget connects to the MongoDB replica and verifies it is reachable.
func OpenTarget(ctx context.Context, url string, t MongoTimeouts) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(url).
		SetSocketTimeout(t.Socket).
		SetServerSelectionTimeout(t.ServerSelection).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, t.ServerSelection)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	log.Info().
		Dur("socket_timeout", t.Socket).
		Dur("server_selection_timeout", t.ServerSelection).
		Msg("mongo client connected")

	return client, nil
}
