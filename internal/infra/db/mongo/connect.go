package mongo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

const (
	DefaultDatabase   = "sight_data"
	DefaultCollection = "artifacts"

	defaultConnectTimeout = 5 * time.Second
)

// Options for Connect
type Options struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// Connect builds the client. The driver dials lazily, so an unreachable
// cluster surfaces on the first operation rather than here.
func Connect(o Options) (*mongo.Client, error) {
	if o.URI == "" {
		return nil, errors.New("mongo uri is empty")
	}
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	opts := options.Client().
		ApplyURI(o.URI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	cli, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("creating mongo client: %w", err)
	}
	return cli, nil
}

// EnsureIndexes creates the non-unique lookup indexes, idempotent
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: fieldCreatedAt, Value: -1}},
			Options: options.Index().SetName("created_at_desc"),
		},
		{
			Keys:    bson.D{{Key: fieldImageName, Value: 1}, {Key: fieldAnalysisType, Value: 1}, {Key: fieldCreatedAt, Value: -1}},
			Options: options.Index().SetName("upsert_key"),
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		return wrapErr("creating indexes", err)
	}
	return nil
}

func ping(ctx context.Context, cli *mongo.Client) error {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := cli.Ping(ctx2, readpref.Primary()); err != nil {
		return wrapErr("pinging mongo", err)
	}
	return nil
}

// wrapErr marks connectivity failures as domain.ErrStoreUnavailable
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
