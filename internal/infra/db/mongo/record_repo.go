package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
)

// RecordRepository stores analysis records as documents in one collection
type RecordRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewRecordRepository(cli *mongo.Client, database, collection string) *RecordRepository {
	if database == "" {
		database = DefaultDatabase
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &RecordRepository{
		client: cli,
		coll:   cli.Database(database).Collection(collection),
	}
}

// Collection exposes the underlying collection (indexes, tests)
func (r *RecordRepository) Collection() *mongo.Collection { return r.coll }

// Close disconnects the client
func (r *RecordRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *RecordRepository) Insert(ctx context.Context, rec *domain.Record) error {
	doc := toDoc(rec)
	doc.ID = bson.ObjectID{}
	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		return wrapErr("inserting analysis", err)
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	rec.ID = domain.RecordID(oid.Hex())
	return nil
}

func (r *RecordRepository) Get(ctx context.Context, id domain.RecordID) (*domain.Record, error) {
	oid, ok := parseID(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.findOne(ctx, bson.D{{Key: fieldID, Value: oid}}, nil)
}

func (r *RecordRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Record, error) {
	opts := options.Find().SetSort(newestFirst()).SetLimit(int64(f.EffectiveLimit()))
	return r.find(ctx, listFilter(f), opts)
}

func (r *RecordRepository) SearchByName(ctx context.Context, substring string) ([]*domain.Record, error) {
	return r.find(ctx, nameFilter(substring), options.Find().SetSort(newestFirst()))
}

func (r *RecordRepository) Update(ctx context.Context, id domain.RecordID, p domain.Patch, updatedAt time.Time) (*domain.Record, error) {
	oid, ok := parseID(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	res := r.coll.FindOneAndUpdate(ctx, bson.D{{Key: fieldID, Value: oid}}, patchUpdate(p, updatedAt), opts)
	var doc recordDoc
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapErr("updating analysis", err)
	}
	return doc.toRecord(), nil
}

func (r *RecordRepository) FindByKey(ctx context.Context, imageName, analysisType string) (*domain.Record, error) {
	return r.findOne(ctx, keyFilter(imageName, analysisType), options.FindOne().SetSort(newestFirst()))
}

func (r *RecordRepository) Replace(ctx context.Context, rec *domain.Record) error {
	oid, ok := parseID(rec.ID)
	if !ok {
		return domain.ErrNotFound
	}
	res, err := r.coll.UpdateOne(ctx, bson.D{{Key: fieldID, Value: oid}}, replaceUpdate(rec))
	if err != nil {
		return wrapErr("replacing analysis", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RecordRepository) Ping(ctx context.Context) error {
	return ping(ctx, r.client)
}

func (r *RecordRepository) findOne(ctx context.Context, filter bson.D, opts *options.FindOneOptionsBuilder) (*domain.Record, error) {
	var res *mongo.SingleResult
	if opts != nil {
		res = r.coll.FindOne(ctx, filter, opts)
	} else {
		res = r.coll.FindOne(ctx, filter)
	}
	var doc recordDoc
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapErr("finding analysis", err)
	}
	return doc.toRecord(), nil
}

func (r *RecordRepository) find(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]*domain.Record, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr("querying analyses", err)
	}
	defer cur.Close(ctx)

	out := []*domain.Record{}
	for cur.Next(ctx) {
		var doc recordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding analysis: %w", err)
		}
		out = append(out, doc.toRecord())
	}
	if err := cur.Err(); err != nil {
		return nil, wrapErr("iterating analyses", err)
	}
	return out, nil
}
