package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores one document per key in a single collection.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoEntry struct {
	Bucket string `bson:"bucket"`
	Key    string `bson:"key"`
	Value  []byte `bson:"value"`
}

func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if database == "" {
		database = "relaychat"
	}
	collection := client.Database(database).Collection("kv")
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bucket", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &Mongo{client: client, collection: collection}, nil
}

func (s *Mongo) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := validate(bucket, key); err != nil {
		return nil, err
	}
	var doc mongoEntry
	err := s.collection.FindOne(ctx, bson.M{"bucket": bucket, "key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (s *Mongo) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := validate(bucket, key); err != nil {
		return err
	}
	_, err := s.collection.UpdateOne(
		ctx,
		bson.M{"bucket": bucket, "key": key},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Mongo) Delete(ctx context.Context, bucket, key string) error {
	if err := validate(bucket, key); err != nil {
		return err
	}
	_, err := s.collection.DeleteOne(ctx, bson.M{"bucket": bucket, "key": key})
	return err
}

func (s *Mongo) Range(ctx context.Context, bucket string, opts RangeOptions) ([]Entry, error) {
	if err := validate(bucket, "-"); err != nil {
		return nil, err
	}
	filter := bson.M{"bucket": bucket}
	if opts.After != "" {
		filter["key"] = bson.M{"$gt": opts.After}
	}
	direction := 1
	if opts.Descending {
		direction = -1
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "key", Value: direction}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []Entry
	for cursor.Next(ctx) {
		var doc mongoEntry
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: doc.Key, Value: doc.Value})
	}
	return out, cursor.Err()
}

func (s *Mongo) Close() error {
	return s.client.Disconnect(context.Background())
}
