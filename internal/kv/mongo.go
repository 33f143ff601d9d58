package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo stores every key as one document in a single collection:
// {_id: key, value: value, updated_at: time}.
type Mongo struct {
	collection *mongo.Collection
}

var _ Store = (*Mongo)(nil)

type mongoPair struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongo(collection *mongo.Collection) *Mongo {
	return &Mongo{collection: collection}
}

func handleMongoError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrExists
	}
	return err
}

func (s *Mongo) Get(ctx context.Context, key string) (string, error) {
	var doc mongoPair
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		return "", handleMongoError(err)
	}
	return doc.Value, nil
}

func (s *Mongo) Set(ctx context.Context, key, value string) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": value, "updated_at": time.Now()}},
		options.UpdateOne().SetUpsert(true),
	)
	return handleMongoError(err)
}

func (s *Mongo) SetIfAbsent(ctx context.Context, key, value string) error {
	_, err := s.collection.InsertOne(ctx, mongoPair{Key: key, Value: value, UpdatedAt: time.Now()})
	return handleMongoError(err)
}

func (s *Mongo) CompareAndSwap(ctx context.Context, key string, expected *string, value string) (bool, error) {
	if expected == nil {
		err := s.SetIfAbsent(ctx, key, value)
		if errors.Is(err, ErrExists) {
			return false, nil
		}
		return err == nil, err
	}

	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": key, "value": *expected},
		bson.M{"$set": bson.M{"value": value, "updated_at": time.Now()}},
	)
	if err != nil {
		return false, handleMongoError(err)
	}
	return result.MatchedCount == 1, nil
}

func (s *Mongo) Delete(ctx context.Context, key string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	return handleMongoError(err)
}

func (s *Mongo) ScanPrefix(ctx context.Context, prefix string) ([]Pair, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	var docs []mongoPair
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}

	result := make([]Pair, 0, len(docs))
	for _, d := range docs {
		result = append(result, Pair{Key: d.Key, Value: d.Value})
	}
	return result, nil
}

func (s *Mongo) Close(ctx context.Context) error {
	return s.collection.Database().Client().Disconnect(ctx)
}
