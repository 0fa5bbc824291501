package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	logx "remindd/pkg/logx"
)

type mongoStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	log     logx.Logger
	now     func() time.Time
	timeout time.Duration
}

func openMongo(cfg Config, log logx.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.MongoURI)
	if uri == "" {
		return nil, errors.New("store.mongo_uri is required for mongo driver")
	}
	dbName := strings.TrimSpace(cfg.MongoDatabase)
	if dbName == "" {
		dbName = "remindd"
	}
	collName := strings.TrimSpace(cfg.MongoCollection)
	if collName == "" {
		collName = "reminders"
	}
	timeout := cfg.MongoTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	st := &mongoStore{
		client:  client,
		coll:    client.Database(dbName).Collection(collName),
		log:     log,
		now:     time.Now,
		timeout: timeout,
	}
	if err := st.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info("mongo store connected", logx.String("db", dbName), logx.String("collection", collName))
	return st, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "trigger_at", Value: 1}}},
		{Keys: bson.D{{Key: "local_handle", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	return err
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) Insert(ctx context.Context, r Reminder) (Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	r.TriggerAt = r.TriggerAt.UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	if _, err := s.coll.InsertOne(ctx, r); err != nil {
		return Reminder{}, wrap("insert", err, mongoRetryable(err))
	}
	return r, nil
}

func (s *mongoStore) Get(ctx context.Context, id, ownerID string) (Reminder, error) {
	var r Reminder
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "owner_id": ownerID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, wrap("get", err, mongoRetryable(err))
	}
	return normalize(r), nil
}

func (s *mongoStore) Update(ctx context.Context, id, ownerID string, p Patch) (Reminder, error) {
	set := patchDoc(p)
	set["updated_at"] = s.now().UTC()
	var unset bson.M
	if p.LocalHandle != nil && *p.LocalHandle == "" {
		delete(set, "local_handle")
		unset = bson.M{"local_handle": ""}
	}
	update := bson.M{"$set": set}
	if unset != nil {
		update["$unset"] = unset
	}

	var r Reminder
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "owner_id": ownerID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, wrap("update", err, mongoRetryable(err))
	}
	return normalize(r), nil
}

func (s *mongoStore) Delete(ctx context.Context, id, ownerID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return wrap("delete", err, mongoRetryable(err))
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) ListUpcoming(ctx context.Context, ownerID string, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "trigger_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{"owner_id": ownerID, "trigger_at": bson.M{"$gte": now.UTC()}}, opts)
	if err != nil {
		return nil, wrap("list", err, mongoRetryable(err))
	}
	return decodeAll(ctx, "list", cur)
}

func (s *mongoStore) ListArmed(ctx context.Context, limit int) ([]Reminder, error) {
	opts := options.Find().SetSort(bson.D{{Key: "trigger_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, bson.M{"local_handle": bson.M{"$exists": true, "$ne": ""}}, opts)
	if err != nil {
		return nil, wrap("list_armed", err, mongoRetryable(err))
	}
	return decodeAll(ctx, "list_armed", cur)
}

func decodeAll(ctx context.Context, op string, cur *mongo.Cursor) ([]Reminder, error) {
	var out []Reminder
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap(op, err, mongoRetryable(err))
	}
	for i := range out {
		out[i] = normalize(out[i])
	}
	return out, nil
}

func patchDoc(p Patch) bson.M {
	set := bson.M{}
	if p.Type != nil {
		set["type"] = *p.Type
	}
	if p.TriggerAt != nil {
		set["trigger_at"] = p.TriggerAt.UTC()
	}
	if p.Timezone != nil {
		set["timezone"] = *p.Timezone
	}
	if p.Recurrence != nil {
		set["recurrence"] = *p.Recurrence
	}
	if p.Enabled != nil {
		set["enabled"] = *p.Enabled
	}
	if p.NotificationTitle != nil {
		set["notification_title"] = *p.NotificationTitle
	}
	if p.NotificationMessage != nil {
		set["notification_message"] = *p.NotificationMessage
	}
	if p.LocalHandle != nil {
		set["local_handle"] = *p.LocalHandle
	}
	return set
}

// BSON datetimes decode into the local zone.
func normalize(r Reminder) Reminder {
	r.TriggerAt = r.TriggerAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r
}

func mongoRetryable(err error) bool {
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
