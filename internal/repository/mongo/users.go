// Package mongo persists per-user state: plan tier, daily quota accounting,
// caption footer and moderation flags.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"medialeech/internal/domain"
)

type UserRepository struct {
	collection  *mongo.Collection
	defaultTier string
}

type userDoc struct {
	UserID         int64  `bson:"_id"`
	Tier           string `bson:"tier"`
	PlanExpiry     int64  `bson:"planExpiry,omitempty"` // unix seconds, 0 = no expiry
	DailyUsed      int64  `bson:"dailyUsed"`
	LastResetDate  string `bson:"lastResetDate"`
	TotalUsed      int64  `bson:"totalUsed"`
	FilesProcessed int64  `bson:"filesProcessed"`
	Footer         string `bson:"footer,omitempty"`
	Banned         bool   `bson:"banned"`
	Authorized     bool   `bson:"authorized"`
	JoinedAt       int64  `bson:"joinedAt"`
}

func NewUserRepository(client *mongo.Client, dbName, defaultTier string) *UserRepository {
	return &UserRepository{
		collection:  client.Database(dbName).Collection("users"),
		defaultTier: defaultTier,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "tier", Value: 1}}},
		{Keys: bson.D{{Key: "joinedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Ensure returns the record for userID, inserting a default one on first
// contact.
func (r *UserRepository) Ensure(ctx context.Context, userID int64) (domain.UserRecord, error) {
	now := time.Now().UTC()
	doc := userDoc{
		UserID:        userID,
		Tier:          r.defaultTier,
		LastResetDate: now.Format("2006-01-02"),
		JoinedAt:      now.Unix(),
	}
	update := bson.M{"$setOnInsert": doc}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var out userDoc
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": userID}, update, opts).Decode(&out)
	if err != nil {
		return domain.UserRecord{}, err
	}
	return out.toRecord(), nil
}

func (r *UserRepository) Get(ctx context.Context, userID int64) (domain.UserRecord, error) {
	var doc userDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.UserRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserRecord{}, err
	}
	return doc.toRecord(), nil
}

func (r *UserRepository) SetTier(ctx context.Context, userID int64, tier string, expiry time.Time) error {
	var expiryUnix int64
	if !expiry.IsZero() {
		expiryUnix = expiry.Unix()
	}
	return r.setFields(ctx, userID, bson.M{"tier": tier, "planExpiry": expiryUnix})
}

// ResetDaily zeroes the daily counter and stamps the reset date.
func (r *UserRepository) ResetDaily(ctx context.Context, userID int64, date string) error {
	return r.setFields(ctx, userID, bson.M{"dailyUsed": int64(0), "lastResetDate": date})
}

// AddUsage atomically increments the transfer counters.
func (r *UserRepository) AddUsage(ctx context.Context, userID int64, stats domain.UserStats) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$inc": bson.M{
		"dailyUsed":      stats.Bytes,
		"totalUsed":      stats.Bytes,
		"filesProcessed": stats.Files,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *UserRepository) SetFooter(ctx context.Context, userID int64, footer string) error {
	return r.setFields(ctx, userID, bson.M{"footer": footer})
}

func (r *UserRepository) SetBanned(ctx context.Context, userID int64, banned bool) error {
	return r.setFields(ctx, userID, bson.M{"banned": banned})
}

func (r *UserRepository) SetAuthorized(ctx context.Context, userID int64, authorized bool) error {
	return r.setFields(ctx, userID, bson.M{"authorized": authorized})
}

func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{})
}

// ListIDs returns every known user id, for broadcast fan-out.
func (r *UserRepository) ListIDs(ctx context.Context) ([]int64, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		var doc struct {
			UserID int64 `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.UserID)
	}
	return ids, cursor.Err()
}

func (r *UserRepository) setFields(ctx context.Context, userID int64, fields bson.M) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (d userDoc) toRecord() domain.UserRecord {
	rec := domain.UserRecord{
		UserID:         d.UserID,
		Tier:           d.Tier,
		DailyUsed:      d.DailyUsed,
		LastResetDate:  d.LastResetDate,
		TotalUsed:      d.TotalUsed,
		FilesProcessed: d.FilesProcessed,
		Footer:         d.Footer,
		Banned:         d.Banned,
		Authorized:     d.Authorized,
	}
	if d.PlanExpiry > 0 {
		rec.PlanExpiry = time.Unix(d.PlanExpiry, 0).UTC()
	}
	if d.JoinedAt > 0 {
		rec.JoinedAt = time.Unix(d.JoinedAt, 0).UTC()
	}
	return rec
}
