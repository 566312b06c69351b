package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/anonto42/dogpark/backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PushTokenRepository defines the interface for device token operations.
// Tokens are never hard-deleted; Deactivate is a soft delete and is idempotent.
type PushTokenRepository interface {
	Upsert(ctx context.Context, token *models.PushToken) error
	GetActiveTokens(ctx context.Context, userID string) ([]models.PushToken, error)
	Deactivate(ctx context.Context, token string) error
	DeactivateForUser(ctx context.Context, userID, token string) error
	Touch(ctx context.Context, tokens []string, at time.Time) error
}

// MongoPushTokenRepository implements PushTokenRepository for MongoDB
type MongoPushTokenRepository struct {
	collection *mongo.Collection
}

// NewMongoPushTokenRepository creates a new MongoPushTokenRepository
func NewMongoPushTokenRepository(db *mongo.Database) *MongoPushTokenRepository {
	return &MongoPushTokenRepository{collection: db.Collection("push_tokens")}
}

// EnsureIndexes creates the unique token index and the per-user lookup index
func (r *MongoPushTokenRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isActive", Value: 1}}},
	})
	return err
}

// Upsert registers a token for a user, re-activating it if it was deactivated.
// A token moving to another account is reassigned to the new owner.
func (r *MongoPushTokenRepository) Upsert(ctx context.Context, token *models.PushToken) error {
	now := time.Now().UTC()
	if token.Kind == "" {
		token.Kind = models.TokenKindReal
	}
	token.IsActive = true
	token.LastUsedAt = now

	update := bson.M{
		"$set": bson.M{
			"userId":     token.UserID,
			"platform":   token.Platform,
			"kind":       token.Kind,
			"isActive":   true,
			"lastUsedAt": now,
		},
		"$setOnInsert": bson.M{"registeredAt": now},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"token": token.Token}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert push token: %w", err)
	}
	return nil
}

// GetActiveTokens returns every active token of the user
func (r *MongoPushTokenRepository) GetActiveTokens(ctx context.Context, userID string) ([]models.PushToken, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"userId": userID, "isActive": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	tokens := []models.PushToken{}
	if err = cursor.All(ctx, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Deactivate marks the token inactive. Deactivating twice is harmless.
func (r *MongoPushTokenRepository) Deactivate(ctx context.Context, token string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"token": token},
		bson.M{"$set": bson.M{"isActive": false}},
	)
	return err
}

// DeactivateForUser marks the token inactive only if userID owns it.
// ErrNotFound is returned for unknown tokens and tokens of other users.
func (r *MongoPushTokenRepository) DeactivateForUser(ctx context.Context, userID, token string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"token": token, "userId": userID},
		bson.M{"$set": bson.M{"isActive": false}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch records that the tokens were used for a delivery
func (r *MongoPushTokenRepository) Touch(ctx context.Context, tokens []string, at time.Time) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"token": bson.M{"$in": tokens}},
		bson.M{"$set": bson.M{"lastUsedAt": at}},
	)
	return err
}
