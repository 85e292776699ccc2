/**
 * @description
 * MongoDB implementation of the `Repository` interface, selected with
 * STORE_DRIVER=mongo. Documents are keyed by session id so the uniqueness and
 * dedupe guarantees come from the `_id` and unique indexes rather than from
 * application checks.
 *
 * @dependencies
 * - go.mongodb.org/mongo-driver: Official MongoDB driver.
 * - github.com/shopspring/decimal: Amounts are persisted as fixed two-decimal strings.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saniah/donation-service/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	transactionsCollection       = "donation_transactions"
	adminNotificationsCollection = "admin_notifications"
	deliveryRequestsCollection   = "delivery_requests"
)

type transactionDocument struct {
	SessionID   string    `bson:"_id"`
	Phone       string    `bson:"phone"`
	Amount      string    `bson:"amount"`
	Quantity    int       `bson:"quantity"`
	Recipient   string    `bson:"recipient"`
	Location    string    `bson:"location"`
	Status      string    `bson:"status"`
	BankMessage *string   `bson:"bank_message,omitempty"`
	OTPVerified bool      `bson:"otp_verified"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`

	ConfirmStartedAt *time.Time `bson:"confirm_started_at,omitempty"`
}

type adminNotificationDocument struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"session_id"`
	Title     string    `bson:"title"`
	Body      string    `bson:"body"`
	CreatedAt time.Time `bson:"created_at"`
}

type deliveryRequestDocument struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"session_id"`
	Recipient string    `bson:"recipient"`
	Phone     string    `bson:"phone"`
	Quantity  int       `bson:"quantity"`
	Location  string    `bson:"location"`
	MapURL    string    `bson:"map_url"`
	Message   string    `bson:"message"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoRepository stores donations in a MongoDB database.
type MongoRepository struct {
	db *mongo.Database
}

// NewMongoRepository creates a repository bound to db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db}
}

// EnsureIndexes creates the indexes the repository relies on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(transactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}

	for _, name := range []string{adminNotificationsCollection, deliveryRequestsCollection} {
		models := []mongo.IndexModel{
			{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		}
		if _, err := r.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

func (r *MongoRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	_, err := r.db.Collection(transactionsCollection).InsertOne(ctx, toTransactionDocument(tx))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrTransactionExists
		}
		return err
	}
	return nil
}

func (r *MongoRepository) FindTransactionBySessionID(ctx context.Context, sessionID string) (*domain.Transaction, error) {
	var doc transactionDocument
	err := r.db.Collection(transactionsCollection).FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionDocument(doc)
}

// TransitionTransactionStatus relies on FindOneAndUpdate matching both the id
// and the expected status, so only one concurrent caller can win.
func (r *MongoRepository) TransitionTransactionStatus(ctx context.Context, sessionID string, expected domain.TransactionStatus, t domain.StatusTransition) (*domain.Transaction, error) {
	filter := transitionFilter(sessionID, expected)
	update := bson.M{"$set": bson.M{
		"status":       string(t.Status),
		"bank_message": t.BankMessage,
		"otp_verified": t.OTPVerified,
		"updated_at":   time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc transactionDocument
	err := r.db.Collection(transactionsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return fromTransactionDocument(doc)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	return nil, r.conflictOrNotFound(ctx, sessionID, expected)
}

func (r *MongoRepository) MarkConfirmStarted(ctx context.Context, sessionID string, at time.Time) error {
	update := bson.M{"$set": bson.M{"confirm_started_at": at, "updated_at": time.Now().UTC()}}
	res, err := r.db.Collection(transactionsCollection).UpdateOne(ctx, transitionFilter(sessionID, domain.StatusPending), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.conflictOrNotFound(ctx, sessionID, domain.StatusPending)
	}
	return nil
}

// ExpireStalePendingTransaction re-checks staleness inside the update filter,
// so a confirm stamped after the sweep read the document wins.
func (r *MongoRepository) ExpireStalePendingTransaction(ctx context.Context, sessionID string, cutoff time.Time, bankMessage string) error {
	filter := stalePendingFilter(cutoff)
	filter["_id"] = sessionID
	update := bson.M{"$set": bson.M{
		"status":       string(domain.StatusFailed),
		"bank_message": bankMessage,
		"otp_verified": false,
		"updated_at":   time.Now().UTC(),
	}}
	res, err := r.db.Collection(transactionsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s is no longer stale and pending", ErrTransitionConflict, sessionID)
	}
	return nil
}

func (r *MongoRepository) conflictOrNotFound(ctx context.Context, sessionID string, expected domain.TransactionStatus) error {
	current, err := r.FindTransactionBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: current=%s expected=%s", ErrTransitionConflict, current.Status, expected)
}

func transitionFilter(sessionID string, expected domain.TransactionStatus) bson.M {
	return bson.M{"_id": sessionID, "status": string(expected)}
}

// stalePendingFilter matches pending documents whose creation and latest
// confirm stamp both precede cutoff. A null match also covers a missing field.
func stalePendingFilter(cutoff time.Time) bson.M {
	return bson.M{
		"status":     string(domain.StatusPending),
		"created_at": bson.M{"$lt": cutoff},
		"$or": bson.A{
			bson.M{"confirm_started_at": nil},
			bson.M{"confirm_started_at": bson.M{"$lt": cutoff}},
		},
	}
}

func (r *MongoRepository) FindStalePendingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	filter := stalePendingFilter(cutoff)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(normalizeListLimit(limit)))

	cur, err := r.db.Collection(transactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []transactionDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	items := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		tx, err := fromTransactionDocument(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, *tx)
	}
	return items, nil
}

func (r *MongoRepository) CreateAdminNotification(ctx context.Context, item domain.AdminNotification) error {
	doc := adminNotificationDocument{
		ID:        item.ID.String(),
		SessionID: item.SessionID,
		Title:     item.Title,
		Body:      item.Body,
		CreatedAt: createdAtOrNow(item.CreatedAt),
	}
	return insertEvent(ctx, r.db.Collection(adminNotificationsCollection), doc)
}

func (r *MongoRepository) CreateDeliveryRequest(ctx context.Context, item domain.DeliveryRequest) error {
	doc := deliveryRequestDocument{
		ID:        item.ID.String(),
		SessionID: item.SessionID,
		Recipient: item.Recipient,
		Phone:     item.Phone,
		Quantity:  item.Quantity,
		Location:  item.Location,
		MapURL:    item.MapURL,
		Message:   item.Message,
		CreatedAt: createdAtOrNow(item.CreatedAt),
	}
	return insertEvent(ctx, r.db.Collection(deliveryRequestsCollection), doc)
}

func (r *MongoRepository) ListAdminNotifications(ctx context.Context, limit int) ([]domain.AdminNotification, error) {
	var docs []adminNotificationDocument
	if err := r.findNewest(ctx, adminNotificationsCollection, limit, &docs); err != nil {
		return nil, err
	}
	items := make([]domain.AdminNotification, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.AdminNotification{
			ID:        parseUUIDOrNil(doc.ID),
			SessionID: doc.SessionID,
			Title:     doc.Title,
			Body:      doc.Body,
			CreatedAt: doc.CreatedAt,
		})
	}
	return items, nil
}

func (r *MongoRepository) ListDeliveryRequests(ctx context.Context, limit int) ([]domain.DeliveryRequest, error) {
	var docs []deliveryRequestDocument
	if err := r.findNewest(ctx, deliveryRequestsCollection, limit, &docs); err != nil {
		return nil, err
	}
	items := make([]domain.DeliveryRequest, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.DeliveryRequest{
			ID:        parseUUIDOrNil(doc.ID),
			SessionID: doc.SessionID,
			Recipient: doc.Recipient,
			Phone:     doc.Phone,
			Quantity:  doc.Quantity,
			Location:  doc.Location,
			MapURL:    doc.MapURL,
			Message:   doc.Message,
			CreatedAt: doc.CreatedAt,
		})
	}
	return items, nil
}

func (r *MongoRepository) findNewest(ctx context.Context, collection string, limit int, out interface{}) error {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(normalizeListLimit(limit)))
	cur, err := r.db.Collection(collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	return cur.All(ctx, out)
}

func insertEvent(ctx context.Context, coll *mongo.Collection, doc interface{}) error {
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func toTransactionDocument(tx *domain.Transaction) transactionDocument {
	return transactionDocument{
		SessionID:   tx.SessionID,
		Phone:       tx.Phone,
		Amount:      tx.Amount.StringFixed(2),
		Quantity:    tx.Quantity,
		Recipient:   tx.Recipient,
		Location:    tx.Location,
		Status:      string(tx.Status),
		BankMessage: tx.BankMessage,
		OTPVerified: tx.OTPVerified,
		CreatedAt:   tx.CreatedAt,
		UpdatedAt:   tx.UpdatedAt,

		ConfirmStartedAt: tx.ConfirmStartedAt,
	}
}

func fromTransactionDocument(doc transactionDocument) (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(doc.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", doc.Amount, err)
	}
	return &domain.Transaction{
		SessionID:   doc.SessionID,
		Phone:       doc.Phone,
		Amount:      amount,
		Quantity:    doc.Quantity,
		Recipient:   doc.Recipient,
		Location:    doc.Location,
		Status:      domain.TransactionStatus(doc.Status),
		BankMessage: doc.BankMessage,
		OTPVerified: doc.OTPVerified,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,

		ConfirmStartedAt: doc.ConfirmStartedAt,
	}, nil
}

func parseUUIDOrNil(value string) uuid.UUID {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}
