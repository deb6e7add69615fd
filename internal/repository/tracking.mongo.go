package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/mail-tracker/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const trackingCollection = "email_trackings"

type trackingDocument struct {
	TrackingID string         `bson:"trackingId"`
	Recipient  string         `bson:"recipient"`
	Email      string         `bson:"email"`
	MessageID  *string        `bson:"messageId"`
	Opened     bool           `bson:"opened"`
	OpenedAt   *time.Time     `bson:"openedAt"`
	Links      []linkDocument `bson:"links"`
	SentAt     time.Time      `bson:"sentAt"`
}

type linkDocument struct {
	LinkID      string     `bson:"linkId"`
	OriginalURL string     `bson:"originalUrl"`
	Clicked     bool       `bson:"clicked"`
	ClickedAt   *time.Time `bson:"clickedAt"`
}

// MongoStore is the MongoDB-backed TrackingStore. Links live inside the
// record document so every transition is a single-document update.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable("connect", err)
	}
	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(trackingCollection),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) Backend() string {
	return BackendMongo
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "trackingId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}},
	})
	if err != nil {
		return unavailable("create indexes", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, rec *model.TrackingRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, toTrackingDocument(rec)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return unavailable("create", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, trackingID string) (*model.TrackingRecord, error) {
	var doc trackingDocument
	err := s.coll.FindOne(ctx, bson.M{"trackingId": trackingID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) MarkOpened(ctx context.Context, trackingID string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID, "opened": false},
		bson.M{"$set": bson.M{"opened": true, "openedAt": s.now()}},
	)
	if err != nil {
		return false, unavailable("mark opened", err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}
	if _, err := s.Get(ctx, trackingID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *MongoStore) MarkClicked(ctx context.Context, trackingID, linkID string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"trackingId": trackingID,
			"links":      bson.M{"$elemMatch": bson.M{"linkId": linkID, "clicked": false}},
		},
		bson.M{"$set": bson.M{"links.$.clicked": true, "links.$.clickedAt": s.now()}},
	)
	if err != nil {
		return false, unavailable("mark clicked", err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}

	rec, err := s.Get(ctx, trackingID)
	if err != nil {
		return false, err
	}
	if rec.Link(linkID) == nil {
		return false, ErrLinkNotFound
	}
	return false, nil
}

func (s *MongoStore) SetTransportMessageID(ctx context.Context, trackingID, messageID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"trackingId": trackingID},
		bson.M{"$set": bson.M{"messageId": messageID}},
	)
	if err != nil {
		return unavailable("set transport message id", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListLinks(ctx context.Context, trackingID string) ([]*model.LinkEntry, error) {
	rec, err := s.Get(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	return rec.Links, nil
}

func toTrackingDocument(m *model.TrackingRecord) *trackingDocument {
	doc := &trackingDocument{
		TrackingID: m.TrackingID,
		Recipient:  m.RecipientName,
		Email:      m.RecipientAddress,
		Opened:     m.Opened,
		OpenedAt:   m.OpenedAt,
		Links:      make([]linkDocument, len(m.Links)),
		SentAt:     m.SentAt,
	}
	if m.TransportMessageID != "" {
		v := m.TransportMessageID
		doc.MessageID = &v
	}
	for i, l := range m.Links {
		doc.Links[i] = linkDocument{
			LinkID:      l.LinkID,
			OriginalURL: l.OriginalURL,
			Clicked:     l.Clicked,
			ClickedAt:   l.ClickedAt,
		}
	}
	return doc
}

func (d *trackingDocument) toModel() *model.TrackingRecord {
	m := &model.TrackingRecord{
		TrackingID:       d.TrackingID,
		RecipientName:    d.Recipient,
		RecipientAddress: d.Email,
		Opened:           d.Opened,
		OpenedAt:         d.OpenedAt,
		Links:            make([]*model.LinkEntry, len(d.Links)),
		SentAt:           d.SentAt,
	}
	if d.MessageID != nil {
		m.TransportMessageID = *d.MessageID
	}
	for i := range d.Links {
		l := d.Links[i]
		m.Links[i] = &model.LinkEntry{
			LinkID:      l.LinkID,
			OriginalURL: l.OriginalURL,
			Clicked:     l.Clicked,
			ClickedAt:   l.ClickedAt,
		}
	}
	return m
}
