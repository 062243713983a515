package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hongjun500/im-go/internal/model"
)

const (
	collMessageBody    = "im_message_body"
	collMessageHistory = "im_message_history"
)

// bodyDoc 消息体集合的文档结构
type bodyDoc struct {
	TenantID   int32  `bson:"tenant_id"`
	MessageKey string `bson:"message_key"`
	Body       []byte `bson:"message_body"`
	SendTime   int64  `bson:"message_time"`
	CreateTime int64  `bson:"create_time"`
	Extra      string `bson:"extra,omitempty"`
	DelFlag    int    `bson:"del_flag"`
}

type historyDoc struct {
	TenantID   int32  `bson:"tenant_id"`
	OwnerID    string `bson:"owner_id"`
	FromID     string `bson:"from_id"`
	ToID       string `bson:"to_id"`
	MessageKey string `bson:"message_key"`
	Sequence   int64  `bson:"message_sequence"`
	CreateTime int64  `bson:"create_time"`
}

// MongoStore 基于 mongo 的持久层实现
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore { return &MongoStore{db: db} }

// Connect 按 URI 建立 mongo 连接并返回存储实例
func Connect(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return NewMongoStore(cli.Database(database)), nil
}

func (s *MongoStore) InsertMessageBody(ctx context.Context, body *model.MessageBody) error {
	doc := bodyDoc{
		TenantID:   body.TenantID,
		MessageKey: body.MessageKey,
		Body:       body.Body,
		SendTime:   body.SendTime,
		CreateTime: body.CreateTime,
		Extra:      body.Extra,
		DelFlag:    body.DelFlag,
	}
	_, err := s.db.Collection(collMessageBody).InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) InsertHistoryRows(ctx context.Context, rows []model.HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]any, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, historyDoc{
			TenantID:   r.TenantID,
			OwnerID:    r.OwnerID,
			FromID:     r.FromID,
			ToID:       r.ToID,
			MessageKey: r.MessageKey,
			Sequence:   r.Sequence,
			CreateTime: r.CreateTime,
		})
	}
	_, err := s.db.Collection(collMessageHistory).InsertMany(ctx, docs)
	return err
}

func (s *MongoStore) QueryMessageBody(ctx context.Context, tenantID int32, messageKey string) (*model.MessageBody, error) {
	var doc bodyDoc
	err := s.db.Collection(collMessageBody).
		FindOne(ctx, bson.M{"tenant_id": tenantID, "message_key": messageKey}).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model.MessageBody{
		TenantID:   doc.TenantID,
		MessageKey: doc.MessageKey,
		Body:       doc.Body,
		SendTime:   doc.SendTime,
		CreateTime: doc.CreateTime,
		Extra:      doc.Extra,
		DelFlag:    doc.DelFlag,
	}, nil
}

func (s *MongoStore) MarkDeleted(ctx context.Context, tenantID int32, messageKey string) error {
	res, err := s.db.Collection(collMessageBody).UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "message_key": messageKey},
		bson.M{"$set": bson.M{"del_flag": 1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
