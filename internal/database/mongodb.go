package database

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB represents a MongoDB connection
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	config   *MongoConfig
}

// MongoConfig holds MongoDB configuration
type MongoConfig struct {
	URI            string        `json:"uri" yaml:"uri"`
	Database       string        `json:"database" yaml:"database"`
	Collection     string        `json:"collection" yaml:"collection"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	PingTimeout    time.Duration `json:"ping_timeout" yaml:"ping_timeout"`
	MaxPoolSize    uint64        `json:"max_pool_size" yaml:"max_pool_size"`
	MinPoolSize    uint64        `json:"min_pool_size" yaml:"min_pool_size"`
}

// DefaultMongoConfig returns default MongoDB configuration
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:            "mongodb://localhost:27017/?replicaSet=rs0",
		Database:       "conchat",
		Collection:     "records",
		ConnectTimeout: 10 * time.Second,
		PingTimeout:    5 * time.Second,
		MaxPoolSize:    100,
		MinPoolSize:    5,
	}
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(config *MongoConfig) (*MongoDB, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}

	clientOptions := options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(config.ConnectTimeout).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer pingCancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	glog.Infof("✅ Connected to MongoDB: %s/%s", config.URI, config.Database)

	return &MongoDB{
		client:   client,
		database: client.Database(config.Database),
		config:   config,
	}, nil
}

// Records returns the collection every record path is stored in.
func (m *MongoDB) Records() *mongo.Collection {
	return m.database.Collection(m.config.Collection)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	glog.Infof("✅ Disconnected from MongoDB")
	return nil
}

// CreateIndexes creates the indexes children listing and field lookup use.
func (m *MongoDB) CreateIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "parent", Value: 1}}},
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "fields.name", Value: 1}}},
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "fields.displayName", Value: 1}}},
	}

	if _, err := m.Records().Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create record indexes: %w", err)
	}

	glog.Infof("✅ Created MongoDB indexes")
	return nil
}
