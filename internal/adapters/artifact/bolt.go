package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

var ArtifactBucket = []byte("artifacts")

// BoltStore keeps artifacts as values of a single bbolt bucket. Each Save
// is one write transaction.
type BoltStore struct {
	db     *bolt.DB
	dbPath string
}

func NewBoltStore(dbPath string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout:    time.Second,
		NoGrowSync: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ArtifactBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	var count int
	db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(ArtifactBucket); b != nil {
			count = b.Stats().KeyN
		}
		return nil
	})

	log.Info().
		Str("db_path", dbPath).
		Int("artifacts", count).
		Msg("Bolt artifact store initialized")

	return &BoltStore{db: db, dbPath: dbPath}, nil
}

func (s *BoltStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(ArtifactBucket)
		if b == nil {
			return domain.ErrArtifactNotFound
		}
		v := b.Get([]byte(name))
		if v == nil {
			return domain.ErrArtifactNotFound
		}
		// Values are only valid for the life of the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltStore) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("empty artifact name")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(ArtifactBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
