package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/plannel/internal/category"
)

const (
	transactionBucketName = "transactions"
	categoryBucketName    = "categories"
	ruleBucketName        = "rules"
)

// DB defines the interface for database operations
type DB interface {
	// SaveTransaction creates or replaces a transaction
	SaveTransaction(t *Transaction) error

	// GetTransaction retrieves a transaction by ID
	GetTransaction(id string) (*Transaction, error)

	// ListTransactions returns all transactions in no particular order
	ListTransactions() ([]*Transaction, error)

	// DeleteTransaction removes a transaction
	DeleteTransaction(id string) error

	// GetCategory retrieves a category by ID
	GetCategory(id string) (*Category, error)

	// ListCategories returns all categories
	ListCategories() ([]*Category, error)

	// AddRule appends a rule after every existing rule
	AddRule(rule category.Rule) error

	// ListRules returns rules in the order they were added
	ListRules() ([]category.Rule, error)

	// DeleteRule removes a rule by ID
	DeleteRule(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens the database at path. Categories and rules are seeded
// with the defaults when their buckets are first created.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(transactionBucketName)); err != nil {
			return err
		}
		if tx.Bucket([]byte(categoryBucketName)) == nil {
			bucket, err := tx.CreateBucket([]byte(categoryBucketName))
			if err != nil {
				return err
			}
			if err := seedCategories(bucket); err != nil {
				return err
			}
		}
		if tx.Bucket([]byte(ruleBucketName)) == nil {
			bucket, err := tx.CreateBucket([]byte(ruleBucketName))
			if err != nil {
				return err
			}
			if err := seedRules(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func seedCategories(bucket *bbolt.Bucket) error {
	for _, c := range DefaultCategories {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshaling category: %w", err)
		}
		if err := bucket.Put([]byte(c.ID), data); err != nil {
			return err
		}
	}
	return nil
}

func seedRules(bucket *bbolt.Bucket) error {
	for i, r := range DefaultRules {
		rule := category.Rule{ID: fmt.Sprintf("r%d", i+1), Pattern: r.Pattern, CategoryID: r.CategoryID}
		if err := putRule(bucket, rule); err != nil {
			return err
		}
	}
	return nil
}

// putRule stores a rule under the next bucket sequence, big-endian so that
// cursor order is insertion order.
func putRule(bucket *bbolt.Bucket, rule category.Rule) error {
	seq, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("allocating rule key: %w", err)
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshaling rule: %w", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return bucket.Put(key, data)
}

// SaveTransaction saves a transaction to the database
func (b *BoltDB) SaveTransaction(t *Transaction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling transaction: %w", err)
		}
		return tx.Bucket([]byte(transactionBucketName)).Put([]byte(t.ID), data)
	})
}

// GetTransaction retrieves a transaction by ID
func (b *BoltDB) GetTransaction(id string) (*Transaction, error) {
	var t *Transaction
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(transactionBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns all transactions
func (b *BoltDB) ListTransactions() ([]*Transaction, error) {
	transactions := make([]*Transaction, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(transactionBucketName)).ForEach(func(k, v []byte) error {
			var t Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling transaction: %w", err)
			}
			transactions = append(transactions, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

// DeleteTransaction removes a transaction from the database
func (b *BoltDB) DeleteTransaction(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(transactionBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// GetCategory retrieves a category by ID
func (b *BoltDB) GetCategory(id string) (*Category, error) {
	var c *Category
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(categoryBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("category %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCategories returns all categories
func (b *BoltDB) ListCategories() ([]*Category, error) {
	categories := make([]*Category, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(categoryBucketName)).ForEach(func(k, v []byte) error {
			var c Category
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshaling category: %w", err)
			}
			categories = append(categories, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// AddRule appends a rule
func (b *BoltDB) AddRule(rule category.Rule) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putRule(tx.Bucket([]byte(ruleBucketName)), rule)
	})
}

// ListRules returns rules in insertion order
func (b *BoltDB) ListRules() ([]category.Rule, error) {
	rules := make([]category.Rule, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ruleBucketName)).ForEach(func(k, v []byte) error {
			var r category.Rule
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshaling rule: %w", err)
			}
			rules = append(rules, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// DeleteRule removes the rule with the given ID
func (b *BoltDB) DeleteRule(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(ruleBucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r category.Rule
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshaling rule: %w", err)
			}
			if r.ID == id {
				return c.Delete()
			}
		}
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
