// Package storage — bolt.go
//
// BoltDB-backed persistent storage for emberwatch.
//
// Schema (BoltDB bucket layout):
//
//	/baselines
//	    key:   sha256(camera_id)  [32 bytes hex-encoded = 64 chars]
//	    value: JSON-encoded BaselineRecord
//
//	/ledger
//	    key:   RFC3339Nano timestamp + "_" + node_id  [monotonic, sortable]
//	    value: JSON-encoded LedgerEntry
//
//	/messages
//	    key:   RFC3339Nano timestamp + "_" + message_id
//	    value: JSON-encoded mesh.MeshMessage (black-box replay buffer)
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Ledger and message entries older than RetentionDays are pruned when
//     the node agent starts; there is no periodic pruning while it runs.
//   - Vision baselines are never automatically pruned (operator action
//     required, since they encode learned per-camera state).
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The agent logs a fatal event and refuses to start.
//     Recovery: restore from backup at /var/lib/emberwatch/db.bak.
//   - Disk full: bbolt.Update() returns an error. The agent logs the error
//     and continues without persisting (in-memory state preserved).
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/emberwatch/emberwatch.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default ledger/message retention period.
	DefaultRetentionDays = 30

	bucketBaselines = "baselines"
	bucketLedger    = "ledger"
	bucketMessages  = "messages"
	bucketMeta      = "meta"
)

// BaselineRecord is the persisted form of a per-camera vision baseline
// (§4.7): the learned sharpness/histogram-variance reference and last-frame
// hash used for frozen-frame detection. Stored as JSON in the baselines
// bucket.
type BaselineRecord struct {
	// CameraID identifies the camera this baseline belongs to.
	CameraID string `json:"camera_id"`

	// CameraHash is sha256(camera_id) used as the BoltDB key.
	CameraHash string `json:"camera_hash"`

	// Sharpness is the learned Laplacian-variance edge-sharpness baseline.
	Sharpness float64 `json:"sharpness"`

	// HistogramVariance is the learned histogram-variance baseline.
	HistogramVariance float64 `json:"histogram_variance"`

	// LastFrameHash is the SHA256 hash of the last observed frame, used to
	// detect a frozen camera feed.
	LastFrameHash string `json:"last_frame_hash"`

	// SampleCount is the number of frames used to compute this baseline.
	SampleCount int `json:"sample_count"`

	// UpdatedAt is the timestamp of the last baseline update.
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is a single audit log record: one Decision transition (§4.8).
// Stored as JSON in the ledger bucket, hash-chained by internal/guard.
type LedgerEntry struct {
	// Timestamp is the event time (nanosecond precision).
	Timestamp time.Time `json:"timestamp"`

	// NodeID is the node that recorded this entry.
	NodeID string `json:"node_id"`

	// StateFrom is the previous SystemState.
	StateFrom string `json:"state_from"`

	// StateTo is the new SystemState.
	StateTo string `json:"state_to"`

	// Tier is the composite-risk tier (Green/Yellow/Orange/Red) at StateTo.
	Tier string `json:"tier"`

	// RiskScore is the composite risk score that triggered the transition.
	RiskScore float64 `json:"risk_score"`

	// TraumaLocal is the node's trauma_local value after this transition.
	TraumaLocal float64 `json:"trauma_local"`

	// PrevHash is the SHA256 hash of the previous ledger entry (hash-chain
	// integrity, §8). Empty for the first entry.
	PrevHash string `json:"prev_hash"`

	// EntryHash is SHA256(PrevHash || this entry's other fields).
	EntryHash string `json:"entry_hash"`
}

// MessageRecord is the persisted form of a mesh.MeshMessage, used for the
// black-box replay buffer embedded in dying-gasp alerts (§4.9).
type MessageRecord struct {
	MessageID string          `json:"message_id"`
	SourceID  string          `json:"source_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// DB wraps a BoltDB instance with typed accessors for emberwatch data.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketBaselines, bucketLedger, bucketMessages, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

// checkSchemaVersion reads and validates the stored schema version.
func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, agent requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Baseline operations ──────────────────────────────────────────────────

// cameraKey computes the BoltDB key for a camera id: sha256(id) hex-encoded.
func cameraKey(cameraID string) []byte {
	h := sha256.Sum256([]byte(cameraID))
	key := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(key, h[:])
	return key
}

// PutBaseline writes or updates a vision baseline record for a camera.
func (d *DB) PutBaseline(rec BaselineRecord) error {
	rec.CameraHash = string(cameraKey(rec.CameraID))
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutBaseline marshal: %w", err)
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBaselines))
		if err := b.Put([]byte(rec.CameraHash), data); err != nil {
			return fmt.Errorf("PutBaseline bolt.Put: %w", err)
		}
		return nil
	})
}

// GetBaseline retrieves the vision baseline record for a camera.
// Returns (nil, nil) if no baseline exists for this camera.
func (d *DB) GetBaseline(cameraID string) (*BaselineRecord, error) {
	key := cameraKey(cameraID)
	var rec BaselineRecord
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBaselines))
		data := b.Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetBaseline(%q): %w", cameraID, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ─── Ledger operations ─────────────────────────────────────────────────────

// ledgerKey constructs a sortable BoltDB key for a ledger entry.
// Format: RFC3339Nano + "_" + node id. Lexicographic sort = chronological.
func ledgerKey(t time.Time, nodeID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), nodeID))
}

// AppendLedger writes a new audit ledger entry.
func (d *DB) AppendLedger(entry LedgerEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("AppendLedger marshal: %w", err)
	}

	key := ledgerKey(entry.Timestamp, entry.NodeID)

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendLedger bolt.Put: %w", err)
		}
		return nil
	})
}

// LastLedgerEntry returns the most recently appended ledger entry, used to
// seed PrevHash for hash-chaining (§8). Returns (nil, nil) if the ledger is
// empty.
func (d *DB) LastLedgerEntry() (*LedgerEntry, error) {
	var entry LedgerEntry
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketLedger)).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("LastLedgerEntry: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &entry, nil
}

// PruneOldLedgerEntries deletes ledger entries older than retentionDays.
// Returns the number of entries deleted.
func (d *DB) PruneOldLedgerEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := ledgerKey(cutoff, "")

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldLedgerEntries delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadLedger returns all ledger entries in chronological order.
// For operational use (CLI inspection). Not called on the hot path.
func (d *DB) ReadLedger() ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.ForEach(func(_, v []byte) error {
			var entry LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

// ─── Message log operations (black-box replay buffer, §4.9) ───────────────

// messageKey constructs a sortable BoltDB key for a message record.
func messageKey(t time.Time, messageID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), messageID))
}

// AppendMessage persists a mesh message for black-box replay.
func (d *DB) AppendMessage(rec MessageRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("AppendMessage marshal: %w", err)
	}
	key := messageKey(rec.Timestamp, rec.MessageID)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMessages)).Put(key, data)
	})
}

// RecentMessages returns up to limit of the most recently persisted
// messages in chronological order, used to build a dying-gasp black-box
// history (§4.9: "embeds 30s black-box history").
func (d *DB) RecentMessages(limit int) ([]MessageRecord, error) {
	var all []MessageRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMessages))
		return b.ForEach(func(_, v []byte) error {
			var rec MessageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			all = append(all, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// PruneOldMessages deletes message entries older than retentionDays.
// Returns the number of entries deleted.
func (d *DB) PruneOldMessages() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := messageKey(cutoff, "")

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMessages))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldMessages delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
