package state

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"dictate/internal/domain"
)

const (
	bucketLock     = "lock"
	bucketSessions = "sessions"
	bucketMeta     = "meta"

	keyHolder         = "holder"
	keyHolderSession  = "holder_session"
	keyLastBaseID     = "last_base_id"
	keyLastSeq        = "last_seq"
	keyNotificationID = "notification_id"
	keyStatsMicros    = "stats_micros"
	keyCompleted      = "completed"
	keyFailed         = "failed"
	keyLastStats      = "last_stats"
)

// Store keeps cross-invocation state in a bbolt file.
//
// The database is opened per operation so that no long-lived process
// (recorder, watchdog, pipeline) holds the file lock. bbolt takes an
// exclusive flock for the duration of every read-write transaction, which
// makes each method atomic with respect to concurrent invocations.
type Store struct {
	path    string
	timeout time.Duration
}

// Open prepares the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &Store{path: path, timeout: 2 * time.Second}
	if err := s.update(context.Background(), func(*bbolt.Tx) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// TryAcquire takes the lock for session and records it. The lock holder is
// the session nonce. An id that is still on record, or that was already
// handed out in the same second, gets a -N suffix; the returned session
// carries the id actually stored. It returns false without touching anything
// when another session already holds the lock.
func (s *Store) TryAcquire(ctx context.Context, session domain.Session) (domain.Session, bool, error) {
	if session.Nonce == "" {
		return session, false, errors.New("session nonce is required")
	}
	acquired := false
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		lock := tx.Bucket([]byte(bucketLock))
		if lock.Get([]byte(keyHolder)) != nil {
			return nil
		}
		sessions := tx.Bucket([]byte(bucketSessions))
		id, err := claimID(sessions, tx.Bucket([]byte(bucketMeta)), session.ID)
		if err != nil {
			return err
		}
		session.ID = id
		if err := putJSON(sessions, session.ID, session); err != nil {
			return err
		}
		if err := lock.Put([]byte(keyHolder), []byte(session.Nonce)); err != nil {
			return fmt.Errorf("write lock: %w", err)
		}
		if err := lock.Put([]byte(keyHolderSession), []byte(session.ID)); err != nil {
			return fmt.Errorf("write lock: %w", err)
		}
		acquired = true
		return nil
	})
	return session, acquired, err
}

// claimID returns base, or base-N when base was already issued or is still
// on record, and remembers what it handed out.
func claimID(sessions *bbolt.Bucket, meta *bbolt.Bucket, base string) (string, error) {
	seq := uint64(1)
	if string(meta.Get([]byte(keyLastBaseID))) == base {
		seq = decodeUint64(meta.Get([]byte(keyLastSeq))) + 1
	}
	id := sequencedID(base, seq)
	for sessions.Get([]byte(id)) != nil {
		seq++
		id = sequencedID(base, seq)
	}
	if err := meta.Put([]byte(keyLastBaseID), []byte(base)); err != nil {
		return "", err
	}
	if err := meta.Put([]byte(keyLastSeq), encodeUint64(seq)); err != nil {
		return "", err
	}
	return id, nil
}

func sequencedID(base string, seq uint64) string {
	if seq <= 1 {
		return base
	}
	return base + "-" + strconv.FormatUint(seq, 10)
}

// Release drops the lock if sessionID holds it and forgets a session that
// never left the recording state. Releasing twice is a no-op.
func (s *Store) Release(ctx context.Context, sessionID string) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		lock := tx.Bucket([]byte(bucketLock))
		if string(lock.Get([]byte(keyHolderSession))) == sessionID {
			if err := dropLock(lock); err != nil {
				return err
			}
		}
		sessions := tx.Bucket([]byte(bucketSessions))
		var session domain.Session
		found, err := getJSON(sessions, sessionID, &session)
		if err != nil || !found {
			return err
		}
		if session.State == domain.SessionStateRecording {
			return sessions.Delete([]byte(sessionID))
		}
		return nil
	})
}

// IsHeld reports whether any session holds the lock.
func (s *Store) IsHeld(ctx context.Context) (bool, error) {
	held := false
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		lock := tx.Bucket([]byte(bucketLock))
		held = lock != nil && lock.Get([]byte(keyHolder)) != nil
		return nil
	})
	return held, err
}

// Current returns the session holding the lock.
func (s *Store) Current(ctx context.Context) (domain.Session, error) {
	var session domain.Session
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		session, err = currentSession(tx)
		return err
	})
	return session, err
}

// SetAudioPath records where the current session captures audio.
func (s *Store) SetAudioPath(ctx context.Context, sessionID string, path string) error {
	return s.mutateCurrent(ctx, sessionID, func(session *domain.Session) {
		session.AudioPath = path
	})
}

// SetRecorderPID records the capture process of the current session.
func (s *Store) SetRecorderPID(ctx context.Context, sessionID string, pid int) error {
	return s.mutateCurrent(ctx, sessionID, func(session *domain.Session) {
		session.RecorderPID = pid
	})
}

// SetWatchdogPID records the watchdog process of the current session.
func (s *Store) SetWatchdogPID(ctx context.Context, sessionID string, pid int) error {
	return s.mutateCurrent(ctx, sessionID, func(session *domain.Session) {
		session.WatchdogPID = pid
	})
}

// BeginProcessing moves the lock holder to the processing state and drops
// the lock in the same transaction. Process handles are cleared because the
// recorder has been reaped by the time this runs.
func (s *Store) BeginProcessing(ctx context.Context, sessionID string, trigger domain.StopTrigger, ownerPID int, at time.Time) (domain.Session, error) {
	var session domain.Session
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		current, err := currentSession(tx)
		if err != nil {
			return err
		}
		if current.ID != sessionID {
			return fmt.Errorf("%w: holder %s, requested %s", domain.ErrSessionMismatch, current.ID, sessionID)
		}

		current.State = domain.SessionStateProcessing
		current.RecorderPID = 0
		current.WatchdogPID = 0
		current.OwnerPID = ownerPID
		current.Trigger = trigger
		current.StoppedAt = at.UTC()

		if err := putJSON(tx.Bucket([]byte(bucketSessions)), current.ID, current); err != nil {
			return err
		}
		if err := dropLock(tx.Bucket([]byte(bucketLock))); err != nil {
			return err
		}
		session = current
		return nil
	})
	return session, err
}

// Finish forgets a session once its pipeline has ended.
func (s *Store) Finish(ctx context.Context, sessionID string) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSessions)).Delete([]byte(sessionID))
	})
}

// Sessions lists every session on record, recording or processing.
func (s *Store) Sessions(ctx context.Context) ([]domain.Session, error) {
	sessions := make([]domain.Session, 0)
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketSessions))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var session domain.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("unmarshal session: %w", err)
			}
			sessions = append(sessions, session)
			return nil
		})
	})
	return sessions, err
}

// NextStatsTimestamp returns candidate, or one past the previous value when
// the clock has not moved forward, and remembers the result.
func (s *Store) NextStatsTimestamp(ctx context.Context, candidate int64) (int64, error) {
	next := candidate
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		if raw := meta.Get([]byte(keyStatsMicros)); raw != nil {
			previous, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("parse stats timestamp: %w", err)
			}
			if next <= previous {
				next = previous + 1
			}
		}
		return meta.Put([]byte(keyStatsMicros), []byte(strconv.FormatInt(next, 10)))
	})
	return next, err
}

// RecordOutcome bumps the completed or failed counter and returns the totals.
func (s *Store) RecordOutcome(ctx context.Context, succeeded bool, last *domain.StatisticsRecord) (domain.Totals, error) {
	var totals domain.Totals
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		key := keyFailed
		if succeeded {
			key = keyCompleted
		}
		if err := meta.Put([]byte(key), encodeUint64(decodeUint64(meta.Get([]byte(key)))+1)); err != nil {
			return fmt.Errorf("write counter: %w", err)
		}
		if last != nil {
			if err := putJSON(meta, keyLastStats, last); err != nil {
				return err
			}
		}

		totals.Completed = decodeUint64(meta.Get([]byte(keyCompleted)))
		totals.Failed = decodeUint64(meta.Get([]byte(keyFailed)))
		var stored domain.StatisticsRecord
		found, err := getJSON(meta, keyLastStats, &stored)
		if err != nil {
			return err
		}
		if found {
			totals.Last = &stored
		}
		return nil
	})
	return totals, err
}

// NotificationID returns the handle of the last notification shown, or 0.
func (s *Store) NotificationID(ctx context.Context) (uint32, error) {
	var id uint32
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		if meta == nil {
			return nil
		}
		id = uint32(decodeUint64(meta.Get([]byte(keyNotificationID))))
		return nil
	})
	return id, err
}

// SetNotificationID remembers the handle of the notification on screen.
func (s *Store) SetNotificationID(ctx context.Context, id uint32) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(keyNotificationID), encodeUint64(uint64(id)))
	})
}

// ClearNotificationID forgets id if it is still the remembered handle.
func (s *Store) ClearNotificationID(ctx context.Context, id uint32) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		if uint32(decodeUint64(meta.Get([]byte(keyNotificationID)))) != id {
			return nil
		}
		return meta.Delete([]byte(keyNotificationID))
	})
}

func (s *Store) mutateCurrent(ctx context.Context, sessionID string, mutate func(*domain.Session)) error {
	return s.update(ctx, func(tx *bbolt.Tx) error {
		current, err := currentSession(tx)
		if err != nil {
			return err
		}
		if current.ID != sessionID {
			return fmt.Errorf("%w: holder %s, requested %s", domain.ErrSessionMismatch, current.ID, sessionID)
		}
		mutate(&current)
		return putJSON(tx.Bucket([]byte(bucketSessions)), current.ID, current)
	})
}

func (s *Store) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: s.timeout})
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketLock, bucketSessions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return fn(tx)
	})
}

func (s *Store) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: s.timeout, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	return db.View(fn)
}

func currentSession(tx *bbolt.Tx) (domain.Session, error) {
	var session domain.Session
	lock := tx.Bucket([]byte(bucketLock))
	if lock == nil {
		return session, domain.ErrNoActiveSession
	}
	holder := lock.Get([]byte(keyHolder))
	if holder == nil {
		return session, domain.ErrNoActiveSession
	}
	id := string(lock.Get([]byte(keyHolderSession)))
	found, err := getJSON(tx.Bucket([]byte(bucketSessions)), id, &session)
	if err != nil {
		return session, err
	}
	if !found {
		return session, fmt.Errorf("lock holder %s has no session record", id)
	}
	if session.Nonce != string(holder) {
		return session, fmt.Errorf("lock holder nonce does not match session %s", id)
	}
	return session, nil
}

func dropLock(lock *bbolt.Bucket) error {
	if err := lock.Delete([]byte(keyHolder)); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	if err := lock.Delete([]byte(keyHolderSession)); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

func putJSON(bucket *bbolt.Bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := bucket.Put([]byte(key), data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func getJSON(bucket *bbolt.Bucket, key string, out any) (bool, error) {
	if bucket == nil {
		return false, nil
	}
	data := bucket.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(raw []byte) uint64 {
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}
