package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
)

const (
	challengeRecordVersion1 = 1
	maxUpdateRetries        = 16
)

var (
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrChallengeContended = errors.New("challenge update contended")
	ErrChallengeBackend   = errors.New("challenge backend unavailable")
	ErrChallengeCorrupt   = errors.New("challenge record corrupt")
)

// ChallengeRecord is the persisted form of one challenge. Timestamps are Unix
// nanoseconds; zero means unset.
type ChallengeRecord struct {
	ID             string
	SubjectID      string
	SessionID      string
	Status         uint8
	Method         uint8
	Reason         uint8
	Attempts       uint16
	MaxAttempts    uint16
	CreatedAt      int64
	ExpiresAt      int64
	LastAttemptAt  int64
	CompletedAt    int64
	ProviderHandle string
	Secret         []byte
}

// Expired reports whether the record is unusable at now.
func (r *ChallengeRecord) Expired(now time.Time) bool {
	return now.UnixNano() >= r.ExpiresAt
}

func (r *ChallengeRecord) clone() *ChallengeRecord {
	c := *r
	c.Secret = bytes.Clone(r.Secret)
	return &c
}

// Mutation edits rec in place. Returning false leaves the stored record
// untouched; returning an error aborts the update with that error.
type Mutation func(rec *ChallengeRecord) (bool, error)

// ChallengeStore reads and writes [ChallengeRecord] values.
type ChallengeStore struct {
	store store.Store
	now   func() time.Time
}

func NewChallengeStore(s store.Store, clock func() time.Time) *ChallengeStore {
	if clock == nil {
		clock = time.Now
	}
	return &ChallengeStore{store: s, now: clock}
}

func (s *ChallengeStore) ttl(record *ChallengeRecord) time.Duration {
	return time.Unix(0, record.ExpiresAt).Sub(s.now())
}

// Save writes record with a TTL matching its remaining lifetime.
func (s *ChallengeStore) Save(ctx context.Context, key string, record *ChallengeRecord) error {
	ttl := s.ttl(record)
	if ttl <= 0 {
		return ErrChallengeExpired
	}
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.store.SetWithTTL(ctx, key, encoded, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get loads the record at key. Expired records are deleted and reported as
// ErrChallengeExpired even when the backend still holds them.
func (s *ChallengeStore) Get(ctx context.Context, key string) (*ChallengeRecord, error) {
	record, _, err := s.load(ctx, key)
	return record, err
}

func (s *ChallengeStore) load(ctx context.Context, key string) (*ChallengeRecord, []byte, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrChallengeNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrChallengeCorrupt, err)
	}
	if record.Expired(s.now()) {
		_ = s.store.Delete(ctx, key)
		return nil, nil, ErrChallengeExpired
	}
	return record, data, nil
}

// Delete removes the record at key.
func (s *ChallengeStore) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Update applies mutate to the current record and writes the result with a
// compare-and-swap. A lost race reloads the record and applies mutate again,
// up to a bounded number of retries. The returned record is the one mutate
// saw last, whether or not it was written.
func (s *ChallengeStore) Update(ctx context.Context, key string, mutate Mutation) (*ChallengeRecord, error) {
	for i := 0; i < maxUpdateRetries; i++ {
		current, raw, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}

		next := current.clone()
		write, err := mutate(next)
		if err != nil {
			return next, err
		}
		if !write {
			return next, nil
		}

		ttl := s.ttl(next)
		if ttl <= 0 {
			_ = s.store.Delete(ctx, key)
			return nil, ErrChallengeExpired
		}
		encoded, err := encodeChallenge(next)
		if err != nil {
			return nil, err
		}

		swapped, err := s.store.CompareAndSwap(ctx, key, raw, encoded, ttl)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrChallengeNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		if swapped {
			return next, nil
		}
	}

	return nil, ErrChallengeContended
}

func encodeChallenge(record *ChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	buf.WriteByte(record.Status)
	buf.WriteByte(record.Method)
	buf.WriteByte(record.Reason)
	for _, v := range []uint16{record.Attempts, record.MaxAttempts} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	for _, v := range []int64{record.CreatedAt, record.ExpiresAt, record.LastAttemptAt, record.CompletedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	for _, field := range [][]byte{
		[]byte(record.ID),
		[]byte(record.SubjectID),
		[]byte(record.SessionID),
		[]byte(record.ProviderHandle),
		record.Secret,
	} {
		if err := writeField(&buf, field); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*ChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &ChallengeRecord{}
	for _, dst := range []*uint8{&record.Status, &record.Method, &record.Reason} {
		if *dst, err = reader.ReadByte(); err != nil {
			return nil, err
		}
	}
	for _, dst := range []*uint16{&record.Attempts, &record.MaxAttempts} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	for _, dst := range []*int64{&record.CreatedAt, &record.ExpiresAt, &record.LastAttemptAt, &record.CompletedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}

	fields := make([][]byte, 5)
	for i := range fields {
		if fields[i], err = readField(reader); err != nil {
			return nil, err
		}
	}
	record.ID = string(fields[0])
	record.SubjectID = string(fields[1])
	record.SessionID = string(fields[2])
	record.ProviderHandle = string(fields[3])
	if len(fields[4]) > 0 {
		record.Secret = fields[4]
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in challenge record")
	}
	return record, nil
}

func writeField(buf *bytes.Buffer, field []byte) error {
	if len(field) > 65535 {
		return errors.New("challenge field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(field))); err != nil {
		return err
	}
	buf.Write(field)
	return nil
}

func readField(reader *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	field := make([]byte, n)
	if _, err := io.ReadFull(reader, field); err != nil {
		return nil, err
	}
	return field, nil
}
