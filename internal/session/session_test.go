package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNew_StartsAtInitialState(t *testing.T) {
	s := New("u1")
	assert.Equal(t, OnboardingEntry, s.State)
	assert.Empty(t, s.History)
	assert.NoError(t, s.Validate())
}

func TestStatePrefixes(t *testing.T) {
	assert.True(t, GatheringReferralInfo.IsGathering())
	assert.True(t, OnboardingIntroduction.IsOnboarding())
	assert.False(t, HandlingPlanFeedback.IsGathering())
	assert.False(t, State("bogus").Valid())
	assert.Len(t, States, 23)
}

func TestClone_IsIndependent(t *testing.T) {
	s := New("u1")
	s.Append(SpeakerUser, "salam")
	c := s.Clone()
	c.Append(SpeakerAgent, "wa alaikum assalam")
	c.Details.Name = "Ali"

	assert.Len(t, s.History, 1)
	assert.Empty(t, s.Details.Name)
}

func TestValidate_RejectsBadShapes(t *testing.T) {
	cases := []func(*Session){
		func(s *Session) { s.State = "lost" },
		func(s *Session) { s.UserID = "" },
		func(s *Session) { s.Details.LastPlanShown = 13 },
		func(s *Session) { s.Details.FinalPlanLevel = -1 },
		func(s *Session) { s.Details.BenefitStep = -2 },
		func(s *Session) { s.Details.ObjectionStep = 4 },
		func(s *Session) { s.History = []Turn{{Speaker: "bot", Text: "x"}} },
	}
	for i, mutate := range cases {
		s := New("u1")
		mutate(s)
		assert.Error(t, s.Validate(), "case %d", i)
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	s, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, OnboardingEntry, s.State)
	assert.Equal(t, 0, s.Version)

	s.State = GatheringName
	s.Details.Name = "Ali"
	s.Append(SpeakerUser, "salam")
	s.Append(SpeakerAgent, "Wa Alaikum Assalam")
	require.NoError(t, store.Save(ctx, s))
	assert.Equal(t, 1, s.Version)

	loaded, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, GatheringName, loaded.State)
	assert.Equal(t, "Ali", loaded.Details.Name)
	assert.Equal(t, s.History, loaded.History)
	assert.Equal(t, 1, loaded.Version)

	// A second writer holding the old version must not overwrite.
	stale := loaded.Clone()
	loaded.State = GatheringAge
	require.NoError(t, store.Save(ctx, loaded))
	stale.State = GatheringCity
	assert.True(t, errors.Is(store.Save(ctx, stale), ErrVersionConflict))

	final, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, GatheringAge, final.State)
}

func TestMemoryStore_RoundTripAndConflict(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_MalformedRecordIsReinitialised(t *testing.T) {
	store := NewMemoryStore()
	store.PutRaw("user-2", []byte(`{"userId":"user-2","state":"teleported"}`))

	s, err := store.Load(context.Background(), "user-2")
	assert.True(t, errors.Is(err, ErrMalformedSession))
	require.NotNil(t, s)
	assert.Equal(t, "user-2", s.UserID)
	assert.Equal(t, OnboardingEntry, s.State)

	// The fresh session carries the stored version so it can overwrite the bad record.
	require.NoError(t, store.Save(context.Background(), s))
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dbConn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := dbConn.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return dbConn
}

func TestGormStore_RoundTripAndConflict(t *testing.T) {
	exerciseStore(t, NewGormStore(openSQLite(t)))
}

func TestGormStore_MalformedRecordIsReinitialised(t *testing.T) {
	dbConn := openSQLite(t)
	require.NoError(t, dbConn.Create(&Record{
		UserID:  "user-3",
		State:   "gathering_name",
		Details: []byte(`{"lastPlanShown": 99}`),
		History: []byte(`[]`),
		Version: 4,
	}).Error)

	store := NewGormStore(dbConn)
	s, err := store.Load(context.Background(), "user-3")
	assert.True(t, errors.Is(err, ErrMalformedSession))
	assert.Equal(t, OnboardingEntry, s.State)
	assert.Equal(t, 4, s.Version)

	require.NoError(t, store.Save(context.Background(), s))
	reloaded, err := store.Load(context.Background(), "user-3")
	require.NoError(t, err)
	assert.Equal(t, OnboardingEntry, reloaded.State)
}

func TestGormStore_ClosedDatabaseIsUnavailable(t *testing.T) {
	dbConn := openSQLite(t)
	sqlDB, err := dbConn.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = NewGormStore(dbConn).Load(context.Background(), "user-4")
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

// Redis tests need a real server; set TEST_REDIS_ADDR to run them.
func redisForTest(t *testing.T) *redis.Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisStore_RoundTripAndConflict(t *testing.T) {
	exerciseStore(t, NewRedisStore(redisForTest(t), time.Minute))
}

func TestRedisLocker_Exclusive(t *testing.T) {
	locker := NewRedisLocker(redisForTest(t), 5*time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "u1")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "u1")
	assert.Error(t, err)

	unlock()
	unlock2, err := locker.Lock(ctx, "u1")
	require.NoError(t, err)
	unlock2()
}

func TestLocalLocker_SerialisesSameUser(t *testing.T) {
	locker := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "same-user")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, locker.entries)
}

func TestLocalLocker_DifferentUsersDoNotBlock(t *testing.T) {
	locker := NewLocalLocker()
	unlockA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Empty(t, locker.entries)
}
