package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/infrastructure/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrips(t *testing.T) {
	secret := "whsec_test_secret"
	body := []byte(`{"type":"room_created"}`)
	ts := int64(1718000000)

	sig := Sign(secret, ts, body)

	assert.True(t, Verify(secret, ts, body, sig))
	assert.False(t, Verify("wrong_secret", ts, body, sig))
	assert.False(t, Verify(secret, ts+1, body, sig))
}

func TestConfig_Accepts_EmptyFilterMeansEverything(t *testing.T) {
	cfg := Config{Active: true}
	assert.True(t, cfg.Accepts(domain.EventRoomCreated))
	assert.True(t, cfg.Accepts(domain.EventQualityDegraded))
}

func TestConfig_Accepts_SpecificFilter(t *testing.T) {
	cfg := Config{Active: true, Events: []domain.EventType{domain.EventParticipantJoined}}
	assert.True(t, cfg.Accepts(domain.EventParticipantJoined))
	assert.False(t, cfg.Accepts(domain.EventRoomCreated))
}

func TestConfig_Accepts_InactiveRejectsEverything(t *testing.T) {
	cfg := Config{Active: false}
	assert.False(t, cfg.Accepts(domain.EventRoomCreated))
}

func TestStore_MatchingFiltersByActiveAndEventType(t *testing.T) {
	store := NewStore()
	store.Insert(Config{ID: "wh_1", Active: true, Events: []domain.EventType{domain.EventRoomCreated}})
	store.Insert(Config{ID: "wh_2", Active: false, Events: []domain.EventType{domain.EventRoomCreated}})
	store.Insert(Config{ID: "wh_3", Active: true})

	matches := store.Matching(domain.EventRoomCreated)
	assert.Len(t, matches, 2)
}

func TestDispatcher_DeliversSignedRequestOnMatchingEvent(t *testing.T) {
	var gotSignature, gotTimestamp, gotEventHeader string
	var hits int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		gotSignature = r.Header.Get("X-LiveRelay-Signature")
		gotTimestamp = r.Header.Get("X-LiveRelay-Timestamp")
		gotEventHeader = r.Header.Get("X-LiveRelay-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bus := eventbus.New()
	store := NewStore()
	store.Insert(Config{ID: "wh_1", URL: server.URL, Secret: "whsec_abc", Active: true})

	dispatcher := NewDispatcher(store, bus, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go dispatcher.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let Run reach Subscribe before Emit

	bus.Emit(eventbus.RoomCreated("room-1", "broadcast"))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, gotSignature)
	assert.NotEmpty(t, gotTimestamp)
	assert.Equal(t, "room_created", gotEventHeader)
}

func TestDispatcher_SkipsNonMatchingWebhooks(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bus := eventbus.New()
	store := NewStore()
	store.Insert(Config{ID: "wh_1", URL: server.URL, Secret: "s", Active: true, Events: []domain.EventType{domain.EventQualityDegraded}})

	dispatcher := NewDispatcher(store, bus, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go dispatcher.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Emit(eventbus.RoomCreated("room-1", "broadcast"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}
