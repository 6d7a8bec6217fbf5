package publish

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "crono/pkg/domain"
)

func TestAudienceScoping(t *testing.T) {
	stageID := id.StageID(uuid.New())
	catID := id.CategoryID(uuid.New())

	stageWide := Event{Kind: KindClassificationUpdated, StageID: stageID}
	assert.Equal(t, "stage:"+stageID.String(), stageWide.Audience())

	perCategory := Event{Kind: KindClassificationUpdated, StageID: stageID, CategoryID: &catID}
	assert.Equal(t, "stage:"+stageID.String()+":category:"+catID.String(), perCategory.Audience())

	perBike := Event{Kind: KindNewPass, StageID: stageID, Bike: 42}
	assert.Equal(t, "stage:"+stageID.String()+":bike:42", perBike.Audience())
}

func TestMemoryPublisher_SyncMode(t *testing.T) {
	pub := NewMemoryPublisher()
	defer pub.Close()

	stageID := id.StageID(uuid.New())
	err := pub.Publish(context.Background(), Event{Kind: KindNewPass, StageID: stageID, Bike: 7})
	require.NoError(t, err)

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, KindNewPass, events[0].Kind)
	assert.Equal(t, 7, events[0].Bike)
}

func TestMemoryPublisher_AsyncDrainsOnClose(t *testing.T) {
	pub := NewMemoryPublisher(WithAsyncBuffer(100))

	stageID := id.StageID(uuid.New())
	for range 10 {
		err := pub.Publish(context.Background(), Event{
			Kind:    KindClassificationUpdated,
			StageID: stageID,
			At:      time.Now(),
		})
		require.NoError(t, err)
	}

	// Close should drain all buffered events
	require.NoError(t, pub.Close())
	assert.Len(t, pub.ByKind(KindClassificationUpdated), 10)
}
