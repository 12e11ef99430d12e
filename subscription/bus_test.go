// Copyright 2024 The Katana Authors
// This file is part of Katana.
//
// Katana is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Katana is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Katana. If not, see <http://www.gnu.org/licenses/>.

package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katana-sequencer/katana/katanalib/common"
)

func TestTopicPublishSubscribe(t *testing.T) {
	topic := NewTopic[int]()
	_, ch, cancel := topic.Subscribe(nil)
	defer cancel()

	topic.Publish(42)
	require.Equal(t, 42, <-ch)
}

func TestTopicFilterExcludesNonMatching(t *testing.T) {
	topic := NewTopic[int]()
	_, ch, cancel := topic.Subscribe(func(v int) bool { return v > 10 })
	defer cancel()

	topic.Publish(1)
	topic.Publish(11)
	require.Equal(t, 11, <-ch)
}

func TestTopicDropsSubscriberOnFullChannel(t *testing.T) {
	topic := NewTopic[int]()
	_, ch, cancel := topic.Subscribe(nil)
	defer cancel()

	for i := 0; i < listenerBuffer+10; i++ {
		topic.Publish(i)
	}
	require.Equal(t, 0, topic.SubscriberCount(), "subscriber should be dropped once its channel fills")
	_, stillOpen := <-ch
	for stillOpen {
		_, stillOpen = <-ch
	}
}

func TestEntityKeysClauseHashedKeys(t *testing.T) {
	id := common.FeltFromUint64(7)
	clause := EntityKeysClause{HashedKeys: []common.Felt{id}}
	require.True(t, clause.Match(EntityUpdate{EntityID: id}))
	require.False(t, clause.Match(EntityUpdate{EntityID: common.FeltFromUint64(8)}))
}

func TestEntityKeysClauseModelWildcard(t *testing.T) {
	clause := EntityKeysClause{Namespace: "game", ModelName: "*"}
	require.True(t, clause.Match(EntityUpdate{Namespace: "game", Model: "Position"}))
	require.False(t, clause.Match(EntityUpdate{Namespace: "other", Model: "Position"}))
}

func TestMatchKeysVariableLen(t *testing.T) {
	a := common.FeltFromUint64(1)
	patterns := []KeyPattern{{Value: &a}, {VariableLen: true}}
	require.True(t, matchKeys(patterns, []common.Felt{a, common.FeltFromUint64(2), common.FeltFromUint64(3)}))
	require.False(t, matchKeys(patterns, []common.Felt{common.FeltFromUint64(9)}))
}

func TestMatchKeysFixedLenExactLength(t *testing.T) {
	patterns := []KeyPattern{{}, {}}
	require.True(t, matchKeys(patterns, []common.Felt{common.FeltFromUint64(1), common.FeltFromUint64(2)}))
	require.False(t, matchKeys(patterns, []common.Felt{common.FeltFromUint64(1)}))
}

func TestBusSubscribeEntitiesOrOfClauses(t *testing.T) {
	bus := New()
	a := common.FeltFromUint64(1)
	_, ch, cancel := bus.SubscribeEntities([]EntityKeysClause{{HashedKeys: []common.Felt{a}}})
	defer cancel()

	bus.PublishEntity(EntityUpdate{EntityID: common.FeltFromUint64(2)})
	bus.PublishEntity(EntityUpdate{EntityID: a})

	got := <-ch
	require.Equal(t, a, got.EntityID)
}
