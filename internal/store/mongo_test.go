package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
)

func TestConversationDocumentMapping(t *testing.T) {
	ts := time.Date(2025, 5, 6, 7, 8, 9, 987_654_321, time.UTC)
	turn := chat.Turn{
		ID:        "t-1",
		Input:     "I feel low",
		Modality:  chat.ModalityAudio,
		Emotions:  emotion.Observation{emotion.ChannelText: "sad", emotion.ChannelSpeech: "neutral"},
		Reply:     "I'm here with you.",
		Timestamp: ts,
	}

	doc := conversationFromTurn(turn)
	assert.Equal(t, "I feel low", doc.UserInput)
	assert.Equal(t, "I'm here with you.", doc.AIOutput)
	assert.Equal(t, "sad", doc.Emotions["text"])

	back := turnFromConversation(doc)
	assert.Equal(t, turn.ID, back.ID)
	assert.Equal(t, turn.Emotions, back.Emotions)
	assert.True(t, back.Timestamp.Equal(ts.Truncate(time.Millisecond)))
}

func TestConversationDocumentUsesHistoricalFieldNames(t *testing.T) {
	raw, err := bson.Marshal(conversationFromTurn(chat.Turn{ID: "t", Input: "in", Reply: "out"}))
	assert.NoError(t, err)

	var fields bson.M
	assert.NoError(t, bson.Unmarshal(raw, &fields))
	assert.Equal(t, "in", fields["user_input"])
	assert.Equal(t, "out", fields["AI_output"])
	assert.Contains(t, fields, "timestamp")
}

func TestAppendTurnUpdateKeepsTimestampOrder(t *testing.T) {
	doc := conversationFromTurn(chat.Turn{ID: "t-0", Input: "late retry", Timestamp: time.Now()})
	update := appendTurnUpdate(doc)

	push, ok := update["$push"].(bson.M)
	require.True(t, ok)
	spec, ok := push["conversations"].(bson.M)
	require.True(t, ok, "a bare $push would append a retried turn at the end")
	assert.Equal(t, bson.A{doc}, spec["$each"])
	assert.Equal(t, bson.M{"timestamp": 1}, spec["$sort"])
}

func TestLegacyConversationDefaultsToText(t *testing.T) {
	turn := turnFromConversation(conversationDocument{UserInput: "hi", AIOutput: "hello"})
	assert.Equal(t, chat.ModalityText, turn.Modality)
	assert.Nil(t, turn.Emotions)
}

func TestProfileFromDocument(t *testing.T) {
	oid := primitive.NewObjectID()
	profile := profileFromDocument(userDocument{ID: oid, Name: "Ana", Age: 30, Problem: "stress"})
	assert.Equal(t, oid.Hex(), profile.ID)
	assert.Equal(t, "stress", profile.Problem)
}

func TestConflictDocumentMapping(t *testing.T) {
	record := chat.ConflictRecord{
		ID:          "c-1",
		UserID:      "u-1",
		Observation: emotion.Observation{emotion.ChannelText: "angry", emotion.ChannelFacial: "happy"},
		Dominant:    "angry",
		Timestamp:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, record, recordFromConflict(conflictFromRecord(record)))
}
