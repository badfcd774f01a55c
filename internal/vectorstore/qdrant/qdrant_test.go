package qdrant

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
)

func TestToFilter(t *testing.T) {
	assert.Nil(t, toFilter(nil))

	f := toFilter(domain.Eq(domain.FieldSourceType, "pdf"))
	require.Len(t, f.GetMust(), 1)
	field := f.GetMust()[0].GetField()
	assert.Equal(t, domain.FieldSourceType, field.GetKey())
	assert.Equal(t, "pdf", field.GetMatch().GetKeyword())

	f = toFilter(domain.In(domain.FieldSourcePath, "/a.txt", "/b.txt"))
	require.Len(t, f.GetMust(), 1)
	field = f.GetMust()[0].GetField()
	assert.Equal(t, domain.FieldSourcePath, field.GetKey())
	assert.Equal(t, []string{"/a.txt", "/b.txt"}, field.GetMatch().GetKeywords().GetStrings())
}

func TestPointID(t *testing.T) {
	u := uuid.NewString()
	assert.Equal(t, u, pointID(u).GetUuid())

	a, b := pointID("chunk-1"), pointID("chunk-1")
	assert.Equal(t, a.GetUuid(), b.GetUuid())
	_, err := uuid.Parse(a.GetUuid())
	assert.NoError(t, err)
	assert.NotEqual(t, a.GetUuid(), pointID("chunk-2").GetUuid())
}

func TestPayloadRoundTrip(t *testing.T) {
	in := domain.IndexedVector{
		ID:   "id-1",
		Text: "some text",
		Metadata: domain.Metadata{
			SourcePath:  "/docs/a.pdf",
			SourceType:  "pdf",
			Filename:    "a.pdf",
			ChunkIndex:  7,
			IndexedAt:   time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC),
			Fingerprint: "abc",
		},
	}
	out := fromPayload(toPayload(in))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Text, out.Text)
	assert.Equal(t, in.Metadata, out.Metadata)
}
