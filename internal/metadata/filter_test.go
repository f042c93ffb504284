package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc() Document {
	return Document{
		"id":     String("daily/2024-01-01.md"),
		"folder": String("daily"),
		"words":  Number(120),
		"pinned": Bool(true),
	}
}

func TestFilter_Matches(t *testing.T) {
	doc := testDoc()
	tests := []struct {
		name   string
		filter string
		want   bool
	}{
		{"implicit equality", `{"folder": "daily"}`, true},
		{"implicit equality miss", `{"folder": "projects"}`, false},
		{"eq number", `{"words": {"$eq": 120}}`, true},
		{"eq type sensitive", `{"words": {"$eq": "120"}}`, false},
		{"ne", `{"folder": {"$ne": "projects"}}`, true},
		{"ne same", `{"folder": {"$ne": "daily"}}`, false},
		{"gt", `{"words": {"$gt": 100}}`, true},
		{"gt equal", `{"words": {"$gt": 120}}`, false},
		{"gte", `{"words": {"$gte": 120}}`, true},
		{"lt", `{"words": {"$lt": 121}}`, true},
		{"lte", `{"words": {"$lte": 119}}`, false},
		{"range", `{"words": {"$gt": 100, "$lt": 200}}`, true},
		{"gt on string is false", `{"folder": {"$gt": 1}}`, false},
		{"gt with string operand is false", `{"words": {"$gt": "a"}}`, false},
		{"in", `{"folder": {"$in": ["daily", "weekly"]}}`, true},
		{"in miss", `{"folder": {"$in": ["weekly"]}}`, false},
		{"in number", `{"words": {"$in": [1, 120]}}`, true},
		{"in bool is false", `{"pinned": {"$in": [true]}}`, false},
		{"nin", `{"folder": {"$nin": ["weekly"]}}`, true},
		{"nin hit", `{"folder": {"$nin": ["daily"]}}`, false},
		{"nin bool is false", `{"pinned": {"$nin": [false]}}`, false},
		{"missing field", `{"author": "me"}`, false},
		{"missing field with ne", `{"author": {"$ne": "me"}}`, false},
		{"and", `{"$and": [{"folder": "daily"}, {"pinned": true}]}`, true},
		{"and one fails", `{"$and": [{"folder": "daily"}, {"pinned": false}]}`, false},
		{"or", `{"$or": [{"folder": "weekly"}, {"words": {"$gte": 100}}]}`, true},
		{"or none", `{"$or": [{"folder": "weekly"}, {"words": {"$gte": 500}}]}`, false},
		{"nested", `{"$or": [{"$and": [{"folder": "daily"}, {"pinned": true}]}, {"folder": "x"}]}`, true},
		{"unknown nested key is equality", `{"folder": {"$like": "daily"}}`, true},
		{"empty filter", `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter([]byte(tt.filter))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Matches(doc))
		})
	}
}

func TestFilter_nilMatchesEverything(t *testing.T) {
	var f *Filter
	assert.True(t, f.Matches(testDoc()))
	assert.True(t, f.Matches(nil))
}

func TestFilter_builders(t *testing.T) {
	doc := testDoc()
	assert.True(t, Eq("folder", String("daily")).Matches(doc))
	assert.True(t, And(Eq("pinned", Bool(true)), Where("words", OpGreaterThan, Number(10))).Matches(doc))
	assert.False(t, Or(Eq("folder", String("x")), Eq("folder", String("y"))).Matches(doc))
	assert.True(t, In("folder", String("x"), String("daily")).Matches(doc))
	assert.False(t, NotIn("folder", String("daily")).Matches(doc))
}

func TestParseFilter_errors(t *testing.T) {
	for _, in := range []string{`[]`, `{"a": null}`, `{"$and": {"a": 1}}`, `{"a": {"$in": 3}}`, `{"a": [1, 2]}`} {
		_, err := ParseFilter([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestValue_JSON(t *testing.T) {
	doc := Document{"n": Number(1.5), "s": String("x"), "b": Bool(false)}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1.5,"s":"x","b":false}`, string(data))

	var back Document
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, doc, back)

	var v Value
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &v))
	_, err = json.Marshal(Value{})
	assert.Error(t, err)
}

func TestFilter_MarshalJSONParsesBack(t *testing.T) {
	f := And(
		Or(Eq("folder", String("daily")), In("folder", String("weekly"))),
		Where("words", OpGreaterEqual, Number(100)),
		NotIn("id", String("skip.md")),
	)
	data, err := json.Marshal(f)
	require.NoError(t, err)

	back, err := ParseFilter(data)
	require.NoError(t, err)
	assert.True(t, back.Matches(testDoc()))
	assert.False(t, back.Matches(Document{"folder": String("daily"), "words": Number(5), "id": String("a.md")}))
}

func TestValue_nullRejected(t *testing.T) {
	_, err := ParseFilter([]byte(`{"folder": {"$in": [null]}}`))
	assert.Error(t, err)
}
