// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/how2fps/fuzzer/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `
family: json
dataset_id: json-v1
buckets:
  - name: valid
    description: well-formed documents
    seeds:
      - label: object
        content: '{"a": 1}'
      - label: array
        content: '[1, 2, 3]'
      - label: nested
        content: '{"a": {"b": []}}'
  - name: near_valid
    description: one edit away from parsing
    seeds:
      - label: trailing-comma
        content: '{"a": 1,}'
      - label: bare-key
        content: '{a: 1}'
  - name: string_stress
    description: escape and unicode torture
    seeds:
      - label: escapes
        content: '" \n\\"'
`

func parseTestCorpus(t *testing.T) *Corpus {
	c, err := Parse([]byte(testManifest))
	require.NoError(t, err)
	return c
}

func TestParse(t *testing.T) {
	c := parseTestCorpus(t)
	assert.Equal(t, "json", c.Family())
	assert.Equal(t, "json-v1", c.DatasetID())
	assert.Equal(t, []string{"valid", "near_valid", "string_stress"}, c.Buckets())
	require.Len(t, c.Seeds(), 6)

	// Ids are dense, in manifest order, starting at 1.
	for i, s := range c.Seeds() {
		assert.Equal(t, i+1, s.ID)
		assert.Equal(t, "json", s.Family)
	}
	bucket, err := c.Bucket("near_valid")
	require.NoError(t, err)
	assert.Len(t, bucket.Seeds, 2)
	assert.Equal(t, "near_valid", bucket.Seeds[0].Bucket)

	_, err = c.Bucket("nonexistent")
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("buckets: []"))
	assert.Error(t, err) // no family

	_, err = Parse([]byte("family: x\nbuckets: [{name: a}, {name: a}]"))
	assert.Error(t, err) // duplicate bucket

	_, err = Parse([]byte("{{{"))
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	c := parseTestCorpus(t)
	r := rand.New(testutil.RandSource(t))

	counts := make(map[string]int)
	for i := 0; i < testutil.IterCount(); i++ {
		s, err := c.Sample(r, nil)
		require.NoError(t, err)
		counts[s.Bucket]++
	}
	for _, bucket := range c.Buckets() {
		assert.Positive(t, counts[bucket], "bucket %v never sampled", bucket)
	}

	// Weighted sampling honours zero weights.
	for i := 0; i < 100; i++ {
		s, err := c.Sample(r, map[string]float64{"valid": 1.0})
		require.NoError(t, err)
		assert.Equal(t, "valid", s.Bucket)
	}
}

func TestSampleRatioBatch(t *testing.T) {
	c := parseTestCorpus(t)
	r := rand.New(testutil.RandSource(t))

	batch, err := c.SampleRatioBatch(r, 4, map[string]float64{
		"valid":      0.5,
		"near_valid": 0.5,
	})
	require.NoError(t, err)
	require.Len(t, batch, 4)

	counts := make(map[string]int)
	ids := make(map[int]bool)
	for _, s := range batch {
		counts[s.Bucket]++
		assert.False(t, ids[s.ID], "seed %v drawn twice", s.ID)
		ids[s.ID] = true
	}
	assert.Equal(t, 2, counts["valid"])
	assert.Equal(t, 2, counts["near_valid"])
}

func TestSampleRatioBatchOverflow(t *testing.T) {
	c := parseTestCorpus(t)
	r := rand.New(testutil.RandSource(t))

	// string_stress has a single seed; asking for 5 must overflow.
	_, err := c.SampleRatioBatch(r, 5, map[string]float64{"string_stress": 1.0})
	require.ErrorIs(t, err, ErrOverflow)

	_, err = c.SampleRatioBatch(r, 3, map[string]float64{})
	assert.Error(t, err)

	_, err = c.SampleRatioBatch(r, 3, map[string]float64{"no_such_bucket": 1.0})
	assert.Error(t, err)

	_, err = c.SampleRatioBatch(r, 3, map[string]float64{"valid": -1.0})
	assert.Error(t, err)
}

func TestPlanBucketCountsDeterministic(t *testing.T) {
	c := parseTestCorpus(t)
	ratios := map[string]float64{"valid": 1, "near_valid": 1, "string_stress": 1}
	first, err := c.planBucketCounts(5, ratios)
	require.NoError(t, err)
	total := 0
	for _, n := range first {
		total += n
	}
	assert.Equal(t, 5, total)
	for i := 0; i < 20; i++ {
		again, err := c.planBucketCounts(5, ratios)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(first, again))
	}
}

func TestSummary(t *testing.T) {
	c := parseTestCorpus(t)
	sum := c.Summary()
	assert.Equal(t, "json", sum.Family)
	assert.Equal(t, 6, sum.TotalSeeds)
	assert.Equal(t, 3, sum.BucketCounts["valid"])
}
