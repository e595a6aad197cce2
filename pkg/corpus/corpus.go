// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus loads the static seed corpus and samples initial seeds from
// labelled buckets. The corpus is immutable after loading; schedulers keep
// their own bookkeeping and never write back.
package corpus

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/how2fps/fuzzer/pkg/seed"
	"gopkg.in/yaml.v3"
)

// ErrOverflow reports a batch request that exceeds the available seeds.
var ErrOverflow = errors.New("corpus: requested more seeds than available")

// Manifest is the on-disk YAML corpus description.
type Manifest struct {
	Family    string           `yaml:"family"`
	DatasetID string           `yaml:"dataset_id"`
	Buckets   []BucketManifest `yaml:"buckets"`
}

type BucketManifest struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Seeds       []SeedManifest `yaml:"seeds"`
}

type SeedManifest struct {
	Label   string `yaml:"label"`
	Content string `yaml:"content"`
}

// Bucket is a labelled subset of the corpus.
type Bucket struct {
	Name        string
	Description string
	Seeds       []*seed.Seed
}

type Corpus struct {
	family    string
	datasetID string
	buckets   map[string]*Bucket
	order     []string // bucket insertion order
	seeds     []*seed.Seed
}

// Load reads a YAML corpus manifest from disk.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("corpus: %v: %w", path, err)
	}
	return c, nil
}

// Parse builds a corpus from manifest bytes. Seed ids are assigned densely
// in manifest order, starting at 1.
func Parse(data []byte) (*Corpus, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Family == "" {
		return nil, fmt.Errorf("manifest has no target family")
	}
	c := &Corpus{
		family:    m.Family,
		datasetID: m.DatasetID,
		buckets:   make(map[string]*Bucket),
	}
	nextID := 1
	for _, bm := range m.Buckets {
		if _, ok := c.buckets[bm.Name]; ok {
			return nil, fmt.Errorf("duplicate bucket %q", bm.Name)
		}
		bucket := &Bucket{
			Name:        bm.Name,
			Description: bm.Description,
		}
		for _, sm := range bm.Seeds {
			s := &seed.Seed{
				ID:     nextID,
				Data:   []byte(sm.Content),
				Bucket: bm.Name,
				Family: m.Family,
			}
			nextID++
			bucket.Seeds = append(bucket.Seeds, s)
			c.seeds = append(c.seeds, s)
		}
		c.buckets[bm.Name] = bucket
		c.order = append(c.order, bm.Name)
	}
	return c, nil
}

func (c *Corpus) Family() string {
	return c.family
}

func (c *Corpus) DatasetID() string {
	return c.datasetID
}

// Seeds returns all seeds in manifest order.
func (c *Corpus) Seeds() []*seed.Seed {
	return c.seeds
}

func (c *Corpus) Buckets() []string {
	return c.order
}

func (c *Corpus) Bucket(name string) (*Bucket, error) {
	bucket, ok := c.buckets[name]
	if !ok {
		return nil, fmt.Errorf("unknown bucket %q for family %q", name, c.family)
	}
	return bucket, nil
}

// Sample draws one seed. With weights, buckets are drawn with probability
// proportional to their weight; otherwise uniformly across buckets.
func (c *Corpus) Sample(r *rand.Rand, weights map[string]float64) (*seed.Seed, error) {
	if len(c.order) == 0 {
		return nil, fmt.Errorf("family %q has no buckets", c.family)
	}
	name := c.order[r.Intn(len(c.order))]
	if len(weights) > 0 {
		total := 0.0
		for _, b := range c.order {
			if w := weights[b]; w > 0 {
				total += w
			}
		}
		if total > 0 {
			val := r.Float64() * total
			acc := 0.0
			for _, b := range c.order {
				w := weights[b]
				if w <= 0 {
					continue
				}
				acc += w
				if acc >= val {
					name = b
					break
				}
			}
		}
	}
	return c.SampleBucket(r, name)
}

func (c *Corpus) SampleBucket(r *rand.Rand, name string) (*seed.Seed, error) {
	bucket, err := c.Bucket(name)
	if err != nil {
		return nil, err
	}
	if len(bucket.Seeds) == 0 {
		return nil, fmt.Errorf("bucket %q has no seeds", name)
	}
	return bucket.Seeds[r.Intn(len(bucket.Seeds))], nil
}

// SampleRatioBatch draws exactly total seeds without replacement, splitting
// the total across buckets by the given ratios with largest-remainder
// rounding. Requests exceeding a bucket's capacity fail with ErrOverflow.
func (c *Corpus) SampleRatioBatch(r *rand.Rand, total int, ratios map[string]float64) ([]*seed.Seed, error) {
	if total < 0 {
		return nil, fmt.Errorf("corpus: total must be >= 0, got %v", total)
	}
	counts, err := c.planBucketCounts(total, ratios)
	if err != nil {
		return nil, err
	}
	var out []*seed.Seed
	// Walk buckets in manifest order for determinism.
	for _, name := range c.order {
		count := counts[name]
		if count == 0 {
			continue
		}
		pool := c.buckets[name].Seeds
		if count > len(pool) {
			return nil, fmt.Errorf("%w: %v seeds from bucket %q, only %v available",
				ErrOverflow, count, name, len(pool))
		}
		// Sample without replacement: partial Fisher-Yates over a copy.
		shuffled := append([]*seed.Seed{}, pool...)
		for i := 0; i < count; i++ {
			j := i + r.Intn(len(shuffled)-i)
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		}
		out = append(out, shuffled[:count]...)
	}
	r.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out, nil
}

// planBucketCounts turns ratios into exact per-bucket counts summing to
// total, using largest-remainder rounding with deterministic tie-breaks.
func (c *Corpus) planBucketCounts(total int, ratios map[string]float64) (map[string]int, error) {
	if len(ratios) == 0 {
		return nil, fmt.Errorf("corpus: bucket ratios must not be empty")
	}
	ratioSum := 0.0
	for name, ratio := range ratios {
		if _, ok := c.buckets[name]; !ok {
			return nil, fmt.Errorf("unknown bucket %q for family %q", name, c.family)
		}
		if ratio < 0 {
			return nil, fmt.Errorf("corpus: negative ratio for bucket %q", name)
		}
		ratioSum += ratio
	}
	if ratioSum <= 0 {
		return nil, fmt.Errorf("corpus: sum of bucket ratios must be > 0")
	}
	names := make([]string, 0, len(ratios))
	for name := range ratios {
		names = append(names, name)
	}
	sort.Strings(names)

	counts := make(map[string]int, len(names))
	raw := make(map[string]float64, len(names))
	assigned := 0
	for _, name := range names {
		raw[name] = ratios[name] / ratioSum * float64(total)
		counts[name] = int(raw[name])
		assigned += counts[name]
	}
	sort.SliceStable(names, func(i, j int) bool {
		ri := raw[names[i]] - float64(counts[names[i]])
		rj := raw[names[j]] - float64(counts[names[j]])
		if ri != rj {
			return ri > rj
		}
		if raw[names[i]] != raw[names[j]] {
			return raw[names[i]] > raw[names[j]]
		}
		return names[i] < names[j]
	})
	for i := 0; i < total-assigned; i++ {
		counts[names[i%len(names)]]++
	}
	return counts, nil
}

// Summary describes the corpus for logs and stats dumps.
type Summary struct {
	Family       string
	DatasetID    string
	TotalSeeds   int
	BucketCounts map[string]int
}

func (c *Corpus) Summary() Summary {
	counts := make(map[string]int, len(c.buckets))
	for name, bucket := range c.buckets {
		counts[name] = len(bucket.Seeds)
	}
	return Summary{
		Family:       c.family,
		DatasetID:    c.datasetID,
		TotalSeeds:   len(c.seeds),
		BucketCounts: counts,
	}
}
