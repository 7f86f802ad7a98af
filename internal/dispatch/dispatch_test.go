package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupModelsSharesAudioPrep(t *testing.T) {
	a := LoadedModel{SampleRate: 48000, ChunkDuration: 3, Preprocessed: false}
	b := LoadedModel{SampleRate: 48000, ChunkDuration: 3, Preprocessed: false}
	c := LoadedModel{SampleRate: 48000, ChunkDuration: 3, Preprocessed: true}
	d := LoadedModel{SampleRate: 44100, ChunkDuration: 3, Preprocessed: false}

	groups := groupModels([]LoadedModel{a, b, c, d})
	assert.Len(t, groups, 3)

	for _, g := range groups {
		if len(g) > 1 {
			assert.Len(t, g, 2)
		}
	}
}

func TestGroupModelsSplitsOnDifferingOverlap(t *testing.T) {
	a := LoadedModel{SampleRate: 48000, ChunkDuration: 3, Overlap: 0}
	b := LoadedModel{SampleRate: 48000, ChunkDuration: 3, Overlap: 1.5}

	groups := groupModels([]LoadedModel{a, b})
	assert.Len(t, groups, 2, "models sharing sample rate and chunk duration but not overlap must decode separately")
}

func TestGroupModelsPreservesOrder(t *testing.T) {
	a := LoadedModel{SampleRate: 48000, ChunkDuration: 3}
	b := LoadedModel{SampleRate: 44100, ChunkDuration: 3}
	groups := groupModels([]LoadedModel{a, b})
	assert.Equal(t, 48000, groups[0][0].SampleRate)
	assert.Equal(t, 44100, groups[1][0].SampleRate)
}

func TestMarkSeenClearsAtCapacity(t *testing.T) {
	d := New(Config{})
	for i := 0; i < maxProcessed; i++ {
		d.markSeen("peer-1", fmt.Sprintf("file-%d.wav", i))
	}
	assert.Len(t, d.seenSet("peer-1"), maxProcessed)

	d.markSeen("peer-1", "overflow.wav")
	seen := d.seenSet("peer-1")
	assert.Len(t, seen, 1, "hitting the cap clears the whole set rather than evicting one entry")
	assert.True(t, seen["overflow.wav"])
}
