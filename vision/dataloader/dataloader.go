// Package dataloader turns an unpaired image dataset into a stream of
// (A, B) batches for the trainer.
package dataloader

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/tsawler/gantrain/tensor"
	"github.com/tsawler/gantrain/training"
	"github.com/tsawler/gantrain/vision/preprocessing"
)

// Dataset is an unpaired two-domain dataset.
type Dataset interface {
	Len() int
	Paths() (a, b []string)
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize    int
	ImageSize    int
	Channels     int
	Shuffle      bool
	Seed         int64
	MaxCacheSize int // maximum number of decoded images kept in memory
	NumWorkers   int // parallel decodes per batch
}

// DataLoader implements training.Stream. Every pass walks domain A (or the
// larger domain) in a seeded order and pairs each image with a randomly
// drawn image of domain B, so the two domains stay unaligned.
type DataLoader struct {
	pathsA, pathsB []string
	length         int
	config         Config

	mu  sync.Mutex
	rng *rand.Rand

	cache     *CacheManager
	processor *preprocessing.ImageProcessor
}

// NewDataLoader creates a data loader over dataset.
func NewDataLoader(dataset Dataset, config Config) (*DataLoader, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", config.BatchSize)
	}
	if config.Channels == 0 {
		config.Channels = 3
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4
	}

	processor, err := preprocessing.NewImageProcessor(config.ImageSize, config.Channels)
	if err != nil {
		return nil, err
	}

	a, b := dataset.Paths()
	if len(a) == 0 || len(b) == 0 {
		return nil, fmt.Errorf("both domains need at least one image")
	}

	return &DataLoader{
		pathsA:    a,
		pathsB:    b,
		length:    dataset.Len(),
		config:    config,
		rng:       rand.New(rand.NewSource(config.Seed)),
		cache:     NewCacheManager(config.MaxCacheSize),
		processor: processor,
	}, nil
}

// Len is the number of batches per pass; the last batch may be short.
func (dl *DataLoader) Len() int {
	return (dl.length + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// Epoch starts a new pass. The order of each pass is drawn from the
// loader's seeded generator, so a fixed seed gives a fixed sequence of
// passes.
func (dl *DataLoader) Epoch(ctx context.Context) (training.BatchIterator, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	order := make([]int, dl.length)
	for i := range order {
		order[i] = i
	}
	if dl.config.Shuffle {
		dl.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	pairs := make([]int, dl.length)
	for i := range pairs {
		if dl.config.Shuffle {
			pairs[i] = dl.rng.Intn(len(dl.pathsB))
		} else {
			pairs[i] = order[i] % len(dl.pathsB)
		}
	}

	return &iterator{
		loader: dl,
		order:  order,
		pairs:  pairs,
	}, nil
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	return dl.cache.Stats().String()
}

type iterator struct {
	loader *DataLoader
	order  []int
	pairs  []int
	pos    int
}

func (it *iterator) Next(ctx context.Context) (training.Batch, error) {
	if it.pos >= len(it.order) {
		return training.Batch{}, io.EOF
	}
	end := min(it.pos+it.loader.config.BatchSize, len(it.order))

	var pathsA, pathsB []string
	for i := it.pos; i < end; i++ {
		pathsA = append(pathsA, it.loader.pathsA[it.order[i]%len(it.loader.pathsA)])
		pathsB = append(pathsB, it.loader.pathsB[it.pairs[i]])
	}
	it.pos = end

	a, err := it.loader.load(ctx, pathsA)
	if err != nil {
		return training.Batch{}, fmt.Errorf("domain A: %w", err)
	}
	b, err := it.loader.load(ctx, pathsB)
	if err != nil {
		return training.Batch{}, fmt.Errorf("domain B: %w", err)
	}
	return training.Batch{A: a, B: b}, nil
}

// load assembles an NCHW tensor from paths, decoding cache misses in
// parallel.
func (dl *DataLoader) load(ctx context.Context, paths []string) (*tensor.Tensor, error) {
	itemSize := dl.processor.ItemSize()
	data := make([]float32, len(paths)*itemSize)

	var missing []string
	var slots []int
	for i, path := range paths {
		if cached, ok := dl.cache.Get(path); ok {
			copy(data[i*itemSize:], cached)
			continue
		}
		missing = append(missing, path)
		slots = append(slots, i)
	}

	if len(missing) > 0 {
		images, err := preprocessing.PreprocessBatch(ctx, dl.processor, missing, dl.config.NumWorkers)
		if err != nil {
			return nil, err
		}
		for j, img := range images {
			copy(data[slots[j]*itemSize:], img.Data)
			dl.cache.Put(missing[j], img.Data)
		}
	}

	size := dl.config.ImageSize
	return tensor.New([]int{len(paths), dl.config.Channels, size, size}, data)
}
