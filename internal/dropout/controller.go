package dropout

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Level classifies how close the audio pipeline is running to its deadline.
type Level int32

const (
	LevelNone Level = iota
	LevelMinor
	LevelModerate
	LevelSevere
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelMinor:
		return "minor"
	case LevelModerate:
		return "moderate"
	case LevelSevere:
		return "severe"
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

// Strategy is the recommended buffering policy.
type Strategy int32

const (
	StrategyFixed Strategy = iota
	StrategyAdaptive
)

func (s Strategy) String() string {
	if s == StrategyAdaptive {
		return "adaptive"
	}
	return "fixed"
}

// ThreadPriority is the recommended scheduling class for the audio thread.
type ThreadPriority int32

const (
	PriorityNormal ThreadPriority = iota
	PriorityRealTime
)

// Metrics is the read-only per-block measurement state.
type Metrics struct {
	BufferLevel              float64 // headroom fraction in [0,1]; 1 = idle, 0 = at/over deadline
	DroppedBufferCount       uint64
	LastProcessingDurationUs int64
}

// Classification thresholds as duration/budget ratios. A level engages only
// after sustainBlocks consecutive blocks at or over its threshold and
// disengages after the same number of consecutive blocks under the
// threshold minus releaseMargin, so single-block noise cannot flap the
// level.
const (
	minorRatio    = 0.70
	moderateRatio = 0.85
	severeRatio   = 1.00
	releaseMargin = 0.10
	sustainBlocks = 3
)

const (
	// growCooldownBlocks gates consecutive buffer-size changes.
	growCooldownBlocks = 4
	// shrinkCleanBlocks of comfortable headroom are needed before the
	// recommendation decays back toward its base.
	shrinkCleanBlocks = 5
	shrinkRatio       = 0.50
	maxGrowthFactor   = 8
)

// Controller observes per-block execution timing and feeds back buffering
// and priority recommendations. RecordBlockDuration is called once per
// period from the audio thread; every accessor is lock-free and safe from
// either thread. The controller never raises errors: a missed deadline is
// counted and classified, never retried.
type Controller struct {
	baseFrames int

	// published state, atomically readable from the control thread
	level       atomic.Int32
	strategy    atomic.Int32
	recFrames   atomic.Int64
	dropped     atomic.Uint64
	lastDurUs   atomic.Int64
	bufferLevel atomic.Uint64 // float64 bits

	// hysteresis state, touched only by the recording thread
	overStreak  [3]int // consecutive blocks over minor/moderate/severe
	underStreak [3]int
	cleanStreak int
	cooldown    int
}

// NewController builds a controller around a base buffer size in frames.
func NewController(baseBufferFrames int) (*Controller, error) {
	if baseBufferFrames <= 0 {
		return nil, fmt.Errorf("dropout: baseBufferFrames must be positive, got %d", baseBufferFrames)
	}
	c := &Controller{baseFrames: baseBufferFrames}
	c.recFrames.Store(int64(baseBufferFrames))
	c.bufferLevel.Store(math.Float64bits(1))
	return c, nil
}

// RecordBlockDuration feeds one block's measured processing time against
// its real-time budget and updates level, strategy and buffer
// recommendation.
func (c *Controller) RecordBlockDuration(processingDurationUs, budgetUs int64) {
	if budgetUs <= 0 {
		return
	}
	ratio := float64(processingDurationUs) / float64(budgetUs)
	c.lastDurUs.Store(processingDurationUs)
	c.bufferLevel.Store(math.Float64bits(clamp(1-ratio, 0, 1)))
	if ratio >= severeRatio {
		c.dropped.Add(1)
	}

	thresholds := [3]float64{minorRatio, moderateRatio, severeRatio}
	for i, th := range thresholds {
		if ratio >= th {
			c.overStreak[i]++
			c.underStreak[i] = 0
		} else if ratio < th-releaseMargin {
			c.underStreak[i]++
			if c.underStreak[i] >= sustainBlocks {
				c.overStreak[i] = 0
			}
		}
	}

	level := LevelNone
	switch {
	case c.overStreak[2] >= sustainBlocks:
		level = LevelSevere
	case c.overStreak[1] >= sustainBlocks:
		level = LevelModerate
	case c.overStreak[0] >= sustainBlocks:
		level = LevelMinor
	}
	// An outright missed deadline is severe immediately; there is nothing
	// sustained about running past the callback period.
	if ratio >= severeRatio {
		level = LevelSevere
	}
	c.level.Store(int32(level))

	if ratio < shrinkRatio {
		c.cleanStreak++
	} else {
		c.cleanStreak = 0
	}
	if c.cooldown > 0 {
		c.cooldown--
	}
	c.adjustRecommendation(level)
}

// adjustRecommendation grows the recommended buffer under sustained
// headroom deficit and decays it back under sustained surplus, gated by a
// cooldown so the recommendation cannot oscillate block to block.
func (c *Controller) adjustRecommendation(level Level) {
	cur := c.recFrames.Load()
	switch {
	case level >= LevelModerate && c.cooldown == 0:
		c.strategy.Store(int32(StrategyAdaptive))
		next := cur * 2
		if max := int64(c.baseFrames * maxGrowthFactor); next > max {
			next = max
		}
		if next != cur {
			c.recFrames.Store(next)
			c.cooldown = growCooldownBlocks
		}
	case level == LevelNone && c.cleanStreak >= shrinkCleanBlocks && c.cooldown == 0 && cur > int64(c.baseFrames):
		next := cur / 2
		if next < int64(c.baseFrames) {
			next = int64(c.baseFrames)
		}
		c.recFrames.Store(next)
		c.cooldown = growCooldownBlocks
		c.cleanStreak = 0
		if next == int64(c.baseFrames) {
			c.strategy.Store(int32(StrategyFixed))
		}
	}
}

// CurrentLevel returns the classified dropout level.
func (c *Controller) CurrentLevel() Level { return Level(c.level.Load()) }

// RecommendedStrategy returns the buffering policy the controller currently
// recommends.
func (c *Controller) RecommendedStrategy() Strategy { return Strategy(c.strategy.Load()) }

// RecommendedBufferFrames returns the suggested buffer size in frames.
func (c *Controller) RecommendedBufferFrames() int { return int(c.recFrames.Load()) }

// RecommendedThreadPriority suggests a scheduling class given current
// headroom (fraction of the budget left unused) and measured callback
// jitter. Thin headroom or jitter beyond a millisecond wants the real-time
// class.
func (c *Controller) RecommendedThreadPriority(headroom, jitterMs float64) ThreadPriority {
	if headroom < 0.25 || jitterMs > 1.0 {
		return PriorityRealTime
	}
	if c.CurrentLevel() >= LevelModerate {
		return PriorityRealTime
	}
	return PriorityNormal
}

// CurrentBufferMetrics returns the latest measurements. Callable from
// either thread, never blocks.
func (c *Controller) CurrentBufferMetrics() Metrics {
	return Metrics{
		BufferLevel:              math.Float64frombits(c.bufferLevel.Load()),
		DroppedBufferCount:       c.dropped.Load(),
		LastProcessingDurationUs: c.lastDurUs.Load(),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
