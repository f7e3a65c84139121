package dropout

import "testing"

func newController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(512)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return c
}

func TestNewControllerRejectsBadBase(t *testing.T) {
	if _, err := NewController(0); err == nil {
		t.Fatal("expected error for zero base buffer")
	}
}

// Ten consecutive blocks at 95% of budget must classify at least Moderate
// and flip the recommendation from Fixed to Adaptive with a larger buffer;
// ten comfortable blocks afterwards walk it back to the base.
func TestSustainedDeficitGrowsThenRecovers(t *testing.T) {
	c := newController(t)
	const budget = 10000 // us

	for i := 0; i < 10; i++ {
		c.RecordBlockDuration(9500, budget)
	}
	if lvl := c.CurrentLevel(); lvl != LevelModerate && lvl != LevelSevere {
		t.Fatalf("expected Moderate or Severe after sustained 95%%, got %v", lvl)
	}
	if got := c.RecommendedStrategy(); got != StrategyAdaptive {
		t.Fatalf("expected Adaptive strategy, got %v", got)
	}
	grown := c.RecommendedBufferFrames()
	if grown <= 512 {
		t.Fatalf("expected buffer recommendation above base, got %d", grown)
	}

	for i := 0; i < 10; i++ {
		c.RecordBlockDuration(2000, budget)
	}
	if got := c.RecommendedBufferFrames(); got >= grown {
		t.Fatalf("expected recommendation to decay from %d, got %d", grown, got)
	}
	if lvl := c.CurrentLevel(); lvl != LevelNone {
		t.Fatalf("expected level None after recovery, got %v", lvl)
	}
}

func TestSingleSpikeDoesNotEngageSustainedLevel(t *testing.T) {
	c := newController(t)
	c.RecordBlockDuration(8000, 10000) // one block at 80%
	if lvl := c.CurrentLevel(); lvl != LevelNone {
		t.Fatalf("single noisy block engaged level %v", lvl)
	}
	c.RecordBlockDuration(1000, 10000)
	c.RecordBlockDuration(1000, 10000)
	if lvl := c.CurrentLevel(); lvl != LevelNone {
		t.Fatalf("expected None, got %v", lvl)
	}
}

func TestMissedDeadlineIsImmediatelySevereAndCounted(t *testing.T) {
	c := newController(t)
	c.RecordBlockDuration(12000, 10000)
	if lvl := c.CurrentLevel(); lvl != LevelSevere {
		t.Fatalf("expected immediate Severe on missed deadline, got %v", lvl)
	}
	m := c.CurrentBufferMetrics()
	if m.DroppedBufferCount != 1 {
		t.Fatalf("expected 1 dropped buffer, got %d", m.DroppedBufferCount)
	}
	if m.LastProcessingDurationUs != 12000 {
		t.Fatalf("expected last duration 12000us, got %d", m.LastProcessingDurationUs)
	}
	if m.BufferLevel != 0 {
		t.Fatalf("expected zero headroom, got %g", m.BufferLevel)
	}
}

func TestLevelReleaseNeedsSustainedHeadroom(t *testing.T) {
	c := newController(t)
	for i := 0; i < 3; i++ {
		c.RecordBlockDuration(7500, 10000) // engage Minor
	}
	if lvl := c.CurrentLevel(); lvl != LevelMinor {
		t.Fatalf("expected Minor engaged, got %v", lvl)
	}
	// One dip below the release threshold is not enough.
	c.RecordBlockDuration(5000, 10000)
	if lvl := c.CurrentLevel(); lvl != LevelMinor {
		t.Fatalf("expected Minor held through one quiet block, got %v", lvl)
	}
	c.RecordBlockDuration(5000, 10000)
	c.RecordBlockDuration(5000, 10000)
	if lvl := c.CurrentLevel(); lvl != LevelNone {
		t.Fatalf("expected Minor released after sustained headroom, got %v", lvl)
	}
}

func TestBufferGrowthIsCappedAndCooldownGated(t *testing.T) {
	c := newController(t)
	for i := 0; i < 100; i++ {
		c.RecordBlockDuration(11000, 10000)
	}
	if got := c.RecommendedBufferFrames(); got != 512*8 {
		t.Fatalf("expected growth capped at %d, got %d", 512*8, got)
	}
}

func TestRecommendedThreadPriority(t *testing.T) {
	c := newController(t)
	if got := c.RecommendedThreadPriority(0.8, 0.1); got != PriorityNormal {
		t.Fatalf("expected Normal with generous headroom, got %v", got)
	}
	if got := c.RecommendedThreadPriority(0.1, 0.1); got != PriorityRealTime {
		t.Fatalf("expected RealTime with thin headroom, got %v", got)
	}
	if got := c.RecommendedThreadPriority(0.8, 2.5); got != PriorityRealTime {
		t.Fatalf("expected RealTime under jitter, got %v", got)
	}
}

func TestZeroBudgetIgnored(t *testing.T) {
	c := newController(t)
	c.RecordBlockDuration(1000, 0)
	m := c.CurrentBufferMetrics()
	if m.LastProcessingDurationUs != 0 || m.DroppedBufferCount != 0 {
		t.Fatalf("zero budget should be ignored, got %+v", m)
	}
}
