package narrative

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// #region state
// State is the narrative lifecycle position.
type State int

const (
	Idle State = iota
	Streaming
	Failed
	Fallback
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Failed:
		return "failed"
	case Fallback:
		return "fallback"
	case Done:
		return "done"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is the observable narrative state after each transition or
// token. Text is the buffer accumulated so far in the current mode.
type Snapshot struct {
	State State
	Text  string
	Mode  Mode
	Cause string
}

// Mode tells live provider text from canned fallback text.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeFallback Mode = "fallback"
)
// #endregion state

// #region result
// Result is the outcome of one narrative run: *Live or *FallbackResult.
type Result interface {
	Text() string
	isResult()
}

// Live holds the tokens streamed by the provider, in order.
type Live struct {
	Tokens []string
}

// FallbackResult holds the canned lines emitted instead, and why.
type FallbackResult struct {
	Steps []string
	Cause error
}

func (l *Live) Text() string           { return strings.Join(l.Tokens, "") }
func (f *FallbackResult) Text() string { return strings.Join(f.Steps, "") }
func (*Live) isResult()                {}
func (*FallbackResult) isResult()      {}
// #endregion result

// #region options
// Options bounds the live stream and paces the fallback.
type Options struct {
	ChunkTimeout     time.Duration // max silence between tokens
	OverallCap       time.Duration // max total live streaming time
	FallbackInterval time.Duration // delay between canned lines
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ChunkTimeout:     10 * time.Second,
		OverallCap:       60 * time.Second,
		FallbackInterval: 560 * time.Millisecond,
	}
}
// #endregion options

// #region streamer
// Streamer drives one narrative per Run call. It holds no per-run state, so
// one Streamer serves any number of concurrent sessions.
type Streamer struct {
	provider Provider
	opts     Options
	logger   *zap.Logger
}

// NewStreamer creates a Streamer. A nil provider always falls back.
func NewStreamer(p Provider, opts Options, logger *zap.Logger) *Streamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = def.ChunkTimeout
	}
	if opts.OverallCap <= 0 {
		opts.OverallCap = def.OverallCap
	}
	if opts.FallbackInterval <= 0 {
		opts.FallbackInterval = def.FallbackInterval
	}
	return &Streamer{provider: p, opts: opts, logger: logger.With(zap.String("component", "narrative"))}
}

// Provider returns the configured provider, or nil.
func (s *Streamer) Provider() Provider { return s.provider }
// #endregion streamer

// #region run
// Run streams the narrative for prompt, calling observe after every state
// change and every token. When the provider fails, times out or is absent,
// the fallback steps are emitted at FallbackInterval instead.
//
// Run returns once Done is reached, or with ctx.Err() as soon as ctx is
// cancelled. In both cases the provider connection and the fallback ticker
// are released before it returns.
func (s *Streamer) Run(ctx context.Context, prompt string, steps []string, observe func(Snapshot)) (Result, error) {
	if observe == nil {
		observe = func(Snapshot) {}
	}
	observe(Snapshot{State: Streaming, Mode: ModeLive})

	live, cause := s.streamLive(ctx, prompt, observe)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cause == nil {
		observe(Snapshot{State: Done, Mode: ModeLive, Text: live.Text()})
		return live, nil
	}

	s.logger.Warn("narrative provider failed, using fallback", zap.Error(cause))
	observe(Snapshot{State: Failed, Mode: ModeLive, Text: live.Text(), Cause: cause.Error()})
	return s.runFallback(ctx, steps, cause, observe)
}

// streamLive consumes the provider stream in a single reader loop. It
// returns a nil cause only when the stream closed cleanly. Both timers run
// from before the stream is opened, so a provider that never answers is
// bounded like one that goes silent mid-stream.
func (s *Streamer) streamLive(ctx context.Context, prompt string, observe func(Snapshot)) (*Live, error) {
	live := &Live{}
	if s.provider == nil {
		return live, ErrNoProvider
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunk := time.NewTimer(s.opts.ChunkTimeout)
	defer chunk.Stop()
	capTimer := time.NewTimer(s.opts.OverallCap)
	defer capTimer.Stop()

	type opened struct {
		ch  <-chan Chunk
		err error
	}
	openc := make(chan opened, 1)
	go func() {
		ch, err := s.provider.Stream(streamCtx, prompt)
		openc <- opened{ch, err}
	}()
	// abandon cancels a pending open and waits for it, draining any stream
	// it still produced
	abandon := func() {
		cancel()
		if o := <-openc; o.err == nil {
			for range o.ch {
			}
		}
	}

	var ch <-chan Chunk
	select {
	case o := <-openc:
		if o.err != nil {
			return live, o.err
		}
		ch = o.ch
	case <-chunk.C:
		abandon()
		return live, ErrChunkTimeout
	case <-capTimer.C:
		abandon()
		return live, ErrOverallCap
	case <-ctx.Done():
		abandon()
		return live, ctx.Err()
	}

	// cancel first, then wait for the provider goroutine to close ch
	release := func() {
		cancel()
		for range ch {
		}
	}

	var buf strings.Builder
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return live, nil
			}
			if c.Err != nil {
				release()
				return live, c.Err
			}
			live.Tokens = append(live.Tokens, c.Token)
			buf.WriteString(c.Token)
			observe(Snapshot{State: Streaming, Mode: ModeLive, Text: buf.String()})
			chunk.Reset(s.opts.ChunkTimeout)
		case <-chunk.C:
			release()
			return live, ErrChunkTimeout
		case <-capTimer.C:
			release()
			return live, ErrOverallCap
		case <-ctx.Done():
			release()
			return live, ctx.Err()
		}
	}
}

func (s *Streamer) runFallback(ctx context.Context, steps []string, cause error, observe func(Snapshot)) (Result, error) {
	res := &FallbackResult{Cause: cause}
	observe(Snapshot{State: Fallback, Mode: ModeFallback, Cause: cause.Error()})

	ticker := time.NewTicker(s.opts.FallbackInterval)
	defer ticker.Stop()

	var buf strings.Builder
	for i, step := range steps {
		if i > 0 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		res.Steps = append(res.Steps, step)
		buf.WriteString(step)
		observe(Snapshot{State: Fallback, Mode: ModeFallback, Text: buf.String(), Cause: cause.Error()})
	}
	observe(Snapshot{State: Done, Mode: ModeFallback, Text: buf.String(), Cause: cause.Error()})
	return res, nil
}
// #endregion run
