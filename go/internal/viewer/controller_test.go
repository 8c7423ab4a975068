package viewer

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cuecast/go/internal/device"
	"github.com/mcdev12/cuecast/go/internal/models"
)

type pollCall struct {
	room  string
	since int64
}

type fakeChannel struct {
	mu    sync.Mutex
	rec   *models.CueRecord
	err   error
	calls []pollCall
}

func (f *fakeChannel) set(seq int64, key models.CueKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec = &models.CueRecord{Seq: seq, CueKey: key, At: time.Date(2024, 5, 1, 12, 0, int(seq), 0, time.UTC)}
	f.err = nil
}

func (f *fakeChannel) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeChannel) Poll(ctx context.Context, room string, since int64) (*models.CueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pollCall{room: room, since: since})
	if f.err != nil {
		return nil, f.err
	}
	if f.rec == nil || f.rec.Seq == since {
		return nil, nil
	}
	rec := *f.rec
	return &rec, nil
}

func (f *fakeChannel) lastCall() pollCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeLink struct {
	mu         sync.Mutex
	patterns   []byte
	intensity  []int
	connectErr error
	connected  bool
	events     chan device.Event
}

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan device.Event, 16)}
}

var fakeConnection = device.ConnectionInfo{ID: "conn-1", DeviceName: device.DefaultDeviceName}

func (l *fakeLink) Connect(ctx context.Context) (device.ConnectionInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connectErr != nil {
		return device.ConnectionInfo{}, l.connectErr
	}
	l.connected = true
	return fakeConnection, nil
}

func (l *fakeLink) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
}

func (l *fakeLink) Connection() (device.ConnectionInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return device.ConnectionInfo{}, false
	}
	return fakeConnection, true
}

func (l *fakeLink) WritePattern(ctx context.Context, pattern byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patterns = append(l.patterns, pattern)
	return nil
}

func (l *fakeLink) SetIntensity(ctx context.Context, intensity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intensity = append(l.intensity, intensity)
	return nil
}

func (l *fakeLink) Events() <-chan device.Event {
	return l.events
}

func (l *fakeLink) written() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.patterns...)
}

func newTestController(initial State) (*Controller, *fakeChannel, *fakeLink, *clockwork.FakeClock) {
	channel := &fakeChannel{}
	link := newFakeLink()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	c := NewController(channel, link, clock, nil, Config{Rand: rand.New(rand.NewPCG(1, 2))}, initial)
	return c, channel, link, clock
}

func liveState() State {
	s := DefaultState()
	s.Screen = ScreenLive
	s.Mode = ModeStandard
	return s
}

func tap(at time.Time) device.Event {
	return device.Event{Kind: device.EventTap, At: at}
}

func TestClampPollInterval(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                      DefaultPollInterval,
		-time.Second:           DefaultPollInterval,
		50 * time.Millisecond:  MinPollInterval,
		300 * time.Millisecond: 300 * time.Millisecond,
		2 * time.Second:        MaxPollInterval,
	}
	for in, want := range cases {
		if got := ClampPollInterval(in); got != want {
			t.Errorf("ClampPollInterval(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestPollForwardsChangedCue(t *testing.T) {
	c, channel, link, _ := newTestController(liveState())
	ctx := context.Background()

	channel.set(2, models.CueKeyChance)
	c.PollOnce(ctx)

	state := c.Snapshot()
	if state.LastSeq != 2 || state.CueKey != models.CueKeyChance || state.CueCount != 1 {
		t.Fatalf("unexpected state after change: %+v", state)
	}
	if got := link.written(); len(got) != 1 || got[0] != device.PatternChance {
		t.Fatalf("expected pattern %d written once, got %v", device.PatternChance, got)
	}

	// Unchanged polls neither count nor write
	c.PollOnce(ctx)
	if call := channel.lastCall(); call.since != 2 {
		t.Fatalf("expected since=2, got %d", call.since)
	}
	if c.Snapshot().CueCount != 1 || len(link.written()) != 1 {
		t.Fatal("unchanged poll must not alter state or write")
	}
	if c.SyncHealth() != SyncOK {
		t.Fatalf("expected ok health, got %s", c.SyncHealth())
	}
}

func TestPollAcceptsAnySeqJump(t *testing.T) {
	initial := liveState()
	initial.LastSeq = 40
	c, channel, link, _ := newTestController(initial)

	// A server restart can move seq backwards
	channel.set(3, models.CueKeyPinch)
	c.PollOnce(context.Background())

	if got := c.Snapshot(); got.LastSeq != 3 || got.CueKey != models.CueKeyPinch {
		t.Fatalf("expected returned record to be authoritative, got %+v", got)
	}
	if got := link.written(); len(got) != 1 || got[0] != device.PatternPinch {
		t.Fatalf("expected pinch pattern, got %v", got)
	}
}

func TestPausedCueChangeDoesNotWrite(t *testing.T) {
	c, channel, link, _ := newTestController(liveState())
	if !c.TogglePause() {
		t.Fatal("expected paused after toggle")
	}

	channel.set(2, models.CueKeyChance)
	c.PollOnce(context.Background())

	state := c.Snapshot()
	if state.CueKey != models.CueKeyChance || state.LastSeq != 2 || state.LastCueAt.IsZero() {
		t.Fatalf("expected cue state to update while paused, got %+v", state)
	}
	if len(link.written()) != 0 {
		t.Fatalf("expected no write while paused, got %v", link.written())
	}
}

func TestMutedCueChangeDoesNotWrite(t *testing.T) {
	c, channel, link, _ := newTestController(liveState())
	c.ToggleMute()

	channel.set(2, models.CueKeyPinch)
	c.PollOnce(context.Background())

	if c.Snapshot().CueKey != models.CueKeyPinch {
		t.Fatal("expected cue to update while muted")
	}
	if len(link.written()) != 0 {
		t.Fatalf("expected no write while muted, got %v", link.written())
	}
}

func TestEmergencyStopAndResume(t *testing.T) {
	c, channel, link, _ := newTestController(liveState())
	ctx := context.Background()

	channel.set(2, models.CueKeyChance)
	c.PollOnce(ctx)

	if err := c.EmergencyStop(ctx); err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	state := c.Snapshot()
	if !state.Paused || !state.Muted {
		t.Fatalf("expected paused and muted, got %+v", state)
	}

	if err := c.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	state = c.Snapshot()
	if state.Paused || state.Muted {
		t.Fatalf("expected flags cleared, got %+v", state)
	}

	want := []byte{device.PatternChance, device.PatternStop, device.PatternChance}
	got := link.written()
	if len(got) != len(want) {
		t.Fatalf("expected writes %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected writes %v, got %v", want, got)
		}
	}
}

func TestEmergencyStopWhilePausedStillWrites(t *testing.T) {
	c, _, link, _ := newTestController(liveState())
	c.TogglePause()

	if err := c.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	if got := link.written(); len(got) != 1 || got[0] != device.PatternStop {
		t.Fatalf("expected stop pattern, got %v", got)
	}
}

func TestTapsCountOnlyWhileLiveAndNotPaused(t *testing.T) {
	c, _, _, clock := newTestController(liveState())
	ctx := context.Background()
	now := clock.Now()

	c.HandleEvent(ctx, tap(now))
	c.HandleEvent(ctx, tap(now))
	if got := c.Snapshot().HitCount; got != 2 {
		t.Fatalf("expected 2 hits, got %d", got)
	}

	c.TogglePause()
	c.HandleEvent(ctx, tap(now))
	c.TogglePause()

	if err := c.Go(ScreenNowWhat); err != nil {
		t.Fatalf("go: %v", err)
	}
	c.HandleEvent(ctx, tap(now))

	// Muting does not gate taps
	if err := c.Go(ScreenLive); err != nil {
		t.Fatalf("go: %v", err)
	}
	c.ToggleMute()
	c.HandleEvent(ctx, tap(now))

	d := c.Display(now)
	if d.Hits != 3 || d.PerMinute != 3 {
		t.Fatalf("expected 3 hits at 3/min, got %+v", d)
	}
}

func TestDisplayTracksRateWindow(t *testing.T) {
	c, _, _, clock := newTestController(liveState())
	ctx := context.Background()
	start := clock.Now()

	for i := 0; i < 70; i++ {
		c.HandleEvent(ctx, tap(start.Add(time.Duration(i)*500*time.Millisecond)))
	}

	d := c.Display(start.Add(35 * time.Second))
	if d.PerMinute != 70 || !d.Surging || d.Tier != 5 {
		t.Fatalf("expected 70/min surging tier 5, got %+v", d)
	}

	d = c.Display(start.Add(2 * time.Minute))
	if d.PerMinute != 0 || d.Surging {
		t.Fatalf("expected window to empty, got %+v", d)
	}
	if d.Hits != 70 || d.Tier != 5 {
		t.Fatalf("total hits and tier must not decay, got %+v", d)
	}
}

func TestTransportFailureDegradesHealth(t *testing.T) {
	c, channel, link, _ := newTestController(liveState())
	ctx := context.Background()

	if c.SyncHealth() != SyncUnknown {
		t.Fatalf("expected unknown before first poll, got %s", c.SyncHealth())
	}

	channel.set(2, models.CueKeyChance)
	c.PollOnce(ctx)
	before := c.Snapshot()

	channel.fail(errors.New("connection refused"))
	c.PollOnce(ctx)

	if c.SyncHealth() != SyncDegraded {
		t.Fatalf("expected degraded health, got %s", c.SyncHealth())
	}
	if after := c.Snapshot(); after != before {
		t.Fatalf("failure must not change cue state: %+v vs %+v", after, before)
	}
	if len(link.written()) != 1 {
		t.Fatalf("failure must not write, got %v", link.written())
	}

	channel.set(2, models.CueKeyChance)
	c.PollOnce(ctx)
	if c.SyncHealth() != SyncOK {
		t.Fatalf("expected recovery to ok, got %s", c.SyncHealth())
	}
}

func TestSetRoomForcesFullFetch(t *testing.T) {
	c, channel, _, _ := newTestController(liveState())
	ctx := context.Background()

	channel.set(5, models.CueKeyPinch)
	c.PollOnce(ctx)

	c.SetRoom("  arena ")
	c.PollOnce(ctx)

	call := channel.lastCall()
	if call.room != "arena" || call.since != 0 {
		t.Fatalf("expected full fetch of arena, got %+v", call)
	}

	c.SetRoom("")
	if got := c.Snapshot().Room; got != models.DefaultRoom {
		t.Fatalf("expected default room, got %q", got)
	}
}

func TestStartAndFinishGame(t *testing.T) {
	c, channel, _, clock := newTestController(DefaultState())
	ctx := context.Background()

	if err := c.Go(ScreenPregame); !errors.Is(err, ErrAgeRequired) {
		t.Fatalf("expected ErrAgeRequired, got %v", err)
	}
	c.SetAge(7)
	if err := c.Go(ScreenPregame); err != nil {
		t.Fatalf("go pregame: %v", err)
	}
	if err := c.StartGame(); !errors.Is(err, ErrModeRequired) {
		t.Fatalf("expected ErrModeRequired, got %v", err)
	}
	if err := c.SetMode("turbo"); !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
	if err := c.SetMode(ModeFamily); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	channel.set(2, models.CueKeyChance)
	c.PollOnce(ctx)
	c.TogglePause()

	if err := c.StartGame(); err != nil {
		t.Fatalf("start game: %v", err)
	}
	state := c.Snapshot()
	if state.Screen != ScreenLive || state.Paused || state.CueCount != 0 || state.CueKey != models.CueKeyStop {
		t.Fatalf("unexpected state after start: %+v", state)
	}

	for i := 0; i < 35; i++ {
		c.HandleEvent(ctx, tap(clock.Now()))
	}

	summary := c.FinishGame()
	if summary.Hits != 35 || summary.Mode != ModeFamily {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Message != summaryMessage(30) || summaryMessage(30) == summaryMessage(29) {
		t.Fatalf("unexpected summary message %q", summary.Message)
	}
	if summaryMessage(60) == summaryMessage(59) {
		t.Fatal("expected a distinct message at 60 hits")
	}
	if c.Snapshot().Screen != ScreenPost {
		t.Fatal("expected post screen")
	}

	// Taps on the post screen are dropped
	c.HandleEvent(ctx, tap(clock.Now()))
	if c.Snapshot().HitCount != 35 {
		t.Fatal("expected tap on post screen to be dropped")
	}
}

func TestIntensityLimit(t *testing.T) {
	c, _, link, _ := newTestController(liveState())
	ctx := context.Background()

	if err := c.SetIntensityLimit(ctx, 0); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if err := c.SetIntensityLimit(ctx, 3); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if got := c.Snapshot().IntensityLimit; got != 3 {
		t.Fatalf("expected limit 3, got %d", got)
	}

	if _, err := c.ConnectDevice(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	want := []int{20, 60, 60}
	if len(link.intensity) != len(want) {
		t.Fatalf("expected intensities %v, got %v", want, link.intensity)
	}
	for i := range want {
		if link.intensity[i] != want[i] {
			t.Fatalf("expected intensities %v, got %v", want, link.intensity)
		}
	}
}

func TestConnectionTracking(t *testing.T) {
	c, _, link, clock := newTestController(liveState())
	ctx := context.Background()

	link.connectErr = device.ErrUserCancelled
	if _, err := c.ConnectDevice(ctx); !errors.Is(err, device.ErrUserCancelled) {
		t.Fatalf("expected ErrUserCancelled, got %v", err)
	}
	if c.Display(clock.Now()).Connected {
		t.Fatal("expected disconnected after failed connect")
	}

	link.mu.Lock()
	link.connectErr = nil
	link.mu.Unlock()
	info, err := c.ConnectDevice(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.Display(clock.Now()).Connected {
		t.Fatal("expected connected")
	}

	// A stale disconnect for another connection is ignored
	c.HandleEvent(ctx, device.Event{Kind: device.EventDisconnected, ConnectionID: "old", Spontaneous: true})
	if !c.Display(clock.Now()).Connected {
		t.Fatal("stale disconnect must not clear the connection")
	}

	c.HandleEvent(ctx, device.Event{Kind: device.EventDisconnected, ConnectionID: info.ID, Spontaneous: true})
	if c.Display(clock.Now()).Connected {
		t.Fatal("expected disconnected after drop")
	}
}

// droppingLink loses the peripheral right after the handshake and lets the
// controller see the disconnect before Connect returns.
type droppingLink struct {
	*device.Link
	peripheral *device.SimPeripheral
	controller *Controller
	t          *testing.T
}

func (l *droppingLink) Connect(ctx context.Context) (device.ConnectionInfo, error) {
	info, err := l.Link.Connect(ctx)
	if err != nil {
		return info, err
	}
	l.peripheral.Drop()
	select {
	case ev := <-l.Link.Events():
		l.controller.HandleEvent(ctx, ev)
	case <-time.After(2 * time.Second):
		l.t.Fatal("timed out waiting for the drop")
	}
	return info, nil
}

func TestConnectDeviceObservesDropDuringHandshake(t *testing.T) {
	p := device.NewSimPeripheral(device.DefaultDeviceName)
	clock := clockwork.NewFakeClock()
	link := &droppingLink{
		Link:       device.NewLink(device.NewSimHost(p), device.DefaultConfig(), clock, nil),
		peripheral: p,
		t:          t,
	}
	t.Cleanup(link.Link.Disconnect)
	c := NewController(&fakeChannel{}, link, clock, nil, Config{}, liveState())
	link.controller = c

	_, err := c.ConnectDevice(context.Background())
	if !errors.Is(err, device.ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
	if link.State() != device.StateDisconnected {
		t.Fatalf("expected link disconnected, got %s", link.State())
	}
	if c.Display(clock.Now()).Connected {
		t.Fatal("display must not report a dropped device as connected")
	}
	if len(p.Writes()) != 0 {
		t.Fatal("expected no intensity write to a dropped device")
	}
}

func TestNilLinkIsDetached(t *testing.T) {
	channel := &fakeChannel{}
	c := NewController(channel, nil, clockwork.NewFakeClock(), nil, Config{}, liveState())
	ctx := context.Background()

	channel.set(2, models.CueKeyPinch)
	c.PollOnce(ctx)
	if got := c.Snapshot().CueKey; got != models.CueKeyPinch {
		t.Fatalf("expected pinch, got %s", got)
	}
	if err := c.EmergencyStop(ctx); err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	if err := c.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := c.SetIntensityLimit(ctx, 3); err != nil {
		t.Fatalf("set intensity limit: %v", err)
	}
	if _, err := c.ConnectDevice(ctx); !errors.Is(err, device.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	c.DisconnectDevice()
}

func TestGenerateMissions(t *testing.T) {
	c, _, _, _ := newTestController(DefaultState())

	parent, child := c.GenerateMissions()
	if !slices.Contains(parentMissions, parent) || !slices.Contains(childMissions, child) {
		t.Fatalf("missions outside the pools: %q / %q", parent, child)
	}
	state := c.Snapshot()
	if state.MissionParent != parent || state.MissionChild != child {
		t.Fatalf("missions not stored: %+v", state)
	}

	// Same seed, same draw
	other, _, _, _ := newTestController(DefaultState())
	if p2, c2 := other.GenerateMissions(); p2 != parent || c2 != child {
		t.Fatalf("expected a deterministic draw, got %q / %q", p2, c2)
	}
}

func TestStartGameFillsMissions(t *testing.T) {
	s := DefaultState()
	s.Mode = ModeCalm
	c, _, _, _ := newTestController(s)

	if err := c.StartGame(); err != nil {
		t.Fatalf("start game: %v", err)
	}
	state := c.Snapshot()
	if state.MissionParent == "" || state.MissionChild == "" {
		t.Fatalf("expected missions to be filled, got %+v", state)
	}

	// Existing missions survive the next game
	c.FinishGame()
	if err := c.StartGame(); err != nil {
		t.Fatalf("restart game: %v", err)
	}
	again := c.Snapshot()
	if again.MissionParent != state.MissionParent || again.MissionChild != state.MissionChild {
		t.Fatalf("missions changed on restart: %+v", again)
	}

	c.Reset()
	if c.Snapshot().MissionParent != "" {
		t.Fatal("expected reset to clear missions")
	}
}

func TestResetKeepsRoom(t *testing.T) {
	c, _, _, clock := newTestController(liveState())
	c.SetRoom("arena")
	c.HandleEvent(context.Background(), tap(clock.Now()))

	c.Reset()

	state := c.Snapshot()
	if state.Room != "arena" || state.HitCount != 0 || state.Screen != ScreenSetup {
		t.Fatalf("unexpected state after reset: %+v", state)
	}
	if d := c.Display(clock.Now()); d.PerMinute != 0 {
		t.Fatalf("expected empty tap window, got %d", d.PerMinute)
	}
}

func TestRestore(t *testing.T) {
	c, channel, _, _ := newTestController(DefaultState())

	saved := liveState()
	saved.Room = "arena"
	saved.LastSeq = 9
	c.Restore(saved)

	c.PollOnce(context.Background())
	if call := channel.lastCall(); call.room != "arena" || call.since != 9 {
		t.Fatalf("expected poll to resume from restored state, got %+v", call)
	}
}

func TestRunPollsOnTicks(t *testing.T) {
	c, channel, link, clock := newTestController(liveState())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	channel.set(2, models.CueKeyPinch)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("block: %v", err)
	}
	clock.Advance(DefaultPollInterval)

	deadline := time.After(2 * time.Second)
	for len(link.written()) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected a pattern write from the poll loop")
		case <-time.After(5 * time.Millisecond):
		}
	}

	link.events <- tap(clock.Now())
	for c.Snapshot().HitCount == 0 {
		select {
		case <-deadline:
			t.Fatal("expected the loop to count the tap")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
