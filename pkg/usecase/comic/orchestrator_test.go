package comic_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/comicforge/pkg/model"
	"github.com/m-mizutani/comicforge/pkg/repository"
	"github.com/m-mizutani/comicforge/pkg/usecase/comic"
	"github.com/m-mizutani/comicforge/pkg/usecase/history"
	"github.com/m-mizutani/gt"
)

type fakeClient struct {
	mu       sync.Mutex
	stories  []*model.Story
	storyErr error
	coverErr error

	// panelImage renders panel prompts. Defaults to an immediate success
	panelImage func(ctx context.Context, prompt string) (*model.Image, error)
	editImage  func(ctx context.Context, base model.ReferenceImage, instruction string) (*model.Image, error)

	storyCalls  atomic.Int32
	imageCalls  atomic.Int32
	speechCalls atomic.Int32
}

func (f *fakeClient) GenerateStory(ctx context.Context, prefs model.Preferences, images []model.ReferenceImage) (*model.Story, error) {
	f.storyCalls.Add(1)
	if f.storyErr != nil {
		return nil, f.storyErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	story := f.stories[0]
	if len(f.stories) > 1 {
		f.stories = f.stories[1:]
	}
	return story, nil
}

func (f *fakeClient) GenerateImage(ctx context.Context, prompt, aspectRatio string, hint model.ModelHint) (*model.Image, error) {
	if aspectRatio == model.AspectRatioCover {
		if f.coverErr != nil {
			return nil, f.coverErr
		}
		return &model.Image{Data: []byte("cover:" + prompt), MIMEType: "image/png"}, nil
	}

	f.imageCalls.Add(1)
	if f.panelImage != nil {
		return f.panelImage(ctx, prompt)
	}
	return &model.Image{Data: []byte("img:" + prompt), MIMEType: "image/png"}, nil
}

func (f *fakeClient) GenerateSpeech(ctx context.Context, text, voiceHint string) (*model.Audio, error) {
	f.speechCalls.Add(1)
	return &model.Audio{Data: []byte(voiceHint + ":" + text), MIMEType: "audio/pcm"}, nil
}

func (f *fakeClient) EditImage(ctx context.Context, base model.ReferenceImage, instruction string) (*model.Image, error) {
	if f.editImage != nil {
		return f.editImage(ctx, base, instruction)
	}
	return &model.Image{Data: []byte("edited:" + instruction), MIMEType: "image/png"}, nil
}

// makeStory builds a story whose panels are listed in reverse order
func makeStory(name string, n int) *model.Story {
	story := &model.Story{Title: name, CoverPrompt: name + "-cover"}
	for i := n; i >= 1; i-- {
		story.Panels = append(story.Panels, model.StoryPanel{
			Ordinal:       i,
			ImagePrompt:   fmt.Sprintf("%s-%d", name, i),
			Dialogue:      fmt.Sprintf("line %d", i),
			CharacterName: "Kai",
			VoiceHint:     "narrator",
		})
	}
	return story
}

var (
	testPrefs  = model.Preferences{Mood: "Gritty & Intense", StoryType: "Rivalry", ArtStyle: "ink"}
	testImages = []model.ReferenceImage{{Data: []byte("photo"), MIMEType: "image/jpeg"}}
)

func waitSettled(t *testing.T, o *comic.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gt.NoError(t, o.Wait(ctx))
}

func newHistory(t *testing.T) *history.Store {
	store := history.New(repository.NewMemory())
	store.Load(context.Background())
	return store
}

func TestCreateComicValidation(t *testing.T) {
	client := &fakeClient{stories: []*model.Story{makeStory("a", 3)}}
	o := comic.New(client)

	_, err := o.CreateComic(context.Background(), testPrefs, nil)
	gt.Error(t, err).Is(model.ErrValidation)

	_, err = o.CreateComic(context.Background(), model.Preferences{Mood: "x"}, testImages)
	gt.Error(t, err).Is(model.ErrValidation)

	gt.Equal(t, client.storyCalls.Load(), int32(0))
	gt.Equal(t, o.Snapshot().State, comic.StateIdle)
}

func TestCreateComicReturnsPendingPanels(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{
		stories: []*model.Story{makeStory("a", 15)},
		panelImage: func(ctx context.Context, prompt string) (*model.Image, error) {
			<-gate
			return &model.Image{Data: []byte(prompt), MIMEType: "image/png"}, nil
		},
	}
	store := newHistory(t)
	o := comic.New(client, comic.WithHistory(store))

	c, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	gt.A(t, c.Panels).Length(15)
	for i, p := range c.Panels {
		gt.Equal(t, p.ID, model.PanelID(i+1))
		gt.Equal(t, p.Status, model.PanelStatusPending)
		gt.Equal(t, p.Placement, model.IdentityPlacement())
	}
	gt.Equal(t, string(c.CoverImage), "cover:a-cover")
	gt.Equal(t, o.Snapshot().State, comic.StatePanelsInFlight)

	close(gate)
	waitSettled(t, o)

	view := o.Snapshot()
	gt.Equal(t, view.State, comic.StateComplete)
	gt.True(t, view.Comic.AllLoaded())
	gt.Equal(t, string(view.Comic.Panel(7).Image), "a-7")

	gt.True(t, store.Contains(c.ID))
	entries := store.List()
	gt.A(t, entries).Length(1)
	gt.A(t, entries[0].Panels).Length(15)
}

func TestCreateComicFatalErrors(t *testing.T) {
	busy := errors.Join(model.ErrServiceBusy, errors.New("429 RESOURCE_EXHAUSTED"))

	testCases := []struct {
		name   string
		client *fakeClient
		busy   bool
	}{
		{
			name:   "story fails",
			client: &fakeClient{storyErr: errors.New("boom")},
		},
		{
			name:   "story busy",
			client: &fakeClient{storyErr: busy},
			busy:   true,
		},
		{
			name:   "cover fails",
			client: &fakeClient{stories: []*model.Story{makeStory("a", 3)}, coverErr: errors.New("safety")},
		},
		{
			name:   "cover busy",
			client: &fakeClient{stories: []*model.Story{makeStory("a", 3)}, coverErr: busy},
			busy:   true,
		},
		{
			name:   "story without panels",
			client: &fakeClient{stories: []*model.Story{{Title: "empty", CoverPrompt: "c"}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newHistory(t)
			o := comic.New(tc.client, comic.WithHistory(store))

			var events []comic.Event
			o.Subscribe(func(ev comic.Event) {
				events = append(events, ev)
			})

			c, err := o.CreateComic(context.Background(), testPrefs, testImages)
			gt.Nil(t, c)
			gt.Error(t, err).Is(model.ErrRunFailed)
			gt.Equal(t, errors.Is(err, model.ErrServiceBusy), tc.busy)
			if tc.busy {
				gt.S(t, model.UserMessage(err)).Contains("busy")
			} else {
				gt.Equal(t, model.UserMessage(err), "Failed to create your comic. Please try again.")
			}

			view := o.Snapshot()
			gt.Equal(t, view.State, comic.StateIdle)
			gt.Nil(t, view.Comic)
			gt.Error(t, view.Err).Is(model.ErrRunFailed)
			gt.Equal(t, tc.client.imageCalls.Load(), int32(0))
			gt.A(t, store.List()).Length(0)

			gt.Equal(t, events[len(events)-1].Kind, comic.EventRunFailed)
			gt.NoError(t, o.Wait(context.Background()))
		})
	}
}

func TestPanelFailureAndRetry(t *testing.T) {
	var failFirst atomic.Bool
	failFirst.Store(true)

	client := &fakeClient{
		stories: []*model.Story{makeStory("a", 3)},
		panelImage: func(ctx context.Context, prompt string) (*model.Image, error) {
			if prompt == "a-2" && failFirst.Load() {
				return nil, errors.New("safety rejection")
			}
			return &model.Image{Data: []byte(prompt), MIMEType: "image/png"}, nil
		},
	}
	store := newHistory(t)
	o := comic.New(client, comic.WithHistory(store))

	c, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	waitSettled(t, o)

	view := o.Snapshot()
	gt.Equal(t, view.State, comic.StateComplete)
	gt.Equal(t, view.Comic.Panel(1).Status, model.PanelStatusLoaded)
	gt.Equal(t, view.Comic.Panel(2).Status, model.PanelStatusFailed)
	gt.Equal(t, view.Comic.Panel(3).Status, model.PanelStatusLoaded)
	gt.False(t, store.Contains(c.ID)).Describe("comic with a failed panel must not be recorded")
	gt.Equal(t, client.imageCalls.Load(), int32(3))

	t.Run("retry on loaded panel is a no-op", func(t *testing.T) {
		status, err := o.RetryPanel(context.Background(), 1)
		gt.NoError(t, err)
		gt.Equal(t, status, model.PanelStatusLoaded)
		gt.Equal(t, client.imageCalls.Load(), int32(3))
	})

	t.Run("retry still failing", func(t *testing.T) {
		status, err := o.RetryPanel(context.Background(), 2)
		gt.NoError(t, err)
		gt.Equal(t, status, model.PanelStatusFailed)
		gt.Equal(t, client.imageCalls.Load(), int32(4))
		gt.False(t, store.Contains(c.ID))
	})

	t.Run("retry succeeds", func(t *testing.T) {
		failFirst.Store(false)
		status, err := o.RetryPanel(context.Background(), 2)
		gt.NoError(t, err)
		gt.Equal(t, status, model.PanelStatusLoaded)
		gt.Equal(t, client.imageCalls.Load(), int32(5))

		view := o.Snapshot()
		gt.True(t, view.Comic.AllLoaded())
		gt.Equal(t, view.State, comic.StateComplete)
		gt.True(t, store.Contains(c.ID))
	})

	t.Run("unknown panel", func(t *testing.T) {
		_, err := o.RetryPanel(context.Background(), 99)
		gt.Error(t, err).Is(model.ErrNotFound)
	})
}

func TestRetryWithoutComic(t *testing.T) {
	o := comic.New(&fakeClient{})
	_, err := o.RetryPanel(context.Background(), 1)
	gt.Error(t, err).Is(model.ErrNotFound)
}

func TestNewRunDiscardsCancelledRun(t *testing.T) {
	gateA := make(chan struct{})
	enteredA := make(chan struct{}, 3)
	var lateA atomic.Int32

	client := &fakeClient{
		stories: []*model.Story{makeStory("a", 3), makeStory("b", 2)},
	}
	client.panelImage = func(ctx context.Context, prompt string) (*model.Image, error) {
		if prompt[0] == 'a' {
			enteredA <- struct{}{}
			<-gateA
			lateA.Add(1)
			return &model.Image{Data: []byte(prompt)}, nil
		}
		return &model.Image{Data: []byte(prompt)}, nil
	}

	store := newHistory(t)
	o := comic.New(client, comic.WithHistory(store), comic.WithConcurrency(3))

	var mu sync.Mutex
	applied := map[model.ComicID]int{}
	o.Subscribe(func(ev comic.Event) {
		if ev.Kind == comic.EventPanelUpdated {
			mu.Lock()
			applied[ev.ComicID]++
			mu.Unlock()
		}
	})

	a, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	gt.A(t, a.Panels).Length(3)
	for i := 0; i < 3; i++ {
		<-enteredA
	}

	b, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	gt.A(t, b.Panels).Length(2)
	waitSettled(t, o)

	// release run A after run B finished
	close(gateA)
	deadline := time.Now().Add(5 * time.Second)
	for lateA.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	gt.Equal(t, lateA.Load(), int32(3))
	time.Sleep(20 * time.Millisecond)

	view := o.Snapshot()
	gt.Equal(t, view.Comic.ID, b.ID)
	gt.A(t, view.Comic.Panels).Length(2)
	for _, p := range view.Comic.Panels {
		gt.Equal(t, p.Status, model.PanelStatusLoaded)
		gt.S(t, string(p.Image)).Contains("b-")
	}

	mu.Lock()
	defer mu.Unlock()
	gt.Equal(t, applied[a.ID], 0)
	gt.Equal(t, applied[b.ID], 2)
	gt.False(t, store.Contains(a.ID))
	gt.True(t, store.Contains(b.ID))
}

func TestResetDiscardsInFlightWork(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 3)
	client := &fakeClient{
		stories: []*model.Story{makeStory("a", 3)},
		panelImage: func(ctx context.Context, prompt string) (*model.Image, error) {
			started <- struct{}{}
			<-gate
			return &model.Image{Data: []byte(prompt)}, nil
		},
	}
	store := newHistory(t)
	o := comic.New(client, comic.WithHistory(store))

	var after atomic.Int32
	var reset atomic.Bool
	o.Subscribe(func(ev comic.Event) {
		if reset.Load() && ev.Kind == comic.EventPanelUpdated {
			after.Add(1)
		}
	})

	_, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	<-started

	o.Reset()
	reset.Store(true)
	gt.NoError(t, o.Wait(context.Background()))
	close(gate)
	time.Sleep(50 * time.Millisecond)

	view := o.Snapshot()
	gt.Equal(t, view.State, comic.StateIdle)
	gt.Nil(t, view.Comic)
	gt.Equal(t, after.Load(), int32(0))
	gt.A(t, store.List()).Length(0)
	// sequential policy stops dispatching after reset
	gt.Equal(t, client.imageCalls.Load(), int32(1))
}

func TestResetDuringStoryCancelsCaller(t *testing.T) {
	release := make(chan struct{})
	client := &blockingStoryClient{
		fakeClient: &fakeClient{stories: []*model.Story{makeStory("a", 2)}},
		release:    release,
		entered:    make(chan struct{}, 1),
	}
	o := comic.New(client)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.CreateComic(context.Background(), testPrefs, testImages)
		errCh <- err
	}()

	<-client.entered
	o.Reset()
	close(release)

	err := <-errCh
	gt.Error(t, err).Is(model.ErrRunCancelled)
	gt.Equal(t, o.Snapshot().State, comic.StateIdle)
}

type blockingStoryClient struct {
	*fakeClient
	release chan struct{}
	entered chan struct{}
}

func (c *blockingStoryClient) GenerateStory(ctx context.Context, prefs model.Preferences, images []model.ReferenceImage) (*model.Story, error) {
	c.entered <- struct{}{}
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.fakeClient.GenerateStory(ctx, prefs, images)
}

func TestRetryAbandonedByReset(t *testing.T) {
	var retrying atomic.Bool
	entered := make(chan struct{}, 1)

	client := &fakeClient{stories: []*model.Story{makeStory("a", 2)}}
	client.panelImage = func(ctx context.Context, prompt string) (*model.Image, error) {
		if !retrying.Load() {
			if prompt == "a-1" {
				return nil, errors.New("failed")
			}
			return &model.Image{Data: []byte(prompt)}, nil
		}
		entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o := comic.New(client)

	_, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	waitSettled(t, o)
	gt.Equal(t, o.Snapshot().Comic.Panel(1).Status, model.PanelStatusFailed)

	retrying.Store(true)
	errCh := make(chan error, 1)
	go func() {
		_, err := o.RetryPanel(context.Background(), 1)
		errCh <- err
	}()

	<-entered
	gt.Equal(t, o.Snapshot().Comic.Panel(1).Status, model.PanelStatusPending)
	o.Reset()

	gt.Error(t, <-errCh).Is(model.ErrRunCancelled)
	gt.Nil(t, o.Snapshot().Comic)
}

func TestWaitCoversRetry(t *testing.T) {
	var retrying atomic.Bool
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	client := &fakeClient{stories: []*model.Story{makeStory("a", 2)}}
	client.panelImage = func(ctx context.Context, prompt string) (*model.Image, error) {
		if !retrying.Load() {
			if prompt == "a-2" {
				return nil, errors.New("failed")
			}
			return &model.Image{Data: []byte(prompt)}, nil
		}
		entered <- struct{}{}
		<-release
		return &model.Image{Data: []byte(prompt)}, nil
	}
	o := comic.New(client)

	_, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	waitSettled(t, o)

	retrying.Store(true)
	retryDone := make(chan struct{})
	go func() {
		defer close(retryDone)
		_, _ = o.RetryPanel(context.Background(), 2)
	}()
	<-entered

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- o.Wait(context.Background())
	}()

	select {
	case <-waitDone:
		t.Fatal("Wait returned while a panel was being retried")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-retryDone

	select {
	case err := <-waitDone:
		gt.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after the retry settled")
	}
	gt.Equal(t, o.Snapshot().Comic.Panel(2).Status, model.PanelStatusLoaded)
}

func TestParallelPanels(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	client := &fakeClient{
		stories: []*model.Story{makeStory("a", 15)},
		panelImage: func(ctx context.Context, prompt string) (*model.Image, error) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return &model.Image{Data: []byte(prompt)}, nil
		},
	}
	o := comic.New(client, comic.WithConcurrency(4))

	var order []model.PanelID
	var mu sync.Mutex
	o.Subscribe(func(ev comic.Event) {
		if ev.Kind == comic.EventPanelUpdated {
			mu.Lock()
			order = append(order, ev.PanelID)
			mu.Unlock()
		}
	})

	_, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	waitSettled(t, o)

	gt.True(t, maxInFlight.Load() <= 4)
	gt.True(t, o.Snapshot().Comic.AllLoaded())

	mu.Lock()
	defer mu.Unlock()
	gt.A(t, order).Length(15)
	seen := map[model.PanelID]bool{}
	for _, id := range order {
		gt.False(t, seen[id])
		seen[id] = true
	}
}

func TestSequentialPanelsInAscendingOrder(t *testing.T) {
	var mu sync.Mutex
	var prompts []string
	client := &fakeClient{
		stories: []*model.Story{makeStory("a", 5)},
		panelImage: func(ctx context.Context, prompt string) (*model.Image, error) {
			mu.Lock()
			prompts = append(prompts, prompt)
			mu.Unlock()
			return &model.Image{Data: []byte(prompt)}, nil
		},
	}
	o := comic.New(client, comic.WithRateLimit(time.Millisecond, 1))

	_, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	waitSettled(t, o)

	mu.Lock()
	defer mu.Unlock()
	gt.Equal(t, prompts, []string{"a-1", "a-2", "a-3", "a-4", "a-5"})
}

func TestPanelTimeout(t *testing.T) {
	client := &fakeClient{
		stories: []*model.Story{makeStory("a", 2)},
		panelImage: func(ctx context.Context, prompt string) (*model.Image, error) {
			if prompt == "a-2" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &model.Image{Data: []byte(prompt)}, nil
		},
	}
	o := comic.New(client, comic.WithPanelTimeout(20*time.Millisecond))

	_, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	waitSettled(t, o)

	view := o.Snapshot()
	gt.Equal(t, view.Comic.Panel(1).Status, model.PanelStatusLoaded)
	gt.Equal(t, view.Comic.Panel(2).Status, model.PanelStatusFailed)
	gt.Equal(t, view.State, comic.StateComplete)
}

func createLoaded(t *testing.T, o *comic.Orchestrator) *model.Comic {
	c, err := o.CreateComic(context.Background(), testPrefs, testImages)
	gt.NoError(t, err)
	waitSettled(t, o)
	return c
}

func TestDeleteActiveComicDeselects(t *testing.T) {
	ctx := context.Background()
	store := newHistory(t)
	o := comic.New(&fakeClient{stories: []*model.Story{makeStory("a", 2)}}, comic.WithHistory(store))

	c := createLoaded(t, o)
	gt.True(t, store.Contains(c.ID))

	gt.True(t, o.DeleteHistory(ctx, c.ID))
	gt.A(t, store.List()).Length(0)

	view := o.Snapshot()
	gt.Equal(t, view.Comic.ID, c.ID)
	gt.False(t, view.Selected)

	// edits after deselection neither sync nor re-capture
	gt.NoError(t, o.UpdatePanelPlacement(ctx, 1, model.Placement{OffsetX: 5, Scale: 1.5}))
	gt.A(t, store.List()).Length(0)
	gt.Equal(t, o.Snapshot().Comic.Panel(1).Placement.OffsetX, 5.0)
}

func TestDeleteOtherComicKeepsSelection(t *testing.T) {
	ctx := context.Background()
	store := newHistory(t)
	store.Record(ctx, &model.HistoryEntry{ID: "comic_old", Title: "old"})
	o := comic.New(&fakeClient{stories: []*model.Story{makeStory("a", 1)}}, comic.WithHistory(store))

	c := createLoaded(t, o)
	gt.True(t, o.DeleteHistory(ctx, "comic_old"))
	gt.True(t, o.Snapshot().Selected)
	gt.True(t, store.Contains(c.ID))
	gt.False(t, o.DeleteHistory(ctx, "comic_missing"))
}

func TestEditsSyncHistory(t *testing.T) {
	ctx := context.Background()
	store := newHistory(t)
	client := &fakeClient{stories: []*model.Story{makeStory("a", 2)}}
	o := comic.New(client, comic.WithHistory(store))
	c := createLoaded(t, o)

	gt.NoError(t, o.UpdatePanelPlacement(ctx, 2, model.Placement{OffsetY: -3, Scale: 2, Rotation: 90}))
	gt.NoError(t, o.UpdatePanelImage(ctx, 1, model.Image{Data: []byte("upload"), MIMEType: "image/jpeg"}))
	gt.NoError(t, o.EditPanel(ctx, 1, "add rain"))

	entry, err := store.Get(c.ID)
	gt.NoError(t, err)
	gt.Equal(t, entry.Panels[1].Placement, model.Placement{OffsetY: -3, Scale: 2, Rotation: 90})
	gt.Equal(t, string(entry.Panels[0].Image), "edited:add rain")

	t.Run("invalid placement", func(t *testing.T) {
		err := o.UpdatePanelPlacement(ctx, 1, model.Placement{Scale: 0})
		gt.Error(t, err).Is(model.ErrValidation)
	})

	t.Run("empty instruction", func(t *testing.T) {
		gt.Error(t, o.EditPanel(ctx, 1, " ")).Is(model.ErrValidation)
	})

	t.Run("unknown panel", func(t *testing.T) {
		gt.Error(t, o.UpdatePanelImage(ctx, 9, model.Image{Data: []byte("x")})).Is(model.ErrNotFound)
	})
}

func TestEditRejectsFailedPanel(t *testing.T) {
	client := &fakeClient{
		stories: []*model.Story{makeStory("a", 1)},
		panelImage: func(ctx context.Context, prompt string) (*model.Image, error) {
			return nil, errors.New("nope")
		},
	}
	o := comic.New(client)
	createLoaded(t, o)

	err := o.UpdatePanelImage(context.Background(), 1, model.Image{Data: []byte("x")})
	gt.Error(t, err).Is(model.ErrValidation)
	gt.Equal(t, o.Snapshot().Comic.Panel(1).Status, model.PanelStatusFailed)
}

func TestOpenFromHistory(t *testing.T) {
	ctx := context.Background()
	store := newHistory(t)
	entry := &model.HistoryEntry{
		ID:    "comic_saved",
		Title: "Saved",
		Panels: []model.HistoryPanel{
			{ID: 1, Image: []byte("p1"), Dialogue: "hello", VoiceHint: "deep"},
			{ID: 2, Image: []byte("p2")},
		},
	}
	store.Record(ctx, entry)
	o := comic.New(&fakeClient{}, comic.WithHistory(store))

	c, err := o.Open(ctx, entry)
	gt.NoError(t, err)
	gt.True(t, c.AllLoaded())
	gt.Equal(t, c.Panel(2).Placement.Scale, 1.0)

	view := o.Snapshot()
	gt.Equal(t, view.State, comic.StateComplete)
	gt.True(t, view.Selected)
	gt.NoError(t, o.Wait(ctx))

	status, err := o.RetryPanel(ctx, 1)
	gt.NoError(t, err)
	gt.Equal(t, status, model.PanelStatusLoaded)

	gt.NoError(t, o.UpdatePanelPlacement(ctx, 1, model.Placement{Scale: 3}))
	got, err := store.Get("comic_saved")
	gt.NoError(t, err)
	gt.Equal(t, got.Panels[0].Placement.Scale, 3.0)
	gt.A(t, store.List()).Length(1)
}

func TestSpeakUsesCache(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{stories: []*model.Story{makeStory("a", 2)}}
	o := comic.New(client)
	createLoaded(t, o)

	a1, err := o.Speak(ctx, 1)
	gt.NoError(t, err)
	a2, err := o.Speak(ctx, 1)
	gt.NoError(t, err)
	gt.Equal(t, string(a1.Data), "narrator:line 1")
	gt.Equal(t, a2, a1)
	gt.Equal(t, client.speechCalls.Load(), int32(1))

	_, err = o.Speak(ctx, 2)
	gt.NoError(t, err)
	gt.Equal(t, client.speechCalls.Load(), int32(2))

	_, err = o.Speak(ctx, 42)
	gt.Error(t, err).Is(model.ErrNotFound)
}

type denyPolicy struct {
	calls atomic.Int32
}

func (p *denyPolicy) EvaluateCapture(ctx context.Context, c *model.Comic) (*model.CaptureDecision, error) {
	p.calls.Add(1)
	return &model.CaptureDecision{Allow: false, Reason: "denied in test"}, nil
}

func TestCapturePolicyVeto(t *testing.T) {
	store := newHistory(t)
	policy := &denyPolicy{}
	o := comic.New(&fakeClient{stories: []*model.Story{makeStory("a", 2)}},
		comic.WithHistory(store),
		comic.WithCapturePolicy(policy))

	createLoaded(t, o)
	gt.Equal(t, policy.calls.Load(), int32(1))
	gt.A(t, store.List()).Length(0)
}

func TestCaptureSurvivesStorageFailure(t *testing.T) {
	store := history.New(repository.NewQuota(repository.NewMemory(), 8))
	store.Load(context.Background())
	o := comic.New(&fakeClient{stories: []*model.Story{makeStory("a", 2)}}, comic.WithHistory(store))

	c := createLoaded(t, o)
	gt.True(t, store.Contains(c.ID))
	gt.Equal(t, o.Snapshot().State, comic.StateComplete)
}
