package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"obixd/internal/model"
	"obixd/internal/objtree"
	"obixd/internal/ptask"
)

func newTestSubsystem(t *testing.T) (*Subsystem, *objtree.Tree) {
	tr := objtree.New()
	tr.InstallDefaultTemplates()
	sched := ptask.New()
	t.Cleanup(sched.Stop)

	s := New(tr, sched, Config{
		ServiceNode:    &model.Node{Kind: model.Obj, Href: "watchService"},
		DefaultLease:   time.Hour,
		BacklogWorkers: 2,
	}, zap.NewNop().Sugar())
	return s, tr
}

func TestMakeAllocatesDistinctWatches(t *testing.T) {
	assert := require.New(t)
	s, _ := newTestSubsystem(t)

	w1, err := s.Make()
	assert.Nil(err)
	w2, err := s.Make()
	assert.Nil(err)

	assert.NotEqual(w1.ID, w2.ID)
}

func TestAddThenNotifyMarksChanged(t *testing.T) {
	assert := require.New(t)
	s, tr := newTestSubsystem(t)

	point := &model.Node{Kind: model.Bool, Href: "point1", Val: "false"}
	tr.Insert(tr.Root(), point)

	w, err := s.Make()
	assert.Nil(err)

	_, err = s.Add(w, []string{"/point1"})
	assert.Nil(err)

	point.Val = "true"
	s.NotifyChange(point, NodeChanged)

	refreshed, err := s.PollRefresh(w)
	assert.Nil(err)
	assert.Len(refreshed.Children, 1)
}

func TestRemoveDropsItem(t *testing.T) {
	assert := require.New(t)
	s, tr := newTestSubsystem(t)

	point := &model.Node{Kind: model.Bool, Href: "point1", Val: "false"}
	tr.Insert(tr.Root(), point)

	w, err := s.Make()
	assert.Nil(err)

	_, err = s.Add(w, []string{"/point1"})
	assert.Nil(err)

	out, err := s.Remove(w, []string{"/point1"})
	assert.Nil(err)
	assert.Len(out.Children, 1)

	w.mu.Lock()
	itemCount := len(w.items)
	w.mu.Unlock()
	assert.Zero(itemCount)
}

func TestPollChangesParksUntilNotified(t *testing.T) {
	assert := require.New(t)
	s, tr := newTestSubsystem(t)

	point := &model.Node{Kind: model.Bool, Href: "point1", Val: "false"}
	tr.Insert(tr.Root(), point)

	w, err := s.Make()
	assert.Nil(err)

	_, err = s.Add(w, []string{"/point1"})
	assert.Nil(err)

	_, reply, err := s.PollChanges(w)
	assert.Nil(err)
	assert.NotNil(reply)

	go func() {
		time.Sleep(20 * time.Millisecond)
		point.Val = "true"
		s.NotifyChange(point, NodeChanged)
	}()

	select {
	case out := <-reply:
		assert.NotNil(out)
	case <-time.After(2 * time.Second):
		t.Fatal("pollChanges never woke up after notify")
	}
}

func TestPollWaitPrefersMaxOverMin(t *testing.T) {
	assert := require.New(t)

	s := &Subsystem{pollWaitMax: 5 * time.Second, pollWaitMin: time.Second}
	assert.Equal(5*time.Second, s.pollWait())
}

func TestPollWaitFallsBackToMinWhenMaxNotGreater(t *testing.T) {
	assert := require.New(t)

	s := &Subsystem{pollWaitMax: time.Second, pollWaitMin: 5 * time.Second}
	assert.Equal(5*time.Second, s.pollWait())
}

func TestPollWaitFallsBackToDefaultWhenUnconfigured(t *testing.T) {
	assert := require.New(t)

	s := &Subsystem{}
	assert.Equal(defaultPollWaitMin, s.pollWait())
}

func TestMakeRendersConfiguredPollWaitBounds(t *testing.T) {
	assert := require.New(t)

	tr := objtree.New()
	tr.InstallDefaultTemplates()
	sched := ptask.New()
	t.Cleanup(sched.Stop)

	s := New(tr, sched, Config{
		ServiceNode:    &model.Node{Kind: model.Obj, Href: "watchService"},
		PollWaitMin:    2 * time.Second,
		PollWaitMax:    90 * time.Second,
		BacklogWorkers: 1,
	}, zap.NewNop().Sugar())

	w, err := s.Make()
	assert.Nil(err)

	var min, max string
	for _, c := range w.node.Children {
		if c.Name != "pollWaitInterval" {
			continue
		}
		for _, b := range c.Children {
			switch b.Name {
			case "min":
				min = b.Val
			case "max":
				max = b.Val
			}
		}
	}
	assert.Equal("PT2S", min)
	assert.Equal("PT1M30S", max)
}

func TestDeleteReleasesWatch(t *testing.T) {
	assert := require.New(t)
	s, _ := newTestSubsystem(t)

	w, err := s.Make()
	assert.Nil(err)

	err = s.Delete(w, "SERVER")
	assert.Nil(err)
	assert.Nil(s.Get(w.ID))
}
