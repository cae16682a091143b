package topicrouter

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	active  *ActiveThread
	topics  []TopicContext
	recent  []string
	wantErr error
}

func (s *fakeStore) ActiveThread(ctx context.Context, chatID, userID, threadID int64) (*ActiveThread, error) {
	return s.active, s.wantErr
}
func (s *fakeStore) RecentUserMessages(ctx context.Context, internalThreadID int64, limit int) ([]string, error) {
	return s.recent, nil
}
func (s *fakeStore) RecentTopics(ctx context.Context, chatID, userID, excludeThreadID int64, limit int) ([]TopicContext, error) {
	return s.topics, nil
}

type fakePlatform struct {
	createdTitle string
	createdID    int64
	sentTexts    []string
}

func (p *fakePlatform) CreateTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	p.createdTitle = name
	p.createdID = 99
	return 99, nil
}
func (p *fakePlatform) SendMessage(ctx context.Context, chatID, threadID int64, text string) error {
	p.sentTexts = append(p.sentTexts, text)
	return nil
}

type fakeClassifier struct {
	result ClassifierResult
}

func (c *fakeClassifier) Classify(ctx context.Context, systemPrompt, userPrompt string) (ClassifierResult, error) {
	return c.result, nil
}

func baseCfg() Config {
	return Config{Enabled: true, GapSuppressSeconds: 300, TempNameMaxLength: 40, RecentTopicsLimit: 5, RecentMessagesLimit: 5}
}

func TestDisabledIsPassthrough(t *testing.T) {
	r := New(&fakeStore{}, &fakePlatform{}, &fakeClassifier{}, Config{Enabled: false})
	res, err := r.MaybeRoute(context.Background(), RouteRequest{IsForumPrivateChat: true, Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionPassthrough {
		t.Errorf("action = %v, want passthrough", res.Action)
	}
}

func TestNonForumChatIsPassthrough(t *testing.T) {
	r := New(&fakeStore{}, &fakePlatform{}, &fakeClassifier{}, baseCfg())
	res, err := r.MaybeRoute(context.Background(), RouteRequest{IsForumPrivateChat: false, Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionPassthrough {
		t.Errorf("action = %v, want passthrough", res.Action)
	}
}

func TestFromGeneralWithNoTopicsCreatesOne(t *testing.T) {
	platform := &fakePlatform{}
	r := New(&fakeStore{topics: nil}, platform, &fakeClassifier{}, baseCfg())

	res, err := r.MaybeRoute(context.Background(), RouteRequest{IsForumPrivateChat: true, Text: "let's talk about go modules"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionNew || res.OverrideThreadID != 99 {
		t.Errorf("res = %+v", res)
	}
	if platform.createdTitle == "" {
		t.Error("expected a topic title to be derived from message text")
	}
}

func TestFromGeneralResumesExistingTopic(t *testing.T) {
	topics := []TopicContext{{ThreadID: 7, Title: "billing"}}
	classifier := &fakeClassifier{result: ClassifierResult{Action: ActionResume, Topic: "A"}}
	r := New(&fakeStore{topics: topics}, &fakePlatform{}, classifier, baseCfg())

	res, err := r.MaybeRoute(context.Background(), RouteRequest{IsForumPrivateChat: true, Text: "about my invoice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionResume || res.OverrideThreadID != 7 {
		t.Errorf("res = %+v", res)
	}
}

func TestFromTopicShortGapIsPassthrough(t *testing.T) {
	active := &ActiveThread{InternalID: 1, ThreadID: 5, Title: "x", UpdatedAt: time.Now().Add(-10 * time.Second)}
	r := New(&fakeStore{active: active}, &fakePlatform{}, &fakeClassifier{}, baseCfg())

	res, err := r.MaybeRoute(context.Background(), RouteRequest{IsForumPrivateChat: true, ThreadID: 5, Text: "more"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionPassthrough {
		t.Errorf("expected short-gap passthrough, got %+v", res)
	}
}

func TestFromTopicStaysWhenRelevant(t *testing.T) {
	active := &ActiveThread{InternalID: 1, ThreadID: 5, Title: "x", UpdatedAt: time.Now().Add(-time.Hour)}
	classifier := &fakeClassifier{result: ClassifierResult{Action: ActionStay}}
	r := New(&fakeStore{active: active}, &fakePlatform{}, classifier, baseCfg())

	res, err := r.MaybeRoute(context.Background(), RouteRequest{IsForumPrivateChat: true, ThreadID: 5, Text: "more on x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionPassthrough {
		t.Errorf("res = %+v", res)
	}
}

func TestFromTopicCreatesNewWhenOffTopic(t *testing.T) {
	active := &ActiveThread{InternalID: 1, ThreadID: 5, Title: "x", UpdatedAt: time.Now().Add(-time.Hour)}
	classifier := &fakeClassifier{result: ClassifierResult{Action: ActionNew, Title: "new subject"}}
	platform := &fakePlatform{}
	r := New(&fakeStore{active: active}, platform, classifier, baseCfg())

	res, err := r.MaybeRoute(context.Background(), RouteRequest{IsForumPrivateChat: true, ThreadID: 5, Text: "totally different topic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionNew || res.Title != "new subject" {
		t.Errorf("res = %+v", res)
	}
	time.Sleep(5 * time.Millisecond) // let the fire-and-forget redirect post
	if len(platform.sentTexts) != 1 {
		t.Errorf("expected a redirect message sent to the old topic, got %+v", platform.sentTexts)
	}
}

func TestEmptyMessageFromGeneralCreatesDefaultTitle(t *testing.T) {
	platform := &fakePlatform{}
	r := New(&fakeStore{topics: nil}, platform, &fakeClassifier{}, baseCfg())

	res, err := r.MaybeRoute(context.Background(), RouteRequest{IsForumPrivateChat: true, Text: ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action != ActionNew || res.Title != "New chat" {
		t.Errorf("res = %+v", res)
	}
}
