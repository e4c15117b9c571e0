package edital

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/concurseiro/internal/model"
	"github.com/hitoshi/concurseiro/internal/repository"
)

// mockGuard はhttptestのループバックアドレスへの接続を許可するURLGuard。
type mockGuard struct {
	validateFunc func(rawURL string) error
}

func (m *mockGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockGuard) ValidateURL(rawURL string) error {
	if m.validateFunc != nil {
		return m.validateFunc(rawURL)
	}
	return nil
}

// mockSanitizer はタグを加工せず、呼び出し元の区別だけを付与する。
type mockSanitizer struct{}

func (mockSanitizer) Rich(s string) string  { return "rich:" + s }
func (mockSanitizer) Plain(s string) string { return s }

type mockEditalRepo struct {
	byID        map[string]*model.Edital
	createCalls int
	updateCalls int
	listFunc    func(concursoID string, limit int) ([]*model.Edital, error)
}

func newMockEditalRepo() *mockEditalRepo {
	return &mockEditalRepo{byID: map[string]*model.Edital{}}
}

func (m *mockEditalRepo) find(match func(e *model.Edital) bool) *model.Edital {
	for _, e := range m.byID {
		if match(e) {
			return e
		}
	}
	return nil
}

func (m *mockEditalRepo) FindByFeedAndGUID(_ context.Context, feedID, guid string) (*model.Edital, error) {
	return m.find(func(e *model.Edital) bool { return e.FeedID == feedID && e.GuidOrID == guid }), nil
}

func (m *mockEditalRepo) FindByFeedAndLink(_ context.Context, feedID, link string) (*model.Edital, error) {
	return m.find(func(e *model.Edital) bool { return e.FeedID == feedID && e.Link == link }), nil
}

func (m *mockEditalRepo) FindByContentHash(_ context.Context, feedID, hash string) (*model.Edital, error) {
	return m.find(func(e *model.Edital) bool { return e.FeedID == feedID && e.ContentHash == hash }), nil
}

func (m *mockEditalRepo) Create(_ context.Context, e *model.Edital) error {
	m.createCalls++
	m.byID[e.ID] = e
	return nil
}

func (m *mockEditalRepo) Update(_ context.Context, e *model.Edital) error {
	m.updateCalls++
	m.byID[e.ID] = e
	return nil
}

func (m *mockEditalRepo) ListRecent(_ context.Context, concursoID string, limit int) ([]*model.Edital, error) {
	if m.listFunc != nil {
		return m.listFunc(concursoID, limit)
	}
	return nil, nil
}

type mockFeedRepo struct {
	feeds       map[string]*model.EditalFeed
	createErr   error
	updateCalls int
}

func newMockFeedRepo() *mockFeedRepo {
	return &mockFeedRepo{feeds: map[string]*model.EditalFeed{}}
}

func (m *mockFeedRepo) FindByID(_ context.Context, id string) (*model.EditalFeed, error) {
	return m.feeds[id], nil
}

func (m *mockFeedRepo) FindByFeedURL(_ context.Context, feedURL string) (*model.EditalFeed, error) {
	for _, f := range m.feeds {
		if f.FeedURL == feedURL {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFeedRepo) List(_ context.Context) ([]*model.EditalFeed, error) {
	var out []*model.EditalFeed
	for _, f := range m.feeds {
		out = append(out, f)
	}
	return out, nil
}

func (m *mockFeedRepo) Create(_ context.Context, feed *model.EditalFeed) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.feeds[feed.ID] = feed
	return nil
}

func (m *mockFeedRepo) ListDueForFetch(_ context.Context) ([]*model.EditalFeed, error) {
	return nil, nil
}

func (m *mockFeedRepo) UpdateFetchState(_ context.Context, feed *model.EditalFeed) error {
	m.updateCalls++
	m.feeds[feed.ID] = feed
	return nil
}

// mockConcursoRepo は FindByID のみを実装する。他のメソッドを呼ぶとpanicする。
type mockConcursoRepo struct {
	repository.ConcursoRepository
	concursos map[string]*model.Concurso
}

func (m *mockConcursoRepo) FindByID(_ context.Context, id string) (*model.Concurso, error) {
	return m.concursos[id], nil
}

type mockDetector struct {
	detectFunc func(ctx context.Context, inputURL string) (string, error)
}

func (m *mockDetector) Detect(ctx context.Context, inputURL string) (string, error) {
	return m.detectFunc(ctx, inputURL)
}
