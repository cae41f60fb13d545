package filters

import (
	"context"
	"sync"

	"filterbot/internal/domain"
)

// memStore is an in-memory domain.TriggerStore.
type memStore struct {
	mu       sync.Mutex
	keywords map[int64][]string
	triggers map[int64]map[string]domain.Response

	// getErr, when set, is returned by Get for the keyword.
	getErr map[string]error
	// addErr, when set, fails any write of the keyword.
	addErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		keywords: make(map[int64][]string),
		triggers: make(map[int64]map[string]domain.Response),
		getErr:   make(map[string]error),
		addErr:   make(map[string]error),
	}
}

func (s *memStore) Add(ctx context.Context, chatID int64, keyword string, resp domain.Response) error {
	return s.AddAll(ctx, []domain.Trigger{{ChatID: chatID, Keyword: keyword, Response: resp}})
}

func (s *memStore) AddAll(_ context.Context, triggers []domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, trig := range triggers {
		keyword := domain.NormalizeKeyword(trig.Keyword)
		if keyword == "" {
			return domain.ErrNoKeyword
		}
		if err := trig.Response.Validate(); err != nil {
			return err
		}
		if err := s.addErr[keyword]; err != nil {
			return err
		}
	}
	for _, trig := range triggers {
		keyword := domain.NormalizeKeyword(trig.Keyword)
		if s.triggers[trig.ChatID] == nil {
			s.triggers[trig.ChatID] = make(map[string]domain.Response)
		}
		if _, ok := s.triggers[trig.ChatID][keyword]; !ok {
			s.keywords[trig.ChatID] = append(s.keywords[trig.ChatID], keyword)
		}
		s.triggers[trig.ChatID][keyword] = trig.Response
	}
	return nil
}

func (s *memStore) Remove(_ context.Context, chatID int64, keyword string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(chatID, domain.NormalizeKeyword(keyword)), nil
}

func (s *memStore) removeLocked(chatID int64, keyword string) bool {
	if _, ok := s.triggers[chatID][keyword]; !ok {
		return false
	}
	delete(s.triggers[chatID], keyword)
	kws := s.keywords[chatID]
	for i, kw := range kws {
		if kw == keyword {
			s.keywords[chatID] = append(kws[:i:i], kws[i+1:]...)
			break
		}
	}
	return true
}

func (s *memStore) Get(_ context.Context, chatID int64, keyword string) (*domain.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyword = domain.NormalizeKeyword(keyword)
	if err := s.getErr[keyword]; err != nil {
		return nil, err
	}
	resp, ok := s.triggers[chatID][keyword]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Trigger{ChatID: chatID, Keyword: keyword, Response: resp}, nil
}

func (s *memStore) ListKeywords(_ context.Context, chatID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keywords[chatID]...), nil
}

func (s *memStore) RemoveAll(_ context.Context, chatID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.keywords[chatID])
	delete(s.keywords, chatID)
	delete(s.triggers, chatID)
	return n, nil
}

func (s *memStore) MigrateChat(_ context.Context, oldChatID, newChatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kw := range s.keywords[oldChatID] {
		if s.triggers[newChatID] == nil {
			s.triggers[newChatID] = make(map[string]domain.Response)
		}
		if _, ok := s.triggers[newChatID][kw]; !ok {
			s.keywords[newChatID] = append(s.keywords[newChatID], kw)
		}
		s.triggers[newChatID][kw] = s.triggers[oldChatID][kw]
	}
	delete(s.keywords, oldChatID)
	delete(s.triggers, oldChatID)
	return nil
}

func (s *memStore) CountTriggers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, kws := range s.keywords {
		n += len(kws)
	}
	return n, nil
}

func (s *memStore) CountChats(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, kws := range s.keywords {
		if len(kws) > 0 {
			n++
		}
	}
	return n, nil
}

type sent struct {
	Method  string
	ChatID  int64
	Content string
	Opts    domain.SendOptions
}

// fakeTransport records sends. textErrs are returned by successive
// SendText calls; mediaErr by every media send.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []sent
	textErrs []error
	mediaErr error
}

func (t *fakeTransport) record(method string, chatID int64, content string, opts domain.SendOptions) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sent{Method: method, ChatID: chatID, Content: content, Opts: opts})
}

func (t *fakeTransport) SendText(_ context.Context, chatID int64, text string, opts domain.SendOptions) error {
	t.record("text", chatID, text, opts)
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.textErrs) == 0 {
		return nil
	}
	err := t.textErrs[0]
	t.textErrs = t.textErrs[1:]
	return err
}

func (t *fakeTransport) media(method string, chatID int64, fileID string, opts domain.SendOptions) error {
	t.record(method, chatID, fileID, opts)
	return t.mediaErr
}

func (t *fakeTransport) SendSticker(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return t.media("sticker", chatID, fileID, opts)
}

func (t *fakeTransport) SendDocument(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return t.media("document", chatID, fileID, opts)
}

func (t *fakeTransport) SendPhoto(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return t.media("photo", chatID, fileID, opts)
}

func (t *fakeTransport) SendAudio(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return t.media("audio", chatID, fileID, opts)
}

func (t *fakeTransport) SendVoice(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return t.media("voice", chatID, fileID, opts)
}

func (t *fakeTransport) SendVideo(_ context.Context, chatID int64, fileID string, opts domain.SendOptions) error {
	return t.media("video", chatID, fileID, opts)
}

func (t *fakeTransport) all() []sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sent(nil), t.sent...)
}

func (t *fakeTransport) last() sent {
	all := t.all()
	if len(all) == 0 {
		return sent{}
	}
	return all[len(all)-1]
}

type member struct{ chatID, userID int64 }

type fakePerms struct {
	admins   map[member]bool
	creators map[member]bool
}

func newFakePerms() *fakePerms {
	return &fakePerms{admins: make(map[member]bool), creators: make(map[member]bool)}
}

func (p *fakePerms) IsAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	m := member{chatID, userID}
	return p.admins[m] || p.creators[m], nil
}

func (p *fakePerms) IsCreator(_ context.Context, chatID, userID int64) (bool, error) {
	return p.creators[member{chatID, userID}], nil
}

type fakeDirectory map[int64]string

func (d fakeDirectory) ChatTitle(_ context.Context, chatID int64) (string, error) {
	title, ok := d[chatID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return title, nil
}

type fakeConnections map[int64]int64

func (c fakeConnections) ResolveTargetChat(_ context.Context, userID int64) (int64, bool, error) {
	chatID, ok := c[userID]
	return chatID, ok, nil
}
