package repository

import (
	"context"
	"errors"
	"invoice-assistant-go/internal/model"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 以下为内存实现，database.use_in_memory 为 true 时启用，也供单元测试使用。
// 找不到记录时统一返回 gorm.ErrRecordNotFound，与 GORM 实现保持一致。

type memoryUserRepository struct {
	mu     sync.RWMutex
	nextID uint
	users  map[uint]*model.User
}

// NewMemoryUserRepository 创建内存版 UserRepository。
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{users: make(map[uint]*model.User)}
}

func (r *memoryUserRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return gorm.ErrDuplicatedKey
		}
	}
	r.nextID++
	user.ID = r.nextID
	if user.SubscriptionTier == "" {
		user.SubscriptionTier = model.TierFree
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memoryUserRepository) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryUserRepository) FindByID(_ context.Context, userID uint) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepository) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	user.UpdatedAt = time.Now()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memoryUserRepository) UpdateTier(_ context.Context, userID uint, tier model.SubscriptionTier, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.SubscriptionTier = tier
	u.TierUpdatedAt = &at
	return nil
}

func (r *memoryUserRepository) List(_ context.Context, offset, limit int) ([]model.User, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := int64(len(all))
	if offset >= len(all) {
		return []model.User{}, total, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

type memoryDocumentRepository struct {
	mu     sync.RWMutex
	nextID map[model.DocumentKind]uint
	docs   map[model.DocumentKind]map[uint]*model.Document
}

// NewMemoryDocumentRepository 创建内存版 DocumentRepository。
func NewMemoryDocumentRepository() DocumentRepository {
	return &memoryDocumentRepository{
		nextID: make(map[model.DocumentKind]uint),
		docs: map[model.DocumentKind]map[uint]*model.Document{
			model.KindInvoice:  {},
			model.KindEstimate: {},
		},
	}
}

func cloneDocument(d *model.Document) *model.Document {
	cp := *d
	cp.Items = append(cp.Items[:0:0], d.Items...)
	return &cp
}

func (r *memoryDocumentRepository) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, d := range r.docs[doc.Kind] {
		if d.UserID == doc.UserID {
			count++
		}
	}
	r.nextID[doc.Kind]++
	doc.ID = r.nextID[doc.Kind]
	doc.Number = formatNumber(doc.Kind, count+1)
	doc.Recalculate()
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	r.docs[doc.Kind][doc.ID] = cloneDocument(doc)
	return nil
}

func (r *memoryDocumentRepository) Update(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.docs[doc.Kind][doc.ID]
	if !ok || existing.UserID != doc.UserID {
		return gorm.ErrRecordNotFound
	}
	doc.Recalculate()
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = time.Now()
	r.docs[doc.Kind][doc.ID] = cloneDocument(doc)
	return nil
}

func (r *memoryDocumentRepository) FindByID(_ context.Context, kind model.DocumentKind, userID, id uint) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[kind][id]
	if !ok || d.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneDocument(d), nil
}

func (r *memoryDocumentRepository) FindByNumber(_ context.Context, kind model.DocumentKind, userID uint, number string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.docs[kind] {
		if d.UserID == userID && strings.EqualFold(d.Number, number) {
			return cloneDocument(d), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryDocumentRepository) CountByUser(_ context.Context, kind model.DocumentKind, userID uint) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, d := range r.docs[kind] {
		if d.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *memoryDocumentRepository) ListByUser(_ context.Context, kind model.DocumentKind, userID uint, statuses []string, limit int) ([]model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Document
	for _, d := range r.docs[kind] {
		if d.UserID != userID {
			continue
		}
		if len(statuses) > 0 && !containsString(statuses, d.Status) {
			continue
		}
		out = append(out, *cloneDocument(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryClientRepository struct {
	mu      sync.RWMutex
	nextID  uint
	clients map[uint]*model.Client
}

// NewMemoryClientRepository 创建内存版 ClientRepository。
func NewMemoryClientRepository() ClientRepository {
	return &memoryClientRepository{clients: make(map[uint]*model.Client)}
}

func (r *memoryClientRepository) Create(_ context.Context, client *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	client.ID = r.nextID
	cp := *client
	r.clients[client.ID] = &cp
	return nil
}

func (r *memoryClientRepository) Update(_ context.Context, client *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *client
	r.clients[client.ID] = &cp
	return nil
}

func (r *memoryClientRepository) FindByID(_ context.Context, userID, id uint) (*model.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok || c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryClientRepository) FindByName(_ context.Context, userID uint, name string) (*model.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.sorted() {
		if c.UserID == userID && strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryClientRepository) SearchByName(_ context.Context, userID uint, query string, limit int) ([]model.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	var out []model.Client
	for _, c := range r.sorted() {
		if c.UserID == userID && strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, *c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryClientRepository) sorted() []*model.Client {
	out := make([]*model.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryBusinessRepository struct {
	mu       sync.RWMutex
	nextID   uint
	settings map[uint]*model.BusinessSettings
	options  map[uint]map[string]*model.PaymentOption
}

// NewMemoryBusinessRepository 创建内存版 BusinessRepository。
func NewMemoryBusinessRepository() BusinessRepository {
	return &memoryBusinessRepository{
		settings: make(map[uint]*model.BusinessSettings),
		options:  make(map[uint]map[string]*model.PaymentOption),
	}
}

func (r *memoryBusinessRepository) GetSettings(_ context.Context, userID uint) (*model.BusinessSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.settings[userID]; ok {
		cp := *s
		return &cp, nil
	}
	return &model.BusinessSettings{UserID: userID, Currency: "USD"}, nil
}

func (r *memoryBusinessRepository) SaveSettings(_ context.Context, settings *model.BusinessSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if settings.ID == 0 {
		r.nextID++
		settings.ID = r.nextID
	}
	cp := *settings
	r.settings[settings.UserID] = &cp
	return nil
}

func (r *memoryBusinessRepository) ListPaymentOptions(_ context.Context, userID uint) ([]model.PaymentOption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.PaymentOption
	for _, o := range r.options[userID] {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (r *memoryBusinessRepository) UpsertPaymentOption(_ context.Context, option *model.PaymentOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.options[option.UserID] == nil {
		r.options[option.UserID] = make(map[string]*model.PaymentOption)
	}
	cp := *option
	r.options[option.UserID][option.Method] = &cp
	return nil
}

type memoryConversationRepository struct {
	mu            sync.RWMutex
	nextID        uint
	conversations map[uint]string
	messages      map[string][]model.ChatMessage
}

// NewMemoryConversationRepository 创建内存版 ConversationRepository。
func NewMemoryConversationRepository() ConversationRepository {
	return &memoryConversationRepository{
		conversations: make(map[uint]string),
		messages:      make(map[string][]model.ChatMessage),
	}
}

func (r *memoryConversationRepository) GetOrCreateConversationID(_ context.Context, userID uint) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.conversations[userID]; ok {
		return id, nil
	}
	id := uuid.NewString()
	r.conversations[userID] = id
	return id, nil
}

func (r *memoryConversationRepository) AppendMessage(_ context.Context, message *model.ChatMessage) error {
	if message.ID != 0 {
		return errors.New("chat messages are append-only")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	message.ID = r.nextID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], *message)
	return nil
}

func (r *memoryConversationRepository) ListMessages(_ context.Context, conversationID string, limit int) ([]model.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.messages[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]model.ChatMessage, len(all))
	copy(out, all)
	return out, nil
}

func (r *memoryConversationRepository) ClearMessages(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, conversationID)
	return nil
}

type memoryChatContextRepository struct {
	mu       sync.RWMutex
	contexts map[string]model.ChatContext
}

// NewMemoryChatContextRepository 创建内存版 ChatContextRepository。
func NewMemoryChatContextRepository() ChatContextRepository {
	return &memoryChatContextRepository{contexts: make(map[string]model.ChatContext)}
}

func (r *memoryChatContextRepository) Get(_ context.Context, conversationID string) (model.ChatContext, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cc, ok := r.contexts[conversationID]
	return cc, ok, nil
}

func (r *memoryChatContextRepository) Save(_ context.Context, conversationID string, cc model.ChatContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[conversationID] = cc
	return nil
}

func (r *memoryChatContextRepository) Delete(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, conversationID)
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type memoryTokenBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryTokenBlacklist 创建内存版 TokenBlacklist。
func NewMemoryTokenBlacklist() TokenBlacklist {
	return &memoryTokenBlacklist{entries: make(map[string]time.Time)}
}

func (b *memoryTokenBlacklist) Add(_ context.Context, tokenID string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[tokenID] = time.Now().Add(ttl)
	return nil
}

func (b *memoryTokenBlacklist) Contains(_ context.Context, tokenID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.entries[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(b.entries, tokenID)
		return false, nil
	}
	return true, nil
}
