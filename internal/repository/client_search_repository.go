package repository

import (
	"context"
	"invoice-assistant-go/internal/model"
	"invoice-assistant-go/pkg/es"
	"invoice-assistant-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ClientSearcher 负责客户的模糊检索与索引维护。
type ClientSearcher interface {
	Index(ctx context.Context, client *model.Client) error
	Search(ctx context.Context, userID uint, query string, limit int) ([]model.Client, error)
}

// esClientSearcher 优先使用 Elasticsearch，失败时回退到数据库 LIKE 查询。
type esClientSearcher struct {
	esClient  *elasticsearch.Client
	indexName string
	clients   ClientRepository
}

// NewClientSearcher 创建一个基于 Elasticsearch 的 ClientSearcher。
// esClient 为 nil 时只使用数据库查询。
func NewClientSearcher(esClient *elasticsearch.Client, indexName string, clients ClientRepository) ClientSearcher {
	return &esClientSearcher{esClient: esClient, indexName: indexName, clients: clients}
}

func (s *esClientSearcher) Index(ctx context.Context, client *model.Client) error {
	if s.esClient == nil {
		return nil
	}
	return es.IndexClient(ctx, s.esClient, s.indexName, model.ClientIndexDocument{
		ClientID: client.ID,
		UserID:   client.UserID,
		Name:     client.Name,
		Email:    client.Email,
	})
}

func (s *esClientSearcher) Search(ctx context.Context, userID uint, query string, limit int) ([]model.Client, error) {
	if s.esClient != nil {
		hits, err := es.SearchClients(ctx, s.esClient, s.indexName, userID, query, limit)
		if err == nil {
			return s.hydrate(ctx, userID, hits), nil
		}
		log.Warnw("client search via elasticsearch failed, falling back to database", "userId", userID, "error", err)
	}
	return s.clients.SearchByName(ctx, userID, query, limit)
}

// hydrate 用数据库中的最新数据替换索引命中结果，索引中已删除的客户会被跳过。
func (s *esClientSearcher) hydrate(ctx context.Context, userID uint, hits []model.ClientIndexDocument) []model.Client {
	out := make([]model.Client, 0, len(hits))
	for _, h := range hits {
		c, err := s.clients.FindByID(ctx, userID, h.ClientID)
		if err != nil {
			continue
		}
		out = append(out, *c)
	}
	return out
}
